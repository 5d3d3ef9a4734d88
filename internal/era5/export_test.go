package era5

import (
	"context"
	"time"
)

// SetRemoveAll replaces the temp directory removal used after each download.
func (d *Downloader) SetRemoveAll(fn func(string) error) { d.removeAll = fn }

// DownloadWithError exposes the failure reason Download hides.
func (d *Downloader) DownloadWithError(ctx context.Context, day time.Time, cfg *DownloadConfig) (string, error) {
	return d.download(ctx, day, cfg)
}
