package era5

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/era5-downloader/internal/common"
)

// FileExt is the extension of downloaded day files.
const FileExt = ".nc"

const tempDirPattern = "era5_download_"

// Downloader fetches one file per day over a date range into a data
// directory, skipping days that already have a file.
type Downloader struct {
	dataDir    string
	dataset    string
	redownload bool
	debug      bool
	config     *DownloadConfig

	retriever Retriever
	processor Hook
	archiver  Hook
	logger    *zap.Logger

	now        func() time.Time
	removeAll  func(string) error
	onProgress func(done, total int)
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithRedownload makes Run fetch days that already have a file.
func WithRedownload(v bool) Option { return func(d *Downloader) { d.redownload = v } }

// WithDebug disables all network I/O; Download always returns no file.
func WithDebug(v bool) Option { return func(d *Downloader) { d.debug = v } }

// WithDataset overrides DefaultDataset.
func WithDataset(name string) Option {
	return func(d *Downloader) {
		if name != "" {
			d.dataset = name
		}
	}
}

// WithDownloadConfig sets the configuration Run passes to every Download.
func WithDownloadConfig(cfg DownloadConfig) Option {
	return func(d *Downloader) { d.config = &cfg }
}

// WithProcessor sets the hook run after each day's download attempt.
func WithProcessor(h Hook) Option { return func(d *Downloader) { d.processor = h } }

// WithArchiver sets the hook run after each day's processing.
func WithArchiver(h Hook) Option { return func(d *Downloader) { d.archiver = h } }

// WithProgress registers a callback invoked after every visited day.
func WithProgress(fn func(done, total int)) Option {
	return func(d *Downloader) { d.onProgress = fn }
}

// WithClock overrides time.Now, used to resolve open-ended ranges.
func WithClock(now func() time.Time) Option { return func(d *Downloader) { d.now = now } }

// New creates a Downloader writing into dataDir, creating it if missing.
func New(dataDir string, retriever Retriever, logger *zap.Logger, opts ...Option) (*Downloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Downloader{
		dataDir:   dataDir,
		dataset:   DefaultDataset,
		retriever: retriever,
		logger:    logger,
		now:       time.Now,
		removeAll: os.RemoveAll,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.processor == nil {
		d.processor = NewLogHook(logger, "Processing")
	}
	if d.archiver == nil {
		d.archiver = NewLogHook(logger, "Archiving")
	}
	if d.retriever == nil && !d.debug {
		return nil, errors.New("a retriever is required unless debug is enabled")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return d, nil
}

// DataDir returns the output directory.
func (d *Downloader) DataDir() string { return d.dataDir }

// Run resolves the range and handles each day in ascending order. Only a
// range error aborts the run; per-day failures are logged and recorded in the
// report. Cancellation is checked between days only.
func (d *Downloader) Run(ctx context.Context, opts RangeOptions) (RunReport, error) {
	r, err := ResolveRange(opts, d.now())
	if err != nil {
		return RunReport{}, err
	}

	downloaded, err := DownloadedDates(d.dataDir)
	if err != nil {
		return RunReport{}, fmt.Errorf("list downloaded dates: %w", err)
	}

	report := newRunReport(r, d.debug, d.now())
	total := r.Days()
	d.logger.Info("Starting run",
		zap.String("run", report.ID),
		zap.String("range", r.String()),
		zap.Int("days", total),
		zap.Int("already_downloaded", len(downloaded)),
		zap.Bool("redownload", d.redownload),
		zap.Bool("debug", d.debug),
	)

	done := 0
	for day := r.Start; !day.After(r.End); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			report.Interrupted = true
			report.FinishedAt = d.now()
			d.logger.Warn("Run interrupted", zap.String("run", report.ID), zap.String("next", common.FormatDate(day)), zap.Error(err))
			return report, err
		}

		key := common.FormatDate(day)
		if _, ok := downloaded[day]; ok && !d.redownload {
			d.logger.Info("Data already downloaded, skipping", zap.String("date", key))
			report.Skipped = append(report.Skipped, key)
		} else {
			report.Attempted = append(report.Attempted, key)
			// A started day runs to completion even if ctx is cancelled meanwhile.
			dayCtx := context.WithoutCancel(ctx)
			if path := d.Download(dayCtx, day, d.config); path != "" {
				report.Downloaded = append(report.Downloaded, key)
			}
			d.Process(dayCtx, day)
			d.Archive(dayCtx, day)
		}

		done++
		if d.onProgress != nil {
			d.onProgress(done, total)
		}
	}

	report.FinishedAt = d.now()
	d.logger.Info("Run finished",
		zap.String("run", report.ID),
		zap.Int("attempted", len(report.Attempted)),
		zap.Int("downloaded", len(report.Downloaded)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Strings("failed", report.Failed()),
	)
	return report, nil
}

// Download fetches day into the data directory and returns the final path,
// or "" when no file was produced. Failures are logged, never returned. A nil
// cfg means DefaultDownloadConfig.
func (d *Downloader) Download(ctx context.Context, day time.Time, cfg *DownloadConfig) string {
	path, _ := d.download(ctx, day, cfg)
	return path
}

func (d *Downloader) download(ctx context.Context, day time.Time, cfg *DownloadConfig) (string, error) {
	day = common.TruncateDay(day)
	key := common.FormatDate(day)

	if d.debug {
		d.logger.Info("Debug mode enabled, skipping actual download", zap.String("date", key))
		return "", nil
	}

	d.logger.Info("Starting download", zap.String("date", key))

	conf := DefaultDownloadConfig()
	if cfg != nil {
		conf = *cfg
	}
	conf, err := conf.Validate()
	if err != nil {
		d.logger.Error("Invalid configuration", zap.String("date", key), zap.Error(err))
		return "", err
	}

	tempDir, err := os.MkdirTemp(d.dataDir, tempDirPattern)
	if err != nil {
		err = fmt.Errorf("%w: create temp dir: %w", ErrRetrieval, err)
		d.logger.Error("Download failed", zap.String("date", key), zap.Error(err))
		return "", err
	}
	defer d.cleanup(tempDir)
	d.logger.Debug("Created temporary directory", zap.String("dir", tempDir))

	req := BuildRequest(day, conf)
	tmpFile := filepath.Join(tempDir, key+FileExt)
	d.logger.Debug("Downloading", zap.String("dest", tmpFile), zap.String("dataset", d.dataset))

	if err := d.retriever.Retrieve(ctx, d.dataset, req, tmpFile); err != nil {
		d.logger.Error("Download failed",
			zap.String("date", key),
			zap.String("kind", ErrorKind(err)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	info, err := os.Stat(tmpFile)
	if err != nil {
		d.logger.Error("Download completed but file not found", zap.String("file", tmpFile))
		return "", fmt.Errorf("%w: %s not found", ErrPostCondition, tmpFile)
	}
	if info.Size() == 0 {
		d.logger.Error("Downloaded file is empty", zap.String("file", tmpFile))
		return "", fmt.Errorf("%w: %s is empty", ErrPostCondition, tmpFile)
	}

	d.logger.Info("Successfully downloaded",
		zap.String("date", key),
		zap.String("size", fmt.Sprintf("%.2f MB", float64(info.Size())/1024/1024)),
		zap.Int64("bytes", info.Size()),
	)

	finalPath := filepath.Join(d.dataDir, key+FileExt)
	if err := os.Rename(tmpFile, finalPath); err != nil {
		d.logger.Error("Download failed", zap.String("date", key), zap.String("kind", ErrorKind(err)), zap.Error(err))
		return "", fmt.Errorf("%w: move into place: %w", ErrRetrieval, err)
	}
	d.logger.Debug("Moved file", zap.String("path", finalPath))

	if s, err := Summarize(finalPath); err != nil {
		d.logger.Debug("Could not read NetCDF summary", zap.String("path", finalPath), zap.Error(err))
	} else {
		d.logger.Info("ERA5 summary", append([]zap.Field{zap.String("date", key)}, s.Fields()...)...)
	}

	return finalPath, nil
}

func (d *Downloader) cleanup(dir string) {
	if err := d.removeAll(dir); err != nil {
		d.logger.Warn("Failed to clean up temporary directory",
			zap.String("dir", dir),
			zap.Error(fmt.Errorf("%w: %w", ErrCleanup, err)),
		)
		return
	}
	d.logger.Debug("Cleaned up temporary directory", zap.String("dir", dir))
}

// Process runs the processing hook for day. Hook errors are logged only.
func (d *Downloader) Process(ctx context.Context, day time.Time) {
	d.runHook(ctx, "process", d.processor, day)
}

// Archive runs the archiving hook for day. Hook errors are logged only.
func (d *Downloader) Archive(ctx context.Context, day time.Time) {
	d.runHook(ctx, "archive", d.archiver, day)
}

func (d *Downloader) runHook(ctx context.Context, step string, h Hook, day time.Time) {
	if err := h.Handle(ctx, common.TruncateDay(day)); err != nil {
		d.logger.Warn("Hook failed", zap.String("step", step), zap.String("date", common.FormatDate(day)), zap.Error(err))
	}
}
