package era5

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/i474232898/era5-downloader/internal/common"
)

// DownloadedDates lists dir and returns the days that already have a file.
// Only regular files whose name before the first dot is a YYYY-MM-DD date
// count; everything else is ignored.
func DownloadedDates(dir string) (map[time.Time]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	dates := make(map[time.Time]struct{}, len(entries))
	for _, e := range entries {
		if !isRegularFile(dir, e) {
			continue
		}
		prefix, _, _ := strings.Cut(e.Name(), ".")
		d, err := common.ParseDate(prefix)
		if err != nil {
			continue
		}
		dates[d] = struct{}{}
	}
	return dates, nil
}

// SortedDates returns the keys of a DownloadedDates set in ascending order.
func SortedDates(set map[time.Time]struct{}) []time.Time {
	out := make([]time.Time, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// isRegularFile follows symlinks so a link to a data file still counts.
func isRegularFile(dir string, e fs.DirEntry) bool {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.Type().IsRegular()
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}
