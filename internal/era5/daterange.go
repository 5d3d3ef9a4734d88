package era5

import (
	"fmt"
	"time"

	"github.com/i474232898/era5-downloader/internal/common"
)

// Epoch is the first day of the ERA5 record and the default range start.
var Epoch = time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC)

// LatestAvailableLag is how far behind the current UTC day the newest
// reanalysis data is assumed to be published.
const LatestAvailableLag = 5 * 24 * time.Hour

// RangeOptions are the caller-supplied range inputs. At least one must be
// set and End and Fixed are mutually exclusive.
type RangeOptions struct {
	Start *time.Time
	End   *time.Time
	Fixed *time.Time
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of days in the range, 0 when Start is after End.
func (r DateRange) Days() int {
	return common.DaysBetween(r.Start, r.End)
}

func (r DateRange) String() string {
	return common.FormatDate(r.Start) + ".." + common.FormatDate(r.End)
}

// ResolveRange turns RangeOptions into an effective range, relative to now.
func ResolveRange(opts RangeOptions, now time.Time) (DateRange, error) {
	if opts.Start == nil && opts.End == nil && opts.Fixed == nil {
		return DateRange{}, fmt.Errorf("%w: at least one of start, end or fixed date must be provided", ErrConfiguration)
	}
	if opts.End != nil && opts.Fixed != nil {
		return DateRange{}, fmt.Errorf("%w: provide either end or fixed date, not both", ErrConfiguration)
	}

	if opts.Fixed != nil {
		d := common.TruncateDay(*opts.Fixed)
		return DateRange{Start: d, End: d}, nil
	}

	latest := common.TruncateDay(now.Add(-LatestAvailableLag))

	switch {
	case opts.Start != nil && opts.End != nil:
		return DateRange{Start: common.TruncateDay(*opts.Start), End: common.TruncateDay(*opts.End)}, nil
	case opts.Start != nil:
		return DateRange{Start: common.TruncateDay(*opts.Start), End: latest}, nil
	default:
		return DateRange{Start: Epoch, End: common.TruncateDay(*opts.End)}, nil
	}
}
