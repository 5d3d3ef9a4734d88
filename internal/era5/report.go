package era5

import (
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/era5-downloader/internal/common"
)

// RunReport records what a single Run did. Dates are YYYY-MM-DD strings.
type RunReport struct {
	ID         string    `json:"id"`
	Start      string    `json:"start"`
	End        string    `json:"end"`
	Debug      bool      `json:"debug"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Attempted days went through download, process and archive.
	Attempted []string `json:"attempted"`
	// Downloaded days produced a file.
	Downloaded []string `json:"downloaded"`
	Skipped    []string `json:"skipped"`

	// Interrupted is set when the run stopped early between two days.
	Interrupted bool `json:"interrupted,omitempty"`
}

func newRunReport(r DateRange, debug bool, now time.Time) RunReport {
	return RunReport{
		ID:        uuid.NewString(),
		Start:     common.FormatDate(r.Start),
		End:       common.FormatDate(r.End),
		Debug:     debug,
		StartedAt: now,
	}
}

// Failed returns the attempted days that produced no file. It is always
// empty for debug runs since those never download.
func (r RunReport) Failed() []string {
	if r.Debug {
		return nil
	}
	ok := make(map[string]struct{}, len(r.Downloaded))
	for _, d := range r.Downloaded {
		ok[d] = struct{}{}
	}
	var failed []string
	for _, d := range r.Attempted {
		if _, found := ok[d]; !found {
			failed = append(failed, d)
		}
	}
	return failed
}
