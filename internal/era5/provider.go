package era5

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/era5-downloader/internal/common"
)

// Retriever abstracts the remote data store. Retrieve either populates dest
// with the requested data or returns an error.
type Retriever interface {
	Retrieve(ctx context.Context, dataset string, req Request, dest string) error
}

// Hook is a per-day extension point run after a day's download attempt.
type Hook interface {
	Handle(ctx context.Context, day time.Time) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, day time.Time) error

func (f HookFunc) Handle(ctx context.Context, day time.Time) error {
	return f(ctx, day)
}

// LogHook only announces the step for the day.
type LogHook struct {
	logger *zap.Logger
	step   string
}

// NewLogHook returns a Hook logging "<step> data for <day>".
func NewLogHook(logger *zap.Logger, step string) *LogHook {
	return &LogHook{logger: logger, step: step}
}

func (h *LogHook) Handle(_ context.Context, day time.Time) error {
	h.logger.Info(h.step+" data", zap.String("date", common.FormatDate(day)))
	return nil
}
