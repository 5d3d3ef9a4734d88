package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

const jobTag = "era5-daily"

// Job is the work run on every tick. ctx is cancelled by Stop.
type Job func(ctx context.Context)

// Scheduler runs a catch-up job once a day at a fixed UTC time. Runs never overlap.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	job        Job
	at         string
	runOnStart bool
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler firing daily at at (HH:MM, UTC).
func New(at string, runOnStart bool, job Job, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		job:        job,
		at:         at,
		runOnStart: runOnStart,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start schedules the daily job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	s.scheduler.SingletonModeAll()

	_, err := s.scheduler.Every(1).Day().At(s.at).Tag(jobTag).Do(func() {
		s.logger.Info("scheduler: running download job")
		start := time.Now()
		s.job(s.ctx)
		s.logger.Info("scheduler: completed download job", zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	if s.runOnStart {
		return s.scheduler.RunByTag(jobTag)
	}
	return nil
}

// NextRun returns when the job fires next.
func (s *Scheduler) NextRun() time.Time {
	_, next := s.scheduler.NextRun()
	return next
}

// Stop cancels a running job between days and stops future runs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
