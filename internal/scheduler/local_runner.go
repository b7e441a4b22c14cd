package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// LocalRunner triggers the sweep in-process on a cron schedule. It stands
// in for the EventBridge rule when running outside AWS. Overlapping runs
// are skipped rather than queued.
type LocalRunner struct {
	cron    *cron.Cron
	sweeper *Sweeper
	timeout time.Duration
	logger  *slog.Logger
}

// NewLocalRunner registers sweeper on schedule. Each run gets its own
// timeout-bound context.
func NewLocalRunner(sweeper *Sweeper, schedule cron.Schedule, timeout time.Duration, logger *slog.Logger) *LocalRunner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &LocalRunner{
		sweeper: sweeper,
		timeout: timeout,
		logger:  logger,
	}
	r.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		),
	)
	r.cron.Schedule(schedule, cron.FuncJob(r.runOnce))
	return r
}

// Start begins firing on schedule.
func (r *LocalRunner) Start() {
	r.cron.Start()
	r.logger.Info("local sweep runner started")
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (r *LocalRunner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.logger.Warn("local sweep runner stopped before the running sweep finished")
	}
	r.logger.Info("local sweep runner stopped")
}

// Next reports when the next sweep fires.
func (r *LocalRunner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *LocalRunner) runOnce() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.sweeper.Run(ctx, SweepPayload{}); err != nil {
		r.logger.ErrorContext(ctx, "scheduled sweep failed", "error", err)
	}
}
