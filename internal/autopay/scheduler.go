package autopay

import (
	"context"
	"time"

	"storagedesk/internal/models"

	"go.uber.org/zap"
)

// Scheduler runs the Runner once a day at a fixed UTC hour for that day's date.
type Scheduler struct {
	runner *Runner
	hour   int
	log    *zap.Logger
	now    func() time.Time
}

func NewScheduler(runner *Runner, hourUTC int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if hourUTC < 0 || hourUTC > 23 {
		hourUTC = 0
	}
	return &Scheduler{runner: runner, hour: hourUTC, log: log.Named("scheduler"), now: time.Now}
}

// NextRun returns the first moment at hour:00 UTC strictly after now.
func NextRun(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start blocks until ctx is done. When started after today's run hour it
// first runs today's batch, so a process that was down at the scheduled time
// still bills leases due today. A rerun only selects leases still due.
func (s *Scheduler) Start(ctx context.Context) {
	if now := s.now().UTC(); now.Hour() >= s.hour {
		s.runOnce(ctx, models.NewDate(now))
	}
	for {
		now := s.now()
		next := NextRun(now, s.hour)
		s.log.Info("next autopay run scheduled", zap.Time("at", next))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.runOnce(ctx, models.NewDate(next))
	}
}

func (s *Scheduler) runOnce(ctx context.Context, date models.Date) {
	summary, err := s.runner.Run(ctx, date)
	if err != nil {
		s.log.Error("scheduled autopay run failed", zap.Stringer("date", date), zap.Error(err))
		return
	}
	s.log.Info("scheduled autopay run done",
		zap.Stringer("date", date), zap.Int("count", summary.Count), zap.Int("failed", summary.Failed()))
}
