package workflow

import (
	"context"
	"time"
)

// Scheduler re-evaluates due instances on a fixed interval. Progress lives
// in the database, so a restart resumes where the previous process stopped.
type Scheduler struct {
	svc      *Service
	interval time.Duration
}

func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	return &Scheduler{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if n, err := s.svc.RunDue(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.svc.logger.Error(ctx, "scheduler pass failed", "err", err)
		} else if n > 0 {
			s.svc.logger.Info(ctx, "scheduler pass", "executed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
