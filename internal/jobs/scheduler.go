// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"consultdesk.app/internal/obs"
)

// LinkSweeper flips stored status on expired access links.
type LinkSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper LinkSweeper
	timeout time.Duration
}

func NewScheduler(sweeper LinkSweeper) *Scheduler {
	cronLogger := cron.PrintfLogger(obs.Logger())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		sweeper: sweeper,
		timeout: 30 * time.Second,
	}
}

// Start registers the link sweep under schedule and starts the scheduler.
// An empty schedule disables the sweep.
func (s *Scheduler) Start(schedule string) error {
	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, s.SweepLinks); err != nil {
			return err
		}
		obs.Info("scheduled link sweep job", map[string]any{"schedule": schedule})
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// SweepLinks runs one expired-link sweep.
func (s *Scheduler) SweepLinks() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		obs.Error("link sweep failed", err, nil)
		return
	}
	if n > 0 {
		obs.Info("expired links deactivated", map[string]any{"count": n})
	}
}
