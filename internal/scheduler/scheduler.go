// Package scheduler runs periodic housekeeping jobs on cron specs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = time.Minute

// Job does one unit of housekeeping and reports how many rows it touched.
type Job func(ctx context.Context) (int64, error)

type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:  log,
	}
}

func (s *Scheduler) Register(spec, name string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := job(ctx)
	if err != nil {
		s.log.Error("job failed", "job", name, "error", err)
		return
	}
	s.log.Info("job done", "job", name, "affected", n, "duration", time.Since(start))
}

type outboxPurger interface {
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
}

// PurgeSentOutbox drops relayed outbox rows older than retention.
func PurgeSentOutbox(repo outboxPurger, retention time.Duration) Job {
	return func(ctx context.Context) (int64, error) {
		return repo.DeleteSentBefore(ctx, time.Now().UTC().Add(-retention))
	}
}
