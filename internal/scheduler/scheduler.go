// Package scheduler wires up the cron jobs that keep cached sessions in step
// with the job store and push due notifications out.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"offerwall/reconciler-service/internal/delivery"
)

// Refresher reconciles every cached session.
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Deliverer runs one delivery cycle.
type Deliverer interface {
	RunOnce(ctx context.Context) (delivery.Summary, error)
}

// Scheduler wraps robfig/cron and runs the refresh and delivery loops.
type Scheduler struct {
	cron          *cron.Cron
	chain         cron.Chain
	refresh       Refresher
	deliver       Deliverer
	reconcileSpec string // e.g. "@every 5m0s"
	deliverySpec  string
	running       atomic.Bool
	startup       sync.WaitGroup
}

// New creates a Scheduler. A nil Deliverer disables the delivery loop.
func New(refresh Refresher, deliver Deliverer, reconcileEvery, deliverEvery time.Duration) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	return &Scheduler{
		cron:          cron.New(cron.WithLogger(logger)),
		chain:         cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		refresh:       refresh,
		deliver:       deliver,
		reconcileSpec: fmt.Sprintf("@every %s", reconcileEvery),
		deliverySpec:  fmt.Sprintf("@every %s", deliverEvery),
	}
}

// Start registers the jobs and starts the scheduler. Both loops also run
// once immediately so state is fresh without waiting for the first tick.
// The immediate run goes through the same wrapped job as the ticks, so the
// two never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	refresh := s.chain.Then(cron.FuncJob(func() { s.runRefresh(ctx) }))
	if _, err := s.cron.AddJob(s.reconcileSpec, refresh); err != nil {
		return fmt.Errorf("cron.AddJob(%s): %w", s.reconcileSpec, err)
	}
	jobs := []cron.Job{refresh}
	if s.deliver != nil {
		deliver := s.chain.Then(cron.FuncJob(func() { s.runDelivery(ctx) }))
		if _, err := s.cron.AddJob(s.deliverySpec, deliver); err != nil {
			return fmt.Errorf("cron.AddJob(%s): %w", s.deliverySpec, err)
		}
		jobs = append(jobs, deliver)
	}

	s.cron.Start()
	s.running.Store(true)
	slog.Info("scheduler started", "reconcile", s.reconcileSpec, "delivery", s.deliverySpec, "deliveryEnabled", s.deliver != nil)

	for _, j := range jobs {
		s.startup.Add(1)
		go func(j cron.Job) {
			defer s.startup.Done()
			j.Run()
		}(j)
	}
	return nil
}

// Stop halts the scheduler and waits for running jobs, including the
// immediate start-up runs, to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.startup.Wait()
	s.running.Store(false)
	slog.Info("scheduler stopped")
}

// Running reports whether the scheduler has been started and not stopped.
func (s *Scheduler) Running() bool { return s.running.Load() }

func (s *Scheduler) runRefresh(ctx context.Context) {
	n, err := s.refresh.RefreshAll(ctx)
	if err != nil {
		slog.Warn("refresh cycle failed", "err", err)
		return
	}
	slog.Debug("refresh cycle complete", "sessions", n)
}

func (s *Scheduler) runDelivery(ctx context.Context) {
	if _, err := s.deliver.RunOnce(ctx); err != nil {
		slog.Warn("delivery cycle failed", "err", err)
	}
}
