// Package sweep runs the background match-expiry job: open matches
// past their deadline flip to expired so stakes become refundable even
// when no result is ever posted.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arenax/settlement-engine/internal/metrics"
	"github.com/arenax/settlement-engine/internal/store"
)

// Sweeper schedules the expiry sweep on a cron spec.
type Sweeper struct {
	cron  *cron.Cron
	store store.Store
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(st store.Store) *Sweeper {
	return &Sweeper{
		cron:  cron.New(),
		store: st,
	}
}

// RunOnce performs a single sweep pass and returns the number of
// matches expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.store.ExpireMatches(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.ActiveMatches.Sub(float64(n))
		slog.Info("expired overdue matches", "count", n)
	}
	return n, nil
}

// Start schedules the sweep. spec is a standard 5-field cron spec.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Error("expiry sweep failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("expiry sweeper started", "spec", spec)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("expiry sweeper stopped")
}
