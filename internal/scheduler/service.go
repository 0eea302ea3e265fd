// Package scheduler owns the background loops: the automation tick that
// evaluates rules and the slower reconciliation sweep that resolves orphaned
// publishes.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Ticker is the tick-driven work the scheduler drives. Implemented by
// services.AutomationService.
type Ticker interface {
	RunTick(ctx context.Context) error
}

// Reconciler is the orphan sweep. Implemented by services.ListingService.
type Reconciler interface {
	ReconcileOrphans(ctx context.Context) (int, error)
}

// Service runs the automation tick and the reconciliation sweep on their
// configured cadences until stopped.
type Service struct {
	automation Ticker
	reconciler Reconciler
	stop       chan struct{}

	tick              time.Duration
	reconcileInterval time.Duration
}

// NewService builds a stopped scheduler.
func NewService(automation Ticker, reconciler Reconciler, tick, reconcileInterval time.Duration) *Service {
	return &Service{
		automation:        automation,
		reconciler:        reconciler,
		stop:              make(chan struct{}),
		tick:              tick,
		reconcileInterval: reconcileInterval,
	}
}

// Start blocks, driving both loops, until the context is canceled or Stop is
// called.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	sweep := time.NewTicker(s.reconcileInterval)
	defer sweep.Stop()

	log.Info().
		Dur("tick", s.tick).
		Dur("reconcile_interval", s.reconcileInterval).
		Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.automation.RunTick(ctx); err != nil {
				log.Error().Err(err).Msg("automation tick failed")
			}
			log.Debug().Dur("elapsed", time.Since(start)).Msg("automation tick finished")
		case <-sweep.C:
			resolved, err := s.reconciler.ReconcileOrphans(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reconciliation sweep failed")
				continue
			}
			if resolved > 0 {
				log.Info().Int("resolved", resolved).Msg("reconciliation sweep resolved orphaned publishes")
			}
		}
	}
}

// Stop ends Start. Safe to call once.
func (s *Service) Stop() {
	close(s.stop)
}
