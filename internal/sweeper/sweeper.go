// Package sweeper runs the recurring job that expires lapsed holds.
package sweeper

import (
	"context"
	"sync"
	"time"

	"kennelbook/internal/metrics"

	"github.com/rs/zerolog"
)

// Ledger is the single operation the sweeper drives.
type Ledger interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper ticks on a fixed interval and releases expired holds.
// Multiple instances may run concurrently; the ledger's transition
// guard keeps them from double-releasing.
type Sweeper struct {
	ledger   Ledger
	interval time.Duration
	logger   *zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func New(ledger Ledger, interval time.Duration, logger *zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		ledger:   ledger,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop. Blocks until the context is cancelled
// or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Dur("interval", s.interval).Msg("expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("expiry sweeper stopped by context")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	s.mu.Unlock()
}

// RunNow executes one sweep iteration. Errors are contained: a failed
// sweep only delays capacity release, so it logs and waits for the
// next tick rather than taking the process down.
func (s *Sweeper) RunNow(ctx context.Context) {
	start := time.Now()

	count, err := s.ledger.SweepExpired(ctx, start)
	if err != nil {
		metrics.IncSweepRun("error")
		s.logger.Error().Err(err).Msg("sweep iteration failed")
		return
	}

	metrics.IncSweepRun("ok")
	if count > 0 {
		metrics.AddHoldsExpired(count)
		s.logger.Info().
			Int("expired", count).
			Dur("duration", time.Since(start)).
			Msg("released expired holds")
	}
}

// IsRunning returns whether the sweeper loop is active.
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
