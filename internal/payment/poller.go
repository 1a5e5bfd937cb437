package payment

import (
	"context"
	"time"

	"kennelbook/internal/models"

	"github.com/rs/zerolog"
)

// PendingLister feeds the poller with bookings awaiting payment.
type PendingLister interface {
	ListPendingBookingsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
}

// Poller periodically re-verifies bookings that stayed pending past a
// grace period. Webhooks can be lost; the poller is the backstop that
// guarantees every payment outcome eventually reaches the ledger.
type Poller struct {
	reconciler *Reconciler
	pending    PendingLister
	interval   time.Duration
	grace      time.Duration
	logger     *zerolog.Logger
}

func NewPoller(rec *Reconciler, pending PendingLister, interval, grace time.Duration, logger *zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 5 * time.Minute
	}
	return &Poller{
		reconciler: rec,
		pending:    pending,
		interval:   interval,
		grace:      grace,
		logger:     logger,
	}
}

// Start blocks, polling until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info().
		Dur("interval", p.interval).
		Dur("grace", p.grace).
		Msg("payment poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("payment poller stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce re-verifies one batch of stale pending bookings. Per-booking
// failures are logged and skipped so one bad ref cannot stall the rest.
func (p *Poller) RunOnce(ctx context.Context) {
	const batchSize = 100

	cutoff := time.Now().Add(-p.grace)
	stale, err := p.pending.ListPendingBookingsOlderThan(ctx, cutoff, batchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list pending bookings")
		return
	}

	for i := range stale {
		b := &stale[i]
		if err := p.reconciler.HandleEvent(ctx, Event{Ref: b.PaymentRef}); err != nil {
			p.logger.Error().Err(err).
				Str("booking_id", b.ID).
				Str("payment_ref", b.PaymentRef).
				Msg("failed to reconcile pending booking")
		}
	}
}
