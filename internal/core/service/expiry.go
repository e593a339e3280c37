package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

// ExpiryScheduler periodically cancels Active reservations past their
// deadline. It routes through the engine's per-key serialization, so expiry
// and a concurrent fulfill are mutually exclusive: whichever reaches the key
// lock first wins, and the loser here is logged and dropped.
type ExpiryScheduler struct {
	engine   *LedgerEngine
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewExpiryScheduler(engine *LedgerEngine, interval time.Duration, log *zap.Logger) *ExpiryScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpiryScheduler{
		engine:   engine,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

func (s *ExpiryScheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry scheduler stopping")
			return
		case <-t.C:
			s.sweep(ctx, s.now())
		}
	}
}

func (s *ExpiryScheduler) sweep(ctx context.Context, now time.Time) int {
	expired := 0
	for _, id := range s.engine.reservations.DuePop(now) {
		err := s.engine.expireReservation(ctx, id)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrReservationNotFound):
			// already resolved by a fulfill or explicit cancel; not a failure
			s.log.Debug("reservation already resolved", zap.String("reservation_id", id))
		default:
			s.log.Error("expiry cancellation failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
	if expired > 0 {
		s.log.Info("expired reservations", zap.Int("count", expired))
	}
	return expired
}
