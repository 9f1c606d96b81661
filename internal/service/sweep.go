package service

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	PaymentsChecked int `json:"payments_checked"`
	PaymentsSettled int `json:"payments_settled"`
	PaymentsSkipped int `json:"payments_skipped"`
	HoldsExpired    int `json:"holds_expired"`
	Completed       int `json:"completed"`
	Errors          int `json:"errors"`
}

// Sweeper reconciles pending payments and releases lapsed holds. It has no
// schedule of its own; an external caller triggers it. Running it twice in
// a row is harmless.
type Sweeper struct {
	store       Store
	reconciler  *Reconciler
	coordinator *Coordinator
	policy      Policy
	clock       Clock
	logger      *slog.Logger
}

func NewSweeper(store Store, reconciler *Reconciler, coordinator *Coordinator, policy Policy, clock Clock, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, reconciler: reconciler, coordinator: coordinator, policy: policy, clock: clock, logger: logger}
}

// SweepExpired refreshes pending payments, expires PENDING reservations
// whose hold passed and completes CONFIRMED reservations whose slot ended.
// Per-item failures are counted and logged; only listing failures abort.
func (s *Sweeper) SweepExpired(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	pending, err := s.store.ListPendingPayments(ctx, s.policy.SweepBatch)
	if err != nil {
		return report, err
	}
	var mu sync.Mutex
	var g errgroup.Group
	limit := s.policy.SweepConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range pending {
		p := pending[i]
		g.Go(func() error {
			got, err := s.reconciler.RefreshStatus(ctx, p.ID)
			mu.Lock()
			defer mu.Unlock()
			report.PaymentsChecked++
			switch {
			case apperr.Is(err, apperr.KindGatewayUnavailable):
				report.PaymentsSkipped++
			case err != nil:
				report.Errors++
				s.logger.WarnContext(ctx, "payment refresh failed", "payment_id", p.ID, "err", err)
			case got.State.Terminal():
				report.PaymentsSettled++
			}
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock.now()
	lapsed, err := s.store.ListExpiredHolds(ctx, now, s.policy.SweepBatch)
	if err != nil {
		return report, err
	}
	for i := range lapsed {
		if _, err := s.coordinator.Expire(ctx, &lapsed[i]); err != nil {
			if !apperr.Is(err, apperr.KindInvalidState) {
				report.Errors++
				s.logger.WarnContext(ctx, "hold expiry failed", "reservation_id", lapsed[i].ID, "err", err)
			}
			continue
		}
		report.HoldsExpired++
	}

	finished, err := s.store.ListFinishedReservations(ctx, now, s.policy.SweepBatch)
	if err != nil {
		return report, err
	}
	for i := range finished {
		if _, err := s.coordinator.Complete(ctx, &finished[i]); err != nil {
			if !apperr.Is(err, apperr.KindInvalidState) {
				report.Errors++
				s.logger.WarnContext(ctx, "completion failed", "reservation_id", finished[i].ID, "err", err)
			}
			continue
		}
		report.Completed++
	}

	s.logger.InfoContext(ctx, "sweep finished",
		"payments_checked", report.PaymentsChecked,
		"payments_settled", report.PaymentsSettled,
		"payments_skipped", report.PaymentsSkipped,
		"holds_expired", report.HoldsExpired,
		"completed", report.Completed,
		"errors", report.Errors,
	)
	return report, nil
}
