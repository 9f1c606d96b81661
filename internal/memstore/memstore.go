// Package memstore is an in-process implementation of the reservation
// store. It backs STORE_DRIVER=memory and the service tests. A single mutex
// serializes every operation, which trivially satisfies the commit lock.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

type slotKey struct {
	outletID string
	date     string
}

type Store struct {
	mu           sync.Mutex
	outlets      map[string]model.Outlet
	reservations map[string]*model.Reservation
	payments     map[string]*model.Payment
	slots        map[slotKey][]model.CapacitySlot

	// Commits counts calls to CommitReservation, successful or not.
	Commits int
}

func New() *Store {
	return &Store{
		outlets:      make(map[string]model.Outlet),
		reservations: make(map[string]*model.Reservation),
		payments:     make(map[string]*model.Payment),
		slots:        make(map[slotKey][]model.CapacitySlot),
	}
}

func copyOutlet(o model.Outlet) model.Outlet {
	o.Hours = append([]model.OperatingHours(nil), o.Hours...)
	o.Tables = append([]model.Table(nil), o.Tables...)
	return o
}

func (s *Store) GetOutlet(ctx context.Context, id string) (*model.Outlet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outlets[id]
	if !ok {
		return nil, apperr.NotFound("outlet %s not found", id)
	}
	cp := copyOutlet(o)
	return &cp, nil
}

func (s *Store) UpsertOutlet(ctx context.Context, o *model.Outlet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyOutlet(*o)
	for i := range cp.Tables {
		cp.Tables[i].OutletID = cp.ID
	}
	s.outlets[cp.ID] = cp
	return nil
}

func (s *Store) ReplaceSlots(ctx context.Context, outletID, date string, slots []model.CapacitySlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{outletID, date}] = append([]model.CapacitySlot(nil), slots...)
	return nil
}

// Slots returns the stored projection for an outlet and date.
func (s *Store) Slots(outletID, date string) []model.CapacitySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CapacitySlot(nil), s.slots[slotKey{outletID, date}]...)
}

// live reports whether a reservation still matters for capacity decisions.
func live(r *model.Reservation) bool {
	return r.State == model.ReservationPending || r.State == model.ReservationConfirmed
}

func (s *Store) overlapping(outletID string, w model.Window) []model.Reservation {
	var out []model.Reservation
	for _, r := range s.reservations {
		if r.OutletID == outletID && live(r) && r.Window().Overlaps(w) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListReservations(ctx context.Context, outletID string, w model.Window) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlapping(outletID, w), nil
}

func (s *Store) CommitReservation(ctx context.Context, lock model.SlotLock, decide func(existing []model.Reservation) (*model.Reservation, error)) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Internal(err, "commit aborted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Commits++

	r, err := decide(s.overlapping(lock.OutletID, lock.Scan))
	if err != nil {
		return nil, err
	}
	if _, dup := s.reservations[r.ID]; dup {
		return nil, apperr.Internal(nil, "reservation %s already exists", r.ID)
	}
	cp := *r
	s.reservations[r.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) TransitionReservation(ctx context.Context, id string, from, to model.ReservationState, at time.Time, reason string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	if r.State != from || !model.CanTransition(from, to) {
		return nil, apperr.InvalidState("reservation %s is %s, cannot move to %s", id, r.State, to)
	}
	r.State = to
	r.UpdatedAt = at
	switch to {
	case model.ReservationConfirmed:
		t := at
		r.ConfirmedAt = &t
	case model.ReservationCancelled:
		t := at
		r.CancelledAt = &t
		r.CancelReason = reason
	case model.ReservationExpired:
		r.CancelReason = reason
	}
	cp := *r
	return &cp, nil
}

func (s *Store) collect(limit int, keep func(*model.Reservation) bool, less func(a, b *model.Reservation) bool) []model.Reservation {
	var picked []*model.Reservation
	for _, r := range s.reservations {
		if keep(r) {
			picked = append(picked, r)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return less(picked[i], picked[j]) })
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	out := make([]model.Reservation, 0, len(picked))
	for _, r := range picked {
		out = append(out, *r)
	}
	return out
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(limit,
		func(r *model.Reservation) bool { return r.HoldExpired(now) },
		func(a, b *model.Reservation) bool { return a.HoldExpiresAt.Before(b.HoldExpiresAt) },
	), nil
}

func (s *Store) ListFinishedReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(limit,
		func(r *model.Reservation) bool {
			return r.State == model.ReservationConfirmed && !now.Before(r.End)
		},
		func(a, b *model.Reservation) bool { return a.End.Before(b.End) },
	), nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) CountPayments(ctx context.Context, reservationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.payments {
		if p.ReservationID == reservationID {
			n++
		}
	}
	return n, nil
}

func (s *Store) AttachPayment(ctx context.Context, p *model.Payment, prevPaymentID string, holdUntil time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[p.ReservationID]
	if !ok {
		return apperr.NotFound("reservation %s not found", p.ReservationID)
	}
	if r.State != model.ReservationPending || r.PaymentID != prevPaymentID {
		return apperr.InvalidState("reservation %s changed while creating payment", r.ID)
	}
	for _, existing := range s.payments {
		if existing.IdempotencyKey == p.IdempotencyKey {
			return apperr.InvalidState("payment attempt %s already recorded", p.IdempotencyKey)
		}
	}
	cp := *p
	s.payments[p.ID] = &cp
	r.PaymentID = p.ID
	if holdUntil.After(r.HoldExpiresAt) {
		r.HoldExpiresAt = holdUntil
	}
	r.UpdatedAt = p.CreatedAt
	return nil
}

func (s *Store) SettlePayment(ctx context.Context, id string, to model.PaymentState, reason string, at time.Time) (*model.Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, false, apperr.NotFound("payment %s not found", id)
	}
	if p.State != model.PaymentPending {
		cp := *p
		return &cp, false, nil
	}
	p.State = to
	p.FailureReason = reason
	p.UpdatedAt = at
	if to == model.PaymentPaid {
		t := at
		p.PaidAt = &t
	}
	cp := *p
	return &cp, true, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Payment
	for _, p := range s.payments {
		if p.State == model.PaymentPending {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
