package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Store implements the engine's data store on MySQL. Every call is bounded
// by the configured timeout.
type Store struct {
	db           *sql.DB
	timeout      time.Duration
	outlets      *OutletRepo
	slots        *SlotRepo
	reservations *ReservationRepo
	payments     *PaymentRepo
}

func NewStore(db *sql.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Store{
		db:           db,
		timeout:      timeout,
		outlets:      NewOutletRepo(),
		slots:        NewSlotRepo(),
		reservations: NewReservationRepo(),
		payments:     NewPaymentRepo(),
	}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// inTx runs fn in a transaction that is rolled back unless fn succeeds and
// the commit goes through.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err, "begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr(err, "commit transaction")
	}
	committed = true
	return nil
}

func (s *Store) GetOutlet(ctx context.Context, id string) (*model.Outlet, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.outlets.Get(ctx, s.db, id)
}

func (s *Store) UpsertOutlet(ctx context.Context, o *model.Outlet) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.outlets.UpsertTx(ctx, tx, o)
	})
}

func (s *Store) ReplaceSlots(ctx context.Context, outletID, date string, slots []model.CapacitySlot) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.slots.UpsertProjectionTx(ctx, tx, outletID, date, slots)
	})
}

func (s *Store) ListReservations(ctx context.Context, outletID string, w model.Window) ([]model.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.reservations.ListOverlapping(ctx, s.db, outletID, w)
}

// CommitReservation locks the capacity_slots rows named by lock, creating
// any that do not exist yet, then reads the overlapping reservations and
// inserts what decide returns. Rows are locked in chronological order so
// concurrent commits queue rather than deadlock. The reservation read
// happens after the locks are granted, so it sees every commit that held
// them before.
func (s *Store) CommitReservation(ctx context.Context, lock model.SlotLock, decide func(existing []model.Reservation) (*model.Reservation, error)) (*model.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var out *model.Reservation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.slots.EnsureTx(ctx, tx, lock.OutletID, lock.Slots); err != nil {
			return err
		}
		if err := s.slots.LockTx(ctx, tx, lock.OutletID, lock.Slots); err != nil {
			return err
		}
		existing, err := s.reservations.ListOverlapping(ctx, tx, lock.OutletID, lock.Scan)
		if err != nil {
			return err
		}
		r, err := decide(existing)
		if err != nil {
			return err
		}
		if err := s.reservations.InsertTx(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.reservations.Get(ctx, s.db, id)
}

func (s *Store) TransitionReservation(ctx context.Context, id string, from, to model.ReservationState, at time.Time, reason string) (*model.Reservation, error) {
	if !model.CanTransition(from, to) {
		return nil, apperr.InvalidState("reservation cannot move from %s to %s", from, to)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	ok, err := s.reservations.Transition(ctx, s.db, id, from, to, at, reason)
	if err != nil {
		return nil, err
	}
	r, err := s.reservations.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.InvalidState("reservation %s is %s, cannot move to %s", id, r.State, to)
	}
	return r, nil
}

func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.reservations.ListExpiredHolds(ctx, s.db, now, limit)
}

func (s *Store) ListFinishedReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.reservations.ListFinished(ctx, s.db, now, limit)
}

func (s *Store) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.payments.Get(ctx, s.db, id)
}

func (s *Store) CountPayments(ctx context.Context, reservationID string) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.payments.CountByReservation(ctx, s.db, reservationID)
}

// AttachPayment links p to its reservation, conditional on the reservation
// still being PENDING with prevPaymentID as its current payment, and
// inserts p in the same transaction.
func (s *Store) AttachPayment(ctx context.Context, p *model.Payment, prevPaymentID string, holdUntil time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := s.reservations.AttachPaymentTx(ctx, tx, p.ReservationID, prevPaymentID, p.ID, holdUntil, p.CreatedAt)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := s.reservations.Get(ctx, tx, p.ReservationID); err != nil {
				return err
			}
			return apperr.InvalidState("reservation %s changed while creating payment", p.ReservationID)
		}
		return s.payments.InsertTx(ctx, tx, p)
	})
}

func (s *Store) SettlePayment(ctx context.Context, id string, to model.PaymentState, reason string, at time.Time) (*model.Payment, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	changed, err := s.payments.Settle(ctx, s.db, id, to, reason, at)
	if err != nil {
		return nil, false, err
	}
	p, err := s.payments.Get(ctx, s.db, id)
	if err != nil {
		return nil, false, err
	}
	return p, changed, nil
}

func (s *Store) ListPendingPayments(ctx context.Context, limit int) ([]model.Payment, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.payments.ListPending(ctx, s.db, limit)
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}
