// Package service implements the reservation engine: slot availability,
// capacity commits and payment reconciliation. It talks to persistence and
// to the payment gateway only through the interfaces declared here, so the
// MySQL repository, the in-memory store and test fakes are interchangeable.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// OutletStore reads outlet configuration and keeps the slot projection.
type OutletStore interface {
	GetOutlet(ctx context.Context, id string) (*model.Outlet, error)
	UpsertOutlet(ctx context.Context, o *model.Outlet) error
	ReplaceSlots(ctx context.Context, outletID, date string, slots []model.CapacitySlot) error
}

// ReservationStore persists reservations. CommitReservation is the only
// place capacity is consumed: implementations must serialize concurrent
// commits whose lock slots intersect and run decide under that lock. decide
// sees the reservations overlapping lock.Scan and returns the row to insert;
// an error from decide aborts the commit with nothing written.
type ReservationStore interface {
	ListReservations(ctx context.Context, outletID string, w model.Window) ([]model.Reservation, error)
	CommitReservation(ctx context.Context, lock model.SlotLock, decide func(existing []model.Reservation) (*model.Reservation, error)) (*model.Reservation, error)
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	// TransitionReservation moves id from one state to another only if it
	// is still in from; otherwise it fails with an invalid-state error.
	TransitionReservation(ctx context.Context, id string, from, to model.ReservationState, at time.Time, reason string) (*model.Reservation, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	ListFinishedReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
}

// PaymentStore persists payments.
type PaymentStore interface {
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	CountPayments(ctx context.Context, reservationID string) (int, error)
	// AttachPayment inserts p, links it to its reservation and extends the
	// reservation hold to holdUntil in one write. It fails with an
	// invalid-state error when the reservation is no longer PENDING or its
	// current payment is no longer prevPaymentID.
	AttachPayment(ctx context.Context, p *model.Payment, prevPaymentID string, holdUntil time.Time) error
	// SettlePayment moves a PENDING payment to a terminal state. When the
	// payment was already settled it returns the stored row and false.
	SettlePayment(ctx context.Context, id string, to model.PaymentState, reason string, at time.Time) (*model.Payment, bool, error)
	// ListPendingPayments returns PENDING payments, soonest expiry first.
	ListPendingPayments(ctx context.Context, limit int) ([]model.Payment, error)
}

// Store is the data store collaborator as a whole.
type Store interface {
	OutletStore
	ReservationStore
	PaymentStore
}

// Gateway is the payment gateway collaborator. It is the source of truth
// for payment state; the engine only reconciles against it.
type Gateway interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
	GetCharge(ctx context.Context, ref string) (*gateway.Charge, error)
	ConfirmCharge(ctx context.Context, ref string, simulate bool) (bool, error)
}

// Notifier receives reservation lifecycle events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, ev model.ReservationEvent) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, model.ReservationEvent) error { return nil }

// Policy holds the booking rules that are configured per deployment rather
// than per outlet.
type Policy struct {
	MaxAdvanceDays   int
	HoldTTL          time.Duration
	CancelCutoff     time.Duration
	VAExpiry         time.Duration
	QRExpiry         time.Duration
	Currency         string
	AllowSimulation  bool
	GatewayTimeout   time.Duration
	SweepBatch       int
	SweepConcurrency int
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAdvanceDays:   90,
		HoldTTL:          15 * time.Minute,
		CancelCutoff:     2 * time.Hour,
		VAExpiry:         24 * time.Hour,
		QRExpiry:         30 * time.Minute,
		Currency:         "IDR",
		GatewayTimeout:   10 * time.Second,
		SweepBatch:       200,
		SweepConcurrency: 4,
	}
}

// Clock returns the current time. Services take one so tests can freeze it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
