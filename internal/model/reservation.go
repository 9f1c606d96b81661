package model

import (
	"strings"
	"time"
)

// ReservationState is the lifecycle position of a reservation.
type ReservationState string

const (
	ReservationRequested ReservationState = "REQUESTED"
	ReservationPending   ReservationState = "PENDING"
	ReservationConfirmed ReservationState = "CONFIRMED"
	ReservationCompleted ReservationState = "COMPLETED"
	ReservationCancelled ReservationState = "CANCELLED"
	ReservationExpired   ReservationState = "EXPIRED"
)

// reservationTransitions lists every legal move. Terminal states have no
// entry, so nothing ever leaves CANCELLED, EXPIRED or COMPLETED.
var reservationTransitions = map[ReservationState][]ReservationState{
	ReservationRequested: {ReservationPending},
	ReservationPending:   {ReservationConfirmed, ReservationExpired, ReservationCancelled},
	ReservationConfirmed: {ReservationCompleted, ReservationCancelled},
}

// CanTransition reports whether from -> to is a legal reservation move.
func CanTransition(from, to ReservationState) bool {
	for _, next := range reservationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s ReservationState) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// ParseReservationState normalizes a stored or user-supplied state.
func ParseReservationState(raw string) (ReservationState, bool) {
	s := ReservationState(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case ReservationRequested, ReservationPending, ReservationConfirmed,
		ReservationCompleted, ReservationCancelled, ReservationExpired:
		return s, true
	}
	return "", false
}

// Reservation is a customer's claim on a table for one slot. Rows are never
// deleted; cancellation and expiry are states.
//
// Fields:
//
//	ID            – uuid assigned at commit.
//	OutletID      – outlet being booked.
//	CustomerID    – subject of the customer's access token.
//	TableID       – table assigned first-fit at commit.
//	Start, End    – booked slot window in UTC.
//	PartySize     – seats held.
//	State         – lifecycle state.
//	HoldExpiresAt – until when a PENDING reservation holds capacity.
//	PaymentID     – current payment attempt, empty when none.
type Reservation struct {
	ID            string           `json:"id"`
	OutletID      string           `json:"outlet_id"`
	CustomerID    string           `json:"customer_id"`
	TableID       string           `json:"table_id"`
	Start         time.Time        `json:"start"`
	End           time.Time        `json:"end"`
	PartySize     int              `json:"party_size"`
	State         ReservationState `json:"state"`
	HoldExpiresAt time.Time        `json:"hold_expires_at"`
	PaymentID     string           `json:"payment_id,omitempty"`
	CancelReason  string           `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time       `json:"cancelled_at,omitempty"`
}

// Window returns the booked slot window.
func (r *Reservation) Window() Window { return Window{Start: r.Start, End: r.End} }

// HoldsCapacity reports whether the reservation occupies seats at now.
// CONFIRMED always does; PENDING only while its hold is live.
func (r *Reservation) HoldsCapacity(now time.Time) bool {
	switch r.State {
	case ReservationConfirmed:
		return true
	case ReservationPending:
		return now.Before(r.HoldExpiresAt)
	}
	return false
}

// HoldExpired reports whether a PENDING reservation's hold has lapsed.
func (r *Reservation) HoldExpired(now time.Time) bool {
	return r.State == ReservationPending && !now.Before(r.HoldExpiresAt)
}

// ReservationEvent is emitted after a reservation changes state. It is a
// notification only; consumers must not treat it as authoritative.
type ReservationEvent struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id"`
	OutletID      string    `json:"outlet_id"`
	CustomerID    string    `json:"customer_id"`
	TableID       string    `json:"table_id"`
	PartySize     int       `json:"party_size"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	State         string    `json:"state"`
	PaymentID     string    `json:"payment_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewReservationEvent builds the event for r's current state.
func NewReservationEvent(r *Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          "reservation." + strings.ToLower(string(r.State)),
		ReservationID: r.ID,
		OutletID:      r.OutletID,
		CustomerID:    r.CustomerID,
		TableID:       r.TableID,
		PartySize:     r.PartySize,
		Start:         r.Start,
		End:           r.End,
		State:         string(r.State),
		PaymentID:     r.PaymentID,
		OccurredAt:    at.UTC(),
	}
}
