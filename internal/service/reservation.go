package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Coordinator turns slot requests into reservations and drives their
// lifecycle. Capacity is only ever consumed inside Store.CommitReservation.
type Coordinator struct {
	store    Store
	notifier Notifier
	policy   Policy
	clock    Clock
	logger   *slog.Logger
}

func NewCoordinator(store Store, notifier Notifier, policy Policy, clock Clock, logger *slog.Logger) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, notifier: notifier, policy: policy, clock: clock, logger: logger}
}

// ReservationRequest is a customer's request for one slot.
type ReservationRequest struct {
	OutletID   string
	CustomerID string
	SlotStart  time.Time
	PartySize  int
}

// RequestReservation commits a PENDING reservation on the first table that
// fits, or fails with a capacity error when the slot filled up. A failed
// request leaves nothing behind.
func (c *Coordinator) RequestReservation(ctx context.Context, req ReservationRequest) (*model.Reservation, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, apperr.Unauthorized("customer identity is required")
	}
	if req.PartySize < 1 {
		return nil, apperr.Validation("party_size must be at least 1")
	}
	if req.SlotStart.IsZero() {
		return nil, apperr.Validation("slot_start is required")
	}
	outlet, err := c.store.GetOutlet(ctx, strings.TrimSpace(req.OutletID))
	if err != nil {
		return nil, err
	}
	if outlet.Rules.MaxPartySize > 0 && req.PartySize > outlet.Rules.MaxPartySize {
		return nil, apperr.Validation("party_size exceeds the outlet limit of %d", outlet.Rules.MaxPartySize)
	}
	loc, err := outlet.Location()
	if err != nil {
		return nil, apperr.Internal(err, "outlet %s has an invalid timezone", outlet.ID)
	}

	now := c.clock.now()
	start := req.SlotStart.UTC()
	day, slot, ok := locateSlot(outlet, start.In(loc))
	if !ok {
		return nil, apperr.Validation("slot_start %s is not a bookable slot", req.SlotStart.Format(time.RFC3339))
	}
	if err := checkAdvanceWindow(day, loc, now, c.policy.MaxAdvanceDays); err != nil {
		return nil, err
	}
	if !now.Before(slot.Start) {
		return nil, apperr.Validation("slot has already started")
	}
	if !fitsAnyTable(outlet, req.PartySize) {
		return nil, apperr.CapacityExceeded("no table at outlet %s seats a party of %d", outlet.ID, req.PartySize)
	}

	lock := slotLock(outlet, day, slot)
	r, err := c.store.CommitReservation(ctx, lock, func(existing []model.Reservation) (*model.Reservation, error) {
		_, eligible := assess(outlet, slot, req.PartySize, existing, now)
		if len(eligible) == 0 {
			return nil, apperr.CapacityExceeded("slot %s is fully booked", slot.Start.Format(time.RFC3339))
		}
		r := &model.Reservation{
			ID:         uuid.NewString(),
			OutletID:   outlet.ID,
			CustomerID: req.CustomerID,
			TableID:    eligible[0],
			Start:      slot.Start,
			End:        slot.End,
			PartySize:  req.PartySize,
			State:      model.ReservationRequested,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if !model.CanTransition(r.State, model.ReservationPending) {
			return nil, apperr.Internal(nil, "reservation lifecycle misconfigured")
		}
		r.State = model.ReservationPending
		r.HoldExpiresAt = capAt(now.Add(c.policy.HoldTTL), slot.Start)
		return r, nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindCapacityExceeded) {
			c.logger.InfoContext(ctx, "reservation rejected", "outlet_id", outlet.ID, "slot_start", slot.Start, "party_size", req.PartySize)
		}
		return nil, err
	}
	c.logger.InfoContext(ctx, "reservation held", "reservation_id", r.ID, "outlet_id", r.OutletID, "table_id", r.TableID, "hold_expires_at", r.HoldExpiresAt)
	c.publish(ctx, r)
	return r, nil
}

// GetReservation loads a reservation. A non-empty customerID must own it;
// reservations of other customers are reported as missing.
func (c *Coordinator) GetReservation(ctx context.Context, id, customerID string) (*model.Reservation, error) {
	r, err := c.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if customerID != "" && r.CustomerID != customerID {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	return r, nil
}

// ConfirmReservation moves a PENDING reservation to CONFIRMED. Confirming
// an already CONFIRMED reservation returns it unchanged. A PENDING
// reservation whose hold lapsed, or whose slot already started, is expired
// instead and the call fails.
func (c *Coordinator) ConfirmReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := c.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.clock.now()
	switch r.State {
	case model.ReservationConfirmed:
		return r, nil
	case model.ReservationPending:
	default:
		return nil, apperr.InvalidState("reservation %s is %s and cannot be confirmed", r.ID, r.State)
	}

	if r.HoldExpired(now) || !now.Before(r.Start) {
		if _, err := c.Expire(ctx, r); err != nil && !apperr.Is(err, apperr.KindInvalidState) {
			return nil, err
		}
		return nil, apperr.InvalidState("reservation %s hold expired", r.ID)
	}

	confirmed, err := c.store.TransitionReservation(ctx, r.ID, model.ReservationPending, model.ReservationConfirmed, now, "")
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidState) {
			// Lost a race; a concurrent confirm is still a success.
			if cur, gerr := c.store.GetReservation(ctx, r.ID); gerr == nil && cur.State == model.ReservationConfirmed {
				return cur, nil
			}
		}
		return nil, err
	}
	c.logger.InfoContext(ctx, "reservation confirmed", "reservation_id", confirmed.ID)
	c.publish(ctx, confirmed)
	return confirmed, nil
}

// CancelReservation cancels a reservation on behalf of its customer.
// PENDING reservations can always be cancelled; CONFIRMED ones only until
// CancelCutoff before the slot starts. Cancelling twice is a no-op.
func (c *Coordinator) CancelReservation(ctx context.Context, id, customerID, reason string) (*model.Reservation, error) {
	r, err := c.GetReservation(ctx, id, customerID)
	if err != nil {
		return nil, err
	}
	now := c.clock.now()
	switch r.State {
	case model.ReservationCancelled:
		return r, nil
	case model.ReservationPending:
	case model.ReservationConfirmed:
		if now.After(r.Start.Add(-c.policy.CancelCutoff)) {
			return nil, apperr.InvalidState("reservation %s can no longer be cancelled", r.ID)
		}
	default:
		return nil, apperr.InvalidState("reservation %s is %s and cannot be cancelled", r.ID, r.State)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by customer"
	}
	cancelled, err := c.store.TransitionReservation(ctx, r.ID, r.State, model.ReservationCancelled, now, reason)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "reservation cancelled", "reservation_id", cancelled.ID, "from", r.State)
	c.publish(ctx, cancelled)
	return cancelled, nil
}

// Expire releases the capacity of a PENDING reservation whose hold lapsed.
func (c *Coordinator) Expire(ctx context.Context, r *model.Reservation) (*model.Reservation, error) {
	expired, err := c.store.TransitionReservation(ctx, r.ID, model.ReservationPending, model.ReservationExpired, c.clock.now(), "hold expired")
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "reservation expired", "reservation_id", expired.ID)
	c.publish(ctx, expired)
	return expired, nil
}

// Complete marks a CONFIRMED reservation whose slot has ended.
func (c *Coordinator) Complete(ctx context.Context, r *model.Reservation) (*model.Reservation, error) {
	done, err := c.store.TransitionReservation(ctx, r.ID, model.ReservationConfirmed, model.ReservationCompleted, c.clock.now(), "")
	if err != nil {
		return nil, err
	}
	c.publish(ctx, done)
	return done, nil
}

func (c *Coordinator) publish(ctx context.Context, r *model.Reservation) {
	if err := c.notifier.Notify(ctx, model.NewReservationEvent(r, c.clock.now())); err != nil {
		c.logger.WarnContext(ctx, "reservation event not delivered", "reservation_id", r.ID, "state", r.State, "err", err)
	}
}

// locateSlot finds the slot of the outlet's grid starting at local. It
// returns the outlet-local day the slot belongs to.
func locateSlot(o *model.Outlet, local time.Time) (time.Time, model.Window, bool) {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	for _, w := range slotGrid(o, day) {
		if w.Start.Equal(local) {
			return day, w, true
		}
	}
	return time.Time{}, model.Window{}, false
}

// slotLock names the slots a commit for slot must hold: every slot of the
// surrounding days whose window meets slot widened by the buffer. Two
// commits that can affect each other's decision always share one of them.
func slotLock(o *model.Outlet, day time.Time, slot model.Window) model.SlotLock {
	buffered := slot.Widen(o.Rules.Buffer())
	lock := model.SlotLock{OutletID: o.ID, Date: day.Format(model.DateLayout), Scan: buffered}
	for offset := -1; offset <= 1; offset++ {
		for _, w := range slotGrid(o, day.AddDate(0, 0, offset)) {
			if w.Overlaps(buffered) {
				lock.Slots = append(lock.Slots, w)
			}
		}
	}
	return lock
}

func fitsAnyTable(o *model.Outlet, partySize int) bool {
	for _, t := range o.Tables {
		if t.Active && t.Capacity >= partySize {
			return true
		}
	}
	return false
}
