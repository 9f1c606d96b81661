package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Reconciler creates gateway charges for reservations and folds the
// gateway's view of each charge back into local payment and reservation
// state. Every transition it applies is conditional, so replaying the same
// gateway status is harmless.
type Reconciler struct {
	store       Store
	gateway     Gateway
	coordinator *Coordinator
	policy      Policy
	clock       Clock
	logger      *slog.Logger
}

func NewReconciler(store Store, gw Gateway, coordinator *Coordinator, policy Policy, clock Clock, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, gateway: gw, coordinator: coordinator, policy: policy, clock: clock, logger: logger}
}

// PaymentRequest is a customer's request to pay for a held reservation.
type PaymentRequest struct {
	ReservationID string
	CustomerID    string
	Amount        int64
	Method        string
	Channel       string
}

// PaymentStatus is a payment together with what the customer needs to
// render it.
type PaymentStatus struct {
	Payment          *model.Payment
	ReservationState model.ReservationState
	TimeRemaining    string
}

// CreatePayment opens a gateway charge for a PENDING reservation. The
// charge is created before anything is written locally; the payment row,
// the reservation link and the hold extension are then stored together.
// The idempotency key is derived from the attempt number, so retrying
// after a failed write reuses the charge.
func (r *Reconciler) CreatePayment(ctx context.Context, req PaymentRequest) (*model.Payment, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("amount must be positive")
	}
	method, ok := model.ParsePaymentMethod(req.Method)
	if !ok {
		return nil, apperr.Validation("payment method %q is not supported", req.Method)
	}

	res, err := r.coordinator.GetReservation(ctx, req.ReservationID, req.CustomerID)
	if err != nil {
		return nil, err
	}
	now := r.clock.now()
	if res.State != model.ReservationPending {
		return nil, apperr.InvalidState("reservation %s is %s and cannot be paid", res.ID, res.State)
	}
	if res.HoldExpired(now) || !now.Before(res.Start) {
		if _, err := r.coordinator.Expire(ctx, res); err != nil && !apperr.Is(err, apperr.KindInvalidState) {
			return nil, err
		}
		return nil, apperr.InvalidState("reservation %s hold expired", res.ID)
	}
	if res.PaymentID != "" {
		current, err := r.store.GetPayment(ctx, res.PaymentID)
		if err != nil {
			return nil, err
		}
		if current.State != model.PaymentFailed {
			return nil, apperr.InvalidState("reservation %s already has a %s payment", res.ID, current.State)
		}
	}

	attempts, err := r.store.CountPayments(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s-%d", res.ID, attempts+1)
	expiresAt := capAt(now.Add(r.expiryFor(method)), res.Start)

	gctx, cancel := withTimeout(ctx, r.policy.GatewayTimeout)
	charge, err := r.gateway.CreateCharge(gctx, gateway.ChargeRequest{
		ReferenceID:    res.ID,
		IdempotencyKey: key,
		Amount:         req.Amount,
		Currency:       r.policy.Currency,
		Method:         method,
		Channel:        strings.TrimSpace(req.Channel),
		ExpiresAt:      expiresAt,
		Metadata: map[string]string{
			"outlet_id":   res.OutletID,
			"customer_id": res.CustomerID,
		},
	})
	cancel()
	if err != nil {
		r.logger.WarnContext(ctx, "create charge failed", "reservation_id", res.ID, "attempt", attempts+1, "err", err)
		return nil, gatewayErr(err)
	}
	if !charge.ExpiresAt.IsZero() {
		expiresAt = capAt(charge.ExpiresAt.UTC(), res.Start)
	}

	p := &model.Payment{
		ID:             uuid.NewString(),
		ReservationID:  res.ID,
		ChargeRef:      charge.Ref,
		IdempotencyKey: key,
		Amount:         req.Amount,
		Currency:       r.policy.Currency,
		Method:         method,
		State:          model.PaymentPending,
		ExpiresAt:      expiresAt,
		VirtualAccount: charge.VirtualAccount,
		QR:             charge.QR,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.AttachPayment(ctx, p, res.PaymentID, expiresAt); err != nil {
		if apperr.Is(err, apperr.KindInvalidState) {
			// The reservation moved on, so a retry with this key can never
			// record the charge. It has to be voided at the gateway by hand.
			r.logger.ErrorContext(ctx, "orphaned gateway charge",
				"reservation_id", res.ID, "charge_ref", charge.Ref, "idempotency_key", key,
				"amount", req.Amount, "method", method, "err", err)
			return nil, err
		}
		r.logger.ErrorContext(ctx, "payment not recorded", "reservation_id", res.ID, "charge_ref", charge.Ref, "idempotency_key", key, "err", err)
		return nil, err
	}
	r.logger.InfoContext(ctx, "payment created", "payment_id", p.ID, "reservation_id", res.ID, "method", method, "expires_at", expiresAt)
	return p, nil
}

// capAt returns t, or limit when t falls after it. A hold never outlives
// the start of its slot.
func capAt(t, limit time.Time) time.Time {
	if t.After(limit) {
		return limit
	}
	return t
}

func (r *Reconciler) expiryFor(method model.PaymentMethod) time.Duration {
	if method == model.MethodQRIS {
		return r.policy.QRExpiry
	}
	return r.policy.VAExpiry
}

// RefreshStatus reconciles one payment with the gateway. Terminal payments
// are returned as stored without contacting the gateway. When the gateway
// cannot be reached nothing local changes and the retryable error is
// returned.
func (r *Reconciler) RefreshStatus(ctx context.Context, paymentID string) (*model.Payment, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		r.settleReservation(ctx, p)
		return p, nil
	}

	gctx, cancel := withTimeout(ctx, r.policy.GatewayTimeout)
	charge, err := r.gateway.GetCharge(gctx, p.ChargeRef)
	cancel()
	if err != nil {
		return nil, gatewayErr(err)
	}

	now := r.clock.now()
	next := model.MapGatewayStatus(charge.Status)
	reason := ""
	switch {
	case next == model.PaymentFailed && strings.EqualFold(strings.TrimSpace(charge.Status), gateway.StatusExpired):
		reason = model.FailureExpired
	case next == model.PaymentFailed:
		reason = model.FailureDeclined
	case next == model.PaymentPending && !now.Before(p.ExpiresAt):
		next, reason = model.PaymentFailed, model.FailureExpired
	}
	if next == model.PaymentPending {
		return p, nil
	}
	return r.settle(ctx, p, next, reason)
}

// RefreshStatusFor is RefreshStatus restricted to the reservation's
// customer.
func (r *Reconciler) RefreshStatusFor(ctx context.Context, paymentID, customerID string) (*PaymentStatus, error) {
	if _, err := r.owned(ctx, paymentID, customerID); err != nil {
		return nil, err
	}
	p, err := r.RefreshStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return r.status(ctx, p)
}

// SimulateSuccess forces a sandbox settlement and applies it. It is
// refused unless simulation is enabled for the deployment.
func (r *Reconciler) SimulateSuccess(ctx context.Context, paymentID, customerID string) (*PaymentStatus, error) {
	if !r.policy.AllowSimulation {
		return nil, apperr.Forbidden("payment simulation is disabled")
	}
	p, err := r.owned(ctx, paymentID, customerID)
	if err != nil {
		return nil, err
	}
	switch p.State {
	case model.PaymentPaid:
		r.settleReservation(ctx, p)
		return r.status(ctx, p)
	case model.PaymentFailed:
		return nil, apperr.InvalidState("payment %s already failed", p.ID)
	}

	gctx, cancel := withTimeout(ctx, r.policy.GatewayTimeout)
	ok, err := r.gateway.ConfirmCharge(gctx, p.ChargeRef, true)
	cancel()
	if err != nil {
		return nil, gatewayErr(err)
	}
	if !ok {
		return nil, apperr.GatewayRejected(nil, "gateway did not settle charge %s", p.ChargeRef)
	}
	settled, err := r.settle(ctx, p, model.PaymentPaid, "")
	if err != nil {
		return nil, err
	}
	return r.status(ctx, settled)
}

func (r *Reconciler) owned(ctx context.Context, paymentID, customerID string) (*model.Payment, error) {
	p, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return p, nil
	}
	if _, err := r.coordinator.GetReservation(ctx, p.ReservationID, customerID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("payment %s not found", paymentID)
		}
		return nil, err
	}
	return p, nil
}

func (r *Reconciler) status(ctx context.Context, p *model.Payment) (*PaymentStatus, error) {
	res, err := r.store.GetReservation(ctx, p.ReservationID)
	if err != nil {
		return nil, err
	}
	var remaining string
	switch {
	case p.State == model.PaymentPending:
		remaining = p.TimeRemaining(r.clock.now())
	case p.FailureReason == model.FailureExpired:
		remaining = model.Expired
	}
	return &PaymentStatus{Payment: p, ReservationState: res.State, TimeRemaining: remaining}, nil
}

// settle records a terminal state for p and applies its effect on the
// reservation. If another caller settled p first, its stored outcome wins.
func (r *Reconciler) settle(ctx context.Context, p *model.Payment, to model.PaymentState, reason string) (*model.Payment, error) {
	settled, changed, err := r.store.SettlePayment(ctx, p.ID, to, reason, r.clock.now())
	if err != nil {
		return nil, err
	}
	if changed {
		r.logger.InfoContext(ctx, "payment settled", "payment_id", settled.ID, "state", settled.State, "reason", settled.FailureReason)
	}
	r.settleReservation(ctx, settled)
	return settled, nil
}

// settleReservation pushes a terminal payment outcome onto its reservation
// when the payment is still the reservation's current one. PAID confirms;
// FAILED expires the reservation once no live hold remains.
func (r *Reconciler) settleReservation(ctx context.Context, p *model.Payment) {
	res, err := r.store.GetReservation(ctx, p.ReservationID)
	if err != nil {
		r.logger.WarnContext(ctx, "reservation lookup failed", "payment_id", p.ID, "err", err)
		return
	}
	if res.PaymentID != p.ID {
		return
	}
	switch p.State {
	case model.PaymentPaid:
		if res.State == model.ReservationConfirmed {
			return
		}
		if _, err := r.coordinator.ConfirmReservation(ctx, res.ID); err != nil {
			r.logger.WarnContext(ctx, "paid reservation not confirmed", "payment_id", p.ID, "reservation_id", res.ID, "state", res.State, "err", err)
		}
	case model.PaymentFailed:
		if res.State != model.ReservationPending {
			return
		}
		if p.FailureReason == model.FailureExpired || res.HoldExpired(r.clock.now()) {
			if _, err := r.coordinator.Expire(ctx, res); err != nil && !apperr.Is(err, apperr.KindInvalidState) {
				r.logger.WarnContext(ctx, "reservation not expired", "reservation_id", res.ID, "err", err)
			}
		}
	}
}

// gatewayErr keeps classified errors and treats anything else from the
// gateway as transient.
func gatewayErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.GatewayUnavailable(err, "payment gateway unavailable")
}
