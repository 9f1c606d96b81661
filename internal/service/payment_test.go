package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/memstore"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

func (h *harness) pay(t *testing.T, r *model.Reservation, method string) *model.Payment {
	t.Helper()
	p, err := h.reconciler.CreatePayment(context.Background(), PaymentRequest{
		ReservationID: r.ID, CustomerID: r.CustomerID, Amount: 100000, Method: method,
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func TestCreatePayment_QRISExpiryAndLapse(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 4)
	created := h.clock.Now()

	p := h.pay(t, r, "qris")
	if !p.ExpiresAt.Equal(created.Add(30 * time.Minute)) {
		t.Fatalf("expected expiry at creation + 30m, got %s", p.ExpiresAt)
	}
	if p.QR == nil || p.State != model.PaymentPending {
		t.Fatalf("unexpected payment: %+v", p)
	}
	held, _ := h.store.GetReservation(ctx, r.ID)
	if held.PaymentID != p.ID || !held.HoldExpiresAt.Equal(p.ExpiresAt) {
		t.Fatalf("expected hold extended to payment expiry, got %+v", held)
	}

	h.clock.Advance(31 * time.Minute)
	got, err := h.reconciler.RefreshStatus(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != model.PaymentFailed || got.FailureReason != model.FailureExpired {
		t.Fatalf("expected FAILED/expired, got %s/%s", got.State, got.FailureReason)
	}
	released, _ := h.store.GetReservation(ctx, r.ID)
	if released.State != model.ReservationExpired {
		t.Fatalf("expected reservation EXPIRED, got %s", released.State)
	}
	st, err := h.reconciler.RefreshStatusFor(ctx, p.ID, "cust-1")
	if err != nil || st.TimeRemaining != model.Expired {
		t.Fatalf("expected %q for a lapsed payment, got %+v (%v)", model.Expired, st, err)
	}
	slots, _ := h.calc.AvailableSlots(ctx, "hotpot-1", testDate, 4)
	if !slots[0].Available {
		t.Fatal("released capacity should be bookable again")
	}
}

func TestSimulateSuccess_ConfirmsReservation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "virtual_account")
	if p.VirtualAccount == nil || !p.ExpiresAt.Equal(local(18, 0)) {
		t.Fatalf("expected virtual account expiry capped at slot start, got %+v", p)
	}

	st, err := h.reconciler.SimulateSuccess(ctx, p.ID, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Payment.State != model.PaymentPaid || st.Payment.PaidAt == nil {
		t.Fatalf("expected PAID, got %+v", st.Payment)
	}
	if st.ReservationState != model.ReservationConfirmed {
		t.Fatalf("expected reservation CONFIRMED, got %s", st.ReservationState)
	}
	if st.TimeRemaining != "" {
		t.Fatalf("paid payments report no remaining time, got %q", st.TimeRemaining)
	}
}

func TestSimulateSuccess_Disabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "qris")

	policy := h.policy
	policy.AllowSimulation = false
	rec := NewReconciler(h.store, h.gw, h.coordinator, policy, Clock(h.clock.Now), nil)
	if _, err := rec.SimulateSuccess(context.Background(), p.ID, "cust-1"); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if h.gw.ConfirmCalls != 0 {
		t.Fatalf("gateway must not be called, got %d calls", h.gw.ConfirmCalls)
	}
}

func TestRefreshStatus_IdempotentAndTerminalSkipsGateway(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "qris")
	h.gw.SetStatus(p.ChargeRef, gateway.StatusSuccess)

	first, err := h.reconciler.RefreshStatus(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := h.gw.GetCalls
	second, err := h.reconciler.RefreshStatus(ctx, p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.State != model.PaymentPaid || second.State != model.PaymentPaid {
		t.Fatalf("expected PAID twice, got %s and %s", first.State, second.State)
	}
	if !first.PaidAt.Equal(*second.PaidAt) {
		t.Fatal("second refresh must not rewrite the payment")
	}
	if h.gw.GetCalls != callsAfterFirst {
		t.Fatalf("terminal payment must not hit the gateway, got %d extra calls", h.gw.GetCalls-callsAfterFirst)
	}
	res, _ := h.store.GetReservation(ctx, r.ID)
	if res.State != model.ReservationConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", res.State)
	}
}

func TestRefreshStatus_GatewayUnavailableChangesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "qris")
	h.clock.Advance(45 * time.Minute)
	h.gw.SetUnavailable(true)

	_, err := h.reconciler.RefreshStatus(ctx, p.ID)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindGatewayUnavailable || !ae.Retryable() {
		t.Fatalf("expected retryable gateway error, got %v", err)
	}
	stored, _ := h.store.GetPayment(ctx, p.ID)
	if stored.State != model.PaymentPending {
		t.Fatalf("payment must stay PENDING, got %s", stored.State)
	}
	res, _ := h.store.GetReservation(ctx, r.ID)
	if res.State != model.ReservationPending {
		t.Fatalf("reservation must stay PENDING, got %s", res.State)
	}
}

func TestCreatePayment_GatewayFailureLeavesNoPayment(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	h.gw.SetUnavailable(true)

	_, err := h.reconciler.CreatePayment(ctx, PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 1000, Method: "qris"})
	if !apperr.Is(err, apperr.KindGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
	if n, _ := h.store.CountPayments(ctx, r.ID); n != 0 {
		t.Fatalf("expected no payment rows, got %d", n)
	}
	res, _ := h.store.GetReservation(ctx, r.ID)
	if res.PaymentID != "" || !res.HoldExpiresAt.Equal(r.HoldExpiresAt) {
		t.Fatalf("reservation must be untouched, got %+v", res)
	}
}

// flakyStore fails the first AttachPayment to simulate a lost write after
// the gateway accepted the charge.
type flakyStore struct {
	*memstore.Store
	failures int
}

func (s *flakyStore) AttachPayment(ctx context.Context, p *model.Payment, prev string, holdUntil time.Time) error {
	if s.failures > 0 {
		s.failures--
		return apperr.Internal(errors.New("connection reset"), "store payment")
	}
	return s.Store.AttachPayment(ctx, p, prev, holdUntil)
}

func TestCreatePayment_RetryAfterLostWriteReusesCharge(t *testing.T) {
	t.Parallel()

	store := &flakyStore{Store: memstore.New(), failures: 1}
	h := newHarnessWithStore(t, store)
	ctx := context.Background()
	r, err := h.coordinator.RequestReservation(ctx, ReservationRequest{
		OutletID: "hotpot-1", CustomerID: "cust-1", SlotStart: local(18, 0), PartySize: 2,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	req := PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 1000, Method: "va"}
	if _, err := h.reconciler.CreatePayment(ctx, req); err == nil {
		t.Fatal("expected the first attempt to fail")
	}
	p, err := h.reconciler.CreatePayment(ctx, req)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if h.gw.Charges() != 1 {
		t.Fatalf("expected a single gateway charge, got %d", h.gw.Charges())
	}
	if p.IdempotencyKey != r.ID+"-1" {
		t.Fatalf("expected first-attempt key, got %s", p.IdempotencyKey)
	}
}

func TestCreatePayment_RulesOnExistingPayments(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	first := h.pay(t, r, "qris")

	if _, err := h.reconciler.CreatePayment(ctx, PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 1000, Method: "qris"}); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("second payment while one is pending should fail, got %v", err)
	}

	h.gw.SetStatus(first.ChargeRef, gateway.StatusFailed)
	failed, err := h.reconciler.RefreshStatus(ctx, first.ID)
	if err != nil || failed.State != model.PaymentFailed || failed.FailureReason != model.FailureDeclined {
		t.Fatalf("expected declined failure, got %+v (%v)", failed, err)
	}
	res, _ := h.store.GetReservation(ctx, r.ID)
	if res.State != model.ReservationPending {
		t.Fatalf("declined payment with a live hold keeps the reservation, got %s", res.State)
	}

	retry := h.pay(t, r, "va")
	if retry.IdempotencyKey != r.ID+"-2" {
		t.Fatalf("expected second-attempt key, got %s", retry.IdempotencyKey)
	}
	if h.gw.Charges() != 2 {
		t.Fatalf("expected two gateway charges, got %d", h.gw.Charges())
	}
}

func TestCreatePayment_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)

	cases := []struct {
		name string
		req  PaymentRequest
		want apperr.Kind
	}{
		{"zero amount", PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Method: "qris"}, apperr.KindValidation},
		{"unknown method", PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 10, Method: "card"}, apperr.KindValidation},
		{"foreign reservation", PaymentRequest{ReservationID: r.ID, CustomerID: "cust-2", Amount: 10, Method: "qris"}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		if _, err := h.reconciler.CreatePayment(ctx, tc.req); apperr.KindOf(err) != tc.want {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want, err)
		}
	}
	if h.gw.CreateCalls != 0 {
		t.Fatalf("invalid requests must not reach the gateway, got %d calls", h.gw.CreateCalls)
	}
}

func TestRefreshStatusFor_HidesForeignPayments(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "qris")

	if _, err := h.reconciler.RefreshStatusFor(context.Background(), p.ID, "cust-2"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	st, err := h.reconciler.RefreshStatusFor(context.Background(), p.ID, "cust-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TimeRemaining != "00:30:00" {
		t.Fatalf("expected 00:30:00 remaining, got %s", st.TimeRemaining)
	}
}

func TestCreatePayment_HoldNeverOutlivesSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	p := h.pay(t, r, "virtual_account")

	held, _ := h.store.GetReservation(ctx, r.ID)
	if !p.ExpiresAt.Equal(local(18, 0)) || !held.HoldExpiresAt.Equal(local(18, 0)) {
		t.Fatalf("expected payment and hold to end at slot start, got %s and %s", p.ExpiresAt, held.HoldExpiresAt)
	}

	h.clock.t = local(21, 0)
	report, err := h.sweeper.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PaymentsSettled != 1 {
		t.Fatalf("expected the lapsed payment to settle, got %+v", report)
	}
	res, _ := h.store.GetReservation(ctx, r.ID)
	if res.State != model.ReservationExpired {
		t.Fatalf("expected EXPIRED after the slot passed, got %s", res.State)
	}

	h.gw.SetStatus(p.ChargeRef, gateway.StatusSuccess)
	if _, err := h.reconciler.RefreshStatus(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, _ = h.store.GetReservation(ctx, r.ID)
	if res.State != model.ReservationExpired {
		t.Fatalf("a late payment must not confirm a past slot, got %s", res.State)
	}
}

func TestCreatePayment_RefusedOnceSlotStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.clock.t = local(17, 55)
	r := h.reserve(t, "cust-1", local(18, 0), 2)
	if !r.HoldExpiresAt.Equal(local(18, 0)) {
		t.Fatalf("expected hold capped at slot start, got %s", r.HoldExpiresAt)
	}

	h.clock.t = local(18, 0)
	_, err := h.reconciler.CreatePayment(ctx, PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 1000, Method: "qris"})
	if !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if h.gw.Charges() != 0 {
		t.Fatalf("gateway must not be charged, got %d charges", h.gw.Charges())
	}
}

// cancellingStore cancels the reservation just before the payment is
// recorded, as a concurrent cancel would.
type cancellingStore struct {
	*memstore.Store
}

func (s *cancellingStore) AttachPayment(ctx context.Context, p *model.Payment, prev string, holdUntil time.Time) error {
	if _, err := s.Store.TransitionReservation(ctx, p.ReservationID, model.ReservationPending, model.ReservationCancelled, p.CreatedAt, "changed plans"); err != nil {
		return err
	}
	return s.Store.AttachPayment(ctx, p, prev, holdUntil)
}

func TestCreatePayment_LogsOrphanedCharge(t *testing.T) {
	t.Parallel()

	store := &cancellingStore{Store: memstore.New()}
	h := newHarnessWithStore(t, store)
	ctx := context.Background()
	r, err := h.coordinator.RequestReservation(ctx, ReservationRequest{
		OutletID: "hotpot-1", CustomerID: "cust-1", SlotStart: local(18, 0), PartySize: 2,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	var buf bytes.Buffer
	rec := NewReconciler(store, h.gw, h.coordinator, h.policy, Clock(h.clock.Now), slog.New(slog.NewJSONHandler(&buf, nil)))
	_, err = rec.CreatePayment(ctx, PaymentRequest{ReservationID: r.ID, CustomerID: "cust-1", Amount: 1000, Method: "qris"})
	if !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if h.gw.Charges() != 1 {
		t.Fatalf("expected one gateway charge, got %d", h.gw.Charges())
	}
	logged := buf.String()
	if !strings.Contains(logged, "orphaned gateway charge") || !strings.Contains(logged, `"idempotency_key":"`+r.ID+`-1"`) {
		t.Fatalf("expected orphaned charge log, got %s", logged)
	}
}
