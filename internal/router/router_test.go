package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/handler"
	"github.com/iliyamo/outlet-reservation/internal/logging"
	"github.com/iliyamo/outlet-reservation/internal/memstore"
	"github.com/iliyamo/outlet-reservation/internal/model"
	"github.com/iliyamo/outlet-reservation/internal/service"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

const secret = "router-test-secret"

type testEnv struct {
	e     *echo.Echo
	store *memstore.Store
	gw    *gateway.Sandbox
}

func outlet() *model.Outlet {
	o := &model.Outlet{
		ID:       "hotpot-1",
		Name:     "Hotpot 1",
		Timezone: "Asia/Jakarta",
		Rules:    model.BookingRules{SlotMinutes: 60},
		Tables:   []model.Table{{ID: "t1", Capacity: 4, Active: true}},
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		o.Hours = append(o.Hours, model.OperatingHours{Weekday: d, Open: "18:00", Close: "20:00"})
	}
	return o
}

func newEnv(t *testing.T, allowSimulation bool) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, 10, 20, 12, 0, 0, 0, loc)
	clock := service.Clock(func() time.Time { return now })

	store := memstore.New()
	if err := store.UpsertOutlet(context.Background(), outlet()); err != nil {
		t.Fatalf("seed outlet: %v", err)
	}
	gw := gateway.NewSandbox()
	logger := logging.Discard()
	policy := service.DefaultPolicy()
	policy.AllowSimulation = allowSimulation

	calc := service.NewCalculator(store, policy, clock, logger)
	coord := service.NewCoordinator(store, nil, policy, clock, logger)
	rec := service.NewReconciler(store, gw, coord, policy, clock, logger)
	sweeper := service.NewSweeper(store, rec, coord, policy, clock, logger)

	e := New(Handlers{
		Outlets:      handler.NewOutletHandler(store, calc, logger),
		Reservations: handler.NewReservationHandler(coord, logger),
		Payments:     handler.NewPaymentHandler(rec, logger),
		Sweep:        handler.NewSweepHandler(sweeper, logger),
	}, Options{
		JWTSecret:       secret,
		AllowSimulation: allowSimulation,
		RateLimit:       config.RateLimitConfig{Enabled: true},
		Cache:           config.CacheConfig{Enabled: true},
		Logger:          logger,
	})
	return &testEnv{e: e, store: store, gw: gw}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, subject, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok.Token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func (env *testEnv) do(t *testing.T, method, target, bearer, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var out envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
	return v
}

type reservationDTO struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	TableID   string `json:"table_id"`
	PaymentID string `json:"payment_id"`
}

type paymentDTO struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	ReservationState string `json:"reservation_state"`
	TimeRemaining    string `json:"time_remaining"`
	VirtualAccount   *struct {
		Number string `json:"number"`
	} `json:"virtual_account"`
}

type slotsDTO struct {
	Slots []struct {
		Start     time.Time `json:"start"`
		Available bool      `json:"available"`
	} `json:"slots"`
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newEnv(t, true)
	rec, _ := env.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReservationAndPaymentFlow(t *testing.T) {
	t.Parallel()
	env := newEnv(t, true)
	alice := token(t, "alice", utils.RoleCustomer)
	bob := token(t, "bob", utils.RoleCustomer)
	admin := token(t, "ops", utils.RoleAdmin)

	rec, out := env.do(t, http.MethodGet, "/v1/outlets/hotpot-1/slots?date=2026-10-20&party_size=2", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("slots: expected 200, got %d %s", rec.Code, rec.Body)
	}
	if got := decode[slotsDTO](t, out.Data); len(got.Slots) != 2 {
		t.Fatalf("expected 2 open slots, got %d", len(got.Slots))
	}

	body := `{"outlet_id":"hotpot-1","slot_start":"2026-10-20T18:00:00+07:00","party_size":4}`
	rec, out = env.do(t, http.MethodPost, "/v1/reservations", "", body)
	if rec.Code != http.StatusUnauthorized || out.Error == nil || out.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("anonymous create: expected 401 UNAUTHORIZED, got %d %s", rec.Code, rec.Body)
	}

	rec, out = env.do(t, http.MethodPost, "/v1/reservations", alice, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", rec.Code, rec.Body)
	}
	res := decode[reservationDTO](t, out.Data)
	if res.State != "PENDING" || res.TableID != "t1" {
		t.Fatalf("unexpected reservation %+v", res)
	}

	rec, out = env.do(t, http.MethodPost, "/v1/reservations", bob, body)
	if rec.Code != http.StatusConflict || out.Error.Code != "CAPACITY_EXCEEDED" {
		t.Fatalf("second create: expected 409 CAPACITY_EXCEEDED, got %d %s", rec.Code, rec.Body)
	}

	rec, _ = env.do(t, http.MethodGet, "/v1/reservations/"+res.ID, bob, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign read: expected 404, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/v1/reservations/"+res.ID, admin, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin read: expected 200, got %d", rec.Code)
	}

	rec, out = env.do(t, http.MethodPost, "/v1/reservations/"+res.ID+"/payments", alice, `{"amount":150000,"method":"va","channel":"BNI"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create payment: expected 201, got %d %s", rec.Code, rec.Body)
	}
	pay := decode[paymentDTO](t, out.Data)
	if pay.State != "PENDING" || pay.VirtualAccount == nil || pay.VirtualAccount.Number == "" {
		t.Fatalf("unexpected payment %+v", pay)
	}

	rec, out = env.do(t, http.MethodGet, "/v1/payments/"+pay.ID, alice, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("payment status: expected 200, got %d %s", rec.Code, rec.Body)
	}
	if got := decode[paymentDTO](t, out.Data); got.State != "PENDING" || got.ReservationState != "PENDING" || got.TimeRemaining == "" {
		t.Fatalf("unexpected status %+v", got)
	}

	rec, out = env.do(t, http.MethodPost, "/v1/payments/"+pay.ID+"/simulate", alice, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate: expected 200, got %d %s", rec.Code, rec.Body)
	}
	if got := decode[paymentDTO](t, out.Data); got.State != "PAID" || got.ReservationState != "CONFIRMED" {
		t.Fatalf("unexpected settled status %+v", got)
	}

	rec, out = env.do(t, http.MethodGet, "/v1/outlets/hotpot-1/slots?date=2026-10-20&all=true", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("all slots: expected 200, got %d", rec.Code)
	}
	slots := decode[slotsDTO](t, out.Data).Slots
	if len(slots) != 2 || slots[0].Available || !slots[1].Available {
		t.Fatalf("unexpected slot annotations %+v", slots)
	}
}

func TestGatewayOutageIsRetryable(t *testing.T) {
	t.Parallel()
	env := newEnv(t, true)
	alice := token(t, "alice", utils.RoleCustomer)

	_, out := env.do(t, http.MethodPost, "/v1/reservations", alice, `{"outlet_id":"hotpot-1","slot_start":"2026-10-20T19:00:00+07:00","party_size":2}`)
	res := decode[reservationDTO](t, out.Data)
	_, out = env.do(t, http.MethodPost, "/v1/reservations/"+res.ID+"/payments", alice, `{"amount":50000,"method":"qris"}`)
	pay := decode[paymentDTO](t, out.Data)

	env.gw.SetUnavailable(true)
	rec, out := env.do(t, http.MethodGet, "/v1/payments/"+pay.ID, alice, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", rec.Code, rec.Body)
	}
	if out.Error == nil || !out.Error.Retryable || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected a retryable error with Retry-After, got %s", rec.Body)
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()
	env := newEnv(t, true)
	alice := token(t, "alice", utils.RoleCustomer)

	tests := []struct {
		name   string
		method string
		target string
		bearer string
		body   string
		want   int
	}{
		{"missing date", http.MethodGet, "/v1/outlets/hotpot-1/slots", "", "", http.StatusBadRequest},
		{"bad party size", http.MethodGet, "/v1/outlets/hotpot-1/slots?date=2026-10-20&party_size=x", "", "", http.StatusBadRequest},
		{"unknown outlet", http.MethodGet, "/v1/outlets/nope/slots?date=2026-10-20", "", "", http.StatusNotFound},
		{"bad slot_start", http.MethodPost, "/v1/reservations", alice, `{"outlet_id":"hotpot-1","slot_start":"tomorrow","party_size":2}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/v1/reservations", alice, `{`, http.StatusBadRequest},
		{"customer cannot confirm", http.MethodPost, "/v1/reservations/x/confirm", alice, "", http.StatusForbidden},
	}
	for _, tc := range tests {
		rec, out := env.do(t, tc.method, tc.target, tc.bearer, tc.body)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d %s", tc.name, tc.want, rec.Code, rec.Body)
		}
		if out.Error == nil || out.Error.Code == "" {
			t.Fatalf("%s: expected an error envelope, got %s", tc.name, rec.Body)
		}
	}
}

func TestSimulationRouteAbsentWhenDisabled(t *testing.T) {
	t.Parallel()
	env := newEnv(t, false)
	alice := token(t, "alice", utils.RoleCustomer)

	rec, _ := env.do(t, http.MethodPost, "/v1/payments/p1/simulate", alice, "")
	if rec.Code == http.StatusOK {
		t.Fatal("simulate must not be served when simulation is disabled")
	}
}

func TestSweepRequiresAdmin(t *testing.T) {
	t.Parallel()
	env := newEnv(t, true)

	rec, _ := env.do(t, http.MethodPost, "/v1/admin/sweep", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodPost, "/v1/admin/sweep", token(t, "alice", utils.RoleCustomer), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec, out := env.do(t, http.MethodPost, "/v1/admin/sweep", token(t, "ops", utils.RoleAdmin), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body)
	}
	var report service.SweepReport
	if err := json.Unmarshal(out.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
}
