package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

const testSecret = "test-secret"

func newContext(t *testing.T, method, target string, header map[string]string) echo.Context {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func bearerFor(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, subject, role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + tok.Token
}

func ok(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		auth     string
		allowed  bool
		wantKind apperr.Kind
	}{
		{"missing header", "", false, apperr.KindUnauthorized},
		{"wrong scheme", "Basic abc", false, apperr.KindUnauthorized},
		{"bad token", "Bearer nope", false, apperr.KindUnauthorized},
		{"valid", bearerFor(t, "cust-1", utils.RoleCustomer), true, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := newContext(t, http.MethodGet, "/", map[string]string{echo.HeaderAuthorization: tc.auth})
			err := JWTAuth(testSecret)(ok)(c)
			if tc.allowed {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if UserID(c) != "cust-1" || Role(c) != utils.RoleCustomer {
					t.Fatalf("identity not stored: %q %q", UserID(c), Role(c))
				}
				return
			}
			if !apperr.Is(err, tc.wantKind) {
				t.Fatalf("expected %s, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	c := newContext(t, http.MethodGet, "/", nil)
	c.Set(ctxRole, utils.RoleCustomer)
	if err := RequireRole(utils.RoleAdmin)(ok)(c); !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	c.Set(ctxRole, utils.RoleAdmin)
	if err := RequireRole(utils.RoleAdmin)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSweepAuth(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("sweep-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	mw := SweepAuth(testSecret, string(hash))

	tests := []struct {
		name     string
		header   map[string]string
		allowed  bool
		wantKind apperr.Kind
	}{
		{"valid key", map[string]string{HeaderSweepKey: "sweep-key"}, true, 0},
		{"wrong key", map[string]string{HeaderSweepKey: "nope"}, false, apperr.KindUnauthorized},
		{"admin token", map[string]string{echo.HeaderAuthorization: bearerFor(t, "ops", utils.RoleAdmin)}, true, 0},
		{"customer token", map[string]string{echo.HeaderAuthorization: bearerFor(t, "cust-1", utils.RoleCustomer)}, false, apperr.KindForbidden},
		{"nothing", nil, false, apperr.KindUnauthorized},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := mw(ok)(newContext(t, http.MethodPost, "/v1/admin/sweep", tc.header))
			if tc.allowed {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !apperr.Is(err, tc.wantKind) {
				t.Fatalf("expected %s, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestSweepAuthWithoutKeyHash(t *testing.T) {
	t.Parallel()

	err := SweepAuth(testSecret, "")(ok)(newContext(t, http.MethodPost, "/", map[string]string{HeaderSweepKey: "anything"}))
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRedisMiddlewaresPassThroughWithoutClient(t *testing.T) {
	t.Parallel()

	calls := 0
	h := func(c echo.Context) error { calls++; return c.NoContent(http.StatusOK) }
	rl := NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil)
	cache := NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil)
	for i := 0; i < 3; i++ {
		if err := rl(cache(h))(newContext(t, http.MethodGet, "/v1/outlets/a", nil)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 handler calls, got %d", calls)
	}
}

func TestBuildRateKey(t *testing.T) {
	t.Parallel()

	c := newContext(t, http.MethodPost, "/v1/reservations", map[string]string{echo.HeaderXRealIP: "10.0.0.1"})
	c.SetPath("/v1/reservations")
	c.Set(ctxUserID, "cust-9")

	tests := []struct {
		strategy string
		want     string
	}{
		{"ip", "rl:ip:10.0.0.1"},
		{"user", "rl:user:cust-9"},
		{"user_route", "rl:user:cust-9:route:POST /v1/reservations"},
		{"", "rl:ip:10.0.0.1:user:cust-9:route:POST /v1/reservations"},
	}
	for _, tc := range tests {
		got := buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: tc.strategy}, c)
		if got != tc.want {
			t.Fatalf("strategy %q: got %q, want %q", tc.strategy, got, tc.want)
		}
	}
}

func TestCachePayloadRoundTrip(t *testing.T) {
	t.Parallel()

	hdr := http.Header{"Content-Type": []string{"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"data":1}`))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || string(body) != `{"data":1}` || got.Get("Content-Type") != "application/json" {
		t.Fatalf("decode mismatch: %v %d %v %q", ok, status, got, body)
	}
	if _, _, _, ok := decodePayload([]byte{0, 1}); ok {
		t.Fatal("expected short payload to be rejected")
	}
}
