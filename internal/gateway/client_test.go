package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientCreateCharge_SendsIdempotencyKeyAndAuth(t *testing.T) {
	t.Parallel()

	expires := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/charges" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "res-1-1" {
			t.Errorf("expected idempotency key res-1-1, got %q", got)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "sk_test" {
			t.Errorf("expected basic auth with secret key, got %q", user)
		}
		var body chargeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Amount != 150000 || body.Method != "virtual_account" || body.ReferenceID != "res-1" {
			t.Errorf("unexpected body: %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chargePayload{
			ID:             "ch_1",
			ReferenceID:    body.ReferenceID,
			Status:         "PENDING",
			Amount:         body.Amount,
			Currency:       body.Currency,
			Method:         body.Method,
			ExpiresAt:      body.ExpiresAt,
			VirtualAccount: &model.VirtualAccount{Number: "880812345678", Channel: "BCA"},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second, nil, quietLogger())
	ch, err := c.CreateCharge(context.Background(), ChargeRequest{
		ReferenceID:    "res-1",
		IdempotencyKey: "res-1-1",
		Amount:         150000,
		Currency:       "IDR",
		Method:         model.MethodVirtualAccount,
		Channel:        "BCA",
		ExpiresAt:      expires,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Ref != "ch_1" || ch.VirtualAccount == nil || ch.VirtualAccount.Number != "880812345678" {
		t.Fatalf("unexpected charge: %+v", ch)
	}
	if !ch.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %s, got %s", expires, ch.ExpiresAt)
	}
}

func TestClientErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusTooManyRequests, apperr.KindGatewayUnavailable},
		{http.StatusBadGateway, apperr.KindGatewayUnavailable},
		{http.StatusServiceUnavailable, apperr.KindGatewayUnavailable},
		{http.StatusBadRequest, apperr.KindGatewayRejected},
		{http.StatusNotFound, apperr.KindGatewayRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		c := NewClient(srv.URL, "", time.Second, nil, quietLogger())
		_, err := c.GetCharge(context.Background(), "ch_1")
		srv.Close()
		if got := apperr.KindOf(err); got != tc.want {
			t.Fatalf("status %d: expected %s, got %s (%v)", tc.status, tc.want, got, err)
		}
	}
}

func TestClientTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, "", 50*time.Millisecond, nil, quietLogger())
	_, err := c.GetCharge(context.Background(), "ch_1")
	var ae *apperr.Error
	if !errors.As(err, &ae) || !ae.Retryable() {
		t.Fatalf("expected retryable gateway error, got %v", err)
	}
}

func TestClientConfirmChargeSimulate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/charges/ch_9/simulate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(chargePayload{ID: "ch_9", Status: "SUCCESS"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, nil, quietLogger())
	ok, err := c.ConfirmCharge(context.Background(), "ch_9", true)
	if err != nil || !ok {
		t.Fatalf("expected settled charge, got ok=%v err=%v", ok, err)
	}
}
