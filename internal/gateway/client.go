package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Client is the REST client for the payment gateway.
type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *slog.Logger
}

// NewClient builds a client. A nil http.Client gets one with the given
// timeout, or 10s when timeout is not positive.
func NewClient(baseURL, secretKey string, timeout time.Duration, client *http.Client, logger *slog.Logger) *Client {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if client == nil {
		client = &http.Client{Timeout: timeoutOrDefault(timeout)}
	} else if timeout > 0 {
		client.Timeout = timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: trimmed, secretKey: secretKey, client: client, logger: logger}
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value <= 0 {
		return 10 * time.Second
	}
	return value
}

type chargeBody struct {
	ReferenceID string            `json:"reference_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Method      string            `json:"payment_method"`
	Channel     string            `json:"channel,omitempty"`
	ExpiresAt   time.Time         `json:"expires_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type chargePayload struct {
	ID             string                `json:"id"`
	ReferenceID    string                `json:"reference_id"`
	Status         string                `json:"status"`
	Amount         int64                 `json:"amount"`
	Currency       string                `json:"currency"`
	Method         string                `json:"payment_method"`
	ExpiresAt      time.Time             `json:"expires_at"`
	VirtualAccount *model.VirtualAccount `json:"virtual_account,omitempty"`
	QR             *model.QRCode         `json:"qr,omitempty"`
}

func (p chargePayload) charge() *Charge {
	return &Charge{
		Ref:            p.ID,
		ReferenceID:    p.ReferenceID,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         model.PaymentMethod(p.Method),
		ExpiresAt:      p.ExpiresAt,
		VirtualAccount: p.VirtualAccount,
		QR:             p.QR,
	}
}

// CreateCharge opens a charge. The idempotency key is sent as a header so
// a retried attempt yields the charge created by the first one.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body, err := json.Marshal(chargeBody{
		ReferenceID: req.ReferenceID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      string(req.Method),
		Channel:     req.Channel,
		ExpiresAt:   req.ExpiresAt.UTC(),
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, apperr.Internal(err, "encode charge request")
	}
	header := http.Header{}
	if req.IdempotencyKey != "" {
		header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	var out chargePayload
	if err := c.do(ctx, http.MethodPost, "/charges", header, body, &out); err != nil {
		return nil, err
	}
	return out.charge(), nil
}

// GetCharge reads the current status of a charge.
func (c *Client) GetCharge(ctx context.Context, ref string) (*Charge, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperr.GatewayRejected(nil, "charge reference is required")
	}
	var out chargePayload
	if err := c.do(ctx, http.MethodGet, "/charges/"+url.PathEscape(ref), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.charge(), nil
}

// ConfirmCharge asks the gateway whether the charge settled. With simulate
// set it first forces a sandbox settlement, which only test-mode gateways
// accept.
func (c *Client) ConfirmCharge(ctx context.Context, ref string, simulate bool) (bool, error) {
	if !simulate {
		ch, err := c.GetCharge(ctx, ref)
		if err != nil {
			return false, err
		}
		return model.MapGatewayStatus(ch.Status) == model.PaymentPaid, nil
	}
	var out chargePayload
	if err := c.do(ctx, http.MethodPost, "/charges/"+url.PathEscape(ref)+"/simulate", nil, []byte(`{}`), &out); err != nil {
		return false, err
	}
	return model.MapGatewayStatus(out.Status) == model.PaymentPaid, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, header http.Header, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return apperr.Internal(err, "build gateway request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secretKey != "" {
		req.SetBasicAuth(c.secretKey, "")
	}

	res, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "gateway request failed", "method", method, "endpoint", endpoint, "err", err)
		return apperr.GatewayUnavailable(err, "payment gateway unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return apperr.GatewayUnavailable(err, "payment gateway response interrupted")
			}
			return apperr.GatewayRejected(err, "malformed gateway response")
		}
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	cause := fmt.Errorf("gateway %s %s: status %d: %s", method, endpoint, res.StatusCode, strings.TrimSpace(string(msg)))
	c.logger.WarnContext(ctx, "gateway error response", "method", method, "endpoint", endpoint, "status", res.StatusCode)
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		return apperr.GatewayUnavailable(cause, "payment gateway unavailable")
	}
	return apperr.GatewayRejected(cause, "payment gateway rejected the request")
}
