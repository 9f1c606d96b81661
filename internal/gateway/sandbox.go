package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Sandbox is an in-memory gateway. Charges start PENDING and only change
// through SetStatus or a simulated confirmation. It counts calls so tests
// can assert which operations reached the gateway.
type Sandbox struct {
	mu      sync.Mutex
	charges map[string]*Charge
	byKey   map[string]string
	down    bool

	CreateCalls  int
	GetCalls     int
	ConfirmCalls int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges: make(map[string]*Charge),
		byKey:   make(map[string]string),
	}
}

// SetUnavailable makes every call fail with a retryable error until reset.
func (s *Sandbox) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetStatus overrides the status of a charge, as a gateway webhook would.
func (s *Sandbox) SetStatus(ref, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.charges[ref]; ok {
		ch.Status = status
	}
}

// Charges returns the number of distinct charges opened.
func (s *Sandbox) Charges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.charges)
}

func (s *Sandbox) unavailable() error {
	return apperr.GatewayUnavailable(fmt.Errorf("sandbox offline"), "payment gateway unavailable")
}

func (s *Sandbox) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.GatewayUnavailable(err, "payment gateway unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if s.down {
		return nil, s.unavailable()
	}
	if req.Amount <= 0 {
		return nil, apperr.GatewayRejected(nil, "amount must be positive")
	}
	if req.IdempotencyKey != "" {
		if ref, ok := s.byKey[req.IdempotencyKey]; ok {
			cp := *s.charges[ref]
			return &cp, nil
		}
	}

	ref := "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	ch := &Charge{
		Ref:         ref,
		ReferenceID: req.ReferenceID,
		Status:      StatusPending,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		ExpiresAt:   req.ExpiresAt.UTC(),
	}
	switch req.Method {
	case model.MethodVirtualAccount:
		channel := req.Channel
		if channel == "" {
			channel = "BCA"
		}
		ch.VirtualAccount = &model.VirtualAccount{Number: "8808" + ref[len(ref)-8:], Channel: channel}
	case model.MethodQRIS:
		ch.QR = &model.QRCode{Content: "00020101021226" + ref}
	default:
		return nil, apperr.GatewayRejected(nil, "unsupported payment method %q", req.Method)
	}
	s.charges[ref] = ch
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = ref
	}
	cp := *ch
	return &cp, nil
}

func (s *Sandbox) GetCharge(ctx context.Context, ref string) (*Charge, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.GatewayUnavailable(err, "payment gateway unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetCalls++
	if s.down {
		return nil, s.unavailable()
	}
	ch, ok := s.charges[ref]
	if !ok {
		return nil, apperr.GatewayRejected(nil, "charge %s not found", ref)
	}
	cp := *ch
	return &cp, nil
}

// ConfirmCharge settles a pending charge when simulate is set. Charges
// that already failed stay failed.
func (s *Sandbox) ConfirmCharge(ctx context.Context, ref string, simulate bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.GatewayUnavailable(err, "payment gateway unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfirmCalls++
	if s.down {
		return false, s.unavailable()
	}
	ch, ok := s.charges[ref]
	if !ok {
		return false, apperr.GatewayRejected(nil, "charge %s not found", ref)
	}
	if simulate && model.MapGatewayStatus(ch.Status) == model.PaymentPending {
		ch.Status = StatusSuccess
	}
	return model.MapGatewayStatus(ch.Status) == model.PaymentPaid, nil
}
