package model

import (
	"fmt"
	"strings"
	"time"
)

// PaymentState is the local view of a gateway charge.
type PaymentState string

const (
	PaymentPending PaymentState = "PENDING"
	PaymentPaid    PaymentState = "PAID"
	PaymentFailed  PaymentState = "FAILED"
)

// Terminal reports whether the state can no longer change.
func (s PaymentState) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	MethodVirtualAccount PaymentMethod = "virtual_account"
	MethodQRIS           PaymentMethod = "qris"
)

// ParsePaymentMethod accepts the canonical names and the aliases the
// frontend forms send.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "virtual_account", "va", "bank_transfer", "virtual-account":
		return MethodVirtualAccount, true
	case "qris", "qr", "qr_code":
		return MethodQRIS, true
	}
	return "", false
}

// Failure reasons recorded on FAILED payments.
const (
	FailureExpired  = "expired"
	FailureDeclined = "declined"
)

// MapGatewayStatus maps a gateway charge status onto the local state.
// SUCCESS and PAID settle the payment, FAILED and EXPIRED fail it, and
// anything else (including unknown values) stays PENDING.
func MapGatewayStatus(status string) PaymentState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "PAID":
		return PaymentPaid
	case "FAILED", "EXPIRED":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// VirtualAccount is the transfer destination for virtual-account charges.
type VirtualAccount struct {
	Number  string `json:"number"`
	Channel string `json:"channel"`
}

// QRCode is the payload of a QRIS charge.
type QRCode struct {
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
}

// Payment is one charge attempt for a reservation. It may outlive a
// cancelled reservation so reconciliation and audit still work.
type Payment struct {
	ID             string          `json:"id"`
	ReservationID  string          `json:"reservation_id"`
	ChargeRef      string          `json:"charge_ref"`
	IdempotencyKey string          `json:"-"`
	Amount         int64           `json:"amount"`
	Currency       string          `json:"currency"`
	Method         PaymentMethod   `json:"method"`
	State          PaymentState    `json:"state"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ExpiresAt      time.Time       `json:"expires_at"`
	VirtualAccount *VirtualAccount `json:"virtual_account,omitempty"`
	QR             *QRCode         `json:"qr,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Expired is the label reported once no time remains.
const Expired = "Expired"

// Remaining returns ExpiresAt - now clamped at zero.
func (p *Payment) Remaining(now time.Time) time.Duration {
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// TimeRemaining renders Remaining as HH:MM:SS, or "Expired" once it is no
// longer positive.
func (p *Payment) TimeRemaining(now time.Time) string {
	d := p.Remaining(now)
	if d <= 0 {
		return Expired
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
