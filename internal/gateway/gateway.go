// Package gateway talks to the external payment gateway. Client is the
// HTTP implementation; Sandbox is an in-process stand-in used for local
// runs and tests.
package gateway

import (
	"time"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Gateway charge statuses. Anything else is treated as still pending.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
	StatusExpired = "EXPIRED"
)

// ChargeRequest asks the gateway to open a charge. IdempotencyKey makes
// retries of the same attempt return the same charge.
type ChargeRequest struct {
	ReferenceID    string
	IdempotencyKey string
	Amount         int64
	Currency       string
	Method         model.PaymentMethod
	Channel        string
	ExpiresAt      time.Time
	Metadata       map[string]string
}

// Charge is the gateway's view of a charge.
type Charge struct {
	Ref            string
	ReferenceID    string
	Status         string
	Amount         int64
	Currency       string
	Method         model.PaymentMethod
	ExpiresAt      time.Time
	VirtualAccount *model.VirtualAccount
	QR             *model.QRCode
}
