package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// PaymentRepo provides access to the payments table.
type PaymentRepo struct{}

func NewPaymentRepo() *PaymentRepo { return &PaymentRepo{} }

const paymentColumns = `id, reservation_id, charge_ref, idempotency_key, amount, currency, method, state,
	failure_reason, expires_at, va_number, va_channel, qr_content, qr_url, paid_at, created_at, updated_at`

func scanPayment(s rowScanner) (*model.Payment, error) {
	var (
		p                   model.Payment
		method, state       string
		vaNumber, vaChannel sql.NullString
		qrContent, qrURL    sql.NullString
		paidAt              sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.ReservationID, &p.ChargeRef, &p.IdempotencyKey, &p.Amount, &p.Currency, &method, &state,
		&p.FailureReason, &p.ExpiresAt, &vaNumber, &vaChannel, &qrContent, &qrURL, &paidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Method = model.PaymentMethod(method)
	p.State = model.PaymentState(state)
	if vaNumber.Valid {
		p.VirtualAccount = &model.VirtualAccount{Number: vaNumber.String, Channel: vaChannel.String}
	}
	if qrContent.Valid {
		p.QR = &model.QRCode{Content: qrContent.String, URL: qrURL.String}
	}
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	return &p, nil
}

func (r *PaymentRepo) Get(ctx context.Context, q querier, id string) (*model.Payment, error) {
	p, err := scanPayment(q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if err != nil {
		return nil, dbErr(err, "payment %s not found", id)
	}
	return p, nil
}

func (r *PaymentRepo) CountByReservation(ctx context.Context, q querier, reservationID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM payments WHERE reservation_id = ?`, reservationID).Scan(&n)
	return n, dbErr(err, "count payments for reservation %s", reservationID)
}

func (r *PaymentRepo) InsertTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	var vaNumber, vaChannel, qrContent, qrURL sql.NullString
	if p.VirtualAccount != nil {
		vaNumber = nullString(p.VirtualAccount.Number)
		vaChannel = nullString(p.VirtualAccount.Channel)
	}
	if p.QR != nil {
		qrContent = nullString(p.QR.Content)
		qrURL = nullString(p.QR.URL)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, reservation_id, charge_ref, idempotency_key, amount, currency, method, state,
		   failure_reason, expires_at, va_number, va_channel, qr_content, qr_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ReservationID, p.ChargeRef, p.IdempotencyKey, p.Amount, p.Currency, string(p.Method), string(p.State),
		p.FailureReason, p.ExpiresAt.UTC(), vaNumber, vaChannel, qrContent, qrURL, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if isDuplicate(err) {
		return apperr.InvalidState("payment attempt %s already recorded", p.IdempotencyKey)
	}
	return dbErr(err, "insert payment %s", p.ID)
}

// Settle moves a PENDING payment to a terminal state and reports whether
// this call made the change.
func (r *PaymentRepo) Settle(ctx context.Context, q querier, id string, to model.PaymentState, reason string, at time.Time) (bool, error) {
	at = at.UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE payments SET state = ?, failure_reason = ?, updated_at = ?, paid_at = IF(? = 'PAID', ?, paid_at)
		 WHERE id = ? AND state = 'PENDING'`,
		string(to), reason, at, string(to), at, id)
	if err != nil {
		return false, dbErr(err, "settle payment %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err, "settle payment %s", id)
	}
	return n == 1, nil
}

func (r *PaymentRepo) ListPending(ctx context.Context, q querier, limit int) ([]model.Payment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE state = 'PENDING' ORDER BY expires_at, created_at LIMIT ?`,
		limitOrDefault(limit))
	if err != nil {
		return nil, dbErr(err, "list pending payments")
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, dbErr(err, "scan pending payment")
		}
		out = append(out, *p)
	}
	return out, dbErr(rows.Err(), "list pending payments")
}
