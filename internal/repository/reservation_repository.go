package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// ReservationRepo provides access to the reservations table. All
// timestamps are stored in UTC.
type ReservationRepo struct{}

func NewReservationRepo() *ReservationRepo { return &ReservationRepo{} }

const reservationColumns = `id, outlet_id, customer_id, table_id, start_at, end_at, party_size, state,
	hold_expires_at, payment_id, cancel_reason, created_at, updated_at, confirmed_at, cancelled_at`

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r           model.Reservation
		state       string
		paymentID   sql.NullString
		confirmedAt sql.NullTime
		cancelledAt sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.OutletID, &r.CustomerID, &r.TableID, &r.Start, &r.End, &r.PartySize, &state,
		&r.HoldExpiresAt, &paymentID, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt, &confirmedAt, &cancelledAt); err != nil {
		return nil, err
	}
	r.State = model.ReservationState(state)
	r.PaymentID = paymentID.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		r.ConfirmedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (r *ReservationRepo) Get(ctx context.Context, q querier, id string) (*model.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return nil, dbErr(err, "reservation %s not found", id)
	}
	return res, nil
}

// ListOverlapping returns PENDING and CONFIRMED reservations of an outlet
// whose window intersects w.
func (r *ReservationRepo) ListOverlapping(ctx context.Context, q querier, outletID string, w model.Window) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE outlet_id = ? AND state IN ('PENDING', 'CONFIRMED') AND start_at < ? AND end_at > ?
		 ORDER BY start_at, id`,
		outletID, w.End.UTC(), w.Start.UTC())
	if err != nil {
		return nil, dbErr(err, "list reservations for outlet %s", outletID)
	}
	out, err := collectReservations(rows)
	if err != nil {
		return nil, dbErr(err, "list reservations for outlet %s", outletID)
	}
	return out, nil
}

func (r *ReservationRepo) InsertTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (id, outlet_id, customer_id, table_id, start_at, end_at, party_size, state,
		   hold_expires_at, payment_id, cancel_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.OutletID, res.CustomerID, res.TableID, res.Start.UTC(), res.End.UTC(), res.PartySize, string(res.State),
		res.HoldExpiresAt.UTC(), nullString(res.PaymentID), res.CancelReason, res.CreatedAt.UTC(), res.UpdatedAt.UTC())
	return dbErr(err, "insert reservation %s", res.ID)
}

// Transition applies from -> to only while the row is still in from. It
// reports whether a row changed.
func (r *ReservationRepo) Transition(ctx context.Context, q querier, id string, from, to model.ReservationState, at time.Time, reason string) (bool, error) {
	at = at.UTC()
	res, err := q.ExecContext(ctx,
		`UPDATE reservations SET state = ?, updated_at = ?,
		   confirmed_at = IF(? = 'CONFIRMED', ?, confirmed_at),
		   cancelled_at = IF(? = 'CANCELLED', ?, cancelled_at),
		   cancel_reason = IF(? <> '', ?, cancel_reason)
		 WHERE id = ? AND state = ?`,
		string(to), at, string(to), at, string(to), at, reason, reason, id, string(from))
	if err != nil {
		return false, dbErr(err, "update reservation %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err, "update reservation %s", id)
	}
	return n == 1, nil
}

// AttachPaymentTx links a payment and extends the hold, provided the
// reservation is PENDING and its current payment is prevPaymentID.
func (r *ReservationRepo) AttachPaymentTx(ctx context.Context, tx *sql.Tx, id, prevPaymentID, paymentID string, holdUntil, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET payment_id = ?, hold_expires_at = GREATEST(hold_expires_at, ?), updated_at = ?
		 WHERE id = ? AND state = 'PENDING' AND COALESCE(payment_id, '') = ?`,
		paymentID, holdUntil.UTC(), at.UTC(), id, prevPaymentID)
	if err != nil {
		return false, dbErr(err, "link payment to reservation %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, dbErr(err, "link payment to reservation %s", id)
	}
	return n == 1, nil
}

func (r *ReservationRepo) ListExpiredHolds(ctx context.Context, q querier, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE state = 'PENDING' AND hold_expires_at <= ? ORDER BY hold_expires_at LIMIT ?`,
		now.UTC(), limitOrDefault(limit))
	if err != nil {
		return nil, dbErr(err, "list expired holds")
	}
	out, err := collectReservations(rows)
	return out, dbErr(err, "list expired holds")
}

func (r *ReservationRepo) ListFinished(ctx context.Context, q querier, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE state = 'CONFIRMED' AND end_at <= ? ORDER BY end_at LIMIT ?`,
		now.UTC(), limitOrDefault(limit))
	if err != nil {
		return nil, dbErr(err, "list finished reservations")
	}
	out, err := collectReservations(rows)
	return out, dbErr(err, "list finished reservations")
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 200
	}
	return limit
}
