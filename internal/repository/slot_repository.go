package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// SlotRepo manages capacity_slots rows. They serve two purposes: commit
// locks, and the materialized availability projection.
type SlotRepo struct{}

func NewSlotRepo() *SlotRepo { return &SlotRepo{} }

// EnsureTx creates any missing rows for the given windows. Existing rows
// are left untouched.
func (r *SlotRepo) EnsureTx(ctx context.Context, tx *sql.Tx, outletID string, slots []model.Window) error {
	if len(slots) == 0 {
		return nil
	}
	query := `INSERT IGNORE INTO capacity_slots (outlet_id, slot_start, slot_end) VALUES `
	args := make([]any, 0, len(slots)*3)
	for i, w := range slots {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, outletID, w.Start.UTC(), w.End.UTC())
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return dbErr(err, "prepare slot locks for outlet %s", outletID)
	}
	return nil
}

// LockTx takes exclusive row locks on the given slots in start order.
func (r *SlotRepo) LockTx(ctx context.Context, tx *sql.Tx, outletID string, slots []model.Window) error {
	if len(slots) == 0 {
		return nil
	}
	placeholders := make([]string, len(slots))
	args := make([]any, 0, len(slots)+1)
	args = append(args, outletID)
	for i, w := range slots {
		placeholders[i] = "?"
		args = append(args, w.Start.UTC())
	}
	query := `SELECT slot_start FROM capacity_slots WHERE outlet_id = ? AND slot_start IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY slot_start FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return dbErr(err, "lock slots for outlet %s", outletID)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return dbErr(rows.Err(), "lock slots for outlet %s", outletID)
}

// UpsertProjectionTx stores the computed availability for one outlet-day.
func (r *SlotRepo) UpsertProjectionTx(ctx context.Context, tx *sql.Tx, outletID, date string, slots []model.CapacitySlot) error {
	for _, s := range slots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO capacity_slots (outlet_id, slot_start, slot_end, slot_date, remaining_seats, eligible_table_ids, available)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE slot_end = VALUES(slot_end), slot_date = VALUES(slot_date),
			   remaining_seats = VALUES(remaining_seats), eligible_table_ids = VALUES(eligible_table_ids),
			   available = VALUES(available)`,
			outletID, s.Start.UTC(), s.End.UTC(), date, s.RemainingSeats, strings.Join(s.EligibleTableIDs, ","), s.Available,
		); err != nil {
			return dbErr(err, "store slot projection for outlet %s", outletID)
		}
	}
	return nil
}
