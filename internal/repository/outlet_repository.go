package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/model"
)

// OutletRepo reads and writes outlets with their hours and tables.
type OutletRepo struct{}

func NewOutletRepo() *OutletRepo { return &OutletRepo{} }

// Get loads an outlet with its hours in declaration order and its tables
// ordered by id.
func (r *OutletRepo) Get(ctx context.Context, q querier, id string) (*model.Outlet, error) {
	o := &model.Outlet{}
	err := q.QueryRowContext(ctx,
		`SELECT id, name, timezone, slot_minutes, max_party_size, buffer_minutes FROM outlets WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.Timezone, &o.Rules.SlotMinutes, &o.Rules.MaxPartySize, &o.Rules.BufferMinutes)
	if err != nil {
		return nil, dbErr(err, "outlet %s not found", id)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT weekday, open_at, close_at FROM outlet_hours WHERE outlet_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, dbErr(err, "load hours for outlet %s", id)
	}
	for rows.Next() {
		var h model.OperatingHours
		var wd int
		if err := rows.Scan(&wd, &h.Open, &h.Close); err != nil {
			rows.Close()
			return nil, dbErr(err, "scan hours for outlet %s", id)
		}
		h.Weekday = time.Weekday(wd)
		o.Hours = append(o.Hours, h)
	}
	if err := rows.Close(); err != nil {
		return nil, dbErr(err, "load hours for outlet %s", id)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT id, capacity, active FROM outlet_tables WHERE outlet_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, dbErr(err, "load tables for outlet %s", id)
	}
	defer rows.Close()
	for rows.Next() {
		t := model.Table{OutletID: id}
		if err := rows.Scan(&t.ID, &t.Capacity, &t.Active); err != nil {
			return nil, dbErr(err, "scan tables for outlet %s", id)
		}
		o.Tables = append(o.Tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "load tables for outlet %s", id)
	}
	return o, nil
}

// UpsertTx writes an outlet. Hours are replaced; tables are upserted and
// tables missing from o are deactivated so their reservation history
// stays intact.
func (r *OutletRepo) UpsertTx(ctx context.Context, tx *sql.Tx, o *model.Outlet) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outlets (id, name, timezone, slot_minutes, max_party_size, buffer_minutes)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE name = VALUES(name), timezone = VALUES(timezone),
		   slot_minutes = VALUES(slot_minutes), max_party_size = VALUES(max_party_size),
		   buffer_minutes = VALUES(buffer_minutes)`,
		o.ID, o.Name, o.Timezone, o.Rules.SlotMinutes, o.Rules.MaxPartySize, o.Rules.BufferMinutes,
	); err != nil {
		return dbErr(err, "upsert outlet %s", o.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outlet_hours WHERE outlet_id = ?`, o.ID); err != nil {
		return dbErr(err, "clear hours for outlet %s", o.ID)
	}
	if len(o.Hours) > 0 {
		query := `INSERT INTO outlet_hours (outlet_id, position, weekday, open_at, close_at) VALUES `
		args := make([]any, 0, len(o.Hours)*5)
		for i, h := range o.Hours {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?)"
			args = append(args, o.ID, i, int(h.Weekday), h.Open, h.Close)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return dbErr(err, "insert hours for outlet %s", o.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE outlet_tables SET active = FALSE WHERE outlet_id = ?`, o.ID); err != nil {
		return dbErr(err, "deactivate tables for outlet %s", o.ID)
	}
	for _, t := range o.Tables {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outlet_tables (outlet_id, id, capacity, active) VALUES (?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE capacity = VALUES(capacity), active = VALUES(active)`,
			o.ID, t.ID, t.Capacity, t.Active,
		); err != nil {
			return dbErr(err, "upsert table %s for outlet %s", t.ID, o.ID)
		}
	}
	return nil
}
