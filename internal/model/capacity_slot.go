package model

import "time"

// DateLayout is the wire format of outlet-local calendar dates.
const DateLayout = "2006-01-02"

// CapacitySlot is a read-side projection of one bookable window. It is
// recomputed from outlets, tables and reservations and never edited by
// hand.
//
// Fields:
//
//	OutletID         – outlet the slot belongs to.
//	Date             – outlet-local date (YYYY-MM-DD).
//	Start, End       – slot window in UTC.
//	RemainingSeats   – unheld seats on tables that can seat the party.
//	EligibleTableIDs – tables that can take the whole party in this slot.
//	Available        – true when at least one table is eligible.
type CapacitySlot struct {
	OutletID         string    `json:"outlet_id"`
	Date             string    `json:"date"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	RemainingSeats   int       `json:"remaining_seats"`
	EligibleTableIDs []string  `json:"eligible_table_ids"`
	Available        bool      `json:"available"`
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open windows intersect.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Widen extends the window by d on both sides.
func (w Window) Widen(d time.Duration) Window {
	return Window{Start: w.Start.Add(-d), End: w.End.Add(d)}
}

// SlotLock names the capacity_slots rows a commit must hold. Slots are the
// slot windows, in chronological order, that intersect the buffered window
// of the reservation being committed.
type SlotLock struct {
	OutletID string
	Date     string
	Slots    []Window
	// Scan is the window of existing reservations the decision needs to see.
	Scan Window
}
