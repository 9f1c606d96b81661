package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

// Calculator derives bookable slots for an outlet and date from table
// inventory, live reservations and the outlet's rules. It never writes
// reservations.
type Calculator struct {
	store  Store
	policy Policy
	clock  Clock
	logger *slog.Logger
}

func NewCalculator(store Store, policy Policy, clock Clock, logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{store: store, policy: policy, clock: clock, logger: logger}
}

// AvailableSlots returns every slot of the day that has not started yet,
// in chronological order, each annotated for partySize. Callers that only
// want bookable slots filter on Available.
func (c *Calculator) AvailableSlots(ctx context.Context, outletID, date string, partySize int) ([]model.CapacitySlot, error) {
	if partySize < 1 {
		return nil, apperr.Validation("party_size must be at least 1")
	}
	outlet, err := c.store.GetOutlet(ctx, strings.TrimSpace(outletID))
	if err != nil {
		return nil, err
	}
	loc, err := outlet.Location()
	if err != nil {
		return nil, apperr.Internal(err, "outlet %s has an invalid timezone", outlet.ID)
	}
	now := c.clock.now()
	day, err := c.bookableDay(date, loc, now)
	if err != nil {
		return nil, err
	}

	grid := slotGrid(outlet, day)
	out := make([]model.CapacitySlot, 0, len(grid))
	if len(grid) == 0 {
		return out, nil
	}

	buffer := outlet.Rules.Buffer()
	scan := model.Window{Start: grid[0].Start, End: grid[len(grid)-1].End}.Widen(buffer)
	existing, err := c.store.ListReservations(ctx, outlet.ID, scan)
	if err != nil {
		return nil, err
	}

	for _, slot := range grid {
		if !now.Before(slot.Start) {
			continue
		}
		remaining, eligible := assess(outlet, slot, partySize, existing, now)
		out = append(out, model.CapacitySlot{
			OutletID:         outlet.ID,
			Date:             day.Format(model.DateLayout),
			Start:            slot.Start,
			End:              slot.End,
			RemainingSeats:   remaining,
			EligibleTableIDs: eligible,
			Available:        len(eligible) > 0,
		})
	}
	return out, nil
}

// Rebuild recomputes the capacity_slots projection for one outlet-day at
// party size one and stores it.
func (c *Calculator) Rebuild(ctx context.Context, outletID, date string) ([]model.CapacitySlot, error) {
	slots, err := c.AvailableSlots(ctx, outletID, date, 1)
	if err != nil {
		return nil, err
	}
	if err := c.store.ReplaceSlots(ctx, outletID, date, slots); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "capacity slots rebuilt", "outlet_id", outletID, "date", date, "slots", len(slots))
	return slots, nil
}

// bookableDay parses an outlet-local date and checks it lies within
// [today, today+MaxAdvanceDays].
func (c *Calculator) bookableDay(date string, loc *time.Location, now time.Time) (time.Time, error) {
	day, err := time.ParseInLocation(model.DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, apperr.Validation("date must use the YYYY-MM-DD format")
	}
	return day, checkAdvanceWindow(day, loc, now, c.policy.MaxAdvanceDays)
}

func checkAdvanceWindow(day time.Time, loc *time.Location, now time.Time, maxDays int) error {
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return apperr.Validation("date %s is in the past", day.Format(model.DateLayout))
	}
	if maxDays > 0 && day.After(today.AddDate(0, 0, maxDays)) {
		return apperr.Validation("date %s is more than %d days ahead", day.Format(model.DateLayout), maxDays)
	}
	return nil
}

// slotGrid partitions the opening intervals of day's weekday into
// SlotMinutes windows. A trailing window that would run past closing is
// dropped. Slots are returned in UTC, sorted and de-duplicated.
func slotGrid(o *model.Outlet, day time.Time) []model.Window {
	step := o.Rules.SlotMinutes
	if step <= 0 {
		return nil
	}
	loc := day.Location()
	y, m, d := day.Date()
	seen := make(map[int64]struct{})
	var out []model.Window
	for _, h := range o.HoursOn(day.Weekday()) {
		open, err := model.ParseClock(h.Open)
		if err != nil {
			continue
		}
		closing, err := model.ParseClock(h.Close)
		if err != nil {
			continue
		}
		for start := open; start+step <= closing; start += step {
			w := model.Window{
				Start: time.Date(y, m, d, 0, start, 0, 0, loc).UTC(),
				End:   time.Date(y, m, d, 0, start+step, 0, 0, loc).UTC(),
			}
			key := w.Start.Unix()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// seatingOrder returns the outlet's tables smallest first so the first
// eligible table is the tightest fit.
func seatingOrder(tables []model.Table) []model.Table {
	out := append([]model.Table(nil), tables...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Capacity != out[j].Capacity {
			return out[i].Capacity < out[j].Capacity
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// assess computes, for one slot, the free seats on tables able to seat the
// party and the tables with room for all of it. A reservation counts
// against a table when it holds capacity at now and its window, widened by
// the outlet buffer, overlaps the slot.
func assess(o *model.Outlet, slot model.Window, partySize int, existing []model.Reservation, now time.Time) (int, []string) {
	if o.Rules.MaxPartySize > 0 && partySize > o.Rules.MaxPartySize {
		return 0, []string{}
	}
	buffer := o.Rules.Buffer()
	held := make(map[string]int)
	for i := range existing {
		r := &existing[i]
		if !r.HoldsCapacity(now) || !r.Window().Widen(buffer).Overlaps(slot) {
			continue
		}
		held[r.TableID] += r.PartySize
	}

	remaining := 0
	eligible := []string{}
	for _, t := range seatingOrder(o.Tables) {
		if !t.Active || t.Capacity < partySize {
			continue
		}
		free := t.Capacity - held[t.ID]
		if free <= 0 {
			continue
		}
		remaining += free
		if free >= partySize {
			eligible = append(eligible, t.ID)
		}
	}
	return remaining, eligible
}
