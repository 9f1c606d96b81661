package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outlet is a bookable venue. Operating hours are wall-clock times in the
// outlet's Timezone; all derived instants are converted to UTC.
//
// Fields:
//
//	ID       – stable identifier (e.g. "hotpot-1").
//	Name     – display name.
//	Timezone – IANA zone name; empty means UTC.
//	Hours    – opening intervals per weekday, several allowed per day.
//	Rules    – slot granularity, party size limit and seating buffer.
//	Tables   – table inventory, including suspended tables.
type Outlet struct {
	ID       string           `json:"id" yaml:"id"`
	Name     string           `json:"name" yaml:"name"`
	Timezone string           `json:"timezone" yaml:"timezone"`
	Hours    []OperatingHours `json:"hours" yaml:"hours"`
	Rules    BookingRules     `json:"rules" yaml:"rules"`
	Tables   []Table          `json:"tables" yaml:"tables"`
}

// OperatingHours is one opening interval on a weekday. Open and Close use
// the 24h "HH:MM" format and Close must be later than Open.
type OperatingHours struct {
	Weekday time.Weekday `json:"weekday" yaml:"weekday"`
	Open    string       `json:"open" yaml:"open"`
	Close   string       `json:"close" yaml:"close"`
}

// BookingRules configures how an outlet's day is partitioned into slots.
type BookingRules struct {
	SlotMinutes   int `json:"slot_minutes" yaml:"slot_minutes"`
	MaxPartySize  int `json:"max_party_size" yaml:"max_party_size"` // 0 means limited by table capacity only
	BufferMinutes int `json:"buffer_minutes" yaml:"buffer_minutes"`
}

// Table is a physical table. Suspended tables (Active=false) are skipped
// by availability but keep their reservation history.
type Table struct {
	ID       string `json:"id" yaml:"id"`
	OutletID string `json:"outlet_id" yaml:"-"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Active   bool   `json:"active" yaml:"active"`
}

// SlotDuration returns the slot granularity as a duration.
func (r BookingRules) SlotDuration() time.Duration {
	return time.Duration(r.SlotMinutes) * time.Minute
}

// Buffer returns the seating buffer as a duration.
func (r BookingRules) Buffer() time.Duration {
	return time.Duration(r.BufferMinutes) * time.Minute
}

// Location resolves the outlet's timezone.
func (o *Outlet) Location() (*time.Location, error) {
	if strings.TrimSpace(o.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(o.Timezone)
}

// Validate checks the outlet configuration for values the slot calculator
// cannot work with.
func (o *Outlet) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("outlet id is required")
	}
	if _, err := o.Location(); err != nil {
		return fmt.Errorf("outlet %s: invalid timezone %q: %w", o.ID, o.Timezone, err)
	}
	if o.Rules.SlotMinutes <= 0 {
		return fmt.Errorf("outlet %s: slot_minutes must be positive", o.ID)
	}
	if o.Rules.BufferMinutes < 0 || o.Rules.MaxPartySize < 0 {
		return fmt.Errorf("outlet %s: buffer_minutes and max_party_size must not be negative", o.ID)
	}
	for _, h := range o.Hours {
		open, err := ParseClock(h.Open)
		if err != nil {
			return fmt.Errorf("outlet %s: %w", o.ID, err)
		}
		closing, err := ParseClock(h.Close)
		if err != nil {
			return fmt.Errorf("outlet %s: %w", o.ID, err)
		}
		if closing <= open {
			return fmt.Errorf("outlet %s: %s closes at %s before opening at %s", o.ID, h.Weekday, h.Close, h.Open)
		}
	}
	seen := make(map[string]struct{}, len(o.Tables))
	for _, t := range o.Tables {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("outlet %s: table id is required", o.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("outlet %s: duplicate table id %s", o.ID, t.ID)
		}
		seen[t.ID] = struct{}{}
		if t.Capacity <= 0 {
			return fmt.Errorf("outlet %s: table %s capacity must be positive", o.ID, t.ID)
		}
	}
	return nil
}

// HoursOn returns the opening intervals for a weekday in declaration order.
func (o *Outlet) HoursOn(day time.Weekday) []OperatingHours {
	var out []OperatingHours
	for _, h := range o.Hours {
		if h.Weekday == day {
			out = append(out, h)
		}
	}
	return out
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return h*60 + m, nil
}
