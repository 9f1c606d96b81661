// Package seed loads outlet configuration from YAML files. Outlets are not
// managed through the API; operators describe them in a file and load it
// with the seed command or at startup of the in-memory store.
package seed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iliyamo/outlet-reservation/internal/model"
	"github.com/iliyamo/outlet-reservation/internal/service"
)

// File is the document layout of a seed file.
type File struct {
	Outlets []Outlet `yaml:"outlets"`
}

type Outlet struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Timezone string             `yaml:"timezone"`
	Rules    model.BookingRules `yaml:"rules"`
	Hours    []Hours            `yaml:"hours"`
	Tables   []Table            `yaml:"tables"`
}

// Hours applies one opening interval to several weekdays.
type Hours struct {
	Days  []string `yaml:"days"`
	Open  string   `yaml:"open"`
	Close string   `yaml:"close"`
}

// Table defaults to active when the flag is omitted.
type Table struct {
	ID       string `yaml:"id"`
	Capacity int    `yaml:"capacity"`
	Active   *bool  `yaml:"active"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseDays(days []string) ([]time.Weekday, error) {
	var out []time.Weekday
	for _, raw := range days {
		d := strings.ToLower(strings.TrimSpace(raw))
		switch d {
		case "daily", "all":
			for w := time.Sunday; w <= time.Saturday; w++ {
				out = append(out, w)
			}
			continue
		case "weekdays":
			for w := time.Monday; w <= time.Friday; w++ {
				out = append(out, w)
			}
			continue
		case "weekend":
			out = append(out, time.Saturday, time.Sunday)
			continue
		}
		w, ok := weekdays[d]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", raw)
		}
		out = append(out, w)
	}
	return out, nil
}

// Parse decodes and validates a seed document.
func Parse(r io.Reader) ([]*model.Outlet, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	out := make([]*model.Outlet, 0, len(f.Outlets))
	ids := make(map[string]struct{}, len(f.Outlets))
	for _, so := range f.Outlets {
		o := &model.Outlet{
			ID:       strings.TrimSpace(so.ID),
			Name:     so.Name,
			Timezone: so.Timezone,
			Rules:    so.Rules,
		}
		for _, h := range so.Hours {
			days, err := parseDays(h.Days)
			if err != nil {
				return nil, fmt.Errorf("outlet %s: %w", o.ID, err)
			}
			for _, d := range days {
				o.Hours = append(o.Hours, model.OperatingHours{Weekday: d, Open: h.Open, Close: h.Close})
			}
		}
		for _, t := range so.Tables {
			active := t.Active == nil || *t.Active
			o.Tables = append(o.Tables, model.Table{ID: t.ID, OutletID: o.ID, Capacity: t.Capacity, Active: active})
		}
		if err := o.Validate(); err != nil {
			return nil, err
		}
		if _, dup := ids[o.ID]; dup {
			return nil, fmt.Errorf("duplicate outlet id %s", o.ID)
		}
		ids[o.ID] = struct{}{}
		out = append(out, o)
	}
	return out, nil
}

// LoadFile parses the seed file at path.
func LoadFile(path string) ([]*model.Outlet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Apply upserts every outlet into store.
func Apply(ctx context.Context, store service.OutletStore, outlets []*model.Outlet, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for _, o := range outlets {
		if err := store.UpsertOutlet(ctx, o); err != nil {
			return fmt.Errorf("seed outlet %s: %w", o.ID, err)
		}
		logger.InfoContext(ctx, "outlet seeded", "outlet_id", o.ID, "tables", len(o.Tables), "hours", len(o.Hours))
	}
	return nil
}
