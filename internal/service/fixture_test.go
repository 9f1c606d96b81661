package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/gateway"
	"github.com/iliyamo/outlet-reservation/internal/memstore"
	"github.com/iliyamo/outlet-reservation/internal/model"
)

var jakarta = mustLoad("Asia/Jakarta")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// local builds an instant on 2026-10-20 (a Tuesday) in Jakarta.
func local(hour, minute int) time.Time {
	return time.Date(2026, 10, 20, hour, minute, 0, 0, jakarta)
}

const testDate = "2026-10-20"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.ReservationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev model.ReservationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

// hotpot is a single four-seat table open 18:00-20:00 every day with
// hourly slots.
func hotpot() *model.Outlet {
	o := &model.Outlet{
		ID:       "hotpot-1",
		Name:     "Hotpot 1",
		Timezone: "Asia/Jakarta",
		Rules:    model.BookingRules{SlotMinutes: 60},
		Tables:   []model.Table{{ID: "t1", Capacity: 4, Active: true}},
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		o.Hours = append(o.Hours, model.OperatingHours{Weekday: d, Open: "18:00", Close: "20:00"})
	}
	return o
}

type harness struct {
	clock       *fakeClock
	store       *memstore.Store
	gw          *gateway.Sandbox
	notifier    *recordingNotifier
	policy      Policy
	calc        *Calculator
	coordinator *Coordinator
	reconciler  *Reconciler
	sweeper     *Sweeper
}

func newHarness(t *testing.T, outlets ...*model.Outlet) *harness {
	t.Helper()
	return newHarnessWithStore(t, memstore.New(), outlets...)
}

func newHarnessWithStore(t *testing.T, store Store, outlets ...*model.Outlet) *harness {
	t.Helper()
	if len(outlets) == 0 {
		outlets = []*model.Outlet{hotpot()}
	}
	for _, o := range outlets {
		if err := store.UpsertOutlet(context.Background(), o); err != nil {
			t.Fatalf("seed outlet: %v", err)
		}
	}
	h := &harness{
		clock:    &fakeClock{t: local(10, 0)},
		gw:       gateway.NewSandbox(),
		notifier: &recordingNotifier{},
		policy:   DefaultPolicy(),
	}
	if ms, ok := store.(*memstore.Store); ok {
		h.store = ms
	}
	h.policy.AllowSimulation = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := Clock(h.clock.Now)
	h.calc = NewCalculator(store, h.policy, clock, logger)
	h.coordinator = NewCoordinator(store, h.notifier, h.policy, clock, logger)
	h.reconciler = NewReconciler(store, h.gw, h.coordinator, h.policy, clock, logger)
	h.sweeper = NewSweeper(store, h.reconciler, h.coordinator, h.policy, clock, logger)
	return h
}

func (h *harness) reserve(t *testing.T, customer string, start time.Time, party int) *model.Reservation {
	t.Helper()
	r, err := h.coordinator.RequestReservation(context.Background(), ReservationRequest{
		OutletID: "hotpot-1", CustomerID: customer, SlotStart: start, PartySize: party,
	})
	if err != nil {
		t.Fatalf("request reservation: %v", err)
	}
	return r
}
