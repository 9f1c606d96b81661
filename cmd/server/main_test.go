package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

func TestRootRegistersCommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"serve", "sweep", "migrate", "seed", "consume", "token", "hash-key", "version"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

func TestPolicyFrom(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Env:     "prod",
		Gateway: config.GatewayConfig{Timeout: 7 * time.Second},
		Booking: config.BookingConfig{
			MaxAdvanceDays:   30,
			HoldTTL:          10 * time.Minute,
			Currency:         "IDR",
			SweepBatch:       50,
			SweepConcurrency: 2,
		},
	}
	p := policyFrom(cfg)
	if p.AllowSimulation {
		t.Fatal("simulation must be off in production")
	}
	if p.MaxAdvanceDays != 30 || p.HoldTTL != 10*time.Minute || p.GatewayTimeout != 7*time.Second || p.SweepBatch != 50 {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestHashKeyFromStdin(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("sweep-secret\n"))
	root.SetArgs([]string{"hash-key", "--cost", "4"})
	if err := root.Execute(); err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !utils.VerifyKey(hash, "sweep-secret") {
		t.Fatalf("printed hash %q does not verify", hash)
	}
}

func TestSeedDryRun(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"seed", "--dry-run", "../../config/outlets.example.yaml"})
	if err := root.Execute(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out.String(), "2 outlets are valid") {
		t.Fatalf("unexpected output %q", out.String())
	}
}
