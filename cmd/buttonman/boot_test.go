package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/buttonman/internal/actions"
	"github.com/sweeney/buttonman/internal/config"
	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/scheduler"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// startRig builds a panel whose first wait is the boot window and whose
// second wait, the first steady-state sleep, cancels ctx.
type startRig struct {
	panel  *scheduler.Panel
	src    *gpio.FakeSource
	runner *actions.FakeRunner
	ctx    context.Context
	waits  int
}

func newStartRig(t *testing.T) *startRig {
	t.Helper()
	cfg := config.DefaultConfig()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := &startRig{
		src:    gpio.NewFakeSource(cfg.Pins.Key1, cfg.Pins.Key2),
		runner: actions.NewFakeRunner(),
		ctx:    ctx,
	}
	table, err := actions.NewTable(cfg.Actions.Click, cfg.Actions.Hold, cfg.Actions.Boot, actions.Deps{
		Runner:  r.runner,
		Outputs: gpio.NewFakeOutputs(),
		Beeper:  actions.NewBeeper(gpio.NewFakeOutputs(), false),
		APStart: cfg.Commands.APStart,
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	clock := &stepClock{now: time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)}
	wait := func(ctx context.Context, d time.Duration) error {
		r.waits++
		clock.Advance(d)
		if r.waits > 1 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	r.panel = scheduler.New(scheduler.Config{
		Key1:           cfg.Pins.Key1,
		Key2:           cfg.Pins.Key2,
		ActiveLow:      cfg.Pins.ActiveLow,
		Period:         cfg.Timing.Poll,
		Debounce:       cfg.Timing.Debounce,
		BootDebounce:   cfg.Timing.BootDebounce,
		BootWindow:     cfg.Timing.BootWindow,
		BootHold:       cfg.Timing.BootHold,
		HoldPeriod:     cfg.Timing.HoldPeriod,
		ReleaseTimeout: cfg.Timing.ReleaseTimeout,
	}, r.src, table,
		scheduler.WithClock(clock.Now),
		scheduler.WithWait(wait),
	)
	return r
}

func TestStartPanelRunsBootScriptAfterBootCheck(t *testing.T) {
	r := newStartRig(t)
	script := filepath.Join(t.TempDir(), "boot.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Key 1 held through the boot window turns the access point on.
	r.src.SetLevel(config.DefaultConfig().Pins.Key1, false)

	if err := startPanel(r.ctx, r.panel, r.runner, []string{script, "--quiet"}); err != nil {
		t.Fatalf("startPanel: %v", err)
	}

	calls := r.runner.Calls()
	apCommands := len(actions.DefaultAPStart())
	if len(calls) != apCommands+1 {
		t.Fatalf("expected %d access point commands then the boot script, got %v", apCommands, r.runner.CommandLines())
	}
	for i, c := range calls[:apCommands] {
		if !c.Wait {
			t.Errorf("call %d: expected access point command run to completion, got %+v", i, c)
		}
	}
	last := calls[apCommands]
	if last.Name != script || last.Wait || len(last.Args) != 1 || last.Args[0] != "--quiet" {
		t.Errorf("expected boot script started detached last, got %+v", last)
	}
	if r.waits != 2 {
		t.Errorf("expected the panel to run after the boot script, got %d waits", r.waits)
	}
}

func TestStartPanelSkipsMissingBootScript(t *testing.T) {
	r := newStartRig(t)
	missing := filepath.Join(t.TempDir(), "boot.sh")

	if err := startPanel(r.ctx, r.panel, r.runner, []string{missing}); err != nil {
		t.Fatalf("startPanel: %v", err)
	}
	if calls := r.runner.Calls(); len(calls) != 0 {
		t.Errorf("expected no commands, got %v", r.runner.CommandLines())
	}
	if r.waits != 2 {
		t.Errorf("expected the panel to run without a boot script, got %d waits", r.waits)
	}
}

func TestStartPanelCancelledDuringBootCheck(t *testing.T) {
	r := newStartRig(t)
	r.waits = 1 // the boot window wait cancels

	if err := startPanel(r.ctx, r.panel, r.runner, actions.DefaultBootScript()); err != nil {
		t.Fatalf("startPanel: %v", err)
	}
	if calls := r.runner.Calls(); len(calls) != 0 {
		t.Errorf("expected no boot script after cancel, got %v", r.runner.CommandLines())
	}
	if r.waits != 2 {
		t.Errorf("expected only the boot window wait, got %d", r.waits)
	}
}
