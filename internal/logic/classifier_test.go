package logic

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestNewClassifier(t *testing.T) {
	c := NewClassifier(DefaultHoldPeriod, DefaultReleaseTimeout)
	if c.State() != PressIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
	down, rel := c.Times()
	if !down.IsZero() || !rel.IsZero() {
		t.Error("expected zero timestamps")
	}
}

func TestClassifierShortPress(t *testing.T) {
	c := NewClassifier(ms(350), ms(450))

	if sig := c.Pushed(t0); sig != SignalNone {
		t.Errorf("pushed: expected no signal, got %q", sig)
	}
	if c.State() != PressDown {
		t.Fatalf("expected down, got %s", c.State())
	}

	// Below hold period: still down.
	if sig := c.Cycle(t0.Add(ms(300))); sig != SignalNone {
		t.Errorf("cycle before hold period: got %q", sig)
	}

	if sig := c.Released(t0.Add(ms(320))); sig != SignalShortPress {
		t.Errorf("released: expected short-press, got %q", sig)
	}
	if c.State() != PressReleased {
		t.Fatalf("expected released, got %s", c.State())
	}

	// Quiet period not yet over.
	if sig := c.Cycle(t0.Add(ms(320 + 450))); sig != SignalNone {
		t.Errorf("cycle at exactly release timeout: got %q", sig)
	}
	if sig := c.Cycle(t0.Add(ms(320 + 451))); sig != SignalDone {
		t.Errorf("cycle after release timeout: expected done, got %q", sig)
	}
	if c.State() != PressIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
}

func TestClassifierLongPress(t *testing.T) {
	c := NewClassifier(ms(350), ms(450))
	c.Pushed(t0)

	if sig := c.Cycle(t0.Add(ms(351))); sig != SignalHolding {
		t.Fatalf("expected holding, got %q", sig)
	}
	if c.State() != PressHeld {
		t.Fatalf("expected held, got %s", c.State())
	}

	// Holding is emitted once, not on every tick.
	for i := 0; i < 5; i++ {
		if sig := c.Cycle(t0.Add(ms(400 + 100*i))); sig != SignalNone {
			t.Errorf("tick %d while held: got %q", i, sig)
		}
	}

	if sig := c.Released(t0.Add(ms(2000))); sig != SignalLongPress {
		t.Errorf("expected long-press, got %q", sig)
	}
	if c.State() != PressUnheld {
		t.Fatalf("expected unheld, got %s", c.State())
	}
	if sig := c.Cycle(t0.Add(ms(2500))); sig != SignalDone {
		t.Errorf("expected done, got %q", sig)
	}
}

func TestClassifierRepushBeforeTimeout(t *testing.T) {
	c := NewClassifier(ms(350), ms(450))
	c.Pushed(t0)
	c.Released(t0.Add(ms(100)))

	c.Pushed(t0.Add(ms(300)))
	if c.State() != PressDown {
		t.Fatalf("expected down after re-push, got %s", c.State())
	}
	down, _ := c.Times()
	if !down.Equal(t0.Add(ms(300))) {
		t.Errorf("expected tDown updated, got %v", down)
	}

	// The old release must not finalize while down.
	if sig := c.Cycle(t0.Add(ms(600))); sig != SignalNone {
		t.Errorf("expected no signal, got %q", sig)
	}
}

func TestClassifierCycleIdempotent(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		c := NewClassifier(ms(350), ms(450))
		for i := 0; i < 10; i++ {
			if sig := c.Cycle(t0.Add(time.Duration(i) * time.Second)); sig != SignalNone {
				t.Errorf("tick %d: got %q", i, sig)
			}
		}
		if c.State() != PressIdle {
			t.Errorf("expected idle, got %s", c.State())
		}
		down, rel := c.Times()
		if !down.IsZero() || !rel.IsZero() {
			t.Error("timestamps changed")
		}
	})

	t.Run("held", func(t *testing.T) {
		c := NewClassifier(ms(350), ms(450))
		c.Pushed(t0)
		c.Cycle(t0.Add(ms(400)))
		wantDown, wantRel := c.Times()

		for i := 0; i < 10; i++ {
			if sig := c.Cycle(t0.Add(time.Duration(i+1) * time.Second)); sig != SignalNone {
				t.Errorf("tick %d: got %q", i, sig)
			}
		}
		if c.State() != PressHeld {
			t.Errorf("expected held, got %s", c.State())
		}
		down, rel := c.Times()
		if !down.Equal(wantDown) || !rel.Equal(wantRel) {
			t.Error("timestamps changed")
		}
	})
}

func TestClassifierIgnoresUnexpectedEdges(t *testing.T) {
	c := NewClassifier(ms(350), ms(450))

	if sig := c.Released(t0); sig != SignalNone {
		t.Errorf("release from idle: got %q", sig)
	}
	if c.State() != PressIdle {
		t.Errorf("expected idle, got %s", c.State())
	}

	c.Pushed(t0)
	c.Pushed(t0.Add(ms(100)))
	down, _ := c.Times()
	if !down.Equal(t0) {
		t.Errorf("second push while down must not move tDown, got %v", down)
	}
}

func TestClassifierReleaseNeverBeforeDown(t *testing.T) {
	c := NewClassifier(ms(350), ms(450))
	c.Pushed(t0.Add(ms(100)))
	c.Released(t0)

	down, rel := c.Times()
	if rel.Before(down) {
		t.Errorf("tReleased %v before tDown %v", rel, down)
	}
}
