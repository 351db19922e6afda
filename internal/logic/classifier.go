package logic

import "time"

// Default classifier timing.
const (
	DefaultHoldPeriod     = 350 * time.Millisecond
	DefaultReleaseTimeout = 450 * time.Millisecond
)

// Classifier turns one button's down/up edges plus elapsed time into
// short-press, long-press, holding and done signals.
//
// Pushed and Released are driven by debounced edges. Cycle is driven by the
// scheduler every period so the hold and quiet-period timeouts are evaluated
// even when no edge arrives.
type Classifier struct {
	holdPeriod     time.Duration
	releaseTimeout time.Duration

	state     PressState
	tDown     time.Time
	tReleased time.Time
}

// NewClassifier creates a classifier in the idle state.
func NewClassifier(holdPeriod, releaseTimeout time.Duration) *Classifier {
	return &Classifier{
		holdPeriod:     holdPeriod,
		releaseTimeout: releaseTimeout,
		state:          PressIdle,
	}
}

// State returns the current press state.
func (c *Classifier) State() PressState {
	return c.state
}

// Times returns the last down and release timestamps.
func (c *Classifier) Times() (down, released time.Time) {
	return c.tDown, c.tReleased
}

// Pushed handles a down edge at t. Ignored while already down or held.
func (c *Classifier) Pushed(t time.Time) Signal {
	switch c.state {
	case PressIdle, PressReleased, PressUnheld:
		c.state = PressDown
		c.tDown = t
	}
	return SignalNone
}

// Released handles an up edge at t.
func (c *Classifier) Released(t time.Time) Signal {
	// Keep tDown <= tReleased even if edges were stamped out of order.
	if t.Before(c.tDown) {
		t = c.tDown
	}

	switch c.state {
	case PressDown:
		c.state = PressReleased
		c.tReleased = t
		return SignalShortPress
	case PressHeld:
		c.state = PressUnheld
		c.tReleased = t
		return SignalLongPress
	}
	return SignalNone
}

// Cycle evaluates the time-based transitions at now. Each signal is emitted
// once, on the transition itself.
func (c *Classifier) Cycle(now time.Time) Signal {
	switch c.state {
	case PressDown:
		if now.Sub(c.tDown) > c.holdPeriod {
			c.state = PressHeld
			return SignalHolding
		}
	case PressReleased, PressUnheld:
		if now.Sub(c.tReleased) > c.releaseTimeout {
			c.state = PressIdle
			return SignalDone
		}
	}
	return SignalNone
}
