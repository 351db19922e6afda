package logic

// MaxClicks is the longest click sequence with an action.
const MaxClicks = 6

// MaxHoldPrefix is the most clicks that may precede a hold.
const MaxHoldPrefix = 3

var clickStates = [...]SequenceState{SeqIdle, SeqC1, SeqC2, SeqC3, SeqC4, SeqC5, SeqC6}

var holdStates = [...]SequenceState{SeqH0, SeqH1, SeqH2, SeqH3}

// clickCount returns the number of clicks for idle/c1..c6, or -1.
func clickCount(s SequenceState) int {
	for n, cs := range clickStates {
		if cs == s {
			return n
		}
	}
	return -1
}

// Next is the sequence transition function. It returns the new state and the
// action to fire, if any.
func Next(s SequenceState, in Input) (SequenceState, *Trigger) {
	n := clickCount(s)

	switch in {
	case InputClick:
		if n >= 0 && n < MaxClicks {
			return clickStates[n+1], nil
		}
		return SeqInvalid, nil

	case InputHold:
		// Hold actions fire on entry, not on finalize.
		if n >= 0 && n <= MaxHoldPrefix {
			return holdStates[n], &Trigger{Kind: TriggerHold, Index: n, From: s}
		}
		return SeqInvalid, nil

	case InputFinalize:
		if n >= 1 {
			return SeqIdle, &Trigger{Kind: TriggerClick, Index: n, From: s}
		}
		return SeqIdle, nil
	}
	return s, nil
}

// InputFor maps a classifier signal of the sequence-driving button to an
// accumulator input. Long presses drive nothing.
func InputFor(sig Signal) (Input, bool) {
	switch sig {
	case SignalShortPress:
		return InputClick, true
	case SignalHolding:
		return InputHold, true
	case SignalDone:
		return InputFinalize, true
	}
	return "", false
}

// Dispatcher runs the action named by a trigger.
type Dispatcher interface {
	Dispatch(Trigger)
}

// Accumulator counts consecutive clicks and click-then-hold combinations of
// one button and hands finished sequences to a Dispatcher.
type Accumulator struct {
	state    SequenceState
	dispatch Dispatcher
}

// NewAccumulator creates an idle accumulator.
func NewAccumulator(d Dispatcher) *Accumulator {
	return &Accumulator{state: SeqIdle, dispatch: d}
}

// State returns the current sequence state.
func (a *Accumulator) State() SequenceState {
	return a.state
}

// Apply advances the accumulator and dispatches any fired trigger.
func (a *Accumulator) Apply(in Input) *Trigger {
	next, trig := Next(a.state, in)
	a.state = next
	if trig != nil && a.dispatch != nil {
		a.dispatch.Dispatch(*trig)
	}
	return trig
}

// Feed applies the input mapped from sig, if any.
func (a *Accumulator) Feed(sig Signal) *Trigger {
	in, ok := InputFor(sig)
	if !ok {
		return nil
	}
	return a.Apply(in)
}
