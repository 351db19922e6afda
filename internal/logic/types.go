// Package logic contains the pure button state machines.
// This package has NO external dependencies (no GPIO, timers, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// PressState is the state of one button's press classifier.
type PressState string

const (
	PressIdle     PressState = "idle"
	PressDown     PressState = "down"
	PressHeld     PressState = "held"
	PressReleased PressState = "released"
	PressUnheld   PressState = "unheld"
)

// Signal is emitted by a classifier transition.
type Signal string

const (
	SignalNone       Signal = ""
	SignalShortPress Signal = "short-press"
	SignalLongPress  Signal = "long-press"
	SignalHolding    Signal = "holding"
	SignalDone       Signal = "done"
)

// SequenceState is the state of the click-sequence accumulator.
type SequenceState string

const (
	SeqIdle    SequenceState = "idle"
	SeqInvalid SequenceState = "invalid"
	SeqC1      SequenceState = "c1"
	SeqC2      SequenceState = "c2"
	SeqC3      SequenceState = "c3"
	SeqC4      SequenceState = "c4"
	SeqC5      SequenceState = "c5"
	SeqC6      SequenceState = "c6"
	SeqH0      SequenceState = "H0"
	SeqH1      SequenceState = "H1"
	SeqH2      SequenceState = "H2"
	SeqH3      SequenceState = "H3"
)

// Input drives the sequence accumulator.
type Input string

const (
	InputClick    Input = "add-click"
	InputHold     Input = "add-hold"
	InputFinalize Input = "finalize"
)

// TriggerKind distinguishes click-count actions from hold actions.
type TriggerKind string

const (
	TriggerClick TriggerKind = "click"
	TriggerHold  TriggerKind = "hold"
	// TriggerBoot is raised once by the boot check, never by the accumulator.
	TriggerBoot TriggerKind = "boot"
)

// Trigger names the action slot a sequence transition fires.
type Trigger struct {
	Kind TriggerKind
	// Index is the click count (1..6) or the number of clicks before the
	// hold (0..3).
	Index int
	// From is the sequence state the trigger was raised from.
	From SequenceState
}

// Edge is one press or release of a button, used by the boot check.
type Edge struct {
	Pressed bool
	Time    time.Time
}
