// Package actions implements the handlers fired by finished button sequences
// and the table that maps sequence slots to them.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/logic"
)

// Kind selects a built-in handler.
type Kind string

const (
	KindNone         Kind = "none"
	KindScript       Kind = "script"
	KindBatteryCheck Kind = "battery-check"
	KindAPDisable    Kind = "ap-disable"
	KindAPEnable     Kind = "ap-enable"
	KindStopAll      Kind = "stop-all"
	KindStopAllZero  Kind = "stop-all-zero"
	KindDiagnostic   Kind = "diagnostic"
)

var validKinds = map[Kind]bool{
	KindNone:         true,
	KindScript:       true,
	KindBatteryCheck: true,
	KindAPDisable:    true,
	KindAPEnable:     true,
	KindStopAll:      true,
	KindStopAllZero:  true,
	KindDiagnostic:   true,
}

// needsCommand lists kinds whose Spec.Command is mandatory.
var needsCommand = map[Kind]bool{
	KindScript:       true,
	KindBatteryCheck: true,
	KindDiagnostic:   true,
}

// Spec describes one table slot as written in the config file.
type Spec struct {
	Kind    Kind     `yaml:"kind"`
	Command []string `yaml:"command,omitempty"`
}

// Validate checks that the kind is known and has the command it needs.
func (s Spec) Validate() error {
	if !validKinds[s.Kind] {
		return fmt.Errorf("unknown action kind %q", s.Kind)
	}
	if needsCommand[s.Kind] && (len(s.Command) == 0 || s.Command[0] == "") {
		return fmt.Errorf("action kind %q requires a command", s.Kind)
	}
	return nil
}

// InputControl suspends and resumes edge delivery while a handler blocks.
type InputControl interface {
	Disable() error
	Enable() error
}

// Handler performs one action. It runs on the scheduler goroutine and may block.
type Handler func(ctx context.Context, in InputControl) error

// Stopper stops every process in the process registry.
type Stopper interface {
	CloseAll(ctx context.Context, timeout time.Duration) (terminated, alive []int, err error)
}

// Deps are the collaborators built-in handlers act on.
type Deps struct {
	Runner   Runner
	Registry Stopper
	Outputs  gpio.Outputs
	Beeper   *Beeper

	// WifiReset and APStart are run in order by ap-disable and ap-enable.
	WifiReset [][]string
	APStart   [][]string

	// Zero is run by stop-all-zero after outputs are cleared (e.g. a chassis stop script).
	Zero []string

	// StopTimeout bounds how long close-all waits for processes to exit.
	StopTimeout time.Duration
}

// Slot is a resolved table entry.
type Slot struct {
	Name    string
	Spec    Spec
	Handler Handler
}

// Table maps finished sequences to handlers. It is immutable after NewTable.
type Table struct {
	clicks map[int]Slot
	holds  map[int]Slot
	boot   Slot
}

// NewTable validates every spec and binds it to a handler.
func NewTable(clicks, holds map[int]Spec, boot Spec, deps Deps) (*Table, error) {
	t := &Table{
		clicks: make(map[int]Slot),
		holds:  make(map[int]Slot),
	}

	var errs []error
	for n, spec := range clicks {
		if n < 1 || n > logic.MaxClicks {
			errs = append(errs, fmt.Errorf("click %d: out of range 1..%d", n, logic.MaxClicks))
			continue
		}
		slot, err := bind(fmt.Sprintf("click-%d", n), spec, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.clicks[n] = slot
	}
	for k, spec := range holds {
		if k < 0 || k > logic.MaxHoldPrefix {
			errs = append(errs, fmt.Errorf("hold %d: out of range 0..%d", k, logic.MaxHoldPrefix))
			continue
		}
		slot, err := bind(fmt.Sprintf("hold-%d", k), spec, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t.holds[k] = slot
	}
	slot, err := bind("boot", boot, deps)
	if err != nil {
		errs = append(errs, err)
	}
	t.boot = slot

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// For returns the slot a trigger fires.
func (t *Table) For(tr logic.Trigger) (Slot, bool) {
	var slot Slot
	var ok bool
	switch tr.Kind {
	case logic.TriggerClick:
		slot, ok = t.clicks[tr.Index]
	case logic.TriggerHold:
		slot, ok = t.holds[tr.Index]
	case logic.TriggerBoot:
		slot, ok = t.boot, t.boot.Handler != nil
	}
	return slot, ok
}

// Slots returns every bound slot name with its kind.
func (t *Table) Slots() map[string]Kind {
	out := make(map[string]Kind, len(t.clicks)+len(t.holds)+1)
	for _, s := range t.clicks {
		out[s.Name] = s.Spec.Kind
	}
	for _, s := range t.holds {
		out[s.Name] = s.Spec.Kind
	}
	out[t.boot.Name] = t.boot.Spec.Kind
	return out
}

// SlotNames returns the bound slot names in a stable order.
func (t *Table) SlotNames() []string {
	slots := t.Slots()
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func bind(name string, spec Spec, deps Deps) (Slot, error) {
	if spec.Kind == "" {
		spec.Kind = KindNone
	}
	if err := spec.Validate(); err != nil {
		return Slot{}, fmt.Errorf("%s: %w", name, err)
	}

	var h Handler
	switch spec.Kind {
	case KindNone:
		h = noop(name)
	case KindScript:
		h = script(deps.Runner, spec.Command)
	case KindBatteryCheck:
		h = blocking(deps.Runner, spec.Command)
	case KindDiagnostic:
		h = spawn(deps.Runner, spec.Command)
	case KindAPDisable:
		h = apDisable(deps)
	case KindAPEnable:
		h = apEnable(deps)
	case KindStopAll:
		h = stopAll(deps)
	case KindStopAllZero:
		h = stopAllZero(deps)
	}
	return Slot{Name: name, Spec: spec, Handler: h}, nil
}

// DefaultClicks is the stock click table.
func DefaultClicks() map[int]Spec {
	return map[int]Spec{
		1: {Kind: KindScript, Command: []string{"/home/pi/program1.sh"}},
		2: {Kind: KindScript, Command: []string{"/home/pi/program2.sh"}},
		3: {Kind: KindBatteryCheck, Command: []string{"sudo", "python3", "/home/pi/boot/battchk.py", "--__listen_button_exit"}},
		4: {Kind: KindAPDisable},
		5: {Kind: KindScript, Command: []string{"/home/pi/program5.sh"}},
		6: {Kind: KindScript, Command: []string{"/home/pi/program6.sh"}},
	}
}

// DefaultHolds is the stock hold table.
func DefaultHolds() map[int]Spec {
	return map[int]Spec{
		0: {Kind: KindStopAll},
		1: {Kind: KindStopAllZero},
		2: {Kind: KindDiagnostic, Command: []string{"sudo", "python3", "/home/pi/boot/hardware_test.py"}},
		3: {Kind: KindAPEnable},
	}
}

// DefaultBoot is the action fired by a long hold of key 1 during boot.
func DefaultBoot() Spec {
	return Spec{Kind: KindAPEnable}
}

// DefaultBootScript is started once after the boot check.
func DefaultBootScript() []string {
	return []string{"/home/pi/boot.sh"}
}

// DefaultWifiReset stops the access point and brings station mode back.
func DefaultWifiReset() [][]string {
	return [][]string{
		{"systemctl", "stop", "hw_wifi.service"},
		{"systemctl", "restart", "wpa_supplicant.service"},
		{"systemctl", "restart", "dhcpcd.service"},
	}
}

// DefaultAPStart clears the saved network config and restarts the access point service.
func DefaultAPStart() [][]string {
	return [][]string{
		{"sh", "-c", "rm -rf /etc/Hiwonder/*"},
		{"systemctl", "restart", "hw_wifi.service"},
	}
}
