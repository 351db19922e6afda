// Package scheduler runs the button panel: it drains debounced edges, drives
// the press classifiers and the sequence accumulator on a fixed period and
// runs the actions finished sequences fire.
//
// Everything except the edge callbacks runs on the goroutine that calls Run
// or BootCheck. Actions run synchronously on that goroutine, so a blocking
// action pauses classification until it returns.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/buttonman/internal/actions"
	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/input"
	"github.com/sweeney/buttonman/internal/logic"
)

// Config holds the panel wiring and timing.
type Config struct {
	Key1 int
	Key2 int
	// ActiveLow means a pressed button reads low.
	ActiveLow bool

	Period         time.Duration
	Debounce       time.Duration
	BootDebounce   time.Duration
	BootWindow     time.Duration
	BootHold       time.Duration
	HoldPeriod     time.Duration
	ReleaseTimeout time.Duration
}

// KeyState is a snapshot of one button.
type KeyState struct {
	Pin        int
	Pressed    bool
	State      logic.PressState
	LastSignal logic.Signal
}

// State is a snapshot of the panel taken on the scheduler goroutine.
type State struct {
	Keys         [2]KeyState
	Sequence     logic.SequenceState
	InputEnabled bool
	QueueDepth   int
}

// ActionReport describes one dispatched action.
type ActionReport struct {
	Time     time.Time
	Trigger  logic.Trigger
	Slot     string
	Kind     actions.Kind
	Duration time.Duration
	Err      error
}

// BootReport is the outcome of the boot check.
type BootReport struct {
	Ran       bool
	Durations []time.Duration
	Discarded int
	Triggered bool
}

// Longest returns the longest held duration seen during the boot window.
func (r BootReport) Longest() time.Duration {
	var longest time.Duration
	for _, d := range r.Durations {
		if d > longest {
			longest = d
		}
	}
	return longest
}

// Observer is told about panel activity. Calls are made on the scheduler
// goroutine and must not block.
type Observer interface {
	Tick(State)
	Action(ActionReport)
	Input(enabled bool)
	Boot(BootReport)
}

type nopObserver struct{}

func (nopObserver) Tick(State)          {}
func (nopObserver) Action(ActionReport) {}
func (nopObserver) Input(bool)          {}
func (nopObserver) Boot(BootReport)     {}

// Option configures a Panel.
type Option func(*Panel)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Panel) { p.now = now }
}

// WithWait overrides how the panel sleeps between ticks and during the boot
// window. The function returns early with an error when ctx ends.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Panel) { p.wait = wait }
}

// WithAfterFunc overrides the debounce settle timer.
func WithAfterFunc(f input.AfterFunc) Option {
	return func(p *Panel) { p.afterFunc = f }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(p *Panel) { p.obs = o }
}

// Panel is the scheduler context. It owns the queue, the classifiers, the
// accumulator and the debouncers.
type Panel struct {
	cfg   Config
	src   gpio.EdgeSource
	table *actions.Table
	queue *input.Queue

	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
	afterFunc input.AfterFunc
	obs       Observer

	key1 *logic.Classifier
	key2 *logic.Classifier
	seq  *logic.Accumulator
	last [2]logic.Signal

	debouncers []*input.Debouncer
	enabled    bool

	// ctx is handed to actions. It is set by Run and BootCheck.
	ctx context.Context
}

// New creates a panel with input disabled.
func New(cfg Config, src gpio.EdgeSource, table *actions.Table, opts ...Option) *Panel {
	p := &Panel{
		cfg:   cfg,
		src:   src,
		table: table,
		queue: input.NewQueue(),
		now:   time.Now,
		wait:  sleep,
		obs:   nopObserver{},
		key1:  logic.NewClassifier(cfg.HoldPeriod, cfg.ReleaseTimeout),
		key2:  logic.NewClassifier(cfg.HoldPeriod, cfg.ReleaseTimeout),
		ctx:   context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.seq = logic.NewAccumulator(p)
	return p
}

// Queue returns the event queue fed by the debouncers.
func (p *Panel) Queue() *input.Queue {
	return p.queue
}

// Enable subscribes both buttons with the steady-state debounce window.
func (p *Panel) Enable() error {
	return p.enableWith(p.cfg.Debounce)
}

func (p *Panel) enableWith(bounce time.Duration) error {
	if p.enabled {
		return nil
	}

	var opts []input.Option
	opts = append(opts, input.WithClock(p.now))
	if p.afterFunc != nil {
		opts = append(opts, input.WithAfterFunc(p.afterFunc))
	}

	for _, pin := range []int{p.cfg.Key1, p.cfg.Key2} {
		d, err := input.NewDebouncer(pin, gpio.EdgeBoth, bounce, p.src, p.queue, opts...)
		if err == nil {
			err = p.src.Subscribe(pin, gpio.EdgeBoth, d.OnEdge)
		}
		if err != nil {
			p.teardown()
			return fmt.Errorf("enable pin %d: %w", pin, err)
		}
		p.debouncers = append(p.debouncers, d)
	}

	p.enabled = true
	log.Debugf("panel: input enabled, debounce %v", bounce)
	p.obs.Input(true)
	return nil
}

// Disable unsubscribes both buttons and cancels pending debounce checks.
// Events already queued are kept.
func (p *Panel) Disable() error {
	if !p.enabled {
		return nil
	}
	err := p.teardown()
	p.enabled = false
	log.Debug("panel: input disabled")
	p.obs.Input(false)
	return err
}

func (p *Panel) teardown() error {
	var first error
	for _, d := range p.debouncers {
		if err := p.src.Unsubscribe(d.Pin()); err != nil && first == nil {
			first = fmt.Errorf("disable pin %d: %w", d.Pin(), err)
		}
		d.Stop()
	}
	p.debouncers = nil
	return first
}

// Enabled reports whether edges are being delivered.
func (p *Panel) Enabled() bool {
	return p.enabled
}

func (p *Panel) pressed(level bool) bool {
	if p.cfg.ActiveLow {
		return !level
	}
	return level
}

func (p *Panel) pressedLevel() bool {
	return !p.cfg.ActiveLow
}

// Spin runs one scheduler iteration at now: queued edges first, in order,
// then the time-based transitions of both classifiers.
func (p *Panel) Spin(now time.Time) {
	for _, e := range p.queue.Drain() {
		p.handle(e)
	}
	p.feed(0, p.key1.Cycle(now))
	p.feed(1, p.key2.Cycle(now))
	p.obs.Tick(p.State())
}

func (p *Panel) handle(e input.Event) {
	var idx int
	var c *logic.Classifier
	switch e.Pin {
	case p.cfg.Key1:
		idx, c = 0, p.key1
	case p.cfg.Key2:
		idx, c = 1, p.key2
	default:
		log.Warnf("panel: event for unknown pin %d", e.Pin)
		return
	}

	if p.pressed(e.Level) {
		p.feed(idx, c.Pushed(e.Time))
	} else {
		p.feed(idx, c.Released(e.Time))
	}
}

// feed records a classifier signal. Only key 2 drives the sequence.
func (p *Panel) feed(idx int, sig logic.Signal) {
	if sig == logic.SignalNone {
		return
	}
	p.last[idx] = sig
	log.Debugf("panel: key%d %s", idx+1, sig)
	if idx == 1 {
		before := p.seq.State()
		p.seq.Feed(sig)
		if after := p.seq.State(); after != before {
			log.Debugf("panel: sequence %s -> %s", before, after)
		}
	}
}

// State returns a snapshot of the panel.
func (p *Panel) State() State {
	key := func(idx, pin int, c *logic.Classifier) KeyState {
		s := c.State()
		return KeyState{
			Pin:        pin,
			Pressed:    s == logic.PressDown || s == logic.PressHeld,
			State:      s,
			LastSignal: p.last[idx],
		}
	}
	return State{
		Keys: [2]KeyState{
			key(0, p.cfg.Key1, p.key1),
			key(1, p.cfg.Key2, p.key2),
		},
		Sequence:     p.seq.State(),
		InputEnabled: p.enabled,
		QueueDepth:   p.queue.Len(),
	}
}

// Dispatch runs the action bound to tr. Failures and panics are logged and
// never reach the caller. Input is restored if the action left it disabled.
func (p *Panel) Dispatch(tr logic.Trigger) {
	slot, ok := p.table.For(tr)
	if !ok {
		log.Infof("panel: no action bound to %s %d", tr.Kind, tr.Index)
		return
	}

	start := p.now()
	wasEnabled := p.enabled
	log.Infof("panel: %s fired (%s)", slot.Name, slot.Spec.Kind)
	err := p.invoke(slot)
	if err != nil {
		log.Errorf("panel: %s failed: %v", slot.Name, err)
	}
	if wasEnabled && !p.enabled {
		log.Warnf("panel: %s left input disabled, re-enabling", slot.Name)
		if err := p.Enable(); err != nil {
			log.Errorf("panel: %v", err)
		}
	}
	p.obs.Action(ActionReport{
		Time:     start,
		Trigger:  tr,
		Slot:     slot.Name,
		Kind:     slot.Spec.Kind,
		Duration: p.now().Sub(start),
		Err:      err,
	})
}

func (p *Panel) invoke(slot actions.Slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("panel: %s panic stack:\n%s", slot.Name, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return slot.Handler(p.ctx, p)
}

// Run spins every period until ctx is cancelled. Wake times are scheduled
// from the previous target, not from when the work finished, so the period
// does not drift. Input is enabled on entry and disabled on return.
func (p *Panel) Run(ctx context.Context) error {
	p.ctx = ctx
	if err := p.Enable(); err != nil {
		return err
	}
	defer p.Disable()

	log.Infof("panel: running, period %v", p.cfg.Period)
	next := p.now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		p.Spin(p.now())

		var d time.Duration
		next, d = pace(next, p.now(), p.cfg.Period)
		if err := p.wait(ctx, d); err != nil {
			return nil
		}
	}
}

// pace returns the next wake target after prev and how long to sleep from
// now to reach it. After a stall longer than a period the schedule restarts
// from now instead of running the missed ticks back to back.
func pace(prev, now time.Time, period time.Duration) (time.Time, time.Duration) {
	target := prev.Add(period)
	d := target.Sub(now)
	if d < 0 {
		return now, 0
	}
	if d > period {
		// Clock stepped backwards.
		return now.Add(period), period
	}
	return target, d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
