package input

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/buttonman/internal/gpio"
)

// LevelReader reads the current raw level of a pin.
type LevelReader interface {
	ReadLevel(pin int) (bool, error)
}

// Timer is the handle returned by an AfterFunc implementation.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Debouncer turns a burst of contact bounce on one pin into at most one
// Event per genuine level change. The first edge starts a settle timer;
// edges arriving while it is pending are dropped. When the timer fires the
// pin is re-read and compared with the last confirmed level.
type Debouncer struct {
	pin    int
	mode   gpio.EdgeMode
	bounce time.Duration
	reader LevelReader
	queue  *Queue

	now       func() time.Time
	afterFunc AfterFunc

	busy atomic.Bool

	mu        sync.Mutex
	pending   Timer
	lastLevel bool
	stopped   bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(d *Debouncer) { d.now = now }
}

// WithAfterFunc overrides the timer used for the settle delay.
func WithAfterFunc(f AfterFunc) Option {
	return func(d *Debouncer) { d.afterFunc = f }
}

// NewDebouncer creates a debouncer for pin. The current level is read once
// to seed the last confirmed level.
func NewDebouncer(pin int, mode gpio.EdgeMode, bounce time.Duration, reader LevelReader, queue *Queue, opts ...Option) (*Debouncer, error) {
	d := &Debouncer{
		pin:       pin,
		mode:      mode,
		bounce:    bounce,
		reader:    reader,
		queue:     queue,
		now:       time.Now,
		afterFunc: realAfterFunc,
	}
	for _, opt := range opts {
		opt(d)
	}

	level, err := reader.ReadLevel(pin)
	if err != nil {
		return nil, fmt.Errorf("debounce pin %d: %w", pin, err)
	}
	d.lastLevel = level
	return d, nil
}

// Pin returns the pin this debouncer watches.
func (d *Debouncer) Pin() int {
	return d.pin
}

// OnEdge is the raw edge callback. It never blocks; the level and time it
// is given are ignored because the pin is re-read after the bounce window.
func (d *Debouncer) OnEdge(pin int, level bool, t time.Time) {
	if !d.busy.CompareAndSwap(false, true) {
		log.Debugf("debounce: pin %d edge dropped, verification pending", d.pin)
		return
	}

	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		d.busy.Store(false)
		return
	}

	timer := d.afterFunc(d.bounce, d.settle)
	d.mu.Lock()
	d.pending = timer
	d.mu.Unlock()
}

// Stop cancels a pending verification and stops the debouncer. Once Stop
// returns nothing more is pushed to the queue, including by a verification
// whose timer had already fired.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.pending != nil && d.pending.Stop() {
		d.busy.Store(false)
	}
	d.pending = nil
}

func (d *Debouncer) settle() {
	defer d.busy.Store(false)

	level, err := d.reader.ReadLevel(d.pin)
	if err != nil {
		log.Warnf("debounce: pin %d read error: %v", d.pin, err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		log.Debugf("debounce: pin %d stopped, level change dropped", d.pin)
		return
	}
	if d.accepts(d.lastLevel, level) {
		d.queue.Push(Event{Pin: d.pin, Level: level, Time: d.now()})
	}
	d.lastLevel = level
}

func (d *Debouncer) accepts(from, to bool) bool {
	switch d.mode {
	case gpio.EdgeFalling:
		return from && !to
	case gpio.EdgeRising:
		return !from && to
	default:
		return from != to
	}
}
