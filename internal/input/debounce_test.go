package input

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/buttonman/internal/gpio"
)

// manualTimers captures scheduled settle callbacks so tests decide when
// the bounce window ends.
type manualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.pending = append(m.pending, t)
	return t
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fireAll runs every scheduled, unstopped callback once.
func (m *manualTimers) fireAll() int {
	m.mu.Lock()
	timers := m.pending
	m.pending = nil
	m.mu.Unlock()

	n := 0
	for _, t := range timers {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.f()
		n++
	}
	return n
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestDebouncer(t *testing.T, mode gpio.EdgeMode) (*Debouncer, *gpio.FakeSource, *Queue, *manualTimers) {
	t.Helper()
	src := gpio.NewFakeSource(23)
	q := NewQueue()
	timers := &manualTimers{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d, err := NewDebouncer(23, mode, 40*time.Millisecond, src, q,
		WithClock(fixedClock(now)), WithAfterFunc(timers.afterFunc))
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}
	return d, src, q, timers
}

func TestDebouncerEmitsOnGenuineChange(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	src.SetLevel(23, false)
	d.OnEdge(23, false, now)
	if q.Len() != 0 {
		t.Fatal("no event expected before bounce window elapses")
	}

	timers.fireAll()
	events := q.Drain()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Pin != 23 || events[0].Level {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if !events[0].Time.Equal(now) {
		t.Errorf("expected event stamped at settle time, got %v", events[0].Time)
	}
}

func TestDebouncerSuppressesBurst(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Contact bounce: five edges inside one window.
	for i := 0; i < 5; i++ {
		level := i%2 == 1
		src.SetLevel(23, level)
		d.OnEdge(23, level, now.Add(time.Duration(i)*time.Millisecond))
	}
	src.SetLevel(23, false)

	if n := timers.fireAll(); n != 1 {
		t.Fatalf("expected exactly 1 pending verification, got %d", n)
	}
	if got := len(q.Drain()); got != 1 {
		t.Errorf("expected 1 event from bounce burst, got %d", got)
	}
}

func TestDebouncerIgnoresBounceBackToSameLevel(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Glitch low then back high before the window ends.
	src.SetLevel(23, false)
	d.OnEdge(23, false, now)
	src.SetLevel(23, true)

	timers.fireAll()
	if got := q.Len(); got != 0 {
		t.Errorf("expected no event for glitch, got %d", got)
	}
}

func TestDebouncerAcceptsNextEdgeAfterSettle(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	src.SetLevel(23, false)
	d.OnEdge(23, false, now)
	timers.fireAll()

	src.SetLevel(23, true)
	d.OnEdge(23, true, now.Add(200*time.Millisecond))
	timers.fireAll()

	events := q.Drain()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Level || !events[1].Level {
		t.Errorf("expected down then up, got %+v", events)
	}
}

func TestDebouncerEdgePolicy(t *testing.T) {
	tests := []struct {
		name   string
		mode   gpio.EdgeMode
		levels []bool // successive settled levels, starting from high
		want   int
	}{
		{"both", gpio.EdgeBoth, []bool{false, true, false}, 3},
		{"falling", gpio.EdgeFalling, []bool{false, true, false}, 2},
		{"rising", gpio.EdgeRising, []bool{false, true, false}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, src, q, timers := newTestDebouncer(t, tt.mode)
			now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
			for _, level := range tt.levels {
				src.SetLevel(23, level)
				d.OnEdge(23, level, now)
				timers.fireAll()
			}
			if got := q.Len(); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestDebouncerReadErrorReleasesGuard(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	src.ReadError = errors.New("gpio fault")
	d.OnEdge(23, false, now)
	timers.fireAll()
	if q.Len() != 0 {
		t.Fatal("no event expected on read error")
	}

	src.ReadError = nil
	src.SetLevel(23, false)
	d.OnEdge(23, false, now)
	if n := timers.fireAll(); n != 1 {
		t.Fatalf("guard should be released after read error, got %d verifications", n)
	}
	if q.Len() != 1 {
		t.Errorf("expected 1 event after recovery, got %d", q.Len())
	}
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	src.SetLevel(23, false)
	d.OnEdge(23, false, now)
	d.Stop()

	if n := timers.fireAll(); n != 0 {
		t.Errorf("expected stopped timer not to fire, got %d", n)
	}
	if q.Len() != 0 {
		t.Error("no event expected after Stop")
	}

	// A stopped debouncer ignores later edges.
	d.OnEdge(23, false, now)
	if n := timers.fireAll(); n != 0 {
		t.Errorf("expected no verification after Stop, got %d", n)
	}
}

func TestDebouncerStopDropsRunningVerification(t *testing.T) {
	d, src, q, timers := newTestDebouncer(t, gpio.EdgeBoth)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	src.SetLevel(23, false)
	d.OnEdge(23, false, now)

	// The timer has fired but its callback has not pushed yet.
	timers.mu.Lock()
	pending := timers.pending[0]
	timers.mu.Unlock()
	pending.fired = true

	d.Stop()
	pending.f()

	if q.Len() != 0 {
		t.Errorf("expected no event after Stop, got %d", q.Len())
	}
}

func TestNewDebouncerReadError(t *testing.T) {
	src := gpio.NewFakeSource(23)
	src.ReadError = errors.New("gpio fault")
	if _, err := NewDebouncer(23, gpio.EdgeBoth, 40*time.Millisecond, src, NewQueue()); err == nil {
		t.Error("expected error when initial level cannot be read")
	}
}

func TestDebouncerRealTimer(t *testing.T) {
	src := gpio.NewFakeSource(23)
	q := NewQueue()
	d, err := NewDebouncer(23, gpio.EdgeBoth, 5*time.Millisecond, src, q)
	if err != nil {
		t.Fatalf("NewDebouncer: %v", err)
	}

	src.SetLevel(23, false)
	d.OnEdge(23, false, time.Now())
	d.OnEdge(23, false, time.Now())

	deadline := time.Now().Add(time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := q.Len(); got != 1 {
		t.Errorf("expected 1 event, got %d", got)
	}
}
