package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/buttonman/internal/actions"
	"github.com/sweeney/buttonman/internal/gpio"
	"github.com/sweeney/buttonman/internal/input"
	"github.com/sweeney/buttonman/internal/logic"
)

const (
	pinKey1 = gpio.DefaultPinKey1
	pinKey2 = gpio.DefaultPinKey2
	period  = 100 * time.Millisecond
)

var t0 = time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type doneTimer struct{}

func (doneTimer) Stop() bool { return false }

// immediate settles a debounce check synchronously.
func immediate(_ time.Duration, f func()) input.Timer {
	f()
	return doneTimer{}
}

type recorder struct {
	actions []ActionReport
	inputs  []bool
	boots   []BootReport
	ticks   int
	last    State
	onTick  func()
}

func (r *recorder) Tick(s State) {
	r.ticks++
	r.last = s
	if r.onTick != nil {
		r.onTick()
	}
}
func (r *recorder) Action(a ActionReport) { r.actions = append(r.actions, a) }
func (r *recorder) Input(on bool)         { r.inputs = append(r.inputs, on) }
func (r *recorder) Boot(b BootReport)     { r.boots = append(r.boots, b) }

func (r *recorder) slots() []string {
	var out []string
	for _, a := range r.actions {
		out = append(out, a.Slot)
	}
	return out
}

type harness struct {
	panel  *Panel
	src    *gpio.FakeSource
	clock  *fakeClock
	obs    *recorder
	runner *actions.FakeRunner
	out    *gpio.FakeOutputs
}

func testConfig() Config {
	return Config{
		Key1:           pinKey1,
		Key2:           pinKey2,
		ActiveLow:      true,
		Period:         period,
		Debounce:       40 * time.Millisecond,
		BootDebounce:   45 * time.Millisecond,
		BootWindow:     6 * time.Second,
		BootHold:       4 * time.Second,
		HoldPeriod:     logic.DefaultHoldPeriod,
		ReleaseTimeout: logic.DefaultReleaseTimeout,
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		src:    gpio.NewFakeSource(pinKey1, pinKey2),
		clock:  &fakeClock{now: t0},
		obs:    &recorder{},
		runner: actions.NewFakeRunner(),
		out:    gpio.NewFakeOutputs(),
	}
	clicks := map[int]actions.Spec{}
	for n := 1; n <= logic.MaxClicks; n++ {
		clicks[n] = actions.Spec{Kind: actions.KindNone}
	}
	clicks[3] = actions.Spec{Kind: actions.KindBatteryCheck, Command: []string{"battchk"}}
	holds := map[int]actions.Spec{}
	for k := 0; k <= logic.MaxHoldPrefix; k++ {
		holds[k] = actions.Spec{Kind: actions.KindNone}
	}
	table, err := actions.NewTable(clicks, holds, actions.DefaultBoot(), actions.Deps{
		Runner:  h.runner,
		Outputs: h.out,
		Beeper:  actions.NewBeeper(h.out, false),
		APStart: actions.DefaultAPStart(),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	all := append([]Option{
		WithClock(h.clock.Now),
		WithAfterFunc(immediate),
		WithObserver(h.obs),
	}, opts...)
	h.panel = New(testConfig(), h.src, table, all...)
	return h
}

func (h *harness) press(pin int)   { h.src.Edge(pin, false, h.clock.Now()) }
func (h *harness) release(pin int) { h.src.Edge(pin, true, h.clock.Now()) }

func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(period)
		h.panel.Spin(h.clock.Now())
	}
}

func (h *harness) click(pin int) {
	h.press(pin)
	h.tick(1)
	h.release(pin)
	h.tick(1)
}

func TestClickSequencesFireOnce(t *testing.T) {
	for n := 1; n <= logic.MaxClicks; n++ {
		if n == 3 {
			continue // battery check, covered separately
		}
		h := newHarness(t)
		if err := h.panel.Enable(); err != nil {
			t.Fatal(err)
		}

		for i := 0; i < n; i++ {
			h.click(pinKey2)
		}
		if len(h.obs.actions) != 0 {
			t.Fatalf("n=%d: action before quiet period: %v", n, h.obs.slots())
		}
		h.tick(6)

		want := "click-" + string(rune('0'+n))
		if got := h.obs.slots(); len(got) != 1 || got[0] != want {
			t.Errorf("n=%d: expected [%s], got %v", n, want, got)
		}
		if h.obs.last.Sequence != logic.SeqIdle {
			t.Errorf("n=%d: expected idle sequence, got %s", n, h.obs.last.Sequence)
		}
	}
}

func TestSevenClicksFireNothing(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		h.click(pinKey2)
	}
	if h.obs.last.Sequence != logic.SeqInvalid {
		t.Errorf("expected invalid, got %s", h.obs.last.Sequence)
	}
	h.tick(10)
	if len(h.obs.actions) != 0 {
		t.Errorf("expected no action, got %v", h.obs.slots())
	}
}

func TestHoldFiresWhileHeld(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}

	h.click(pinKey2)
	h.press(pinKey2)
	h.tick(5)

	if got := h.obs.slots(); len(got) != 1 || got[0] != "hold-1" {
		t.Fatalf("expected hold-1 while still held, got %v", got)
	}
	if !h.obs.last.Keys[1].Pressed || h.obs.last.Keys[1].State != logic.PressHeld {
		t.Errorf("expected key 2 held, got %+v", h.obs.last.Keys[1])
	}

	h.tick(20)
	h.release(pinKey2)
	h.tick(10)
	if len(h.obs.actions) != 1 {
		t.Errorf("expected exactly one action, got %v", h.obs.slots())
	}
}

func TestKey1DoesNotDriveSequence(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		h.click(pinKey1)
	}
	h.press(pinKey1)
	h.tick(10)
	h.release(pinKey1)
	h.tick(10)

	if len(h.obs.actions) != 0 {
		t.Errorf("key 1 fired %v", h.obs.slots())
	}
	if h.obs.last.Keys[0].LastSignal != logic.SignalDone {
		t.Errorf("expected key 1 classified, got %q", h.obs.last.Keys[0].LastSignal)
	}
}

func TestBlockingActionSuspendsInput(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}

	var subscribedDuringRun bool
	h.runner.OnRun = func(actions.Call) {
		subscribedDuringRun = h.src.Subscribed(pinKey2)
		// Presses during the run are not seen.
		h.press(pinKey2)
		h.release(pinKey2)
	}

	for i := 0; i < 3; i++ {
		h.click(pinKey2)
	}
	h.tick(6)

	if got := h.obs.slots(); len(got) != 1 || got[0] != "click-3" {
		t.Fatalf("expected click-3, got %v", got)
	}
	if subscribedDuringRun {
		t.Error("expected key 2 unsubscribed while battery check runs")
	}
	if !h.src.Subscribed(pinKey2) || !h.panel.Enabled() {
		t.Error("expected input re-enabled after battery check")
	}
	h.tick(10)
	if len(h.obs.actions) != 1 {
		t.Errorf("presses during the run leaked: %v", h.obs.slots())
	}
	want := []bool{true, false, true}
	if len(h.obs.inputs) != len(want) {
		t.Fatalf("expected input transitions %v, got %v", want, h.obs.inputs)
	}
	for i := range want {
		if h.obs.inputs[i] != want[i] {
			t.Errorf("input transition %d: expected %v, got %v", i, want[i], h.obs.inputs[i])
		}
	}
}

func TestPanickingActionIsContained(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}
	h.runner.OnRun = func(actions.Call) { panic("battery sensor exploded") }

	for i := 0; i < 3; i++ {
		h.click(pinKey2)
	}
	h.tick(6)

	if len(h.obs.actions) != 1 {
		t.Fatalf("expected one report, got %v", h.obs.slots())
	}
	err := h.obs.actions[0].Err
	if err == nil || !strings.Contains(err.Error(), "battery sensor exploded") {
		t.Errorf("expected panic reported, got %v", err)
	}
	if !h.panel.Enabled() {
		t.Error("expected input restored after panic")
	}

	// The panel keeps working.
	h.click(pinKey2)
	h.tick(6)
	if got := h.obs.slots(); len(got) != 2 || got[1] != "click-1" {
		t.Errorf("expected click-1 after recovery, got %v", got)
	}
}

func TestFailingActionReported(t *testing.T) {
	h := newHarness(t)
	if err := h.panel.Enable(); err != nil {
		t.Fatal(err)
	}
	h.runner.Errors["battchk"] = errors.New("exit status 3")

	for i := 0; i < 3; i++ {
		h.click(pinKey2)
	}
	h.tick(6)

	if len(h.obs.actions) != 1 || h.obs.actions[0].Err == nil {
		t.Fatalf("expected failed action reported, got %+v", h.obs.actions)
	}
	if h.obs.actions[0].Kind != actions.KindBatteryCheck {
		t.Errorf("expected battery-check kind, got %s", h.obs.actions[0].Kind)
	}
}

func TestUnboundSlot(t *testing.T) {
	h := newHarness(t)
	table, err := actions.NewTable(nil, nil, actions.Spec{}, actions.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	h.panel.table = table
	h.panel.Dispatch(logic.Trigger{Kind: logic.TriggerClick, Index: 2})
	if len(h.obs.actions) != 0 {
		t.Errorf("expected nothing dispatched, got %v", h.obs.slots())
	}
}

func TestUnknownPinIgnored(t *testing.T) {
	h := newHarness(t)
	h.panel.Queue().Push(input.Event{Pin: 99, Level: false, Time: t0})
	h.tick(1)
	if h.obs.last.Keys[0].State != logic.PressIdle || h.obs.last.Keys[1].State != logic.PressIdle {
		t.Errorf("unexpected state %+v", h.obs.last.Keys)
	}
}

func TestEventsDrainedInOrder(t *testing.T) {
	h := newHarness(t)
	q := h.panel.Queue()
	q.Push(input.Event{Pin: pinKey2, Level: false, Time: t0})
	q.Push(input.Event{Pin: pinKey2, Level: true, Time: t0.Add(50 * time.Millisecond)})
	h.tick(1)

	if h.obs.last.Keys[1].LastSignal != logic.SignalShortPress {
		t.Errorf("expected short press from queued pair, got %q", h.obs.last.Keys[1].LastSignal)
	}
	if h.obs.last.Sequence != logic.SeqC1 {
		t.Errorf("expected c1, got %s", h.obs.last.Sequence)
	}
	if h.obs.last.QueueDepth != 0 {
		t.Errorf("expected empty queue, got %d", h.obs.last.QueueDepth)
	}
}

func TestEnableFailure(t *testing.T) {
	h := newHarness(t)
	h.src.SubscribeError = errors.New("line busy")

	if err := h.panel.Enable(); err == nil {
		t.Fatal("expected error")
	}
	if h.panel.Enabled() {
		t.Error("panel should stay disabled")
	}
}

func TestEnableDisableIdempotent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if err := h.panel.Enable(); err != nil {
			t.Fatal(err)
		}
	}
	subs, _ := h.src.Counts()
	if subs != 2 {
		t.Errorf("expected 2 subscriptions, got %d", subs)
	}
	for i := 0; i < 2; i++ {
		if err := h.panel.Disable(); err != nil {
			t.Fatal(err)
		}
	}
	_, unsubs := h.src.Counts()
	if unsubs != 2 {
		t.Errorf("expected 2 unsubscriptions, got %d", unsubs)
	}
}

func TestPace(t *testing.T) {
	tests := []struct {
		name       string
		prev, now  time.Time
		wantTarget time.Time
		wantSleep  time.Duration
	}{
		{"on time", t0, t0, t0.Add(period), period},
		{"work took 30ms", t0, t0.Add(30 * time.Millisecond), t0.Add(period), 70 * time.Millisecond},
		{"overran", t0, t0.Add(150 * time.Millisecond), t0.Add(150 * time.Millisecond), 0},
		{"stalled", t0, t0.Add(5 * time.Second), t0.Add(5 * time.Second), 0},
		{"clock stepped back", t0, t0.Add(-time.Second), t0.Add(-time.Second + period), period},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, d := pace(tt.prev, tt.now, period)
			if !target.Equal(tt.wantTarget) || d != tt.wantSleep {
				t.Errorf("expected (%v, %v), got (%v, %v)", tt.wantTarget, tt.wantSleep, target, d)
			}
		})
	}
}

func TestRunCompensatesForWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	var h *harness
	wait := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		h.clock.Advance(d)
		if len(sleeps) == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	h = newHarness(t, WithWait(wait))
	h.obs.onTick = func() { h.clock.Advance(30 * time.Millisecond) }

	if err := h.panel.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, d := range sleeps {
		if d != 70*time.Millisecond {
			t.Errorf("sleep %d: expected 70ms, got %v", i, d)
		}
	}
	if h.obs.ticks != 5 {
		t.Errorf("expected 5 ticks, got %d", h.obs.ticks)
	}
	if h.panel.Enabled() || h.src.Subscribed(pinKey2) {
		t.Error("expected input disabled after Run returns")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.panel.Run(ctx); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
	if h.obs.ticks != 0 {
		t.Errorf("expected no ticks, got %d", h.obs.ticks)
	}
}

func TestRunRealTimer(t *testing.T) {
	src := gpio.NewFakeSource(pinKey1, pinKey2)
	table, err := actions.NewTable(nil, nil, actions.Spec{}, actions.Deps{})
	if err != nil {
		t.Fatal(err)
	}
	obs := &recorder{}
	cfg := testConfig()
	cfg.Period = 5 * time.Millisecond
	p := New(cfg, src, table, WithObserver(obs))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if obs.ticks < 3 {
		t.Errorf("expected several ticks, got %d", obs.ticks)
	}
}
