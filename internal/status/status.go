// Package status provides a thread-safe status tracker for the buttonman daemon.
// It is read by the HTTP handlers, the websocket hub and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/buttonman/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs     int64
	DebounceMs int64
	HoldMs     int64
	// HeartbeatMs is zero when MQTT is disabled.
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Key1Pin     int
	Key2Pin     int
	// Slots maps slot names to action kinds.
	Slots map[string]string
}

// Key is the state of one button.
type Key struct {
	Pin        int
	Pressed    bool
	State      logic.PressState
	LastSignal logic.Signal
}

// Panel is the scheduler-side state reported every tick.
type Panel struct {
	Keys         [2]Key
	Sequence     logic.SequenceState
	InputEnabled bool
	QueueDepth   int
}

// Action describes the most recent dispatched action.
type Action struct {
	Time     time.Time
	Slot     string
	Kind     string
	Trigger  logic.TriggerKind
	Index    int
	Duration time.Duration
	Error    string
}

// Boot is the outcome of the boot check.
type Boot struct {
	Ran       bool
	Presses   int
	Discarded int
	Longest   time.Duration
	Triggered bool
}

// Counts tallies fired actions per slot.
type Counts struct {
	Clicks   [logic.MaxClicks + 1]int
	Holds    [logic.MaxHoldPrefix + 1]int
	Boot     int
	Failures int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Panel         Panel
	Counts        Counts
	LastAction    *Action
	Boot          Boot
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	// MQTTBuffered counts messages held until the broker is reachable.
	MQTTBuffered int
	Network      *NetworkInfo
	Config       Config
	// Revision increases whenever anything other than Now changes.
	Revision uint64
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Panel: Panel{
				Keys: [2]Key{
					{Pin: cfg.Key1Pin, State: logic.PressIdle},
					{Pin: cfg.Key2Pin, State: logic.PressIdle},
				},
				Sequence: logic.SeqIdle,
			},
		},
	}
}

// UpdatePanel stores the panel state. Called from the scheduler on every
// tick, so the revision only moves when the state actually changed.
func (t *Tracker) UpdatePanel(p Panel) {
	t.mu.Lock()
	if p != t.snap.Panel {
		t.snap.Panel = p
		t.snap.Revision++
	}
	t.mu.Unlock()
}

// SetInputEnabled records an input enable or disable between ticks.
func (t *Tracker) SetInputEnabled(enabled bool) {
	t.mu.Lock()
	if t.snap.Panel.InputEnabled != enabled {
		t.snap.Panel.InputEnabled = enabled
		t.snap.Revision++
	}
	t.mu.Unlock()
}

// RecordAction counts a dispatched action and makes it the last action.
func (t *Tracker) RecordAction(a Action) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch a.Trigger {
	case logic.TriggerClick:
		if a.Index >= 0 && a.Index < len(t.snap.Counts.Clicks) {
			t.snap.Counts.Clicks[a.Index]++
		}
	case logic.TriggerHold:
		if a.Index >= 0 && a.Index < len(t.snap.Counts.Holds) {
			t.snap.Counts.Holds[a.Index]++
		}
	case logic.TriggerBoot:
		t.snap.Counts.Boot++
	}
	if a.Error != "" {
		t.snap.Counts.Failures++
	}
	t.snap.LastAction = &a
	t.snap.Revision++
}

// SetBoot records the boot check outcome.
func (t *Tracker) SetBoot(b Boot) {
	t.mu.Lock()
	t.snap.Boot = b
	t.snap.Revision++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.snap.Revision++
	}
	t.mu.Unlock()
}

// SetMQTTBuffered sets the number of messages waiting for the broker.
func (t *Tracker) SetMQTTBuffered(n int) {
	t.mu.Lock()
	if t.snap.MQTTBuffered != n {
		t.snap.MQTTBuffered = n
		t.snap.Revision++
	}
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.snap.Revision++
	t.mu.Unlock()
}

// Revision returns the current revision without copying the snapshot.
func (t *Tracker) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Revision
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.LastAction != nil {
		a := *s.LastAction
		s.LastAction = &a
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
