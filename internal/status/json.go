package status

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Keys          []KeyJSON    `json:"keys"`
	Sequence      string       `json:"sequence"`
	InputEnabled  bool         `json:"input_enabled"`
	QueueDepth    int          `json:"queue_depth"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Revision      uint64       `json:"revision"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"action_counts"`
	LastAction    *ActionJSON  `json:"last_action,omitempty"`
	Boot          BootJSON     `json:"boot"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// KeyJSON is the JSON representation of one button.
type KeyJSON struct {
	Name       string `json:"name"`
	Pin        int    `json:"pin"`
	Pressed    bool   `json:"pressed"`
	State      string `json:"state"`
	LastSignal string `json:"last_signal,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// CountsJSON is the JSON representation of action counts, keyed by slot name.
type CountsJSON struct {
	Slots    map[string]int `json:"slots"`
	Failures int            `json:"failures"`
}

// ActionJSON is the JSON representation of the last action.
type ActionJSON struct {
	Timestamp  string `json:"timestamp"`
	Slot       string `json:"slot"`
	Kind       string `json:"kind"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// BootJSON is the JSON representation of the boot check.
type BootJSON struct {
	Ran       bool  `json:"ran"`
	Presses   int   `json:"presses"`
	Discarded int   `json:"discarded"`
	LongestMs int64 `json:"longest_ms"`
	Triggered bool  `json:"triggered"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64             `json:"poll_ms"`
	DebounceMs  int64             `json:"debounce_ms"`
	HoldMs      int64             `json:"hold_ms"`
	HeartbeatMs int64             `json:"heartbeat_ms"`
	Broker      string            `json:"broker"`
	HTTPPort    string            `json:"http_port"`
	Slots       map[string]string `json:"slots,omitempty"`
}

// ClickSlot names the slot fired by n clicks.
func ClickSlot(n int) string { return fmt.Sprintf("click-%d", n) }

// HoldSlot names the hold slot preceded by n clicks.
func HoldSlot(n int) string { return fmt.Sprintf("hold-%d", n) }

func stateOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	keys := make([]KeyJSON, len(snap.Panel.Keys))
	for i, k := range snap.Panel.Keys {
		keys[i] = KeyJSON{
			Name:       fmt.Sprintf("key%d", i+1),
			Pin:        k.Pin,
			Pressed:    k.Pressed,
			State:      stateOr(string(k.State), "idle"),
			LastSignal: string(k.LastSignal),
		}
	}

	slots := make(map[string]int)
	for n := 1; n < len(snap.Counts.Clicks); n++ {
		slots[ClickSlot(n)] = snap.Counts.Clicks[n]
	}
	for n, c := range snap.Counts.Holds {
		slots[HoldSlot(n)] = c
	}
	slots["boot"] = snap.Counts.Boot

	inner := StatusInner{
		Keys:          keys,
		Sequence:      stateOr(string(snap.Panel.Sequence), "idle"),
		InputEnabled:  snap.Panel.InputEnabled,
		QueueDepth:    snap.Panel.QueueDepth,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Revision:      snap.Revision,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker, Buffered: snap.MQTTBuffered},
		Counts:        CountsJSON{Slots: slots, Failures: snap.Counts.Failures},
		Boot: BootJSON{
			Ran:       snap.Boot.Ran,
			Presses:   snap.Boot.Presses,
			Discarded: snap.Boot.Discarded,
			LongestMs: snap.Boot.Longest.Milliseconds(),
			Triggered: snap.Boot.Triggered,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			HoldMs:      snap.Config.HoldMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Slots:       snap.Config.Slots,
		},
	}
	if a := snap.LastAction; a != nil {
		inner.LastAction = &ActionJSON{
			Timestamp:  a.Time.UTC().Format(time.RFC3339),
			Slot:       a.Slot,
			Kind:       a.Kind,
			DurationMs: a.Duration.Milliseconds(),
			Error:      a.Error,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
