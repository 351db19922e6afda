// Package mqtt publishes action and lifecycle telemetry to an MQTT broker,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"
)

// TopicActions receives one message per dispatched action.
const TopicActions = "buttonman/actions"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "buttonman/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishAction reports a dispatched action.
	// Returns error if publishing fails (should not crash the process).
	PublishAction(event ActionEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active and how
// many messages are waiting for it.
type ConnectionStatus interface {
	IsConnected() bool
	Buffered() int
}

// ActionEvent describes one action run by the panel.
type ActionEvent struct {
	Timestamp time.Time
	Slot      string // e.g. "click-3", "hold-0", "boot"
	Kind      string // action kind, e.g. "battery-check"
	Trigger   string // "click", "hold" or "boot"
	Index     int
	Sequence  string // sequence state the trigger fired from
	Error     string
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// ActionPayload is the MQTT message payload for an action.
type ActionPayload struct {
	Action ActionPayloadInner `json:"action"`
}

// ActionPayloadInner contains the action details.
type ActionPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Slot      string `json:"slot"`
	Kind      string `json:"kind"`
	Trigger   string `json:"trigger"`
	Index     int    `json:"index"`
	Sequence  string `json:"sequence,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FormatActionPayload creates the JSON payload for an action event.
func FormatActionPayload(event ActionEvent) ([]byte, error) {
	payload := ActionPayload{
		Action: ActionPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Slot:      event.Slot,
			Kind:      event.Kind,
			Trigger:   event.Trigger,
			Index:     event.Index,
			Sequence:  event.Sequence,
			Error:     event.Error,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishAction(ActionEvent) error { return nil }
func (NopPublisher) PublishSystem(SystemEvent) error { return nil }
func (NopPublisher) Close() error                    { return nil }
func (NopPublisher) IsConnected() bool               { return false }
func (NopPublisher) Buffered() int                   { return 0 }
