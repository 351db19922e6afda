package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/buttonman/internal/mqtt"
	"github.com/sweeney/buttonman/internal/scheduler"
	"github.com/sweeney/buttonman/internal/status"
)

// actionBacklog is how many action events may wait for the publisher.
const actionBacklog = 16

// daemon connects the panel to the status tracker and the MQTT publisher.
// It is the panel's observer: the scheduler goroutine only touches the
// tracker and a buffered channel, publishing happens in publishLoop.
type daemon struct {
	tracker    *status.Tracker
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	now        func() time.Time

	actions chan mqtt.ActionEvent
}

func newDaemon(tracker *status.Tracker, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus) *daemon {
	return &daemon{
		tracker:    tracker,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		now:        time.Now,
		actions:    make(chan mqtt.ActionEvent, actionBacklog),
	}
}

func (d *daemon) Tick(s scheduler.State) {
	p := status.Panel{
		Sequence:     s.Sequence,
		InputEnabled: s.InputEnabled,
		QueueDepth:   s.QueueDepth,
	}
	for i, k := range s.Keys {
		p.Keys[i] = status.Key{
			Pin:        k.Pin,
			Pressed:    k.Pressed,
			State:      k.State,
			LastSignal: k.LastSignal,
		}
	}
	d.tracker.UpdatePanel(p)
}

func (d *daemon) Input(enabled bool) {
	d.tracker.SetInputEnabled(enabled)
}

func (d *daemon) Action(r scheduler.ActionReport) {
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	d.tracker.RecordAction(status.Action{
		Time:     r.Time,
		Slot:     r.Slot,
		Kind:     string(r.Kind),
		Trigger:  r.Trigger.Kind,
		Index:    r.Trigger.Index,
		Duration: r.Duration,
		Error:    errText,
	})

	event := mqtt.ActionEvent{
		Timestamp: r.Time,
		Slot:      r.Slot,
		Kind:      string(r.Kind),
		Trigger:   string(r.Trigger.Kind),
		Index:     r.Trigger.Index,
		Sequence:  string(r.Trigger.From),
		Error:     errText,
	}
	select {
	case d.actions <- event:
	default:
		log.Warnf("mqtt: action backlog full, dropping %s", r.Slot)
	}
}

func (d *daemon) Boot(r scheduler.BootReport) {
	d.tracker.SetBoot(status.Boot{
		Ran:       r.Ran,
		Presses:   len(r.Durations),
		Discarded: r.Discarded,
		Longest:   r.Longest(),
		Triggered: r.Triggered,
	})
}

// publishLoop sends queued action events until ctx ends, then flushes
// whatever is still queued.
func (d *daemon) publishLoop(ctx context.Context) {
	for {
		select {
		case e := <-d.actions:
			d.publishAction(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.actions:
					d.publishAction(e)
				default:
					return
				}
			}
		}
	}
}

func (d *daemon) publishAction(e mqtt.ActionEvent) {
	if err := d.publisher.PublishAction(e); err != nil {
		log.Warnf("mqtt: publish %s: %v", e.Slot, err)
	}
}

// statusLoop refreshes the MQTT connection flag on every refresh tick and
// publishes a heartbeat on every heartbeat tick. A nil heartbeat channel
// disables heartbeats.
func (d *daemon) statusLoop(ctx context.Context, refresh, heartbeat <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh:
			d.refreshMQTT()
		case <-heartbeat:
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			d.publishSystem("HEARTBEAT", "", false)
		}
	}
}

func (d *daemon) refreshMQTT() {
	d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	d.tracker.SetMQTTBuffered(d.mqttStatus.Buffered())
}

func (d *daemon) startup() {
	d.publishSystem("STARTUP", "", true)
}

func (d *daemon) shutdown(reason string) {
	d.publishSystem("SHUTDOWN", reason, true)
}

// publishSystem publishes a full status snapshot as a system event.
func (d *daemon) publishSystem(event, reason string, retained bool) {
	d.refreshMQTT()
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.Warnf("failed to publish %s event: %v", event, err)
		return
	}
	log.Debugf("published %s event", event)
}
