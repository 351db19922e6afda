package mqtt

import log "github.com/sirupsen/logrus"

// pendingMsg is a serialized message held back until the broker is reachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox keeps the most recent messages published while disconnected, oldest
// first. Once full, each new message evicts the oldest one.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type outbox struct {
	msgs    []pendingMsg
	limit   int
	evicted int // since the last take
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) add(m pendingMsg) {
	if o.limit <= 0 {
		o.evicted++
		return
	}
	if len(o.msgs) < o.limit {
		o.msgs = append(o.msgs, m)
		return
	}
	if o.evicted == 0 {
		log.Warnf("mqtt: outbox full (%d messages), dropping oldest", o.limit)
	}
	o.evicted++
	copy(o.msgs, o.msgs[1:])
	o.msgs[len(o.msgs)-1] = m
}

// take empties the outbox. It returns the held messages and how many older
// ones were evicted to make room for them.
func (o *outbox) take() ([]pendingMsg, int) {
	msgs, evicted := o.msgs, o.evicted
	o.msgs, o.evicted = nil, 0
	return msgs, evicted
}

func (o *outbox) len() int {
	return len(o.msgs)
}
