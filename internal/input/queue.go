// Package input turns raw pin edges into debounced events and buffers them
// for the scheduler.
package input

import (
	"sync"
	"time"
)

// Event is a validated level change on one pin.
type Event struct {
	Pin   int
	Level bool // raw level, true = high
	Time  time.Time
}

// Queue is an unbounded FIFO shared by debounce timers (producers) and the
// scheduler (single consumer).
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends e.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// Drain swaps the buffer for an empty one and returns everything queued so
// far in insertion order. Producers are only locked out for the swap.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	events := q.events
	q.events = nil
	q.mu.Unlock()
	return events
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
