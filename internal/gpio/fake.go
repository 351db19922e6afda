package gpio

import (
	"fmt"
	"sync"
	"time"
)

// FakeSource is a test double with scripted pin levels. It is safe for
// concurrent use because debounce timers read levels from their own goroutines.
type FakeSource struct {
	mu       sync.Mutex
	levels   map[int]bool
	handlers map[int]EdgeHandler
	modes    map[int]EdgeMode

	// ReadError, if set, will be returned by ReadLevel.
	ReadError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	subscribes   int
	unsubscribes int
	closed       bool
}

// NewFakeSource creates a FakeSource where every listed pin reads high
// (released, with pull-up wiring).
func NewFakeSource(pins ...int) *FakeSource {
	f := &FakeSource{
		levels:   make(map[int]bool),
		handlers: make(map[int]EdgeHandler),
		modes:    make(map[int]EdgeMode),
	}
	for _, pin := range pins {
		f.levels[pin] = true
	}
	return f
}

// SetLevel changes the level returned by ReadLevel without firing an edge.
func (f *FakeSource) SetLevel(pin int, level bool) {
	f.mu.Lock()
	f.levels[pin] = level
	f.mu.Unlock()
}

// Edge sets the pin level and, when the pin is subscribed, calls its handler.
// It reports whether a handler was called.
func (f *FakeSource) Edge(pin int, level bool, t time.Time) bool {
	f.mu.Lock()
	f.levels[pin] = level
	h := f.handlers[pin]
	f.mu.Unlock()

	if h == nil {
		return false
	}
	h(pin, level, t)
	return true
}

// Subscribe records handler for pin.
func (f *FakeSource) Subscribe(pin int, mode EdgeMode, handler EdgeHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return f.SubscribeError
	}
	f.handlers[pin] = handler
	f.modes[pin] = mode
	f.subscribes++
	return nil
}

// Unsubscribe forgets the handler for pin.
func (f *FakeSource) Unsubscribe(pin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, pin)
	f.unsubscribes++
	return nil
}

// ReadLevel returns the scripted level for pin.
func (f *FakeSource) ReadLevel(pin int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, f.ReadError
	}
	level, ok := f.levels[pin]
	if !ok {
		return false, fmt.Errorf("pin %d not requested", pin)
	}
	return level, nil
}

// Subscribed reports whether pin currently has a handler.
func (f *FakeSource) Subscribed(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[pin]
	return ok
}

// Counts returns how many Subscribe and Unsubscribe calls succeeded.
func (f *FakeSource) Counts() (subscribes, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.unsubscribes
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeSource) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// OutputWrite is one recorded call to FakeOutputs.Set.
type OutputWrite struct {
	Name string
	On   bool
}

// FakeOutputs records output writes for test assertions.
type FakeOutputs struct {
	mu sync.Mutex

	// Writes contains every Set call in order.
	Writes []OutputWrite

	// State holds the last value written per output.
	State map[string]bool

	// ZeroCalls counts ZeroAll calls.
	ZeroCalls int

	// SetError, if set, will be returned by Set and ZeroAll.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutputs creates an empty FakeOutputs.
func NewFakeOutputs() *FakeOutputs {
	return &FakeOutputs{State: make(map[string]bool)}
}

// Set records the write.
func (f *FakeOutputs) Set(name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, OutputWrite{Name: name, On: on})
	f.State[name] = on
	return nil
}

// ZeroAll clears every recorded output.
func (f *FakeOutputs) ZeroAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ZeroCalls++
	if f.SetError != nil {
		return f.SetError
	}
	for name := range f.State {
		f.State[name] = false
	}
	return nil
}

// Close marks the outputs as closed.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
