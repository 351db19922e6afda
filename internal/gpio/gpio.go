// Package gpio provides button edge delivery and panel outputs with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "time"

// EdgeMode selects which level changes an edge subscription reports.
type EdgeMode int

const (
	EdgeBoth EdgeMode = iota
	EdgeRising
	EdgeFalling
)

func (m EdgeMode) String() string {
	switch m {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "both"
	}
}

// EdgeHandler receives raw, undebounced edges. It is called from the edge
// source's own goroutine and must not block.
type EdgeHandler func(pin int, level bool, t time.Time)

// EdgeSource delivers level-change interrupts per pin.
type EdgeSource interface {
	// Subscribe starts edge delivery for pin. Subscribing an already
	// subscribed pin replaces its handler.
	Subscribe(pin int, mode EdgeMode, handler EdgeHandler) error

	// Unsubscribe stops edge delivery for pin. The pin stays readable.
	Unsubscribe(pin int) error

	// ReadLevel returns the raw level of pin (true = high).
	ReadLevel(pin int) (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Outputs drives the panel's buzzer and status LEDs.
type Outputs interface {
	Set(name string, on bool) error

	// ZeroAll drives every output low.
	ZeroAll() error

	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinKey1   = 13
	DefaultPinKey2   = 23
	DefaultPinBuzzer = 6
	DefaultPinLED1   = 16
	DefaultPinLED2   = 26
)

// Output names accepted by Outputs.Set.
const (
	OutputBuzzer = "buzzer"
	OutputLED1   = "led1"
	OutputLED2   = "led2"
)

// DefaultChip is the GPIO character device carrying the header pins.
const DefaultChip = "gpiochip0"
