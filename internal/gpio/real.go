//go:build linux

package gpio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "buttonman"

// RealSource delivers button edges from actual hardware using Linux GPIO character device.
type RealSource struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	bias  gpiocdev.LineBias
	lines map[int]*gpiocdev.Line
}

// NewRealSource opens chip and requests each pin as an input. Active-low
// buttons short the pin to ground and get a pull-up; active-high buttons
// connect it to 3V3 and get a pull-down.
func NewRealSource(chipName string, activeLow bool, pins ...int) (*RealSource, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s := &RealSource{
		chip:  chip,
		bias:  inputBias(activeLow),
		lines: make(map[int]*gpiocdev.Line),
	}
	for _, pin := range pins {
		line, err := chip.RequestLine(pin, gpiocdev.AsInput, s.bias)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		s.lines[pin] = line
	}
	return s, nil
}

// Subscribe re-requests pin with edge detection. The kernel delivers events
// on a gpiocdev goroutine which calls handler with the new level.
func (s *RealSource) Subscribe(pin int, mode EdgeMode, handler EdgeHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line, ok := s.lines[pin]; ok {
		line.Close()
		delete(s.lines, pin)
	}

	line, err := s.chip.RequestLine(pin,
		gpiocdev.AsInput,
		s.bias,
		edgeOption(mode),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Offset, evt.Type == gpiocdev.LineEventRisingEdge, time.Now())
		}))
	if err != nil {
		return fmt.Errorf("subscribe pin %d: %w", pin, err)
	}
	s.lines[pin] = line
	return nil
}

// Unsubscribe drops edge detection on pin but keeps it requested as a plain
// input so ReadLevel still works.
func (s *RealSource) Unsubscribe(pin int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if line, ok := s.lines[pin]; ok {
		if err := line.Close(); err != nil {
			return fmt.Errorf("unsubscribe pin %d: %w", pin, err)
		}
		delete(s.lines, pin)
	}

	line, err := s.chip.RequestLine(pin, gpiocdev.AsInput, s.bias)
	if err != nil {
		return fmt.Errorf("request pin %d: %w", pin, err)
	}
	s.lines[pin] = line
	return nil
}

// ReadLevel returns the raw level of pin.
func (s *RealSource) ReadLevel(pin int) (bool, error) {
	s.mu.Lock()
	line, ok := s.lines[pin]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("pin %d not requested", pin)
	}

	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// Close releases all lines and the chip.
func (s *RealSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for pin, line := range s.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
		delete(s.lines, pin)
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// inputBias pulls an idle button line to its released level.
func inputBias(activeLow bool) gpiocdev.LineBias {
	if activeLow {
		return gpiocdev.WithPullUp
	}
	return gpiocdev.WithPullDown
}

func edgeOption(mode EdgeMode) gpiocdev.LineReqOption {
	switch mode {
	case EdgeRising:
		return gpiocdev.WithRisingEdge
	case EdgeFalling:
		return gpiocdev.WithFallingEdge
	default:
		return gpiocdev.WithBothEdges
	}
}

// RealOutputs drives buzzer and LED lines on actual hardware.
type RealOutputs struct {
	chip  *gpiocdev.Chip
	lines map[string]*gpiocdev.Line
}

// NewRealOutputs requests each named pin as an output. Lines start at the
// value given in initial, or low when absent.
func NewRealOutputs(chipName string, pins map[string]int, initial map[string]bool) (*RealOutputs, error) {
	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	o := &RealOutputs{
		chip:  chip,
		lines: make(map[string]*gpiocdev.Line),
	}
	for name, pin := range pins {
		val := 0
		if initial[name] {
			val = 1
		}
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(val))
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("request output %s pin %d: %w", name, pin, err)
		}
		o.lines[name] = line
	}
	return o, nil
}

// Set drives the named output.
func (o *RealOutputs) Set(name string, on bool) error {
	line, ok := o.lines[name]
	if !ok {
		return fmt.Errorf("unknown output: %s", name)
	}
	val := 0
	if on {
		val = 1
	}
	if err := line.SetValue(val); err != nil {
		return fmt.Errorf("set %s=%v: %w", name, on, err)
	}
	return nil
}

// ZeroAll drives every output low, continuing past failures.
func (o *RealOutputs) ZeroAll() error {
	names := make([]string, 0, len(o.lines))
	for name := range o.lines {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := o.Set(name, false); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("zero outputs: %v", errs)
	}
	return nil
}

// Close drives all outputs low and releases them.
func (o *RealOutputs) Close() error {
	var errs []error
	if err := o.ZeroAll(); err != nil {
		errs = append(errs, err)
	}
	for name, line := range o.lines {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
