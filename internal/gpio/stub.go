//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chipName string, activeLow bool, pins ...int) (*RealSource, error) {
	return nil, errUnsupported
}

func (s *RealSource) Subscribe(pin int, mode EdgeMode, handler EdgeHandler) error {
	return errUnsupported
}

func (s *RealSource) Unsubscribe(pin int) error { return errUnsupported }

func (s *RealSource) ReadLevel(pin int) (bool, error) { return false, errUnsupported }

func (s *RealSource) Close() error { return nil }

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(chipName string, pins map[string]int, initial map[string]bool) (*RealOutputs, error) {
	return nil, errUnsupported
}

func (o *RealOutputs) Set(name string, on bool) error { return errUnsupported }

func (o *RealOutputs) ZeroAll() error { return errUnsupported }

func (o *RealOutputs) Close() error { return nil }
