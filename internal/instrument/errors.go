package instrument

import (
	"errors"
	"fmt"
)

var (
	ErrReadOnly          = errors.New("parameter is read-only")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownParameter  = errors.New("unknown parameter")
	ErrDuplicate         = errors.New("already registered")
)

// ValidationError reports a set request rejected before it reached the
// driver.
type ValidationError struct {
	Instrument string
	Parameter  string
	Kind       Kind
	Input      string
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("set %s.%s (%s) to %q: %v", e.Instrument, e.Parameter, e.Kind, e.Input, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DriverError wraps a failure raised by a set/get command or a driver
// open/close. It is logged, never fatal.
type DriverError struct {
	Instrument string
	Parameter  string
	Op         string
	Err        error
}

func (e *DriverError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Instrument, e.Err)
	}

	return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Instrument, e.Parameter, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}
