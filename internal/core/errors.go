package core

import (
	"errors"
	"fmt"
)

// ErrResourceExhausted is returned by registry mutations that would exceed
// a configured capacity. The registry is left unmodified.
var ErrResourceExhausted = errors.New("jsloop: registry capacity exhausted")

// JobError reports a pending interpreter job that raised an unhandled
// exception.
type JobError struct {
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("pending job failed: %v", e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Callback sources carried by CallbackError.
const (
	SourceTimer     = "timer"
	SourceReadiness = "readiness"
	SourceSignal    = "signal"
	SourcePort      = "port"
)

// CallbackError reports a dispatched callback that failed. ID is the timer
// id, descriptor, signal number or port id, depending on Source.
type CallbackError struct {
	Source string
	ID     int64
	Err    error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback %d failed: %v", e.Source, e.ID, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// WaitError reports a failure of the blocking multiplexing call. It ends
// the current poll and is returned to the host.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("waiting for events: %v", e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking Go callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Invoke calls cb, converting a panic into a PanicError, and wraps any
// failure in a CallbackError.
func Invoke(source string, id int64, cb Callback) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CallbackError{Source: source, ID: id, Err: PanicError{Value: p}}
		}
	}()
	if cbErr := cb.Invoke(); cbErr != nil {
		return &CallbackError{Source: source, ID: id, Err: cbErr}
	}
	return nil
}

// Deliver is Invoke for message handlers.
func Deliver(id int64, h MessageHandler, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &CallbackError{Source: SourcePort, ID: id, Err: PanicError{Value: p}}
		}
	}()
	if hErr := h.HandleMessage(data); hErr != nil {
		return &CallbackError{Source: SourcePort, ID: id, Err: hErr}
	}
	return nil
}
