package core

import "io"

// Channel is the sending side of a message port, safe for use from any
// goroutine.
type Channel interface {
	Post(data []byte) error
	Close() error
}

// EngineBackend is the interface that engine implementations (QuickJS, V8)
// must satisfy. The root jsloop.Host facade delegates to one of these
// based on build tags.
type EngineBackend interface {
	// Eval evaluates a script in the global scope. Jobs it queues run on
	// the next Run.
	Eval(name, source string) error
	// Run drives the event loop until no event source remains.
	Run() error
	// NewChannel creates an inbound message channel scripts can listen on
	// with os.onmessage(name, fn).
	NewChannel(name string) (Channel, error)
	// RaiseSignal marks sig pending and wakes the loop. Safe from any
	// goroutine.
	RaiseSignal(sig int) error
	Close()
}

// EngineOptions carries the host-side collaborators of an engine.
type EngineOptions struct {
	Logger      *Logger
	Diagnostics DiagnosticSink // defaults to LogDiagnostics(Logger)
	Stdout      io.Writer      // console.log, console.info, console.debug
	Stderr      io.Writer      // console.warn, console.error
	OSSignals   bool           // relay OS signals for bound numbers
}
