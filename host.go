package jsloop

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/cryguy/jsloop/internal/core"
)

// ErrClosed is returned by Host methods called after Close.
var ErrClosed = errors.New("jsloop: host closed")

// Host wraps a backend JS engine (QuickJS by default, V8 with -tags v8)
// and the event loop that keeps it alive.
type Host struct {
	backend core.EngineBackend
	log     *Logger
	closed  atomic.Bool
}

type hostOptions struct {
	logger      *Logger
	diagnostics DiagnosticSink
	stdout      io.Writer
	stderr      io.Writer
	osSignals   bool
}

// HostOption configures a Host.
type HostOption func(*hostOptions)

// WithLogger sets the structured logger. It overrides HostConfig.LogLevel.
func WithLogger(l *Logger) HostOption {
	return func(o *hostOptions) { o.logger = l }
}

// WithDiagnostics receives every callback and job failure. By default
// failures are written to the logger.
func WithDiagnostics(d DiagnosticSink) HostOption {
	return func(o *hostOptions) { o.diagnostics = d }
}

// WithOutput redirects console output.
func WithOutput(stdout, stderr io.Writer) HostOption {
	return func(o *hostOptions) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithOSSignals relays process signals to os.signal handlers.
func WithOSSignals(enabled bool) HostOption {
	return func(o *hostOptions) { o.osSignals = enabled }
}

// NewHost creates an engine configured by cfg.
func NewHost(cfg HostConfig, opts ...HostOption) (*Host, error) {
	o := hostOptions{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil && cfg.LogLevel != "" {
		level, err := core.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		o.logger = core.NewLogger(o.stderr, level)
	}

	backend, err := newBackend(cfg.engineConfig(), core.EngineOptions{
		Logger:      o.logger,
		Diagnostics: o.diagnostics,
		Stdout:      o.stdout,
		Stderr:      o.stderr,
		OSSignals:   o.osSignals,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return &Host{backend: backend, log: o.logger}, nil
}

// Eval evaluates source in the global scope without running the loop.
func (h *Host) Eval(name, source string) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.backend.Eval(name, source)
}

// Run drives the event loop until no timer, handler, signal binding or
// port remains. A failed wait ends Run with a *WaitError.
func (h *Host) Run() error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.backend.Run()
}

// RunScript evaluates source and runs the loop to completion.
func (h *Host) RunScript(name, source string) error {
	if err := h.Eval(name, source); err != nil {
		return err
	}
	return h.Run()
}

// NewChannel creates a named channel. Scripts receive posted messages via
// os.onmessage(name, fn). Post may be called from any goroutine.
func (h *Host) NewChannel(name string) (Channel, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	return h.backend.NewChannel(name)
}

// RaiseSignal marks sig pending and wakes the loop, which runs the
// handler bound with os.signal(sig, fn). It is the way to deliver signals
// when WithOSSignals is off, and is safe from any goroutine.
func (h *Host) RaiseSignal(sig int) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.backend.RaiseSignal(sig)
}

// Close releases the engine. It is safe to call more than once.
func (h *Host) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.backend.Close()
	h.log.Debug().Log("host closed")
}
