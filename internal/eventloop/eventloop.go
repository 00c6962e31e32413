// Package eventloop drives an embedded interpreter: it drains the
// interpreter's pending jobs, then waits on timers, descriptors, signals
// and message ports and dispatches one event per cycle, until no source
// remains.
package eventloop

import (
	"errors"
	"time"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/poller"
	"github.com/cryguy/jsloop/internal/ports"
	"github.com/cryguy/jsloop/internal/readiness"
	"github.com/cryguy/jsloop/internal/signals"
	"github.com/cryguy/jsloop/internal/timers"
)

// ErrLoopStopped is returned by Run once the loop has stopped.
var ErrLoopStopped = errors.New("eventloop: loop stopped")

// State is the loop's lifecycle state.
type State int

const (
	// Running is the state of a new loop and of one that still has sources.
	Running State = iota
	// Stopped is entered when a poll finds every registry empty, or on Close.
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// Waiter is the blocking multiplexer. *poller.Poller implements it.
type Waiter interface {
	Wait(ws *poller.WaitSet, timeout time.Duration) error
	Wake() error
	Close() error
}

// EventLoop drives one interpreter: it drains the interpreter's job queue,
// then polls signals, timers, descriptors and message ports, dispatching at
// most one event per poll. Everything except RaiseSignal and Wake must be
// called from the goroutine running the loop, or from callbacks it invokes.
type EventLoop struct {
	interp core.Interpreter
	log    *core.Logger
	sink   core.DiagnosticSink
	cfg    core.LoopConfig
	clock  func() int64
	isMain bool
	relay  bool

	waiter    Waiter
	ownWaiter bool
	ws        *poller.WaitSet

	timers  *timers.Registry
	fds     *readiness.Registrar
	signals *signals.Queue
	ports   *ports.Table

	state State
}

// Option configures an EventLoop.
type Option func(*EventLoop)

// WithLogger sets the logger. Dispatches are logged at debug level.
func WithLogger(l *core.Logger) Option {
	return func(el *EventLoop) { el.log = l }
}

// WithDiagnostics sets where job and callback failures are reported. The
// default logs them at error level.
func WithDiagnostics(s core.DiagnosticSink) Option {
	return func(el *EventLoop) { el.sink = s }
}

// WithMainContext marks whether this loop owns signal delivery. Only the
// main context ever dispatches signal callbacks. Defaults to true.
func WithMainContext(isMain bool) Option {
	return func(el *EventLoop) { el.isMain = isMain }
}

// WithClock replaces the monotonic millisecond clock.
func WithClock(now func() int64) Option {
	return func(el *EventLoop) { el.clock = now }
}

// WithConfig sets the idle wait cap and registry capacities.
func WithConfig(cfg core.LoopConfig) Option {
	return func(el *EventLoop) { el.cfg = cfg }
}

// WithPoller replaces the multiplexer. The loop does not close a waiter it
// did not create.
func WithPoller(w Waiter) Option {
	return func(el *EventLoop) { el.waiter = w }
}

// WithOSSignals subscribes bound signal numbers to OS delivery. Ignored
// unless the loop is the main context.
func WithOSSignals(enabled bool) Option {
	return func(el *EventLoop) { el.relay = enabled }
}

// New creates an EventLoop for interp.
func New(interp core.Interpreter, opts ...Option) (*EventLoop, error) {
	if interp == nil {
		return nil, errors.New("eventloop: nil interpreter")
	}
	el := &EventLoop{
		interp: interp,
		isMain: true,
		clock:  timers.Now,
		ws:     poller.NewWaitSet(),
	}
	for _, o := range opts {
		o(el)
	}
	if el.sink == nil {
		el.sink = core.LogDiagnostics(el.log)
	}
	if el.waiter == nil {
		p, err := poller.New()
		if err != nil {
			return nil, err
		}
		el.waiter = p
		el.ownWaiter = true
	}

	el.timers = timers.New(timers.WithCapacity(el.cfg.MaxTimers))
	el.fds = readiness.New(el.cfg.MaxHandlers)
	el.signals = signals.New(el.cfg.MaxSignals)
	el.ports = ports.NewTable(el.cfg.MaxPorts)
	if el.relay && el.isMain {
		el.signals.Notify(el.waiter)
	}
	return el, nil
}

// Run drains jobs and polls until no event source remains, then moves the
// loop to Stopped and returns nil. A wait failure is returned as a
// *core.WaitError and leaves the loop Running.
func (el *EventLoop) Run() error {
	if el.state == Stopped {
		return ErrLoopStopped
	}
	for {
		el.DrainJobs()
		more, err := el.Poll()
		if err != nil {
			return err
		}
		if !more {
			el.state = Stopped
			el.log.Info().Log("event loop stopped")
			return nil
		}
	}
}

// DrainJobs runs pending interpreter jobs until none remain and returns how
// many ran. Failed jobs are reported and draining continues.
func (el *EventLoop) DrainJobs() int {
	n := 0
	for {
		ran, err := el.interp.RunPendingJob()
		if err != nil {
			el.sink.Report(&core.JobError{Err: err})
		}
		if !ran {
			return n
		}
		n++
	}
}

// Poll performs one cycle: a pending signal, else a wait followed by one
// expired timer, ready descriptor or port message. It returns false when
// every registry is empty.
func (el *EventLoop) Poll() (bool, error) {
	if el.isMain {
		if ok, err := el.signals.DrainOne(true); ok {
			el.dispatched(core.SourceSignal, err)
			return true, nil
		}
	}

	el.ports.Prune()
	if !el.HasPending() {
		return false, nil
	}

	timeout := time.Duration(-1)
	if d, ok := el.timers.NextDelay(el.clock(), el.cfg.IdleWait()); ok {
		timeout = d
	}

	el.ws.Reset()
	el.fds.BuildWaitSet(el.ws)
	el.ports.BuildWaitSet(el.ws)

	if err := el.waiter.Wait(el.ws, timeout); err != nil {
		return false, &core.WaitError{Err: err}
	}

	if ok, err := el.timers.FireOne(el.clock()); ok {
		el.dispatched(core.SourceTimer, err)
		return true, nil
	}
	if ok, err := el.fds.DispatchReady(el.ws); ok {
		el.dispatched(core.SourceReadiness, err)
		return true, nil
	}
	if ok, err := el.ports.DispatchReady(el.ws); ok {
		el.dispatched(core.SourcePort, err)
	}
	return true, nil
}

func (el *EventLoop) dispatched(source string, err error) {
	el.log.Debug().Str("source", source).Log("dispatched")
	if err != nil {
		el.sink.Report(err)
	}
}

// Now returns the loop clock in monotonic milliseconds.
func (el *EventLoop) Now() int64 { return el.clock() }

// State returns the lifecycle state.
func (el *EventLoop) State() State { return el.state }

// IsMain reports whether the loop owns signal delivery.
func (el *EventLoop) IsMain() bool { return el.isMain }

// ScheduleTimer schedules cb to run after delay.
func (el *EventLoop) ScheduleTimer(delay time.Duration, cb core.Callback) (*timers.Timer, error) {
	if delay < 0 {
		delay = 0
	}
	return el.ScheduleTimerAt(el.clock()+delay.Milliseconds(), cb)
}

// ScheduleTimerAt schedules cb at an absolute deadline on the loop clock.
func (el *EventLoop) ScheduleTimerAt(deadlineMs int64, cb core.Callback) (*timers.Timer, error) {
	return el.timers.Schedule(deadlineMs, cb)
}

// LookupTimer returns a timer that has not been freed.
func (el *EventLoop) LookupTimer(id int64) (*timers.Timer, bool) {
	return el.timers.Lookup(id)
}

// CancelTimer unschedules t. Canceling before the deadline guarantees the
// callback never runs.
func (el *EventLoop) CancelTimer(t *timers.Timer) { el.timers.Cancel(t) }

// ReleaseTimer drops the host handle of t.
func (el *EventLoop) ReleaseTimer(t *timers.Timer) { el.timers.Release(t) }

// SetReadinessHandler installs or, with a nil cb, clears a descriptor
// callback.
func (el *EventLoop) SetReadinessHandler(fd int, d readiness.Direction, cb core.Callback) error {
	return el.fds.SetHandler(fd, d, cb)
}

// BindSignal binds or, with a nil cb, unbinds a signal callback.
func (el *EventLoop) BindSignal(sig int, cb core.Callback) error {
	return el.signals.Bind(sig, cb)
}

// RaiseSignal marks sig pending and wakes the wait. Safe from any
// goroutine.
func (el *EventLoop) RaiseSignal(sig int) {
	signals.Raise(sig)
	_ = el.waiter.Wake()
}

// RegisterPort sets the handler for messages posted to ch. A nil h
// unregisters.
func (el *EventLoop) RegisterPort(ch *ports.Channel, h core.MessageHandler) error {
	_, err := el.ports.Register(ch, h)
	return err
}

// UnregisterPort removes the port for ch.
func (el *EventLoop) UnregisterPort(ch *ports.Channel) { el.ports.Unregister(ch) }

// Wake interrupts a blocked wait. Safe from any goroutine.
func (el *EventLoop) Wake() error { return el.waiter.Wake() }

// HasPending reports whether any registry still holds an event source.
// Signal bindings only count in the main context, the only one that
// ever dispatches them.
func (el *EventLoop) HasPending() bool {
	return el.timers.Len() > 0 || el.fds.Len() > 0 || el.ports.Len() > 0 ||
		(el.isMain && el.signals.Len() > 0)
}

// Reset empties every registry and returns a stopped loop to Running.
func (el *EventLoop) Reset() {
	el.timers.Clear()
	el.fds.Clear()
	el.signals.Clear()
	el.ports.Clear()
	el.state = Running
}

// Resume returns a stopped loop to Running and keeps whatever sources
// were registered since it stopped.
func (el *EventLoop) Resume() {
	if el.state == Stopped {
		el.state = Running
	}
}

// Close empties the registries, detaches the OS signal relay and closes
// the waiter if the loop created it. The loop is Stopped afterwards.
func (el *EventLoop) Close() error {
	el.signals.Stop()
	el.timers.Clear()
	el.fds.Clear()
	el.signals.Clear()
	el.ports.Clear()
	el.state = Stopped
	if el.ownWaiter {
		return el.waiter.Close()
	}
	return nil
}
