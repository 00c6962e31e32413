//go:build v8

package v8engine

import (
	"fmt"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/eventloop"
	"github.com/cryguy/jsloop/internal/hostapi"
	"github.com/cryguy/jsloop/internal/ports"
	"github.com/cryguy/jsloop/internal/signals"
)

// Engine is one V8 isolate+context pair driven by its own event loop.
type Engine struct {
	iso      *v8.Isolate
	ctx      *v8.Context
	rt       *v8Runtime
	loop     *eventloop.EventLoop
	os       *hostapi.OS
	config   core.EngineConfig
	log      *core.Logger
	channels []*ports.Channel
	closed   bool
}

var _ core.EngineBackend = (*Engine)(nil)

// NewEngine creates an isolate, its event loop and the host bindings.
func NewEngine(cfg core.EngineConfig, opts core.EngineOptions) (*Engine, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	dispose := func() {
		ctx.Close()
		iso.Dispose()
	}
	rt, err := newRuntime(iso, ctx)
	if err != nil {
		dispose()
		return nil, err
	}

	loopOpts := []eventloop.Option{
		eventloop.WithLogger(opts.Logger),
		eventloop.WithConfig(cfg.Loop),
		eventloop.WithMainContext(!cfg.Worker),
		eventloop.WithOSSignals(opts.OSSignals),
	}
	if opts.Diagnostics != nil {
		loopOpts = append(loopOpts, eventloop.WithDiagnostics(opts.Diagnostics))
	}
	el, err := eventloop.New(rt, loopOpts...)
	if err != nil {
		dispose()
		return nil, fmt.Errorf("creating event loop: %w", err)
	}

	hostOpts := []hostapi.Option{hostapi.WithLogger(opts.Logger)}
	if opts.Stdout != nil && opts.Stderr != nil {
		hostOpts = append(hostOpts, hostapi.WithOutput(opts.Stdout, opts.Stderr))
	}
	hos := hostapi.New(hostOpts...)
	if err := hos.Setup(rt, el); err != nil {
		_ = el.Close()
		dispose()
		return nil, fmt.Errorf("setup: %w", err)
	}

	return &Engine{
		iso:    iso,
		ctx:    ctx,
		rt:     rt,
		loop:   el,
		os:     hos,
		config: cfg,
		log:    opts.Logger,
	}, nil
}

// Eval compiles and runs source under name.
func (e *Engine) Eval(name, source string) error {
	if limit := e.config.MaxScriptSizeKB; limit > 0 && len(source) > limit*1024 {
		return fmt.Errorf("script %s exceeds %d KB", name, limit)
	}
	script, err := e.iso.CompileUnboundScript(source, name, v8.CompileOptions{})
	if err != nil {
		return fmt.Errorf("compiling %s: %w", name, err)
	}
	if _, err := script.Run(e.ctx); err != nil {
		return fmt.Errorf("evaluating %s: %w", name, err)
	}
	e.log.Debug().Str("script", name).Log("evaluated")
	return nil
}

// Run drives the event loop until no event source remains.
func (e *Engine) Run() error {
	if e.closed {
		return eventloop.ErrLoopStopped
	}
	e.loop.Resume()
	if err := e.loop.Run(); err != nil {
		return err
	}
	return e.os.Flush()
}

// NewChannel creates an inbound channel for os.onmessage(name, fn).
func (e *Engine) NewChannel(name string) (core.Channel, error) {
	if _, ok := e.os.Channel(name); ok {
		return nil, fmt.Errorf("channel %q already exists", name)
	}
	ch, err := ports.NewChannel(name)
	if err != nil {
		return nil, err
	}
	e.os.AddChannel(ch)
	e.channels = append(e.channels, ch)
	return ch, nil
}

// RaiseSignal delivers sig to the handler bound with os.signal. Safe from
// any goroutine.
func (e *Engine) RaiseSignal(sig int) error {
	if sig < 0 || sig > signals.MaxSignal {
		return fmt.Errorf("invalid signal number %d", sig)
	}
	e.loop.RaiseSignal(sig)
	return nil
}

// Runtime returns the engine's JSRuntime.
func (e *Engine) Runtime() core.JSRuntime { return e.rt }

// Loop returns the engine's event loop.
func (e *Engine) Loop() *eventloop.EventLoop { return e.loop }

// Close tears down the loop, the channels and the isolate.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if err := e.loop.Close(); err != nil {
		e.log.Warning().Err(err).Log("closing event loop")
	}
	_ = e.os.Flush()
	for _, ch := range e.channels {
		_ = ch.Close()
	}
	e.ctx.Close()
	e.iso.Dispose()
}
