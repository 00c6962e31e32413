// Package hostapi installs the script-facing bindings of the loop: the
// os object (timers, descriptor handlers, signals, message ports, tty
// helpers), console and the global timer aliases. The bindings are written
// against core.JSRuntime, so both engine adapters share them.
package hostapi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/eventloop"
	"github.com/cryguy/jsloop/internal/ports"
)

// SetupFunc configures a runtime against its event loop.
type SetupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// loopJS holds script functions handed to the loop. Go refers to them by
// id; the table keeps them reachable until Go releases the id.
const loopJS = `
(function() {
	var fns = new Map();
	var next = 0;
	globalThis.__loop = {
		add: function(fn) {
			if (typeof fn !== 'function') throw new TypeError('callback is not a function');
			var id = ++next;
			fns.set(id, fn);
			return id;
		},
		invoke: function(id, arg) {
			var fn = fns.get(id);
			if (!fn) return;
			if (arguments.length > 1) fn(arg); else fn();
		},
		release: function(ids) {
			for (var i = 0; i < ids.length; i++) fns.delete(ids[i]);
		},
		size: function() { return fns.size; }
	};
})();
`

// OS is the per-runtime state behind the bindings.
type OS struct {
	rt       core.JSRuntime
	el       *eventloop.EventLoop
	log      *core.Logger
	stdout   io.Writer
	stderr   io.Writer
	channels map[string]*ports.Channel

	// ids dropped by the loop, deleted from the script table on the next
	// invoke or Flush; releasing inline would re-enter the engine from a
	// host function
	released []int
}

// Option configures an OS.
type Option func(*OS)

// WithOutput sets where console output goes.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *OS) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// WithLogger sets the logger for binding failures.
func WithLogger(l *core.Logger) Option {
	return func(o *OS) { o.log = l }
}

// New creates the binding state. Install it with Setup.
func New(opts ...Option) *OS {
	o := &OS{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		channels: make(map[string]*ports.Channel),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddChannel makes ch available to os.onmessage under its name.
func (o *OS) AddChannel(ch *ports.Channel) {
	o.channels[ch.Name] = ch
}

// Channel returns a channel added with AddChannel.
func (o *OS) Channel(name string) (*ports.Channel, bool) {
	ch, ok := o.channels[name]
	return ch, ok
}

// SetupFuncs returns the setup functions in installation order.
func (o *OS) SetupFuncs() []SetupFunc {
	return []SetupFunc{
		o.SetupLoop,
		o.SetupOS,
		o.SetupConsole,
		SetupGlobals,
	}
}

// Setup runs every setup function.
func (o *OS) Setup(rt core.JSRuntime, el *eventloop.EventLoop) error {
	for _, fn := range o.SetupFuncs() {
		if err := fn(rt, el); err != nil {
			return err
		}
	}
	return nil
}

// SetupLoop installs the callback table.
func (o *OS) SetupLoop(rt core.JSRuntime, el *eventloop.EventLoop) error {
	o.rt = rt
	o.el = el
	return rt.Eval(loopJS)
}

// Flush deletes released callbacks from the script table.
func (o *OS) Flush() error {
	if len(o.released) == 0 {
		return nil
	}
	return o.rt.Eval(o.releaseJS())
}

func (o *OS) releaseJS() string {
	var b strings.Builder
	b.WriteString("__loop.release([")
	for i, id := range o.released {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(id))
	}
	b.WriteString("]);")
	o.released = o.released[:0]
	return b.String()
}

func (o *OS) invoke(id int, arg string) error {
	var b strings.Builder
	if len(o.released) > 0 {
		b.WriteString(o.releaseJS())
	}
	if arg == "" {
		fmt.Fprintf(&b, "__loop.invoke(%d)", id)
	} else {
		fmt.Fprintf(&b, "__loop.invoke(%d, %s)", id, arg)
	}
	return o.rt.Eval(b.String())
}

// callback is a script function held by id. It serves as the loop
// callback for timers, descriptors and signals, and as a port handler.
type callback struct {
	o  *OS
	id int
}

// loopCallback returns the callback for id, or a nil interface for id 0.
func (o *OS) loopCallback(id int) core.Callback {
	if id <= 0 {
		return nil
	}
	return &callback{o: o, id: id}
}

func (o *OS) messageHandler(id int) core.MessageHandler {
	if id <= 0 {
		return nil
	}
	return &callback{o: o, id: id}
}

func (c *callback) Invoke() error { return c.o.invoke(c.id, "") }

func (c *callback) Release() { c.o.released = append(c.o.released, c.id) }

func (c *callback) HandleMessage(data []byte) error {
	payload, err := json.Marshal(string(data))
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return c.o.invoke(c.id, "{data: "+string(payload)+"}")
}
