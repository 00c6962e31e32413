// Package ports delivers messages posted from other goroutines to handlers
// running on the loop.
package ports

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/poller"
)

// ErrChannelClosed is returned by Post after Close.
var ErrChannelClosed = errors.New("ports: channel closed")

// Channel is an inbound message pipe. Post may be called from any
// goroutine; the read end of an internal OS pipe is readable while
// messages are queued, which is how the loop's wait observes them.
type Channel struct {
	Name string

	mu     sync.Mutex
	msgs   *queue.Queue
	rfd    int
	wfd    int
	closed bool
	// tables holding a port for this channel; the read end stays open
	// until the last one lets go
	refs int
}

var _ core.Channel = (*Channel)(nil)

// NewChannel creates a Channel and its pipe.
func NewChannel(name string) (*Channel, error) {
	r, w, err := newPipe()
	if err != nil {
		return nil, fmt.Errorf("creating channel pipe: %w", err)
	}
	return &Channel{Name: name, msgs: queue.New(), rfd: r, wfd: w}, nil
}

// FD returns the descriptor the loop waits on.
func (c *Channel) FD() int { return c.rfd }

// Post queues a copy of data.
func (c *Channel) Post(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	wasEmpty := c.msgs.Length() == 0
	c.msgs.Add(append([]byte(nil), data...))
	if !wasEmpty {
		return nil
	}
	if err := signalPipe(c.wfd); err != nil {
		return fmt.Errorf("signalling channel %q: %w", c.Name, err)
	}
	return nil
}

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs.Length()
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pop removes the oldest message. The pipe is drained once the queue
// empties, so the read end stays readable exactly while messages wait.
func (c *Channel) pop() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	if c.msgs.Length() == 0 {
		drainPipe(c.rfd)
		return nil, false
	}
	data := c.msgs.Remove().([]byte)
	if c.msgs.Length() == 0 {
		drainPipe(c.rfd)
	}
	return data, true
}

// Close stops the channel and drops queued messages. While a loop still
// holds a port for it only the write end is closed: the read end then
// reports hangup, which wakes the loop, and the loop closes it when it
// unregisters the port.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for c.msgs.Length() > 0 {
		c.msgs.Remove()
	}
	if c.refs > 0 {
		err := closeFD(c.wfd)
		c.wfd = -1
		return err
	}
	err := closePipe(c.rfd, c.wfd)
	c.rfd, c.wfd = -1, -1
	return err
}

func (c *Channel) attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.refs++
	return nil
}

func (c *Channel) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.refs == 0 && c.closed && c.rfd >= 0 {
		_ = closeFD(c.rfd)
		c.rfd = -1
	}
}

// Port binds a Channel to the handler that receives its messages.
type Port struct {
	ID      int64
	Channel *Channel
	handler core.MessageHandler
}

// Table keeps ports in registration order.
type Table struct {
	ports    []*Port
	nextID   int64
	capacity int
}

// NewTable creates an empty Table. capacity bounds the number of ports;
// zero means unbounded.
func NewTable(capacity int) *Table {
	return &Table{capacity: capacity}
}

func (t *Table) find(ch *Channel) (int, *Port) {
	for i, p := range t.ports {
		if p.Channel == ch {
			return i, p
		}
	}
	return -1, nil
}

// Register sets h as the handler for ch, replacing and releasing any
// previous one. A nil h unregisters.
func (t *Table) Register(ch *Channel, h core.MessageHandler) (*Port, error) {
	if ch == nil {
		return nil, errors.New("ports: nil channel")
	}
	if h == nil {
		t.Unregister(ch)
		return nil, nil
	}
	if _, p := t.find(ch); p != nil {
		old := p.handler
		p.handler = h
		core.ReleaseHandler(old)
		return p, nil
	}
	if t.capacity > 0 && len(t.ports) >= t.capacity {
		return nil, core.ErrResourceExhausted
	}
	if err := ch.attach(); err != nil {
		return nil, err
	}
	t.nextID++
	p := &Port{ID: t.nextID, Channel: ch, handler: h}
	t.ports = append(t.ports, p)
	return p, nil
}

// Unregister removes the port for ch. The channel itself stays open.
func (t *Table) Unregister(ch *Channel) {
	i, p := t.find(ch)
	if p == nil {
		return
	}
	t.remove(i)
}

func (t *Table) remove(i int) {
	p := t.ports[i]
	t.ports = append(t.ports[:i], t.ports[i+1:]...)
	p.Channel.detach()
	core.ReleaseHandler(p.handler)
}

// Prune unregisters the ports of closed channels and returns how many it
// removed.
func (t *Table) Prune() int {
	n := 0
	for i := 0; i < len(t.ports); {
		if t.ports[i].Channel.Closed() {
			t.remove(i)
			n++
			continue
		}
		i++
	}
	return n
}

// BuildWaitSet adds the read descriptor of every open port to ws.Read.
func (t *Table) BuildWaitSet(ws *poller.WaitSet) {
	for _, p := range t.ports {
		if p.Channel.Closed() {
			continue
		}
		ws.AddRead(p.Channel.FD())
	}
}

// DispatchReady delivers one message from the first ready port that has
// one. A ready port with nothing queued is skipped; ports whose channel
// was closed since the wait are unregistered first.
func (t *Table) DispatchReady(ws *poller.WaitSet) (bool, error) {
	t.Prune()
	for _, p := range t.ports {
		if !ws.Read.IsSet(p.Channel.FD()) {
			continue
		}
		data, ok := p.Channel.pop()
		if !ok {
			continue
		}
		return true, core.Deliver(p.ID, p.handler, data)
	}
	return false, nil
}

// Len returns the number of registered ports.
func (t *Table) Len() int { return len(t.ports) }

// Clear unregisters every port.
func (t *Table) Clear() {
	ps := t.ports
	t.ports = nil
	for _, p := range ps {
		p.Channel.detach()
		core.ReleaseHandler(p.handler)
	}
}
