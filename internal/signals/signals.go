// Package signals defers OS signal delivery into the loop.
//
// Raise only sets a bit in a process-wide mask; the loop clears the bit and
// runs the bound callback on its own goroutine.
package signals

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/cryguy/jsloop/internal/core"
)

// MaxSignal is the highest signal number the mask can hold.
const MaxSignal = 63

// pending lives for the whole process; it is written by Raise and read and
// cleared by the loop that owns signal delivery.
var pending atomic.Uint64

// Raise marks sig pending. It performs a single atomic OR and nothing
// else, so it is safe from any goroutine. Out-of-range numbers are ignored.
func Raise(sig int) {
	if sig < 0 || sig > MaxSignal {
		return
	}
	pending.Or(1 << uint(sig))
}

// Pending returns the current mask.
func Pending() uint64 { return pending.Load() }

// Waker interrupts a blocked poll.
type Waker interface {
	Wake() error
}

// Binding is one signal-to-callback association.
type Binding struct {
	Sig int
	cb  core.Callback
}

// Queue holds the bindings, in bind order.
type Queue struct {
	bindings []*Binding
	capacity int

	relayMu sync.Mutex
	relay   chan os.Signal
	done    chan struct{}
}

// New creates an empty Queue. capacity bounds the number of bindings; zero
// means unbounded.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

func (q *Queue) find(sig int) (int, *Binding) {
	for i, b := range q.bindings {
		if b.Sig == sig {
			return i, b
		}
	}
	return -1, nil
}

// Bind associates cb with sig, replacing any existing binding. A nil cb
// removes the binding. When a relay is running, OS delivery of sig is
// subscribed or reset to match.
func (q *Queue) Bind(sig int, cb core.Callback) error {
	if sig < 0 || sig > MaxSignal {
		return fmt.Errorf("signals: invalid signal number %d", sig)
	}
	i, b := q.find(sig)
	if cb == nil {
		if b == nil {
			return nil
		}
		q.bindings = append(q.bindings[:i], q.bindings[i+1:]...)
		core.ReleaseCallback(b.cb)
		q.unsubscribe(sig)
		return nil
	}
	if b != nil {
		old := b.cb
		b.cb = cb
		core.ReleaseCallback(old)
		return nil
	}
	if q.capacity > 0 && len(q.bindings) >= q.capacity {
		return core.ErrResourceExhausted
	}
	q.bindings = append(q.bindings, &Binding{Sig: sig, cb: cb})
	q.subscribe(sig)
	return nil
}

// DrainOne runs the callback of the first bound signal that is pending,
// after clearing its bit. Only the main context sees signals; isMain false
// always returns false.
func (q *Queue) DrainOne(isMain bool) (bool, error) {
	if !isMain || pending.Load() == 0 {
		return false, nil
	}
	for _, b := range q.bindings {
		mask := uint64(1) << uint(b.Sig)
		if pending.Load()&mask != 0 {
			pending.And(^mask)
			return true, core.Invoke(core.SourceSignal, int64(b.Sig), b.cb)
		}
	}
	return false, nil
}

// Len returns the number of bindings.
func (q *Queue) Len() int { return len(q.bindings) }

// Clear removes every binding.
func (q *Queue) Clear() {
	bs := q.bindings
	q.bindings = nil
	for _, b := range bs {
		core.ReleaseCallback(b.cb)
		q.unsubscribe(b.Sig)
	}
}

// Notify starts relaying OS signals for bound numbers: each delivery is
// Raised and then w is woken. Bindings made before Notify are subscribed
// immediately.
func (q *Queue) Notify(w Waker) {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()
	if q.relay != nil {
		return
	}
	q.relay = make(chan os.Signal, 16)
	q.done = make(chan struct{})
	go relay(q.relay, q.done, w)
	for _, b := range q.bindings {
		signal.Notify(q.relay, syscall.Signal(b.Sig))
	}
}

// Stop detaches the OS relay. Bindings are kept.
func (q *Queue) Stop() {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()
	if q.relay == nil {
		return
	}
	signal.Stop(q.relay)
	close(q.done)
	q.relay = nil
	q.done = nil
}

func (q *Queue) subscribe(sig int) {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()
	if q.relay != nil && sig > 0 {
		signal.Notify(q.relay, syscall.Signal(sig))
	}
}

func (q *Queue) unsubscribe(sig int) {
	q.relayMu.Lock()
	defer q.relayMu.Unlock()
	if q.relay != nil && sig > 0 {
		signal.Reset(syscall.Signal(sig))
	}
}

func relay(ch <-chan os.Signal, done <-chan struct{}, w Waker) {
	for {
		select {
		case s := <-ch:
			if n, ok := s.(syscall.Signal); ok {
				Raise(int(n))
				if w != nil {
					_ = w.Wake()
				}
			}
		case <-done:
			return
		}
	}
}
