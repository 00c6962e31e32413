// Package timers holds the loop's scheduled callbacks.
//
// A Timer has two owners: the handle given to the script, and the registry
// link. The registry drops the link when the timer fires or is canceled,
// the host drops the handle when the script object is finalized. The timer
// is freed, exactly once, when both are gone.
package timers

import (
	"errors"
	"time"

	"github.com/cryguy/jsloop/internal/core"
)

// ErrNilCallback is returned when scheduling without a callback.
var ErrNilCallback = errors.New("timers: nil callback")

var epoch = time.Now()

// Now returns monotonic milliseconds since process start.
func Now() int64 {
	return time.Since(epoch).Milliseconds()
}

// Timer is one scheduled callback.
type Timer struct {
	id        int64
	deadline  int64
	cb        core.Callback
	hasObject bool
	linked    bool
	freed     bool
}

// ID returns the registry-assigned identifier.
func (t *Timer) ID() int64 { return t.id }

// Deadline returns the absolute deadline in monotonic milliseconds.
func (t *Timer) Deadline() int64 { return t.deadline }

// Linked reports whether the timer is still scheduled.
func (t *Timer) Linked() bool { return t.linked }

// HasObject reports whether the host-visible handle is still alive.
func (t *Timer) HasObject() bool { return t.hasObject }

// Freed reports whether both owners have released the timer.
func (t *Timer) Freed() bool { return t.freed }

// Registry stores timers in insertion order. Lookups for the earliest
// deadline scan the whole list; expected counts are small.
type Registry struct {
	timers   []*Timer
	byID     map[int64]*Timer
	nextID   int64
	capacity int
	onFree   func(*Timer)
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity bounds the number of linked timers. Zero means unbounded.
func WithCapacity(n int) Option {
	return func(r *Registry) { r.capacity = n }
}

// WithFreeHook registers fn to be called once for every freed timer.
func WithFreeHook(fn func(*Timer)) Option {
	return func(r *Registry) { r.onFree = fn }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{byID: make(map[int64]*Timer)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Schedule links a new timer firing cb at deadlineMs. The returned timer's
// handle is considered alive until Release is called.
func (r *Registry) Schedule(deadlineMs int64, cb core.Callback) (*Timer, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	if r.capacity > 0 && len(r.timers) >= r.capacity {
		return nil, core.ErrResourceExhausted
	}
	r.nextID++
	id := r.nextID

	t := &Timer{
		id:        id,
		deadline:  deadlineMs,
		cb:        cb,
		hasObject: true,
		linked:    true,
	}
	r.timers = append(r.timers, t)
	r.byID[id] = t
	return t, nil
}

// Lookup returns the linked or handle-owned timer with the given id.
func (r *Registry) Lookup(id int64) (*Timer, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// Cancel unlinks t. It is a no-op when t already fired or was canceled.
func (r *Registry) Cancel(t *Timer) {
	if t == nil || !t.linked {
		return
	}
	r.unlink(t)
	if !t.hasObject {
		r.free(t)
	}
}

// Release drops the handle owner of t, as a finalizer would. The timer
// stays scheduled if it is still linked.
func (r *Registry) Release(t *Timer) {
	if t == nil || !t.hasObject {
		return
	}
	t.hasObject = false
	if !t.linked {
		r.free(t)
	}
}

// NextDelay returns the time until the earliest linked deadline, clamped
// at zero, and false if no timer is linked. The scan starts from limit,
// so the result never exceeds it.
func (r *Registry) NextDelay(nowMs int64, limit time.Duration) (time.Duration, bool) {
	if len(r.timers) == 0 {
		return 0, false
	}
	minDelay := limit.Milliseconds()
	for _, t := range r.timers {
		delay := t.deadline - nowMs
		if delay <= 0 {
			return 0, true
		}
		if delay < minDelay {
			minDelay = delay
		}
	}
	return time.Duration(minDelay) * time.Millisecond, true
}

// FireOne fires the first expired timer in insertion order and stops. The
// timer is unlinked before its callback runs, so the callback may schedule
// or cancel freely.
func (r *Registry) FireOne(nowMs int64) (bool, error) {
	for _, t := range r.timers {
		if t.deadline > nowMs {
			continue
		}
		cb := t.cb
		t.cb = nil
		r.unlink(t)
		if !t.hasObject {
			r.free(t)
		}
		err := core.Invoke(core.SourceTimer, t.id, cb)
		core.ReleaseCallback(cb)
		return true, err
	}
	return false, nil
}

// Len returns the number of linked timers.
func (r *Registry) Len() int { return len(r.timers) }

// Clear unlinks every timer. Timers whose handle is gone are freed.
func (r *Registry) Clear() {
	for len(r.timers) > 0 {
		r.Cancel(r.timers[0])
	}
}

func (r *Registry) unlink(t *Timer) {
	for i, x := range r.timers {
		if x == t {
			copy(r.timers[i:], r.timers[i+1:])
			r.timers[len(r.timers)-1] = nil
			r.timers = r.timers[:len(r.timers)-1]
			break
		}
	}
	t.linked = false
}

func (r *Registry) free(t *Timer) {
	if t.freed {
		return
	}
	t.freed = true
	delete(r.byID, t.id)
	if t.cb != nil {
		core.ReleaseCallback(t.cb)
		t.cb = nil
	}
	if r.onFree != nil {
		r.onFree(t)
	}
}
