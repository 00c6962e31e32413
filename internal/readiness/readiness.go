// Package readiness maps file descriptors to read and write callbacks.
package readiness

import (
	"errors"
	"fmt"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/poller"
)

// Direction selects one of a handler's two callback slots.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ErrInvalidFD is returned for negative descriptors.
var ErrInvalidFD = errors.New("readiness: invalid file descriptor")

// Handler holds the callbacks for one descriptor.
type Handler struct {
	FD  int
	cbs [2]core.Callback
}

// Callback returns the callback in slot d, or nil.
func (h *Handler) Callback(d Direction) core.Callback { return h.cbs[d] }

func (h *Handler) empty() bool { return h.cbs[Read] == nil && h.cbs[Write] == nil }

// Registrar keeps handlers in registration order.
type Registrar struct {
	handlers []*Handler
	capacity int
}

// New creates an empty Registrar. capacity bounds the number of
// descriptors; zero means unbounded.
func New(capacity int) *Registrar {
	return &Registrar{capacity: capacity}
}

func (r *Registrar) find(fd int) (int, *Handler) {
	for i, h := range r.handlers {
		if h.FD == fd {
			return i, h
		}
	}
	return -1, nil
}

// SetHandler installs cb in the d slot of fd. A nil cb clears the slot,
// and the descriptor's entry is removed once both slots are empty. The
// callback previously in the slot is released.
func (r *Registrar) SetHandler(fd int, d Direction, cb core.Callback) error {
	if fd < 0 {
		return ErrInvalidFD
	}
	if d != Read && d != Write {
		return fmt.Errorf("readiness: unknown direction %v", d)
	}

	i, h := r.find(fd)
	if cb == nil {
		if h == nil {
			return nil
		}
		old := h.cbs[d]
		h.cbs[d] = nil
		if h.empty() {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
		}
		if old != nil {
			core.ReleaseCallback(old)
		}
		return nil
	}

	if h == nil {
		if r.capacity > 0 && len(r.handlers) >= r.capacity {
			return core.ErrResourceExhausted
		}
		h = &Handler{FD: fd}
		r.handlers = append(r.handlers, h)
	}
	old := h.cbs[d]
	h.cbs[d] = cb
	if old != nil {
		core.ReleaseCallback(old)
	}
	return nil
}

// Lookup returns the handler for fd.
func (r *Registrar) Lookup(fd int) (*Handler, bool) {
	_, h := r.find(fd)
	return h, h != nil
}

// BuildWaitSet adds every descriptor with a read callback to ws.Read and
// every descriptor with a write callback to ws.Write.
func (r *Registrar) BuildWaitSet(ws *poller.WaitSet) {
	for _, h := range r.handlers {
		if h.cbs[Read] != nil {
			ws.AddRead(h.FD)
		}
		if h.cbs[Write] != nil {
			ws.AddWrite(h.FD)
		}
	}
}

// DispatchReady invokes the callback of the first handler, in registration
// order, whose descriptor is ready, and returns immediately: the callback
// may have changed the handler list.
func (r *Registrar) DispatchReady(ws *poller.WaitSet) (bool, error) {
	for _, h := range r.handlers {
		if cb := h.cbs[Read]; cb != nil && ws.Read.IsSet(h.FD) {
			return true, core.Invoke(core.SourceReadiness, int64(h.FD), cb)
		}
		if cb := h.cbs[Write]; cb != nil && ws.Write.IsSet(h.FD) {
			return true, core.Invoke(core.SourceReadiness, int64(h.FD), cb)
		}
	}
	return false, nil
}

// Len returns the number of descriptors with at least one callback.
func (r *Registrar) Len() int { return len(r.handlers) }

// Clear removes every handler, releasing its callbacks.
func (r *Registrar) Clear() {
	hs := r.handlers
	r.handlers = nil
	for _, h := range hs {
		for _, cb := range h.cbs {
			if cb != nil {
				core.ReleaseCallback(cb)
			}
		}
	}
}
