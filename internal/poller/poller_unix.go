//go:build unix

package poller

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller waits on a WaitSet plus an internal wake-up descriptor, so other
// goroutines (the signal relay, channel senders) can interrupt a wait.
type Poller struct {
	wakeR, wakeW int
	fds          []unix.PollFd

	// mu keeps Close from releasing the wake descriptors under a
	// concurrent Wake
	mu     sync.RWMutex
	closed bool
}

// New creates a Poller with its wake-up descriptor.
func New() (*Poller, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, fmt.Errorf("creating wake fd: %w", err)
	}
	return &Poller{wakeR: r, wakeW: w}, nil
}

// Wait blocks until a descriptor in ws is ready, the timeout elapses, or
// Wake is called. A negative timeout waits without bound. On return ws
// holds only the ready descriptors; hang-up and error conditions count as
// ready for every requested direction. An interrupted wait returns an
// empty set and no error.
func (p *Poller) Wait(ws *WaitSet, timeout time.Duration) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	p.fds = append(p.fds[:0], unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
	for fd := 0; fd <= ws.MaxFD; fd++ {
		var ev int16
		if ws.Read.IsSet(fd) {
			ev |= unix.POLLIN
		}
		if ws.Write.IsSet(fd) {
			ev |= unix.POLLOUT
		}
		if ev != 0 {
			p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: ev})
		}
	}
	ws.Read.Reset()
	ws.Write.Reset()

	n, err := unix.Poll(p.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	if p.fds[0].Revents != 0 {
		drainWakeFd(p.wakeR)
	}
	for _, pfd := range p.fds[1:] {
		re := pfd.Revents
		if re == 0 {
			continue
		}
		if re&unix.POLLNVAL != 0 {
			return fmt.Errorf("descriptor %d: %w", pfd.Fd, unix.EBADF)
		}
		hup := re&(unix.POLLHUP|unix.POLLERR) != 0
		if pfd.Events&unix.POLLIN != 0 && (re&unix.POLLIN != 0 || hup) {
			ws.Read.Set(int(pfd.Fd))
		}
		if pfd.Events&unix.POLLOUT != 0 && (re&unix.POLLOUT != 0 || hup) {
			ws.Write.Set(int(pfd.Fd))
		}
	}
	return nil
}

// Wake interrupts a concurrent or the next Wait. Safe from any goroutine.
func (p *Poller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return writeWakeFd(p.wakeW)
}

// Close releases the wake-up descriptor.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := unix.Close(p.wakeR)
	if p.wakeW != p.wakeR {
		if err2 := unix.Close(p.wakeW); err == nil {
			err = err2
		}
	}
	return err
}

// timeoutMillis rounds up so a wait never returns before a timer is due.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return 1<<31 - 1
	}
	return int(ms)
}
