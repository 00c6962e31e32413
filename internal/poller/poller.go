// Package poller is the loop's blocking multiplexer: a level-triggered,
// select-style wait over read and write descriptor sets that are rebuilt
// before every call.
package poller

import (
	"errors"
	"math/bits"
)

// Standard errors.
var (
	ErrClosed      = errors.New("poller: closed")
	ErrUnsupported = errors.New("poller: unsupported platform")
)

const wordBits = 64

// FDSet is a growable descriptor bitset.
type FDSet struct {
	words []uint64
}

// Set marks fd. Negative descriptors are ignored.
func (s *FDSet) Set(fd int) {
	if fd < 0 {
		return
	}
	w := fd / wordBits
	for len(s.words) <= w {
		s.words = append(s.words, 0)
	}
	s.words[w] |= 1 << (uint(fd) % wordBits)
}

// Clear unmarks fd.
func (s *FDSet) Clear(fd int) {
	if fd < 0 || fd/wordBits >= len(s.words) {
		return
	}
	s.words[fd/wordBits] &^= 1 << (uint(fd) % wordBits)
}

// IsSet reports whether fd is marked.
func (s *FDSet) IsSet(fd int) bool {
	if fd < 0 || fd/wordBits >= len(s.words) {
		return false
	}
	return s.words[fd/wordBits]&(1<<(uint(fd)%wordBits)) != 0
}

// Count returns the number of marked descriptors.
func (s *FDSet) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset unmarks everything, keeping the backing storage.
func (s *FDSet) Reset() {
	clear(s.words)
}

// WaitSet is the multiplexer's input and, after Wait, its output: only
// descriptors that became ready remain marked.
type WaitSet struct {
	Read  FDSet
	Write FDSet
	MaxFD int
}

// NewWaitSet returns an empty WaitSet.
func NewWaitSet() *WaitSet {
	return &WaitSet{MaxFD: -1}
}

// AddRead marks fd for read readiness.
func (ws *WaitSet) AddRead(fd int) {
	ws.Read.Set(fd)
	ws.MaxFD = max(ws.MaxFD, fd)
}

// AddWrite marks fd for write readiness.
func (ws *WaitSet) AddWrite(fd int) {
	ws.Write.Set(fd)
	ws.MaxFD = max(ws.MaxFD, fd)
}

// Reset empties both sets.
func (ws *WaitSet) Reset() {
	ws.Read.Reset()
	ws.Write.Reset()
	ws.MaxFD = -1
}

// Empty reports whether nothing is marked.
func (ws *WaitSet) Empty() bool {
	return ws.Read.Count() == 0 && ws.Write.Count() == 0
}
