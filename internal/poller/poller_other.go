//go:build !unix

package poller

import "time"

// Poller is unavailable on this platform.
type Poller struct{}

// New always fails with ErrUnsupported.
func New() (*Poller, error) { return nil, ErrUnsupported }

// Wait always fails with ErrUnsupported.
func (p *Poller) Wait(*WaitSet, time.Duration) error { return ErrUnsupported }

// Wake always fails with ErrUnsupported.
func (p *Poller) Wake() error { return ErrUnsupported }

// Close is a no-op.
func (p *Poller) Close() error { return nil }
