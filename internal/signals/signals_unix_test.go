//go:build unix

package signals

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/jsloop/internal/core"
)

type chanWaker chan struct{}

func (w chanWaker) Wake() error {
	select {
	case w <- struct{}{}:
	default:
	}
	return nil
}

func TestNotifyRelaysOSSignal(t *testing.T) {
	sig := int(syscall.SIGUSR1)
	clearBits(t, sig)
	q := New(0)
	require.NoError(t, q.Bind(sig, core.CallbackFunc(func() error { return nil })))

	w := make(chanWaker, 1)
	q.Notify(w)
	t.Cleanup(q.Stop)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case <-w:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not wake")
	}
	ok, err := q.DrainOne(true)
	require.NoError(t, err)
	assert.True(t, ok)
}
