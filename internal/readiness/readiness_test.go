package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/poller"
)

type releasable struct {
	name     string
	log      *[]string
	released int
}

func (r *releasable) Invoke() error { *r.log = append(*r.log, r.name); return nil }
func (r *releasable) Release()      { r.released++ }

func TestSetHandlerLifecycle(t *testing.T) {
	r := New(0)
	var log []string
	rd := &releasable{name: "r", log: &log}
	wr := &releasable{name: "w", log: &log}

	require.NoError(t, r.SetHandler(9, Read, rd))
	require.NoError(t, r.SetHandler(9, Write, wr))
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.SetHandler(9, Read, nil))
	assert.Equal(t, 1, r.Len(), "write slot keeps the entry")
	assert.Equal(t, 1, rd.released)

	require.NoError(t, r.SetHandler(9, Write, nil))
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, wr.released)

	require.NoError(t, r.SetHandler(9, Read, nil), "clearing an unknown fd is a no-op")
}

func TestReplaceReleasesOld(t *testing.T) {
	r := New(0)
	var log []string
	a := &releasable{name: "a", log: &log}
	b := &releasable{name: "b", log: &log}

	require.NoError(t, r.SetHandler(3, Read, a))
	require.NoError(t, r.SetHandler(3, Read, b))
	assert.Equal(t, 1, a.released)
	assert.Zero(t, b.released)
	h, ok := r.Lookup(3)
	require.True(t, ok)
	assert.Same(t, b, h.Callback(Read))
}

func TestInvalidArguments(t *testing.T) {
	r := New(0)
	nop := core.CallbackFunc(func() error { return nil })
	assert.ErrorIs(t, r.SetHandler(-1, Read, nop), ErrInvalidFD)
	assert.Error(t, r.SetHandler(1, Direction(7), nop))
}

func TestBuildWaitSet(t *testing.T) {
	r := New(0)
	nop := core.CallbackFunc(func() error { return nil })
	require.NoError(t, r.SetHandler(4, Read, nop))
	require.NoError(t, r.SetHandler(6, Write, nop))
	require.NoError(t, r.SetHandler(8, Read, nop))
	require.NoError(t, r.SetHandler(8, Read, nil))

	ws := poller.NewWaitSet()
	r.BuildWaitSet(ws)
	assert.True(t, ws.Read.IsSet(4))
	assert.False(t, ws.Write.IsSet(4))
	assert.True(t, ws.Write.IsSet(6))
	assert.False(t, ws.Read.IsSet(8), "empty handler never waited on")
	assert.Equal(t, 6, ws.MaxFD)
}

func TestDispatchOnePerCall(t *testing.T) {
	r := New(0)
	var log []string
	require.NoError(t, r.SetHandler(10, Read, &releasable{name: "10r", log: &log}))
	require.NoError(t, r.SetHandler(2, Write, &releasable{name: "2w", log: &log}))
	require.NoError(t, r.SetHandler(2, Read, &releasable{name: "2r", log: &log}))

	ws := poller.NewWaitSet()
	ws.AddRead(10)
	ws.AddRead(2)
	ws.AddWrite(2)

	ok, err := r.DispatchReady(ws)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"10r"}, log, "registration order, not descriptor order")

	ws.Read.Clear(10)
	_, err = r.DispatchReady(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"10r", "2r"}, log, "read slot before write slot")

	ws.Read.Clear(2)
	_, err = r.DispatchReady(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"10r", "2r", "2w"}, log)

	ws.Reset()
	ok, err = r.DispatchReady(ws)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandlerRemovesItself(t *testing.T) {
	r := New(0)
	var log []string
	require.NoError(t, r.SetHandler(1, Read, core.CallbackFunc(func() error {
		log = append(log, "1")
		return r.SetHandler(1, Read, nil)
	})))
	require.NoError(t, r.SetHandler(2, Read, &releasable{name: "2", log: &log}))

	ws := poller.NewWaitSet()
	ws.AddRead(1)
	ws.AddRead(2)
	_, err := r.DispatchReady(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, log)
	assert.Equal(t, 1, r.Len())

	_, err = r.DispatchReady(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, log)
}

func TestCapacity(t *testing.T) {
	r := New(1)
	nop := core.CallbackFunc(func() error { return nil })
	require.NoError(t, r.SetHandler(1, Read, nop))
	assert.ErrorIs(t, r.SetHandler(2, Read, nop), core.ErrResourceExhausted)
	assert.Equal(t, 1, r.Len())
}

func TestClearReleasesAll(t *testing.T) {
	r := New(0)
	var log []string
	a := &releasable{name: "a", log: &log}
	b := &releasable{name: "b", log: &log}
	require.NoError(t, r.SetHandler(1, Read, a))
	require.NoError(t, r.SetHandler(1, Write, b))

	r.Clear()
	assert.Zero(t, r.Len())
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, b.released)
}
