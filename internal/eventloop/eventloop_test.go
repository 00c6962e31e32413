package eventloop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/poller"
	"github.com/cryguy/jsloop/internal/readiness"
	"github.com/cryguy/jsloop/internal/signals"
)

type fakeInterp struct {
	jobs []func() error
}

func (f *fakeInterp) enqueue(fn func() error) { f.jobs = append(f.jobs, fn) }

func (f *fakeInterp) RunPendingJob() (bool, error) {
	if len(f.jobs) == 0 {
		return false, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return true, job()
}

// fakeWaiter reports the descriptors in ready as ready and, when nothing
// is, advances the clock by the requested timeout.
type fakeWaiter struct {
	now      int64
	ready    map[int]bool
	timeouts []time.Duration
	err      error
	wakes    int
}

func newFakeWaiter() *fakeWaiter { return &fakeWaiter{ready: map[int]bool{}} }

func (w *fakeWaiter) clock() int64 { return w.now }

func (w *fakeWaiter) Wait(ws *poller.WaitSet, timeout time.Duration) error {
	w.timeouts = append(w.timeouts, timeout)
	if w.err != nil {
		return w.err
	}
	var rd, wr []int
	for fd := 0; fd <= ws.MaxFD; fd++ {
		if w.ready[fd] && ws.Read.IsSet(fd) {
			rd = append(rd, fd)
		}
		if w.ready[fd] && ws.Write.IsSet(fd) {
			wr = append(wr, fd)
		}
	}
	ws.Read.Reset()
	ws.Write.Reset()
	for _, fd := range rd {
		ws.Read.Set(fd)
	}
	for _, fd := range wr {
		ws.Write.Set(fd)
	}
	if len(rd)+len(wr) > 0 {
		return nil
	}
	if timeout < 0 {
		return errors.New("fake waiter: would block forever")
	}
	w.now += timeout.Milliseconds()
	return nil
}

func (w *fakeWaiter) Wake() error  { w.wakes++; return nil }
func (w *fakeWaiter) Close() error { return nil }

type collected struct {
	errs []error
}

func (c *collected) Report(err error) { c.errs = append(c.errs, err) }

func newTestLoop(t *testing.T, opts ...Option) (*EventLoop, *fakeInterp, *fakeWaiter, *collected) {
	t.Helper()
	interp := &fakeInterp{}
	w := newFakeWaiter()
	sink := &collected{}
	all := append([]Option{WithPoller(w), WithClock(w.clock), WithDiagnostics(sink)}, opts...)
	el, err := New(interp, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = el.Close() })
	return el, interp, w, sink
}

func record(log *[]string, name string) core.Callback {
	return core.CallbackFunc(func() error {
		*log = append(*log, name)
		return nil
	})
}

func TestRunIdleTerminates(t *testing.T) {
	el, _, w, _ := newTestLoop(t)

	require.NoError(t, el.Run())
	assert.Equal(t, Stopped, el.State())
	assert.Empty(t, w.timeouts, "idle loop must not wait")
	assert.ErrorIs(t, el.Run(), ErrLoopStopped)
}

func TestDrainBeforePoll(t *testing.T) {
	el, interp, _, _ := newTestLoop(t)
	var log []string

	_, err := el.ScheduleTimer(0, record(&log, "timer"))
	require.NoError(t, err)
	for _, name := range []string{"job1", "job2", "job3"} {
		name := name
		interp.enqueue(func() error {
			log = append(log, name)
			return nil
		})
	}

	require.NoError(t, el.Run())
	assert.Equal(t, []string{"job1", "job2", "job3", "timer"}, log)
}

func TestJobsQueuedByCallbacksRunBeforeNextPoll(t *testing.T) {
	el, interp, _, _ := newTestLoop(t)
	var log []string

	_, err := el.ScheduleTimer(0, core.CallbackFunc(func() error {
		log = append(log, "timer1")
		interp.enqueue(func() error {
			log = append(log, "reaction")
			return nil
		})
		return nil
	}))
	require.NoError(t, err)
	_, err = el.ScheduleTimer(0, record(&log, "timer2"))
	require.NoError(t, err)

	require.NoError(t, el.Run())
	assert.Equal(t, []string{"timer1", "reaction", "timer2"}, log)
}

func TestSignalBeforeTimer(t *testing.T) {
	const sig = 41
	el, _, _, _ := newTestLoop(t)
	var log []string

	_, err := el.ScheduleTimer(0, record(&log, "timer"))
	require.NoError(t, err)
	require.NoError(t, el.BindSignal(sig, record(&log, "signal")))
	el.RaiseSignal(sig)

	more, err := el.Poll()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []string{"signal"}, log)
	assert.Zero(t, signals.Pending()&(1<<sig), "bit must be cleared")

	_, err = el.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"signal", "timer"}, log)
}

func TestSignalsIgnoredOutsideMainContext(t *testing.T) {
	const sig = 42
	el, _, _, _ := newTestLoop(t, WithMainContext(false))
	var log []string

	require.NoError(t, el.BindSignal(sig, record(&log, "signal")))
	_, err := el.ScheduleTimer(0, record(&log, "timer"))
	require.NoError(t, err)
	signals.Raise(sig)

	_, err = el.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"timer"}, log)
	assert.NotZero(t, signals.Pending()&(1<<sig))

	// the main context still sees the occurrence
	main, _, _, _ := newTestLoop(t)
	require.NoError(t, main.BindSignal(sig, record(&log, "signal")))
	_, err = main.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"timer", "signal"}, log)
}

func TestOneDispatchPerPoll(t *testing.T) {
	el, _, w, _ := newTestLoop(t)
	var log []string

	require.NoError(t, el.SetReadinessHandler(5, readiness.Read, core.CallbackFunc(func() error {
		log = append(log, "fd5")
		delete(w.ready, 5)
		return nil
	})))
	require.NoError(t, el.SetReadinessHandler(7, readiness.Read, core.CallbackFunc(func() error {
		log = append(log, "fd7")
		delete(w.ready, 7)
		return nil
	})))
	w.ready[5] = true
	w.ready[7] = true

	_, err := el.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"fd5"}, log)

	_, err = el.Poll()
	require.NoError(t, err)
	assert.Equal(t, []string{"fd5", "fd7"}, log)
}

func TestWriteSlotDispatchedWhenReadIdle(t *testing.T) {
	el, _, w, _ := newTestLoop(t)
	var log []string

	require.NoError(t, el.SetReadinessHandler(3, readiness.Write, core.CallbackFunc(func() error {
		log = append(log, "write")
		return el.SetReadinessHandler(3, readiness.Write, nil)
	})))
	w.ready[3] = true

	require.NoError(t, el.Run())
	assert.Equal(t, []string{"write"}, log)
}

func TestTimerWaitsForDeadline(t *testing.T) {
	el, _, w, _ := newTestLoop(t)
	var log []string

	w.now = 1000
	_, err := el.ScheduleTimer(250*time.Millisecond, record(&log, "timer"))
	require.NoError(t, err)

	more, err := el.Poll()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, w.timeouts)
	assert.Equal(t, int64(1250), w.now)
	assert.Equal(t, []string{"timer"}, log)

	more, err = el.Poll()
	require.NoError(t, err)
	assert.False(t, more)
}

func TestIdleWaitCap(t *testing.T) {
	el, _, w, _ := newTestLoop(t, WithConfig(core.LoopConfig{IdleWaitMs: 500}))
	var log []string

	_, err := el.ScheduleTimer(time.Minute, record(&log, "timer"))
	require.NoError(t, err)

	more, err := el.Poll()
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, w.timeouts)
	assert.Empty(t, log)
}

func TestUnboundedWaitWithoutTimers(t *testing.T) {
	el, _, w, _ := newTestLoop(t)

	require.NoError(t, el.SetReadinessHandler(4, readiness.Read, core.CallbackFunc(func() error {
		return el.SetReadinessHandler(4, readiness.Read, nil)
	})))
	w.ready[4] = true

	require.NoError(t, el.Run())
	require.NotEmpty(t, w.timeouts)
	assert.Less(t, w.timeouts[0], time.Duration(0))
}

func TestCancelBeforeFire(t *testing.T) {
	el, _, _, _ := newTestLoop(t)
	fired := false

	tm, err := el.ScheduleTimer(100*time.Millisecond, core.CallbackFunc(func() error {
		fired = true
		return nil
	}))
	require.NoError(t, err)
	el.CancelTimer(tm)

	require.NoError(t, el.Run())
	assert.False(t, fired)
	assert.False(t, tm.Linked())
	assert.False(t, tm.Freed(), "handle still held")

	el.ReleaseTimer(tm)
	assert.True(t, tm.Freed())
}

func TestCallbackFailureReported(t *testing.T) {
	el, interp, _, sink := newTestLoop(t)
	boom := errors.New("boom")
	ran := false

	interp.enqueue(func() error { return boom })
	_, err := el.ScheduleTimer(0, core.CallbackFunc(func() error { return boom }))
	require.NoError(t, err)
	_, err = el.ScheduleTimer(0, core.CallbackFunc(func() error { panic("kaput") }))
	require.NoError(t, err)
	_, err = el.ScheduleTimer(0, core.CallbackFunc(func() error {
		ran = true
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, el.Run())
	assert.True(t, ran, "loop must survive failing callbacks")
	require.Len(t, sink.errs, 3)

	var jobErr *core.JobError
	require.ErrorAs(t, sink.errs[0], &jobErr)
	assert.ErrorIs(t, jobErr, boom)

	var cbErr *core.CallbackError
	require.ErrorAs(t, sink.errs[1], &cbErr)
	assert.Equal(t, core.SourceTimer, cbErr.Source)
	assert.ErrorIs(t, cbErr, boom)

	var panicErr core.PanicError
	require.ErrorAs(t, sink.errs[2], &panicErr)
	assert.Equal(t, "kaput", panicErr.Value)
}

func TestWaitFailureIsFatal(t *testing.T) {
	el, _, w, _ := newTestLoop(t)
	w.err = errors.New("bad descriptor")

	_, err := el.ScheduleTimer(time.Second, core.CallbackFunc(func() error { return nil }))
	require.NoError(t, err)

	err = el.Run()
	var waitErr *core.WaitError
	require.ErrorAs(t, err, &waitErr)
	assert.Equal(t, Running, el.State())
}

func TestCapacityExhausted(t *testing.T) {
	el, _, _, _ := newTestLoop(t, WithConfig(core.LoopConfig{MaxTimers: 1, MaxHandlers: 1}))
	nop := core.CallbackFunc(func() error { return nil })

	_, err := el.ScheduleTimer(time.Second, nop)
	require.NoError(t, err)
	_, err = el.ScheduleTimer(time.Second, nop)
	assert.ErrorIs(t, err, core.ErrResourceExhausted)
	assert.Equal(t, 1, el.timers.Len())

	require.NoError(t, el.SetReadinessHandler(1, readiness.Read, nop))
	require.NoError(t, el.SetReadinessHandler(1, readiness.Write, nop), "same fd is not a new entry")
	assert.ErrorIs(t, el.SetReadinessHandler(2, readiness.Read, nop), core.ErrResourceExhausted)
}

func TestResetRestoresRunning(t *testing.T) {
	el, _, _, _ := newTestLoop(t)
	require.NoError(t, el.Run())
	require.Equal(t, Stopped, el.State())

	_, err := el.ScheduleTimer(time.Hour, core.CallbackFunc(func() error { return nil }))
	require.NoError(t, err)
	assert.True(t, el.HasPending())

	el.Reset()
	assert.False(t, el.HasPending())
	assert.Equal(t, Running, el.State())
	require.NoError(t, el.Run())
}

func TestResumeKeepsSources(t *testing.T) {
	el, _, _, _ := newTestLoop(t)
	require.NoError(t, el.Run())
	require.ErrorIs(t, el.Run(), ErrLoopStopped)

	var log []string
	_, err := el.ScheduleTimer(time.Millisecond, record(&log, "later"))
	require.NoError(t, err)

	el.Resume()
	assert.Equal(t, Running, el.State())
	require.NoError(t, el.Run())
	assert.Equal(t, []string{"later"}, log)
}

func TestWorkerSignalBindingIsNotASource(t *testing.T) {
	el, _, w, _ := newTestLoop(t, WithMainContext(false))
	require.NoError(t, el.BindSignal(39, record(new([]string), "signal")))

	assert.False(t, el.HasPending())
	require.NoError(t, el.Run())
	assert.Empty(t, w.timeouts, "worker loop must not wait on signal bindings")
}
