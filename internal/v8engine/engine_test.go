//go:build v8

package v8engine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/cryguy/jsloop/internal/core"
)

func newTestEngine(t *testing.T) (*Engine, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	e, err := NewEngine(core.EngineConfig{MemoryLimitMB: 128}, core.EngineOptions{Stdout: &out, Stderr: &out})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e, &out
}

func TestEngine_TimersAndMicrotasks(t *testing.T) {
	e, _ := newTestEngine(t)
	src := `
globalThis.out = [];
os.setTimeout(() => {
  out.push('t1');
  Promise.resolve().then(() => out.push('p1'));
}, 5);
os.setTimeout(() => out.push('t2'), 5);
Promise.resolve().then(() => out.push('p0'));
`
	if err := e.Eval("test.js", src); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := e.rt.EvalString("out.join(',')")
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if got != "p0,t1,p1,t2" {
		t.Errorf("out = %q, want %q", got, "p0,t1,p1,t2")
	}
}

func TestEngine_Console(t *testing.T) {
	e, out := newTestEngine(t)
	if err := e.Eval("log.js", "console.log('v8', 2)"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if out.String() != "v8 2\n" {
		t.Errorf("console output = %q", out.String())
	}
}

func TestRuntime_EvalBoolRejectsNumber(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.rt.EvalBool("1"); err == nil {
		t.Error("EvalBool(1) should fail")
	}
}

func TestEngine_UnhandledRejectionReported(t *testing.T) {
	var reports []error
	e, err := NewEngine(core.EngineConfig{}, core.EngineOptions{
		Diagnostics: core.DiagnosticFunc(func(err error) { reports = append(reports, err) }),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)

	src := `
Promise.resolve().then(() => { throw new Error('lost'); });
Promise.reject(new Error('caught')).catch(() => {});
`
	if err := e.Eval("reject.js", src); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1: %v", len(reports), reports)
	}
	var jobErr *core.JobError
	if !errors.As(reports[0], &jobErr) {
		t.Fatalf("report %T is not a JobError", reports[0])
	}
	if !strings.Contains(jobErr.Error(), "lost") {
		t.Errorf("report = %q, want it to mention the rejection reason", jobErr.Error())
	}
}

func TestRuntime_RunPendingJobDrainsRejections(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.rt.Eval("Promise.reject('a'); Promise.reject('b');"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	for _, want := range []string{"a", "b"} {
		ran, err := e.rt.RunPendingJob()
		if !ran || err == nil || !strings.HasSuffix(err.Error(), want) {
			t.Fatalf("RunPendingJob = (%v, %v), want rejection %q", ran, err, want)
		}
	}
	if ran, err := e.rt.RunPendingJob(); ran || err != nil {
		t.Errorf("RunPendingJob on empty queue = (%v, %v)", ran, err)
	}
}

func TestRuntime_RegisterFuncThrowsTypeError(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.rt.RegisterFunc("half", func(n int64) (int64, error) {
		if n%2 != 0 {
			return 0, errors.New("odd")
		}
		return n / 2, nil
	})
	if err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	got, err := e.rt.EvalString(`
let r = [String(half(8000000000))];
try { half(3); } catch (e) { r.push(e instanceof TypeError, e.message); }
try { half(); } catch (e) { r.push(e instanceof TypeError); }
r.join('|')`)
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if want := "4000000000|true|half: odd|true"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRuntime_RegisterFuncRejectsUnsupportedSignature(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.rt.RegisterFunc("bad", func([]byte) {}); err == nil {
		t.Error("RegisterFunc accepted a []byte parameter")
	}
	if err := e.rt.RegisterFunc("bad", 42); err == nil {
		t.Error("RegisterFunc accepted a non-function")
	}
}
