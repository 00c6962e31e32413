//go:build !v8

package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"

	"github.com/cryguy/jsloop/internal/core"
)

// qjsRuntime implements core.JSRuntime for the QuickJS engine.
type qjsRuntime struct {
	vm  *quickjs.VM
	tls *libc.TLS // cached from VM internals for direct C API access
	ctx uintptr   // cached JSContext pointer
	rt  uintptr   // cached JSRuntime pointer, owner of the job queue
}

var _ core.JSRuntime = (*qjsRuntime)(nil)

// newRuntime wraps vm. The job queue is only reachable through the C API,
// so failing to locate the VM internals is an error.
func newRuntime(vm *quickjs.VM) (*qjsRuntime, error) {
	r := &qjsRuntime{vm: vm}
	if err := r.tryExtractVMInternals(); err != nil {
		return nil, fmt.Errorf("accessing QuickJS internals: %w", err)
	}

	// Smoke-test: a trivial C API call to verify the pointers.
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	lib.XFreeValue(r.tls, r.ctx, glob)
	return r, nil
}

// Eval evaluates JavaScript and discards the result.
func (r *qjsRuntime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *qjsRuntime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", nil
	}
	return fmt.Sprint(result), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *qjsRuntime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *qjsRuntime) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", result)
	}
}

// RegisterFunc registers a Go function as a global JavaScript function.
// Multi-value Go returns (T, error) are automatically unwrapped: on success
// returns T, on error throws a TypeError. This is necessary because the
// QuickJS Go wrapper returns multi-value results as JS arrays.
func (r *qjsRuntime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName)
	return r.Eval(wrapJS)
}

// SetGlobal sets a global property on the VM's global object.
func (r *qjsRuntime) SetGlobal(name string, value any) error {
	atom, err := r.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := r.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// excGlobal temporarily holds a job's exception so it can be formatted.
const excGlobal = "__loop_job_exception"

const formatExceptionJS = `(function() {
	var e = globalThis.` + excGlobal + `;
	delete globalThis.` + excGlobal + `;
	if (e instanceof Error) return e.stack ? String(e) + "\n" + e.stack : String(e);
	return "uncaught: " + String(e);
})()`

// RunPendingJob executes one job from the runtime's job queue. The modernc
// quickjs wrapper never calls JS_ExecutePendingJob, so Promise reactions
// and FinalizationRegistry callbacks only run through here.
func (r *qjsRuntime) RunPendingJob() (bool, error) {
	pctx := r.tls.Alloc(int(unsafe.Sizeof(uintptr(0))))
	defer r.tls.Free(int(unsafe.Sizeof(uintptr(0))))

	ret := lib.XJS_ExecutePendingJob(r.tls, r.rt, pctx)
	switch {
	case ret == 0:
		return false, nil
	case ret > 0:
		return true, nil
	}
	return true, r.takeException()
}

// takeException clears the context's pending exception and returns it
// as a Go error.
func (r *qjsRuntime) takeException() error {
	exc := lib.XJS_GetException(r.tls, r.ctx)

	cName, err := libc.CString(excGlobal)
	if err != nil {
		lib.XFreeValue(r.tls, r.ctx, exc)
		return fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	// JS_SetPropertyStr consumes exc.
	ret := lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, exc)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)
	if ret < 0 {
		return errors.New("job failed with an exception that could not be read")
	}

	msg, err := r.EvalString(formatExceptionJS)
	if err != nil {
		return fmt.Errorf("formatting job exception: %w", err)
	}
	return errors.New(msg)
}

// VM returns the underlying QuickJS VM for engine-specific operations.
func (r *qjsRuntime) VM() *quickjs.VM {
	return r.vm
}

// tryExtractVMInternals uses reflect+unsafe to cache the VM's tls, ctx and
// runtime pointer.
//
// VM struct layout (modernc.org/quickjs@v0.17.1):
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func (r *qjsRuntime) tryExtractVMInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()

	vmType := reflect.TypeOf(r.vm).Elem()
	vmPtr := uintptr(unsafe.Pointer(r.vm))

	// cContext is the first field of VM (offset 0).
	r.ctx = *(*uintptr)(unsafe.Pointer(vmPtr))
	if r.ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}

	rtField, ok := vmType.FieldByName("runtime")
	if !ok {
		return fmt.Errorf("quickjs.VM missing 'runtime' field")
	}
	rtPtr := *(*uintptr)(unsafe.Pointer(vmPtr + rtField.Offset))
	if rtPtr == 0 {
		return fmt.Errorf("runtime pointer is nil")
	}

	// cRuntime is the first field of runtime, tls the second.
	r.rt = *(*uintptr)(unsafe.Pointer(rtPtr))
	if r.rt == 0 {
		return fmt.Errorf("JSRuntime is nil")
	}
	r.tls = *(**libc.TLS)(unsafe.Pointer(rtPtr + unsafe.Sizeof(uintptr(0))))
	if r.tls == nil {
		return fmt.Errorf("TLS is nil")
	}

	return nil
}
