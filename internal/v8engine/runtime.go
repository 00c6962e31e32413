//go:build v8

package v8engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/jsloop/internal/core"
)

// rejectionTrackerJS patches Promise so that a rejection reaching a promise
// nobody attached a rejection handler to is queued. The script evaluates to
// the function that dequeues one reason as a string, or undefined when the
// queue is empty. Promises consumed only by await are invisible to the patch.
const rejectionTrackerJS = `(() => {
  const P = Promise;
  const then = P.prototype.then;
  const reject = P.reject;
  const handled = new WeakSet();
  const queue = [];
  const watch = (p) => {
    then.call(p, undefined, (reason) => {
      if (!handled.has(p)) queue.push(reason);
    });
    return p;
  };
  P.prototype.then = function (onFulfilled, onRejected) {
    if (typeof onRejected === 'function') handled.add(this);
    return watch(then.call(this, onFulfilled, onRejected));
  };
  P.reject = function (reason) {
    return watch(reject.call(this, reason));
  };
  return () => {
    if (queue.length === 0) return undefined;
    const r = queue.shift();
    return r instanceof Error && r.stack ? r.stack : String(r);
  };
})()`

// typeErrorJS builds the TypeError thrown back at scripts calling a host
// function incorrectly.
const typeErrorJS = `(msg) => new TypeError(msg)`

// v8Runtime implements core.JSRuntime for the V8 engine.
type v8Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context

	takeRejection *v8.Function
	newTypeError  *v8.Function
}

var _ core.JSRuntime = (*v8Runtime)(nil)

func newRuntime(iso *v8.Isolate, ctx *v8.Context) (*v8Runtime, error) {
	r := &v8Runtime{iso: iso, ctx: ctx}

	var err error
	if r.takeRejection, err = r.function(rejectionTrackerJS, "rejections.js"); err != nil {
		return nil, fmt.Errorf("installing rejection tracker: %w", err)
	}
	if r.newTypeError, err = r.function(typeErrorJS, "type_error.js"); err != nil {
		return nil, fmt.Errorf("installing type error helper: %w", err)
	}
	return r, nil
}

// function evaluates js, which must produce a function.
func (r *v8Runtime) function(js, name string) (*v8.Function, error) {
	val, err := r.ctx.RunScript(js, name)
	if err != nil {
		return nil, err
	}
	return val.AsFunction()
}

// value evaluates js under a fixed name and never returns a nil value
// without an error.
func (r *v8Runtime) value(js string) (*v8.Value, error) {
	val, err := r.ctx.RunScript(js, "host.js")
	if err != nil {
		return nil, err
	}
	if val == nil {
		return v8.Undefined(r.iso), nil
	}
	return val, nil
}

func (r *v8Runtime) Eval(js string) error {
	_, err := r.value(js)
	return err
}

func (r *v8Runtime) EvalString(js string) (string, error) {
	val, err := r.value(js)
	if err != nil {
		return "", err
	}
	return val.String(), nil
}

func (r *v8Runtime) EvalBool(js string) (bool, error) {
	val, err := r.value(js)
	if err != nil {
		return false, err
	}
	if !val.IsBoolean() {
		return false, fmt.Errorf("eval: want boolean, got %q", val.String())
	}
	return val.Boolean(), nil
}

func (r *v8Runtime) EvalInt(js string) (int, error) {
	val, err := r.value(js)
	if err != nil {
		return 0, err
	}
	if !val.IsNumber() {
		return 0, fmt.Errorf("eval: want number, got %q", val.String())
	}
	return int(val.Integer()), nil
}

// hostFunc is a Go function exposed to scripts, with its signature checked
// once at registration.
type hostFunc struct {
	name   string
	fn     reflect.Value
	params []reflect.Kind
	// returnsErr is set for func(...) (T, error).
	returnsErr bool
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func newHostFunc(name string, fn any) (*hostFunc, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("register %s: %T is not a function", name, fn)
	}
	t := v.Type()
	h := &hostFunc{name: name, fn: v, params: make([]reflect.Kind, t.NumIn())}
	for i := range h.params {
		k := t.In(i).Kind()
		if !scalarKind(k) {
			return nil, fmt.Errorf("register %s: unsupported parameter type %s", name, t.In(i))
		}
		h.params[i] = k
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if !scalarKind(t.Out(0).Kind()) {
			return nil, fmt.Errorf("register %s: unsupported result type %s", name, t.Out(0))
		}
	case 2:
		if !scalarKind(t.Out(0).Kind()) || t.Out(1) != errorType {
			return nil, fmt.Errorf("register %s: want (T, error) results, got (%s, %s)", name, t.Out(0), t.Out(1))
		}
		h.returnsErr = true
	default:
		return nil, fmt.Errorf("register %s: too many results", name)
	}
	return h, nil
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.String, reflect.Bool, reflect.Int, reflect.Int32, reflect.Int64, reflect.Float64:
		return true
	}
	return false
}

// call converts the script arguments, invokes the Go function and converts
// its result. A non-nil error is the message to throw as a TypeError.
func (h *hostFunc) call(iso *v8.Isolate, args []*v8.Value) (*v8.Value, error) {
	if len(args) < len(h.params) {
		return nil, fmt.Errorf("%s: want %d argument(s), got %d", h.name, len(h.params), len(args))
	}
	in := make([]reflect.Value, len(h.params))
	for i, k := range h.params {
		in[i] = fromJS(args[i], k).Convert(h.fn.Type().In(i))
	}
	out := h.fn.Call(in)
	if len(out) == 0 {
		return nil, nil
	}
	if h.returnsErr && !out[1].IsNil() {
		return nil, fmt.Errorf("%s: %w", h.name, out[1].Interface().(error))
	}
	return toJS(iso, out[0])
}

// RegisterFunc exposes fn as a global function. Parameters and the first
// result may be string, bool, int, int32, int64 or float64; an optional
// trailing error result is thrown as a TypeError.
func (r *v8Runtime) RegisterFunc(name string, fn any) error {
	h, err := newHostFunc(name, fn)
	if err != nil {
		return err
	}
	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		res, err := h.call(r.iso, info.Args())
		if err != nil {
			return r.throwTypeError(err.Error())
		}
		return res
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *v8Runtime) throwTypeError(msg string) *v8.Value {
	jsMsg, err := v8.NewValue(r.iso, msg)
	if err != nil {
		return nil
	}
	exc, err := r.newTypeError.Call(v8.Undefined(r.iso), jsMsg)
	if err != nil {
		exc = jsMsg
	}
	return r.iso.ThrowException(exc)
}

func (r *v8Runtime) SetGlobal(name string, value any) error {
	val, err := r.toJSAny(value)
	if err != nil {
		return fmt.Errorf("global %q: %w", name, err)
	}
	return r.ctx.Global().Set(name, val)
}

// RunPendingJob drains the microtask queue, which V8 only exposes as a
// whole, then reports at most one rejection the queue left unhandled. It
// returns ran=true while rejections remain so the loop keeps calling.
func (r *v8Runtime) RunPendingJob() (bool, error) {
	r.ctx.PerformMicrotaskCheckpoint()
	reason, err := r.takeRejection.Call(v8.Undefined(r.iso))
	if err != nil {
		return false, err
	}
	if reason == nil || reason.IsUndefined() {
		return false, nil
	}
	return true, errors.New("unhandled promise rejection: " + reason.String())
}

func fromJS(val *v8.Value, k reflect.Kind) reflect.Value {
	switch k {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	default:
		return reflect.ValueOf(val.Integer())
	}
}

func toJS(iso *v8.Isolate, v reflect.Value) (*v8.Value, error) {
	switch v.Kind() {
	case reflect.String:
		return v8.NewValue(iso, v.String())
	case reflect.Bool:
		return v8.NewValue(iso, v.Bool())
	case reflect.Float64:
		return v8.NewValue(iso, v.Float())
	case reflect.Int, reflect.Int32, reflect.Int64:
		return intToJS(iso, v.Int())
	}
	return nil, fmt.Errorf("unsupported value of type %s", v.Type())
}

// intToJS keeps small integers as V8 smis and widens the rest to doubles.
func intToJS(iso *v8.Isolate, n int64) (*v8.Value, error) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return v8.NewValue(iso, int32(n))
	}
	return v8.NewValue(iso, float64(n))
}

func (r *v8Runtime) toJSAny(value any) (*v8.Value, error) {
	switch v := value.(type) {
	case nil:
		return v8.Undefined(r.iso), nil
	case *v8.Value:
		return v, nil
	case *v8.Object:
		return v.Value, nil
	case string, bool, float64:
		return v8.NewValue(r.iso, v)
	case int:
		return intToJS(r.iso, int64(v))
	case int32:
		return intToJS(r.iso, int64(v))
	case int64:
		return intToJS(r.iso, v)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return r.ctx.RunScript("JSON.parse("+strconv.Quote(string(data))+")", "host_global.js")
}
