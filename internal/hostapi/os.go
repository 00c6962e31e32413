package hostapi

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/term"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/eventloop"
	"github.com/cryguy/jsloop/internal/readiness"
)

// osJS builds the os object on top of the __os_* host functions. %s is
// replaced with the signal number table.
const osJS = `
(function() {
	var os = {};
	var finalizer = typeof FinalizationRegistry === 'function'
		? new FinalizationRegistry(function(id) { __os_timerRelease(id); })
		: null;

	function bind(fn) {
		if (fn === null || fn === undefined) return 0;
		return __loop.add(fn);
	}
	function guarded(fid, call) {
		try {
			return call();
		} catch (e) {
			if (fid) __loop.release([fid]);
			throw e;
		}
	}

	function Timer(id) { this.id = id; }
	Timer.prototype.toString = function() { return '[object Timer]'; };

	os.setTimeout = function(fn, delay) {
		var fid = __loop.add(fn);
		var ms = Math.max(0, Math.floor(Number(delay) || 0));
		var id = guarded(fid, function() { return __os_setTimeout(fid, ms); });
		var handle = new Timer(id);
		if (finalizer) finalizer.register(handle, id);
		else __os_timerRelease(id);
		return handle;
	};
	os.clearTimeout = function(handle) {
		if (handle instanceof Timer) __os_clearTimeout(handle.id);
	};
	os.setReadHandler = function(fd, fn) {
		var fid = bind(fn);
		guarded(fid, function() { __os_setHandler(fd | 0, 0, fid); });
	};
	os.setWriteHandler = function(fd, fn) {
		var fid = bind(fn);
		guarded(fid, function() { __os_setHandler(fd | 0, 1, fid); });
	};
	os.signal = function(sig, fn) {
		var fid = bind(fn);
		guarded(fid, function() { __os_signal(sig | 0, fid); });
	};
	os.onmessage = function(name, fn) {
		var fid = bind(fn);
		guarded(fid, function() { __os_onmessage(String(name), fid); });
	};
	os.kill = function(pid, sig) { __os_kill(pid | 0, sig | 0); };
	os.now = function() { return __os_now(); };
	os.sleep = function(ms) { __os_sleep(Math.max(0, ms | 0)); };
	os.isatty = function(fd) { return __os_isatty(fd | 0) === 1; };
	os.ttyGetWinSize = function(fd) {
		var s = __os_ttyGetWinSize(fd | 0);
		return s ? JSON.parse(s) : null;
	};
	os.Timer = Timer;

	var sigs = %s;
	for (var name in sigs) os[name] = sigs[name];

	globalThis.os = os;
})();
`

// SetupOS registers the __os_* host functions and builds the os object.
func (o *OS) SetupOS(rt core.JSRuntime, el *eventloop.EventLoop) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"__os_setTimeout", func(fid, delayMs int) (int, error) {
			t, err := el.ScheduleTimer(time.Duration(delayMs)*time.Millisecond, o.loopCallback(fid))
			if err != nil {
				return 0, err
			}
			return int(t.ID()), nil
		}},
		{"__os_clearTimeout", func(id int) (int, error) {
			if t, ok := el.LookupTimer(int64(id)); ok {
				el.CancelTimer(t)
			}
			return 0, nil
		}},
		{"__os_timerRelease", func(id int) (int, error) {
			if t, ok := el.LookupTimer(int64(id)); ok {
				el.ReleaseTimer(t)
			}
			return 0, nil
		}},
		{"__os_setHandler", func(fd, dir, fid int) (int, error) {
			d := readiness.Read
			if dir == 1 {
				d = readiness.Write
			}
			return 0, el.SetReadinessHandler(fd, d, o.loopCallback(fid))
		}},
		{"__os_signal", func(sig, fid int) (int, error) {
			if sig < 0 || sig > 63 {
				return 0, fmt.Errorf("invalid signal number %d", sig)
			}
			return 0, el.BindSignal(sig, o.loopCallback(fid))
		}},
		{"__os_onmessage", func(name string, fid int) (int, error) {
			ch, ok := o.channels[name]
			if !ok {
				return 0, fmt.Errorf("unknown channel %q", name)
			}
			return 0, el.RegisterPort(ch, o.messageHandler(fid))
		}},
		{"__os_kill", func(pid, sig int) (int, error) {
			return 0, kill(pid, sig)
		}},
		{"__os_now", func() float64 {
			return float64(el.Now())
		}},
		{"__os_sleep", func(ms int) (int, error) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return 0, nil
		}},
		{"__os_isatty", func(fd int) int {
			if term.IsTerminal(fd) {
				return 1
			}
			return 0
		}},
		{"__os_ttyGetWinSize", func(fd int) string {
			w, h, err := term.GetSize(fd)
			if err != nil {
				return ""
			}
			return fmt.Sprintf("[%d,%d]", w, h)
		}},
	}
	for _, f := range funcs {
		if err := rt.RegisterFunc(f.name, f.fn); err != nil {
			return fmt.Errorf("registering %s: %w", f.name, err)
		}
	}

	sigs, err := json.Marshal(signalNumbers)
	if err != nil {
		return fmt.Errorf("encoding signal table: %w", err)
	}
	return rt.Eval(fmt.Sprintf(osJS, sigs))
}
