package hostapi

import (
	"fmt"

	"github.com/cryguy/jsloop/internal/core"
	"github.com/cryguy/jsloop/internal/eventloop"
)

const consoleJS = `
(function() {
	function format(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var arg = args[i];
			if (typeof arg === 'string') {
				parts.push(arg);
			} else if (arg instanceof Error) {
				parts.push(arg.stack ? String(arg) + '\n' + arg.stack : String(arg));
			} else if (typeof arg === 'object' && arg !== null) {
				try { parts.push(JSON.stringify(arg)); } catch (e) { parts.push(String(arg)); }
			} else {
				parts.push(String(arg));
			}
		}
		return parts.join(' ');
	}
	var levels = ['log', 'info', 'warn', 'error', 'debug'];
	var con = {};
	for (var i = 0; i < levels.length; i++) {
		(function(lvl) {
			con[lvl] = function() { __console(lvl, format(arguments)); };
		})(levels[i]);
	}
	globalThis.console = con;
	globalThis.print = function() { __console('log', format(arguments)); };
})();
`

// SetupConsole installs console and print. warn and error go to stderr,
// everything else to stdout.
func (o *OS) SetupConsole(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__console", func(level, message string) {
		w := o.stdout
		if level == "warn" || level == "error" {
			w = o.stderr
		}
		if _, err := fmt.Fprintln(w, message); err != nil {
			o.log.Warning().Err(err).Str("level", level).Log("console write failed")
		}
	}); err != nil {
		return err
	}
	return rt.Eval(consoleJS)
}

const globalsJS = `
(function() {
	globalThis.setTimeout = function(fn, delay) {
		if (typeof fn !== 'function') throw new TypeError('callback is not a function');
		var args = Array.prototype.slice.call(arguments, 2);
		return os.setTimeout(function() { fn.apply(null, args); }, delay);
	};
	globalThis.clearTimeout = function(handle) { os.clearTimeout(handle); };
	globalThis.queueMicrotask = globalThis.queueMicrotask || function(fn) {
		Promise.resolve().then(fn);
	};
})();
`

// SetupGlobals installs setTimeout and clearTimeout on top of os.
func SetupGlobals(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	return rt.Eval(globalsJS)
}
