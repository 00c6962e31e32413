package core

// Interpreter is the part of the embedded engine the event loop drives.
// Implementations are not safe for concurrent use; every method is called
// from the goroutine running the loop.
type Interpreter interface {
	// RunPendingJob executes at most one job from the interpreter's job
	// queue (promise reactions, finalization callbacks, ...). ran reports
	// whether a job was taken; err is non-nil when that job failed.
	RunPendingJob() (ran bool, err error)
}

// Callback is an interpreter function reference registered with one of the
// loop's registries. Invoke calls it with no arguments.
type Callback interface {
	Invoke() error
}

// Releaser is implemented by callbacks that hold a reference inside the
// interpreter. Registries call Release exactly once when they drop the
// callback, whether it was replaced, cleared, fired or discarded.
type Releaser interface {
	Release()
}

// CallbackFunc adapts a plain Go function to Callback.
type CallbackFunc func() error

// Invoke calls f.
func (f CallbackFunc) Invoke() error { return f() }

// MessageHandler receives payloads posted to a message port.
type MessageHandler interface {
	HandleMessage(data []byte) error
}

// MessageHandlerFunc adapts a plain Go function to MessageHandler.
type MessageHandlerFunc func(data []byte) error

// HandleMessage calls f.
func (f MessageHandlerFunc) HandleMessage(data []byte) error { return f(data) }

// DiagnosticSink receives job and callback failures. The loop reports every
// failure here and keeps running.
type DiagnosticSink interface {
	Report(err error)
}

// DiagnosticFunc adapts a plain Go function to DiagnosticSink.
type DiagnosticFunc func(err error)

// Report calls f.
func (f DiagnosticFunc) Report(err error) { f(err) }

// ReleaseCallback releases cb if it holds an interpreter reference.
func ReleaseCallback(cb Callback) {
	if r, ok := cb.(Releaser); ok {
		r.Release()
	}
}

// ReleaseHandler releases h if it holds an interpreter reference.
func ReleaseHandler(h MessageHandler) {
	if r, ok := h.(Releaser); ok {
		r.Release()
	}
}
