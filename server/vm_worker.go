package server

import (
	"fmt"
	"io"

	"github.com/chazu/rexx/vm"
)

// workRequest represents a unit of work to be executed on the worker
// goroutine.
type workRequest struct {
	fn   func(*vm.TargetRegistry) interface{}
	done chan workResult
}

// workResult holds the return value from a worker operation.
type workResult struct {
	value interface{}
	err   error
}

// ScriptWorker serializes script runs and target dispatches through a
// single goroutine. Interpreters are single-threaded and targets are
// shared between runs, so every Connect handler goes through the worker.
type ScriptWorker struct {
	registry *vm.TargetRegistry
	opts     []vm.Option
	requests chan workRequest
	quit     chan struct{}
}

// NewScriptWorker creates a ScriptWorker and starts the processing
// goroutine. opts are applied to every interpreter the worker builds.
func NewScriptWorker(registry *vm.TargetRegistry, opts ...vm.Option) *ScriptWorker {
	if registry == nil {
		registry = vm.NewTargetRegistry()
	}
	w := &ScriptWorker{
		registry: registry,
		opts:     opts,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *ScriptWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *ScriptWorker) execute(fn func(*vm.TargetRegistry) interface{}) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.registry)
	}()
	return result
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. A panic in fn is returned as an error.
func (w *ScriptWorker) Do(fn func(*vm.TargetRegistry) interface{}) (interface{}, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	w.requests <- req
	result := <-req.done
	return result.value, result.err
}

// Interpreter builds an interpreter that prints to out and shares the
// worker's targets. It must only be run from inside Do.
func (w *ScriptWorker) Interpreter(out io.Writer, extra ...vm.Option) *vm.Interpreter {
	opts := make([]vm.Option, 0, len(w.opts)+len(extra)+2)
	opts = append(opts, w.opts...)
	opts = append(opts, extra...)
	opts = append(opts, vm.WithOutput(out), vm.WithTargets(w.registry))
	return vm.New(opts...)
}

// Registry returns the shared target registry. Registration is safe from
// any goroutine.
func (w *ScriptWorker) Registry() *vm.TargetRegistry {
	return w.registry
}

// Stop shuts down the worker goroutine.
func (w *ScriptWorker) Stop() {
	close(w.quit)
}
