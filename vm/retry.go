package vm

import (
	"context"
	"errors"
	"time"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// Retry-block orchestrator
// ---------------------------------------------------------------------------

// RetryOrchestrator re-runs a block while it fails with a transient
// invalidation. Preserved variables carry their latest values from one
// attempt into the next.
type RetryOrchestrator struct {
	Vars    *Variables
	Backoff time.Duration

	// OnTransient is called after each transient failure, before the
	// backoff wait.
	OnTransient func(attempt int, err error)
}

// Run executes body until it succeeds, fails with a non-transient error, or
// the timeout elapses. Each attempt starts from the top of body.
func (r *RetryOrchestrator) Run(ctx context.Context, timeout time.Duration, preserve []string, body func(ctx context.Context, attempt int) (Value, error)) (Value, error) {
	deadline := time.Now().Add(timeout)
	saved := r.capture(preserve)

	for attempt := 1; ; attempt++ {
		r.restore(saved)

		v, err := body(ctx, attempt)
		if err == nil {
			return v, nil
		}

		var transient *TransientInvalidationError
		if !errors.As(err, &transient) {
			return Undefined, err
		}

		saved = r.capture(preserve)
		if r.OnTransient != nil {
			r.OnTransient(attempt, err)
		}

		if !time.Now().Add(r.Backoff).Before(deadline) {
			return Undefined, &TimeoutError{Timeout: timeout, Attempts: attempt, Last: err}
		}
		log.Infof("transient failure on attempt %d, retrying in %s: %v", attempt, r.Backoff, err)
		if err := sleepContext(ctx, r.Backoff); err != nil {
			return Undefined, err
		}
	}
}

func (r *RetryOrchestrator) capture(names []string) map[string]Value {
	out := make(map[string]Value, len(names))
	for _, n := range names {
		if v, ok := r.Vars.Get(n); ok {
			out[n] = v.Copy()
		}
	}
	return out
}

func (r *RetryOrchestrator) restore(saved map[string]Value) {
	for n, v := range saved {
		r.Vars.Set(n, v)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// execRetry runs a RETRY_ON_STALE block. After a transient failure the
// context stack and call stack are cut back to their depth at block entry,
// discarding the frames of the abandoned attempt.
func (i *Interpreter) execRetry(ctx context.Context, c *compiler.RetryBlock) (flow, error) {
	timeout := i.cfg.RetryTimeout
	if c.TimeoutMS > 0 {
		timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}

	ctxDepth := i.contexts.Depth()
	callDepth := len(i.callStack)
	var result flow

	orch := &RetryOrchestrator{
		Vars:    i.vars,
		Backoff: i.cfg.RetryBackoff,
		OnTransient: func(attempt int, err error) {
			i.contexts.Truncate(ctxDepth)
			i.callStack = i.callStack[:callDepth]
		},
	}
	_, err := orch.Run(ctx, timeout, c.Preserve, func(ctx context.Context, attempt int) (Value, error) {
		f, err := i.runBlock(ctx, c.Body)
		result = f
		return i.last, err
	})
	if err != nil {
		return flowNext, err
	}
	return result, nil
}
