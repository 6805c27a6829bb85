package router

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred (or handed to the stream's terminal
// hook). Overflow and slot-wait timeouts surface as execution-timeout errors
// for backpressure.
func (r *Router) beginGeneration(ctx context.Context) (func(), error) {
	noop := func() {}
	if err := ctx.Err(); err != nil {
		return noop, wrapErr(KindExecutionCancelled, "request context done", err)
	}

	timer := time.NewTimer(r.cfg.MaxWait)
	defer timer.Stop()
	select {
	case r.queueCh <- struct{}{}:
	case <-ctx.Done():
		return noop, wrapErr(KindExecutionCancelled, "request context done", ctx.Err())
	case <-timer.C:
		return noop, newErr(KindExecutionTimeout, "generation queue is full")
	}

	acquired := false
	defer func() {
		if !acquired {
			<-r.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return noop, wrapErr(KindExecutionCancelled, "request context done", err)
	}
	timer2 := time.NewTimer(r.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case r.genCh <- struct{}{}:
		acquired = true
		return func() { <-r.genCh; <-r.queueCh }, nil
	case <-ctx.Done():
		return noop, wrapErr(KindExecutionCancelled, "request context done", ctx.Err())
	case <-timer2.C:
		return noop, newErr(KindExecutionTimeout, "timed out waiting for generation slot")
	}
}
