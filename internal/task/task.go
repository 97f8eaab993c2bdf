// Package task starts named goroutines. Names show up as pprof labels and in
// log fields, which matters here: every RPC call and every stack delivery
// loop is its own goroutine, and leak hunting without names is miserable.
package task

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey struct{}

// Go runs fn in a new goroutine labelled with name. A nil parent context is
// replaced with context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	labels := pprof.Labels("task", name)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// GoWait is Go plus wait-group accounting: wg.Add(1) before the goroutine
// starts and wg.Done() when fn returns, so shutdown paths can Wait reliably.
func GoWait(parent context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer wg.Done()
		fn(ctx)
	})
}

// Name returns the task name stored in ctx, or "" if the goroutine was not
// started through this package.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
