// Package groutine names goroutines through pprof labels so profiles and logs can
// tell pipeline stages apart.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "stats-reporter", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	go Do(parentCtx, name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Do runs fn on the calling goroutine under the given name and returns its error.
// It fits errgroup.Group.Go:
//
//	g.Go(func() error { return groutine.Do(ctx, "writer", w.Run) })
func Do(parentCtx context.Context, name string, fn func(ctx context.Context) error) error {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	var err error
	pprof.Do(parentCtx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		err = fn(context.WithValue(ctx, goroutineNameKey, name))
	})
	return err
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
