// Package singleflight runs at most one call per key at a time and fans its
// result out to every caller that asked for the same key while it ran.
//
// Unlike the classic x/sync version, waiters hold a reference on the call:
// a waiter whose context ends detaches, and when the last waiter detaches
// before completion the shared call's context is cancelled. The abandoned
// call keeps its key until fn returns; callers arriving meanwhile wait for it
// to finish and then start a fresh call, so fn never runs twice at once for
// the same key.
package singleflight

import (
	"context"
	"sync"
)

// Group manages in-flight calls keyed by string. The zero value is ready to use.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*call[V]
}

type call[V any] struct {
	done   chan struct{}
	val    V
	err    error
	refs   int
	cancel context.CancelFunc
	// abandoned is set once every waiter has left; no one may attach after.
	abandoned bool
}

// Do runs fn once for key and waits for its result. If a call for key is
// already running, Do attaches to it instead and shared is true.
//
// fn receives a context that carries ctx's values but not its cancellation;
// it is cancelled only when every attached caller has gone away. If ctx ends
// first, Do returns ctx.Err() for this caller alone.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[V])
	}
	var c *call[V]
	for {
		existing, ok := g.m[key]
		if !ok {
			break
		}
		if !existing.abandoned {
			existing.refs++
			c, shared = existing, true
			break
		}

		// Wait out the cancelled call before starting another one.
		g.mu.Unlock()
		select {
		case <-existing.done:
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
		g.mu.Lock()
	}
	if c == nil {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{done: make(chan struct{}), refs: 1, cancel: cancel}
		g.m[key] = c
		go g.run(runCtx, key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
	}

	// Prefer a result that landed at the same time as the cancellation.
	select {
	case <-c.done:
		return c.val, shared, c.err
	default:
	}

	g.leave(c)
	var zero V
	return zero, shared, ctx.Err()
}

func (g *Group[V]) run(ctx context.Context, key string, c *call[V], fn func(context.Context) (V, error)) {
	defer c.cancel()

	var (
		v   V
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
		}()
		v, err = fn(ctx)
	}()

	// The key is released before the result is published, so a caller that
	// arrives after this point can never attach to a finished call.
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	c.val, c.err = v, err
	close(c.done)
	g.mu.Unlock()
}

func (g *Group[V]) leave(c *call[V]) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c.refs--
	if c.refs > 0 {
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	c.abandoned = true
	c.cancel()
}

// InFlight returns the number of keys with a running call, abandoned calls
// that have not returned yet included.
func (g *Group[V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

// Waiters returns how many callers are attached to the running call for key.
func (g *Group[V]) Waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.refs
	}
	return 0
}
