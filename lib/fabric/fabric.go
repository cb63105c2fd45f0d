// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

// Package fabric provides the engine's asynchronous request fabric:
// bounded-parallelism fan-out batches with fan-in awaiting, and a
// single-flight memo for deduplicating in-flight work.
//
// A single resolution expands into a graph of independent
// sub-requests (address resolution, transitive walks, artifact
// builds, run-spec fetches). The engine issues those as batches and
// suspends until every member completes. Results within a batch
// arrive in any order; callers must keep merge logic
// order-independent. If any member fails, the batch's context is
// cancelled and the first error is returned — sibling work is
// abandoned, not awaited.
package fabric

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fabric bounds the parallelism of submitted batches. The zero
// parallelism value means unbounded.
type Fabric struct {
	parallelism int
}

// New creates a Fabric with the given parallelism limit per batch.
func New(parallelism int) *Fabric {
	return &Fabric{parallelism: parallelism}
}

func (f *Fabric) group(ctx context.Context) (*errgroup.Group, context.Context) {
	grp, ctx := errgroup.WithContext(ctx)
	if f != nil && f.parallelism > 0 {
		grp.SetLimit(f.parallelism)
	}
	return grp, ctx
}

// Map fans fn out over inputs and awaits all results. The returned
// slice is index-aligned with inputs regardless of completion order.
// The first error cancels the batch context and is returned; partial
// results are discarded.
func Map[I, O any](ctx context.Context, f *Fabric, inputs []I, fn func(context.Context, I) (O, error)) ([]O, error) {
	results := make([]O, len(inputs))
	grp, ctx := f.group(ctx)
	for i, input := range inputs {
		grp.Go(func() error {
			out, err := fn(ctx, input)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Join2 runs two heterogeneous requests concurrently and awaits both.
// The explicit fan-out point for "gather sources AND collect package
// field-sets" style pairs.
func Join2[A, B any](ctx context.Context, f *Fabric, fnA func(context.Context) (A, error), fnB func(context.Context) (B, error)) (A, B, error) {
	var a A
	var b B
	grp, ctx := f.group(ctx)
	grp.Go(func() error {
		var err error
		a, err = fnA(ctx)
		return err
	})
	grp.Go(func() error {
		var err error
		b, err = fnB(ctx)
		return err
	})
	err := grp.Wait()
	return a, b, err
}

// Memo deduplicates concurrent and repeated computations by key.
// The first caller for a key runs the function; every other caller
// (concurrent or later) receives the same result. Used to memoize
// artifact builds across overlapping resolutions.
type Memo[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*memoCall[V]
}

type memoCall[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// NewMemo creates an empty memo.
func NewMemo[K comparable, V any]() *Memo[K, V] {
	return &Memo[K, V]{calls: make(map[K]*memoCall[V])}
}

// Do returns the memoized result for key, running fn exactly once per
// key. A caller whose context is cancelled while waiting returns the
// context error; the underlying computation keeps running for the
// benefit of other callers.
func (m *Memo[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	m.mu.Lock()
	call, ok := m.calls[key]
	if !ok {
		call = &memoCall[V]{done: make(chan struct{})}
		m.calls[key] = call
		m.mu.Unlock()

		call.value, call.err = fn()
		close(call.done)
		return call.value, call.err
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.value, call.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
