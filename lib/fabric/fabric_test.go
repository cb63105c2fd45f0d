// Copyright 2026 The Gantry Authors
// SPDX-License-Identifier: Apache-2.0

package fabric

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gantry-build/gantry/lib/testutil"
)

func TestMapPreservesInputOrder(t *testing.T) {
	f := New(4)
	inputs := []int{5, 3, 9, 1, 7}

	results, err := Map(context.Background(), f, inputs, func(ctx context.Context, n int) (string, error) {
		// Finish in scrambled order.
		time.Sleep(time.Duration(n) * time.Millisecond)
		return fmt.Sprintf("v%d", n), nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i, n := range inputs {
		want := fmt.Sprintf("v%d", n)
		if results[i] != want {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want)
		}
	}
}

func TestMapFirstErrorCancelsBatch(t *testing.T) {
	f := New(2)
	boom := errors.New("boom")
	var sawCancel atomic.Bool

	_, err := Map(context.Background(), f, []int{0, 1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
			return 0, ctx.Err()
		case <-time.After(5 * time.Second):
			return n, nil
		}
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Map error = %v, want %v", err, boom)
	}
	if !sawCancel.Load() {
		t.Error("sibling work did not observe batch cancellation")
	}
}

func TestMapRespectsParallelismLimit(t *testing.T) {
	const limit = 3
	f := New(limit)

	var running, peak atomic.Int32
	_, err := Map(context.Background(), f, make([]struct{}, 32), func(ctx context.Context, _ struct{}) (struct{}, error) {
		now := running.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if peak.Load() > limit {
		t.Errorf("observed %d concurrent executions, limit is %d", peak.Load(), limit)
	}
}

func TestJoin2RunsBothAndReturnsFirstError(t *testing.T) {
	f := New(0)

	a, b, err := Join2(context.Background(), f,
		func(ctx context.Context) (string, error) { return "left", nil },
		func(ctx context.Context) (int, error) { return 42, nil },
	)
	if err != nil {
		t.Fatalf("Join2: %v", err)
	}
	if a != "left" || b != 42 {
		t.Errorf("Join2 = (%q, %d)", a, b)
	}

	boom := errors.New("right failed")
	_, _, err = Join2(context.Background(), f,
		func(ctx context.Context) (string, error) { return "left", nil },
		func(ctx context.Context) (int, error) { return 0, boom },
	)
	if !errors.Is(err, boom) {
		t.Errorf("Join2 error = %v, want %v", err, boom)
	}
}

func TestMemoRunsOncePerKey(t *testing.T) {
	memo := NewMemo[string, int]()
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make(chan int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := memo.Do(context.Background(), "key", func() (int, error) {
				calls.Add(1)
				time.Sleep(time.Millisecond)
				return 7, nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
				return
			}
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	if calls.Load() != 1 {
		t.Errorf("function ran %d times, want 1", calls.Load())
	}
	for v := range results {
		if v != 7 {
			t.Errorf("memo result = %d, want 7", v)
		}
	}
}

func TestMemoDistinctKeysRunIndependently(t *testing.T) {
	memo := NewMemo[string, string]()
	a, err := memo.Do(context.Background(), "a", func() (string, error) { return "va", nil })
	if err != nil {
		t.Fatalf("Do(a): %v", err)
	}
	b, err := memo.Do(context.Background(), "b", func() (string, error) { return "vb", nil })
	if err != nil {
		t.Fatalf("Do(b): %v", err)
	}
	if a != "va" || b != "vb" {
		t.Errorf("memo values = %q, %q", a, b)
	}
}

func TestMemoCachesErrors(t *testing.T) {
	memo := NewMemo[string, int]()
	boom := errors.New("build failed")
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		_, err := memo.Do(context.Background(), "bad", func() (int, error) {
			calls.Add(1)
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Do error = %v, want %v", err, boom)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("failed computation ran %d times, want 1 (errors are memoized)", calls.Load())
	}
}

func TestMemoWaiterHonorsCancellation(t *testing.T) {
	memo := NewMemo[string, int]()
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		memo.Do(context.Background(), "slow", func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	testutil.RequireClosed(t, started, 5*time.Second, "waiting for first caller to start")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := memo.Do(ctx, "slow", func() (int, error) { return 2, nil })
		errCh <- err
	}()
	cancel()

	err := testutil.RequireReceive(t, errCh, 5*time.Second, "waiting for cancelled waiter")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled waiter error = %v, want context.Canceled", err)
	}
	close(release)
}
