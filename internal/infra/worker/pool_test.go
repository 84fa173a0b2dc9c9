// File: internal/infra/worker/pool_test.go
package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	pool := NewPool(2, &l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var ran atomic.Int32
	for i := 0; i < 4; i++ {
		if err := pool.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for ran.Load() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of 4 tasks ran", ran.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	pool.Stop()
}

func TestPool_SingleLaneNeverOverlaps(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	pool := NewPool(1, &l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	var inFlight, overlaps atomic.Int32
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			if inFlight.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			done <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("task did not finish")
		}
	}
	if overlaps.Load() != 0 {
		t.Fatalf("single-lane pool ran %d tasks concurrently", overlaps.Load())
	}
	pool.Stop()
}

func TestPool_SubmitValidation(t *testing.T) {
	t.Parallel()

	l := zerolog.Nop()
	pool := NewPool(1, &l)
	if err := pool.Submit(nil); err == nil {
		t.Fatal("nil task must be rejected")
	}

	// The pool is not started, so the buffered queue (4 slots for one
	// worker) eventually saturates and Submit reports it.
	task := func(ctx context.Context) error { return nil }
	for i := 0; i < 4; i++ {
		if err := pool.Submit(task); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := pool.Submit(task); err == nil {
		t.Fatal("expected saturation error")
	}
}
