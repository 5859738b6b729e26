package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunKeepsOrderAndIsolatesFailures(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	results := Run(context.Background(), items, 10, func(_ context.Context, n int) (string, error) {
		// Later items finish first to prove ordering does not depend on timing.
		time.Sleep(time.Duration(25-n) * 100 * time.Microsecond)
		if n%7 == 3 {
			return "", fmt.Errorf("item %d failed", n)
		}
		return fmt.Sprintf("ok-%d", n), nil
	})

	if len(results) != 25 {
		t.Fatalf("expected 25 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
		if i%7 == 3 {
			if r.Err == nil {
				t.Fatalf("expected item %d to fail", i)
			}
			continue
		}
		if r.Err != nil || r.Value != fmt.Sprintf("ok-%d", i) {
			t.Fatalf("unexpected result %d: %+v", i, r)
		}
	}
	if got := len(Failed(results)); got != 4 {
		t.Fatalf("expected 4 failures (3,10,17,24), got %d", got)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	items := make([]struct{}, 30)

	Run(context.Background(), items, 10, func(context.Context, struct{}) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})

	if peak.Load() > 10 {
		t.Fatalf("expected at most 10 concurrent calls, saw %d", peak.Load())
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	results := Run(ctx, make([]int, 20), 5, func(context.Context, int) (int, error) {
		if calls.Add(1) == 5 {
			cancel()
		}
		return 1, nil
	})

	if calls.Load() != 5 {
		t.Fatalf("expected only the first batch to run, got %d calls", calls.Load())
	}
	for _, r := range results[5:] {
		if !errors.Is(r.Err, context.Canceled) {
			t.Fatalf("expected remaining items to report cancellation, got %+v", r)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	if got := Run(context.Background(), []int(nil), 0, func(context.Context, int) (int, error) { return 0, nil }); len(got) != 0 {
		t.Fatalf("expected no results, got %d", len(got))
	}
}
