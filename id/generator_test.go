package id

import (
	"sync"
	"testing"
	"time"
)

func TestClockGenerator_NextID_Uniqueness(t *testing.T) {
	gen := NewClockGenerator(1)

	seen := make(map[uint64]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %d", i, id)
		}
		seen[id] = true
	}
}

func TestClockGenerator_NextID_Monotonic(t *testing.T) {
	gen := NewClockGenerator(1)

	var prev uint64
	for i := 0; i < 1000; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%d, curr=%d", i, prev, id)
		}
		prev = id
	}
}

func TestClockGenerator_NextID_Concurrent(t *testing.T) {
	gen := NewClockGenerator(3)

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	ids := make(chan uint64, goroutines*idsPerGoroutine)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < idsPerGoroutine; i++ {
				ids <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, goroutines*idsPerGoroutine)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ID under concurrency: %d", id)
		}
		seen[id] = true
	}
}

func TestClockGenerator_ClockBackwards(t *testing.T) {
	gen := NewClockGenerator(1)
	base := time.UnixMilli(1_700_000_000_000)
	current := base
	gen.now = func() time.Time { return current }

	first := gen.NextID()
	current = base.Add(-time.Second)
	second := gen.NextID()

	if second <= first {
		t.Fatalf("expected IDs to keep increasing after clock skew: %d then %d", first, second)
	}
	if !TimeOf(second).Equal(base) {
		t.Fatalf("expected skewed ID to stay on last millisecond, got %v", TimeOf(second))
	}
}

func TestNodeOf(t *testing.T) {
	tests := []struct {
		name   string
		nodeID uint64
		want   uint64
	}{
		{"small node", 5, 5},
		{"max node", 63, 63},
		{"masked node", 64 + 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := NewClockGenerator(tt.nodeID)
			if got := NodeOf(gen.NextID()); got != tt.want {
				t.Errorf("NodeOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
