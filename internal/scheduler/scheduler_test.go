package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestScheduleRunsOncePerKey(t *testing.T) {
	t.Parallel()
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var runs int32
	var mu sync.Mutex
	release := make(chan struct{})

	run := func() {
		_, err := s.Schedule(context.Background(), "market-1", func(ctx context.Context) error {
			mu.Lock()
			runs++
			mu.Unlock()
			<-release
			return nil
		})
		if err != nil {
			t.Errorf("Schedule() error = %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("runs = %d, want 1 (concurrent callers should coalesce)", runs)
	}
}

func TestScheduleDistinctKeysRunIndependently(t *testing.T) {
	t.Parallel()
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		key := key
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Schedule(context.Background(), key, func(ctx context.Context) error {
				mu.Lock()
				seen[key] = true
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Schedule(%q) error = %v", key, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"a", "b", "c"} {
		if !seen[key] {
			t.Errorf("key %q never ran", key)
		}
	}
}

func TestScheduleAfterCompletionRunsAgain(t *testing.T) {
	t.Parallel()
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var runs int
	for i := 0; i < 3; i++ {
		_, err := s.Schedule(context.Background(), "market-1", func(ctx context.Context) error {
			runs++
			return nil
		})
		if err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3 (sequential calls must not coalesce)", runs)
	}
}
