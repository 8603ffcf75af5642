package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLockerSerializesSameKey(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "customer-1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if len(locker.slots) != 0 {
		t.Fatalf("expected slots to be cleaned up, got %d", len(locker.slots))
	}
}

func TestMemoryLockerIndependentKeys(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("lock a failed: %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := locker.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked behind a")
	}
}

func TestMemoryLockerHonoursContext(t *testing.T) {
	locker := NewMemoryLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()

	again, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock after release failed: %v", err)
	}
	again()
}
