// Package lock serializes read-modify-write cycles per key, so two aggregations
// for the same customer never interleave.
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned func releases it and
// is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// MemoryLocker serializes callers inside one process.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch      chan struct{}
	waiters int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: map[string]*slot{}}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.waiters++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *MemoryLocker) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.waiters--
	if s.waiters == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
