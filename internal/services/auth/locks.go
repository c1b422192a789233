package auth

import (
	"context"
	"sync"
)

// keyedLock is a per-key mutex whose acquisition honours ctx
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]chan struct{})}
}

func (l *keyedLock) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock blocks until key is free or ctx ends
func (l *keyedLock) Lock(ctx context.Context, key string) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *keyedLock) Unlock(key string) {
	select {
	case <-l.slot(key):
	default:
	}
}

// Held reports whether key is currently locked
func (l *keyedLock) Held(key string) bool {
	return len(l.slot(key)) > 0
}
