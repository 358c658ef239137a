package service

import (
	"context"
	"sync"

	"parking-service/internal/domain/parking"
)

// SpotLocks serializes work per spot. Waiters on the same spot are served in arrival order;
// different spots never contend beyond the short map critical section.
type SpotLocks struct {
	mu      sync.Mutex
	entries map[parking.SpotKey]*spotEntry
}

type spotEntry struct {
	waiters []chan struct{}
}

func NewSpotLocks() *SpotLocks {
	return &SpotLocks{entries: make(map[parking.SpotKey]*spotEntry)}
}

// Lock blocks until the spot is free or ctx is done. The returned release func is idempotent.
func (l *SpotLocks) Lock(ctx context.Context, key parking.SpotKey) (func(), error) {
	l.mu.Lock()
	entry, held := l.entries[key]
	if !held {
		l.entries[key] = &spotEntry{}
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	turn := make(chan struct{})
	entry.waiters = append(entry.waiters, turn)
	l.mu.Unlock()

	select {
	case <-turn:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := false
		for i, w := range entry.waiters {
			if w == turn {
				entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
				removed = true
				break
			}
		}
		l.mu.Unlock()
		if !removed {
			// ownership was handed over while we were giving up
			l.release(key)
		}
		return nil, ctx.Err()
	}
}

func (l *SpotLocks) releaser(key parking.SpotKey) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

func (l *SpotLocks) release(key parking.SpotKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		return
	}
	if len(entry.waiters) == 0 {
		delete(l.entries, key)
		return
	}
	next := entry.waiters[0]
	entry.waiters = entry.waiters[1:]
	close(next)
}

// held reports the number of spots currently locked.
func (l *SpotLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
