package storage

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedLocker hands out one exclusive lock per key. Entries are reference counted and
// removed once nobody holds or waits on them.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLocker returns an empty KeyedLocker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is held or ctx is done.
func (k *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{sem: semaphore.NewWeighted(1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		k.release(key, entry, false)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, entry, true) })
	}, nil
}

func (k *KeyedLocker) release(key string, entry *keyedEntry, held bool) {
	if held {
		entry.sem.Release(1)
	}
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are currently tracked.
func (k *KeyedLocker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
