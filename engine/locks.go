package engine

import "sync"

// keyedMutex hands out one mutex per key and drops it once no caller holds
// or waits on it
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) acquire(key string) *refMutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	return m
}

func (k *keyedMutex) release(key string, m *refMutex) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free and returns the unlock function
func (k *keyedMutex) Lock(key string) func() {
	m := k.acquire(key)
	m.mu.Lock()

	return func() {
		m.mu.Unlock()
		k.release(key, m)
	}
}

// TryLock locks key only if it is free right now
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	m := k.acquire(key)
	if !m.mu.TryLock() {
		k.release(key, m)
		return nil, false
	}

	return func() {
		m.mu.Unlock()
		k.release(key, m)
	}, true
}

// Len returns the number of keys currently held or awaited
func (k *keyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
