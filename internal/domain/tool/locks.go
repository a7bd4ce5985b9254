package tool

import "sync"

// NameLocker serializes mutations per tool name while letting operations
// on distinct names proceed concurrently. Entries are reference-counted
// and removed when the last holder releases, so the map does not grow
// with the lifetime set of names ever seen.
type NameLocker struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NewNameLocker creates an empty locker.
func NewNameLocker() *NameLocker {
	return &NameLocker{locks: make(map[string]*nameLock)}
}

// Lock acquires the mutex for name, blocking until it is free.
func (l *NameLocker) Lock(name string) {
	l.mu.Lock()
	entry, ok := l.locks[name]
	if !ok {
		entry = &nameLock{}
		l.locks[name] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for name. Must pair with a prior Lock.
func (l *NameLocker) Unlock(name string) {
	l.mu.Lock()
	entry, ok := l.locks[name]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, name)
		}
	}
	l.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}
