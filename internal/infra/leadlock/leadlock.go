// Package leadlock serializes operations on a single lead. Signal
// recording, intent recalculation and routing are read-then-write flows
// without database-level atomicity, so concurrent event delivery for the
// same lead must be mutually excluded.
package leadlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyedMutex is a mutex per key. Unused entries are dropped so the map
// does not grow with the total number of leads ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty keyed mutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the matching unlock func.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
