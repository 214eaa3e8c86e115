// Package locking implements the vault lock store: the durable record of
// which files are checked out, and the per-path critical sections that make
// "check lock, then act" atomic.
package locking

import "sync"

// KeyedMutex provides one mutex per key. It serializes every mutating
// operation on a given file path while letting different paths proceed
// concurrently. Entries are retained for the life of the process; the key
// space is bounded by the number of files in the vault.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for a key, creating it on first use.
func (k *KeyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// WithKey runs fn while holding the key's mutex.
func (k *KeyedMutex) WithKey(key string, fn func() error) error {
	m := k.get(key)
	m.Lock()
	defer m.Unlock()

	return fn()
}
