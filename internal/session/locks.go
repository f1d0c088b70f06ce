package session

import "sync"

// KeyedMutex provides one mutex per key. The engine locks a session's key for
// the whole retrieve-generate-record pipeline so concurrent requests for the
// same session id record their turns in lock-acquisition order.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex returns an empty keyed mutex registry.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock locks key's mutex, creating it on first use. Mutexes are never
// discarded; the registry grows with the set of session ids, which the
// session TTL keeps bounded in practice.
func (k *KeyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
}

// Unlock unlocks key's mutex.
func (k *KeyedMutex) Unlock(key string) {
	k.mu.Lock()
	m := k.locks[key]
	k.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
