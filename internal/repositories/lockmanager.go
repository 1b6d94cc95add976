package repositories

import (
	"sync"
)

// LockManager serializes all mutations to a given transaction or
// subscription. Locks are keyed by entity id and held only around the
// ledger/state-machine mutation, never across network calls.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*entityLock),
	}
}

// Lock blocks until the lock for key is held. The returned function releases
// it; the entry is removed once no goroutine is waiting, so the map does not
// grow with the entity count.
func (m *LockManager) Lock(key string) func() {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &entityLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
