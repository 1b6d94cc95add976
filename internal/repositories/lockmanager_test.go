package repositories

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockManager_SerializesSameKey(t *testing.T) {
	t.Parallel()
	m := NewLockManager()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("txn:1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestLockManager_DifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()
	m := NewLockManager()

	unlockA := m.Lock("txn:a")
	defer unlockA()

	// Holding txn:a must not block txn:b; this would deadlock otherwise.
	done := make(chan struct{})
	go func() {
		unlockB := m.Lock("txn:b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestLockManager_EntriesAreReclaimed(t *testing.T) {
	t.Parallel()
	m := NewLockManager()

	for i := 0; i < 10; i++ {
		unlock := m.Lock("sub:1")
		unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}
