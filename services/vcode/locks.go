package vcode

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks serializes chain-mutating operations per session so a chain
// entry's previousHash is never computed against a stale tail. Operations on
// distinct sessions proceed in parallel.
//
// Locks are retained for the life of the process; the map grows with the
// number of distinct sessions touched, which is bounded by session volume.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// acquire locks the mutex for id and returns the unlock function.
func (l *sessionLocks) acquire(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
