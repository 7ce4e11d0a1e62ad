package executions

import (
	"sync"

	"github.com/google/uuid"
)

// docLocks serializes runtime transitions per document within this process.
// The database CAS on current_step remains the authority across processes;
// the lock keeps local contention from burning transactions.
type docLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// lock acquires the per-document mutex and returns its release func.
// Entries are reference counted and removed once unused.
func (l *docLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
