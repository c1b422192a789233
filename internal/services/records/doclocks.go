package records

import "sync"

// docLocks serializes read-modify-write cycles per stored document
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// profileDocLocks is shared by every ProfileStore in the process, so views handed
// out separately for the same document still write one at a time
var profileDocLocks = &docLocks{locks: make(map[string]*sync.Mutex)}

func (l *docLocks) lock(collection, docID string) func() {
	key := collection + "/" + docID
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
