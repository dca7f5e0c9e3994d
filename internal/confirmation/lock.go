package confirmation

import "sync"

// patientLocks serializes confirmation processing per patient. Two replies
// from the same patient arriving in quick succession would otherwise race
// on the "most recent pending reminder" selection; the keyed mutex makes the
// select-then-claim sequence single-writer per patient while leaving
// different patients fully concurrent.
type patientLocks struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

type patientLock struct {
	mu   sync.Mutex
	refs int
}

func newPatientLocks() *patientLocks {
	return &patientLocks{locks: make(map[string]*patientLock)}
}

// acquire blocks until the lock for patientID is held and returns the
// release function. Entries are reference-counted so the map does not grow
// with every patient ever seen.
func (p *patientLocks) acquire(patientID string) func() {
	p.mu.Lock()
	l, ok := p.locks[patientID]
	if !ok {
		l = &patientLock{}
		p.locks[patientID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, patientID)
		}
		p.mu.Unlock()
	}
}
