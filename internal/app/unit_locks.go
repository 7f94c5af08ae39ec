package app

import "sync"

// unitLocks hands out one mutex per inventory unit and drops it when the
// last holder releases.
type unitLocks struct {
	mu    sync.Mutex
	locks map[string]*unitLock
}

type unitLock struct {
	mu   sync.Mutex
	refs int
}

func newUnitLocks() *unitLocks {
	return &unitLocks{locks: make(map[string]*unitLock)}
}

// Lock blocks until the unit is free and returns the matching unlock func.
func (u *unitLocks) Lock(unitID string) func() {
	u.mu.Lock()
	l, ok := u.locks[unitID]
	if !ok {
		l = &unitLock{}
		u.locks[unitID] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, unitID)
		}
		u.mu.Unlock()
	}
}
