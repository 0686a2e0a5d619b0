package destcolumn

import (
	"sync"
	"sync/atomic"

	"github.com/cohenjo/transportx/internal/xerrors"
)

// AllocLock is the single process-wide mutex guarding allocation into a
// destination's foreign object heap. Every variable-length
// column writer for a given destination shares one instance. It is
// poison-aware: once Poison is called, every further Lock/TryLock fails
// with ErrAllocLockPoisoned rather than deadlocking or allowing a racy
// partial allocation.
type AllocLock struct {
	mu       sync.Mutex
	poisoned atomic.Bool
}

// NewAllocLock returns a fresh, unpoisoned lock.
func NewAllocLock() *AllocLock {
	return &AllocLock{}
}

// Lock blocks until the lock is acquired, unless it has been poisoned.
func (l *AllocLock) Lock() error {
	if l.poisoned.Load() {
		return xerrors.ErrAllocLockPoisoned
	}
	l.mu.Lock()
	if l.poisoned.Load() {
		l.mu.Unlock()
		return xerrors.ErrAllocLockPoisoned
	}
	return nil
}

// TryLock attempts a non-blocking acquisition. It returns ok=false
// (with a nil error) if the lock is merely contended, and a non-nil
// error only if the lock is poisoned.
func (l *AllocLock) TryLock() (ok bool, err error) {
	if l.poisoned.Load() {
		return false, xerrors.ErrAllocLockPoisoned
	}
	if !l.mu.TryLock() {
		return false, nil
	}
	if l.poisoned.Load() {
		l.mu.Unlock()
		return false, xerrors.ErrAllocLockPoisoned
	}
	return true, nil
}

// Unlock releases the lock.
func (l *AllocLock) Unlock() {
	l.mu.Unlock()
}

// Poison marks the lock permanently failed. Used when an allocation
// under the lock fails in a way that leaves the foreign heap in an
// unknown state; every subsequent critical section across all columns
// sharing this lock is refused.
func (l *AllocLock) Poison() {
	l.poisoned.Store(true)
}
