// Package locks provides per-user mutual exclusion for operations that restructure
// a user's categories or apply categorization results.
package locks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ekaya-inc/ekaya-ledger/pkg/apperrors"
)

// UserLocker serializes work for a single user.
type UserLocker interface {
	// Lock blocks until the user's lock is held or ctx ends.
	// On ctx end the error wraps apperrors.ErrLocked. The returned unlock must be called exactly once.
	Lock(ctx context.Context, userID string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex used when no Redis is configured.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// NewLocalLocker creates an empty keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

var _ UserLocker = (*LocalLocker)(nil)

// Lock implements UserLocker.
func (l *LocalLocker) Lock(ctx context.Context, userID string) (func(), error) {
	s := l.acquireSlot(userID)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(userID, s)
		return nil, fmt.Errorf("%w: user %s: %v", apperrors.ErrLocked, userID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.releaseSlot(userID, s)
		})
	}, nil
}

func (l *LocalLocker) acquireSlot(userID string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[userID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[userID] = s
	}
	s.refs++
	return s
}

// releaseSlot drops the map entry once no goroutine holds or waits on it.
func (l *LocalLocker) releaseSlot(userID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, userID)
	}
}

// size reports the number of tracked users.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
