// Package concurrency contains a channel-based mutex used to serialize background jobs.
package concurrency

import "context"

// SimpleMutex is a buffered channel of capacity one: holding the lock means
// holding the only slot.
type SimpleMutex chan struct{}

// NewSimpleMutex creates an unlocked SimpleMutex.
func NewSimpleMutex() SimpleMutex {
	return make(SimpleMutex, 1)
}

// Lock blocks until the mutex is acquired.
func (s SimpleMutex) Lock() {
	s <- struct{}{}
}

// LockContext blocks until the mutex is acquired or the context is done.
func (s SimpleMutex) LockContext(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the mutex if it is free.
// Returns true if the lock has been acquired, false otherwise.
func (s SimpleMutex) TryLock() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// Locked reports if someone holds the mutex right now.
func (s SimpleMutex) Locked() bool {
	return len(s) == 1
}

// Unlock releases the mutex. Unlocking a free mutex blocks.
func (s SimpleMutex) Unlock() {
	<-s
}
