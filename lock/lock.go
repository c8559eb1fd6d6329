// Package lock provides reentrant, lease backed distributed locks.
//
// A Registry hands out one Handle per lock name. Within a process the
// handle serializes callers on a semaphore; across processes the outermost
// acquisition is confirmed against a lease store through a Leaser.
package lock

import (
	"context"
	"time"
)

// Locker represents a distributed lock that can be acquired and released.
type Locker interface {
	// Lock acquires the lock, blocking until it's available or context is cancelled.
	Lock(ctx context.Context) error

	// TryLock attempts to acquire the lock without blocking.
	// Returns true if the lock was acquired, false otherwise.
	TryLock(ctx context.Context) (bool, error)

	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Service provides methods to create distributed locks.
type Service interface {
	// NewLock creates a new lock with the given key.
	NewLock(key string) Locker
}

// Leaser grants time bounded ownership of lock names. *lease.Client
// implements it. A non-positive ttl selects the leaser default.
type Leaser interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
}

var (
	_ Service = (*Registry)(nil)
	_ Locker  = (*Handle)(nil)
)
