package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"

	"github.com/enverbisevac/leaselock/errors"
)

// ErrNotAcquired is returned by Lock when the polling policy gives up
// before the lease became free.
var ErrNotAcquired = errors.New("lock: not acquired")

// Handle is a reentrant lock for one name. Handles are obtained from a
// Registry and are safe for concurrent use.
//
// Only the outermost acquisition and the final release reach the store;
// nested acquisitions by the same holder just count.
type Handle struct {
	name     string
	key      string
	registry *Registry
	sem      *semaphore.Weighted
	wake     chan struct{}

	mu     sync.Mutex
	holder string
	count  int
}

func newHandle(name, key string, r *Registry) *Handle {
	return &Handle{
		name:     name,
		key:      key,
		registry: r,
		sem:      semaphore.NewWeighted(1),
		wake:     make(chan struct{}, 1),
	}
}

// Name returns the lock name.
func (h *Handle) Name() string {
	return h.name
}

// IsHeld reports whether some caller in this process holds the lock.
func (h *Handle) IsHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count > 0
}

// HoldCount returns how many times the holder carried by ctx holds the
// lock.
func (h *Handle) HoldCount(ctx context.Context) int {
	holder := HolderFromContext(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count > 0 && h.holder == holder {
		return h.count
	}
	return 0
}

// Lock acquires the lock with the default lease TTL, blocking until the
// lock is free or ctx is done. Cancellation before the lease is acquired
// leaves no local or remote state behind.
func (h *Handle) Lock(ctx context.Context) error {
	return h.LockTTL(ctx, 0)
}

// LockTTL is like Lock with an explicit lease TTL.
func (h *Handle) LockTTL(ctx context.Context, ttl time.Duration) error {
	if h.reenter(ctx) {
		return nil
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	ok, err := h.acquire(ctx, ctx, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	return nil
}

// TryLock acquires the lock only if it is free right now, making a single
// store call.
func (h *Handle) TryLock(ctx context.Context) (bool, error) {
	if h.reenter(ctx) {
		return true, nil
	}
	if !h.sem.TryAcquire(1) {
		return false, nil
	}
	return h.acquire(ctx, nil, 0)
}

// TryLockFor waits up to wait for the lock and acquires it with the given
// lease TTL. It returns false without error when the wait elapses.
func (h *Handle) TryLockFor(ctx context.Context, wait, ttl time.Duration) (bool, error) {
	if h.reenter(ctx) {
		return true, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if !h.sem.TryAcquire(1) {
		if err := h.sem.Acquire(waitCtx, 1); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
	}
	return h.acquire(ctx, waitCtx, ttl)
}

// Unlock releases one acquisition. The final release deletes the lease;
// if the lease was reclaimed in the meantime Unlock returns a
// LostOwnershipError. The lock is released locally in every case.
func (h *Handle) Unlock(ctx context.Context) error {
	holder := HolderFromContext(ctx)

	h.mu.Lock()
	if h.count == 0 || h.holder != holder {
		h.mu.Unlock()
		return errors.NotOwner("lock ${%s} is not held by the caller", h.name)
	}
	h.count--
	if h.count > 0 {
		h.mu.Unlock()
		return nil
	}
	h.holder = ""
	h.mu.Unlock()
	defer h.sem.Release(1)

	ok, err := h.registry.leaser.Delete(ctx, h.name)
	if err != nil {
		return err
	}
	if !ok {
		h.registry.metrics.lostOwnership()
		return errors.LostOwnership("lease for ${%s} was reclaimed before unlock", h.name)
	}
	h.registry.metrics.release()
	h.registry.publishReleased(ctx, h.key)
	logr.FromContextOrDiscard(ctx).V(1).Info("lock released", "name", h.name)
	return nil
}

// Renew extends the lease of a lock held by the caller.
func (h *Handle) Renew(ctx context.Context, ttl time.Duration) error {
	holder := HolderFromContext(ctx)

	h.mu.Lock()
	held := h.count > 0 && h.holder == holder
	h.mu.Unlock()
	if !held {
		return errors.NotOwner("lock ${%s} is not held by the caller", h.name)
	}

	ok, err := h.registry.leaser.Renew(ctx, h.name, ttl)
	if err != nil {
		return err
	}
	if !ok {
		h.registry.metrics.lostOwnership()
		return errors.LostOwnership("lease for ${%s} was reclaimed before renew", h.name)
	}
	return nil
}

// reenter increments the hold count when the holder in ctx already holds
// the lock.
func (h *Handle) reenter(ctx context.Context) bool {
	holder := HolderFromContext(ctx)
	if holder == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count > 0 && h.holder == holder {
		h.count++
		return true
	}
	return false
}

// acquire runs with the semaphore held and releases it unless the lease
// was acquired. Store calls use ctx; waiting between polls ends when
// waitCtx is done. A nil waitCtx makes a single attempt.
func (h *Handle) acquire(ctx, waitCtx context.Context, ttl time.Duration) (bool, error) {
	log := logr.FromContextOrDiscard(ctx)
	holder := HolderFromContext(ctx)
	m := h.registry.metrics

	if waitCtx != nil {
		h.registry.subscribe(ctx)
		select {
		case <-h.wake:
		default:
		}
	}

	b := h.registry.config.BackOff()
	b.Reset()
	for {
		ok, err := h.registry.leaser.Acquire(ctx, h.name, ttl)
		if err != nil {
			m.acquire(resultError)
			if ctx.Err() != nil {
				h.discard(ctx)
			}
			h.sem.Release(1)
			return false, err
		}
		if ok {
			m.acquire(resultAcquired)
			h.mu.Lock()
			h.holder = holder
			h.count = 1
			h.mu.Unlock()
			log.V(1).Info("lock acquired", "name", h.name, "holder", holder)
			return true, nil
		}
		m.acquire(resultBusy)

		d := b.NextBackOff()
		if waitCtx == nil || d == backoff.Stop {
			h.sem.Release(1)
			return false, nil
		}

		t := time.NewTimer(d)
		select {
		case <-waitCtx.Done():
			t.Stop()
			h.sem.Release(1)
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return false, nil
		case <-h.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// notify wakes a waiter polling for this lock.
func (h *Handle) notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// discard removes a lease that may have been written by a store call that
// failed because ctx was cancelled.
func (h *Handle) discard(ctx context.Context) {
	if _, err := h.registry.leaser.Delete(context.WithoutCancel(ctx), h.name); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "discarding interrupted lease", "name", h.name)
	}
}
