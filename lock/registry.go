package lock

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/pubsub"
)

// Registry caches lock handles by name in least recently used order.
// Held handles are never evicted, so the cache may exceed its capacity
// while every entry is busy; the excess is reclaimed on the next Obtain or
// SetCacheCapacity.
type Registry struct {
	leaser  Leaser
	config  Config
	metrics *metrics

	mu       sync.Mutex
	capacity int
	lru      *list.List // of *entry, most recent at the front
	entries  map[string]*list.Element

	subMu    sync.Mutex
	consumer pubsub.Consumer
}

type entry struct {
	key      string
	handle   *Handle
	lastUsed time.Time
}

// New creates a registry whose locks are leased through leaser.
func New(leaser Leaser, options ...Option) *Registry {
	config := defaultConfig()
	for _, opt := range options {
		opt.Apply(&config)
	}

	return &Registry{
		leaser:   leaser,
		config:   config,
		metrics:  newMetrics(config.Registerer),
		capacity: config.CacheCapacity,
		lru:      list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Obtain returns the handle for name, creating it on first use.
//
// A handle evicted while idle is forgotten. If a caller kept a reference
// and locks it afterwards, Obtain hands out a fresh handle whose lease
// competes with the old one, even for the same holder. Obtain the handle
// again instead of keeping it across idle periods.
func (r *Registry) Obtain(name string) *Handle {
	key := lease.Key(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.entries[key]; ok {
		e := el.Value.(*entry)
		e.lastUsed = r.config.Now()
		r.lru.MoveToFront(el)
		return e.handle
	}

	e := &entry{
		key:      key,
		handle:   newHandle(name, key, r),
		lastUsed: r.config.Now(),
	}
	el := r.lru.PushFront(e)
	r.entries[key] = el
	r.evictLocked(el)
	r.metrics.entries(r.lru.Len())
	return e.handle
}

// NewLock returns the handle for key as a Locker.
func (r *Registry) NewLock(key string) Locker {
	return r.Obtain(key)
}

// RenewLock extends the lease of a lock the caller holds. Renewing a
// name that was never obtained is a NotOwnerError.
func (r *Registry) RenewLock(ctx context.Context, name string, ttl time.Duration) error {
	r.mu.Lock()
	el, ok := r.entries[lease.Key(name)]
	r.mu.Unlock()
	if !ok {
		return errors.NotOwner("lock ${%s} was never obtained", name)
	}
	return el.Value.(*entry).handle.Renew(ctx, ttl)
}

// SetCacheCapacity changes the cache bound, evicting idle handles right
// away when it shrinks.
func (r *Registry) SetCacheCapacity(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.capacity = n
	r.evictLocked(nil)
	r.metrics.entries(r.lru.Len())
}

// ExpireUnusedOlderThan drops idle handles not obtained for at least
// maxIdle.
func (r *Registry) ExpireUnusedOlderThan(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	removed := 0
	for el := r.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if now.Sub(e.lastUsed) >= maxIdle && r.removeIfIdleLocked(el) {
			removed++
		}
		el = prev
	}
	r.metrics.entries(r.lru.Len())
	return removed
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

// Names returns the cached lock names, most recently used first.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, r.lru.Len())
	for el := r.lru.Front(); el != nil; el = el.Next() {
		names = append(names, el.Value.(*entry).handle.name)
	}
	return names
}

// Close ends the release subscription. Handles stay usable and fall back
// to polling.
func (r *Registry) Close() error {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.consumer == nil {
		return nil
	}
	err := r.consumer.Close()
	r.consumer = nil
	return err
}

// subscribe starts listening for release events on first wait. A failed
// subscription is retried by the next waiter.
func (r *Registry) subscribe(ctx context.Context) {
	if r.config.PubSub == nil {
		return
	}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.consumer != nil {
		return
	}

	consumer, err := r.config.PubSub.Subscribe(context.WithoutCancel(ctx), pubsub.ReleasedTopic, r.released)
	if err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "lock: subscribe to release events")
		return
	}
	r.consumer = consumer
}

func (r *Registry) released(msg *pubsub.Msg) {
	r.mu.Lock()
	el, ok := r.entries[msg.Key]
	r.mu.Unlock()
	if ok {
		el.Value.(*entry).handle.notify()
	}
}

func (r *Registry) publishReleased(ctx context.Context, key string) {
	if r.config.PubSub == nil {
		return
	}
	if err := r.config.PubSub.Publish(context.WithoutCancel(ctx), pubsub.ReleasedTopic, key); err != nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("lock: publish release", "error", err.Error())
	}
}

// evictLocked removes least recently used idle handles until the cache
// fits its capacity. keep is never evicted.
func (r *Registry) evictLocked(keep *list.Element) {
	for el := r.lru.Back(); el != nil && r.lru.Len() > r.capacity; {
		prev := el.Prev()
		if el != keep {
			r.removeIfIdleLocked(el)
		}
		el = prev
	}
}

// removeIfIdleLocked removes el when no caller holds or waits for its
// handle.
func (r *Registry) removeIfIdleLocked(el *list.Element) bool {
	e := el.Value.(*entry)
	if !e.handle.sem.TryAcquire(1) {
		return false
	}
	defer e.handle.sem.Release(1)

	r.lru.Remove(el)
	delete(r.entries, e.key)
	r.metrics.evicted()
	return true
}
