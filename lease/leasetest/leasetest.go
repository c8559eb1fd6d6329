// Package leasetest provides a conformance suite for lease.Store
// implementations.
package leasetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/enverbisevac/leaselock/lease"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Harness adapts a store implementation to the suite.
type Harness struct {
	// NewStore returns an empty store reading time from clock.
	NewStore func(t *testing.T, clock *Clock) lease.Store

	// Advance, when set, is called with the same duration every time the
	// suite moves the clock, for backends that keep their own time.
	Advance func(t *testing.T, d time.Duration)

	// ExpiresNatively is set for backends that drop expired leases on their
	// own, so DeleteExpired has nothing left to count.
	ExpiresNatively bool
}

const (
	region = "test"
	ttl    = 10 * time.Second
)

type env struct {
	t     *testing.T
	h     Harness
	clock *Clock
	store lease.Store
}

func (e *env) advance(d time.Duration) {
	e.clock.Advance(d)
	if e.h.Advance != nil {
		e.h.Advance(e.t, d)
	}
}

// RunStoreTests runs the conformance suite against h.
func RunStoreTests(t *testing.T, h Harness) {
	tests := []struct {
		name string
		fn   func(*testing.T, *env)
	}{
		{"Check", testCheck},
		{"TryInsertExclusive", testTryInsertExclusive},
		{"IsValid", testIsValid},
		{"StealExpired", testStealExpired},
		{"RenewExtends", testRenewExtends},
		{"RenewRejects", testRenewRejects},
		{"Delete", testDelete},
		{"DeleteExpired", testDeleteExpired},
		{"RegionsIsolated", testRegionsIsolated},
		{"ConcurrentTryInsert", testConcurrentTryInsert},
		{"List", testList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock()
			tt.fn(t, &env{
				t:     t,
				h:     h,
				clock: clock,
				store: h.NewStore(t, clock),
			})
		})
	}
}

func testCheck(t *testing.T, e *env) {
	require.NoError(t, e.store.Check(context.Background()))
}

func testTryInsertExclusive(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("exclusive")

	ok, err := e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.store.TryInsert(ctx, key, region, "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "second owner must not acquire a valid lease")

	ok, err = e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "a valid lease is never inserted twice")
}

func testIsValid(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("valid")

	ok, err := e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.True(t, ok)

	e.advance(ttl + time.Second)

	ok, err = e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testStealExpired(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("steal")

	ok, err := e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	e.advance(ttl + time.Second)

	ok, err = e.store.TryInsert(ctx, key, region, "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be reclaimable")

	ok, err = e.store.Renew(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "previous owner cannot renew a stolen lease")

	ok, err = e.store.Delete(ctx, key, region, "a")
	require.NoError(t, err)
	assert.False(t, ok, "previous owner cannot delete a stolen lease")

	ok, err = e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testRenewExtends(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("renew")

	ok, err := e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	e.advance(ttl / 2)

	ok, err = e.store.Renew(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	// past the original expiry but before the renewed one
	e.advance(ttl/2 + time.Second)

	ok, err = e.store.TryInsert(ctx, key, region, "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "renewed lease must not be reclaimed")

	ok, err = e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testRenewRejects(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("renew-reject")

	ok, err := e.store.Renew(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "renewing a missing lease fails")

	ok, err = e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.store.Renew(ctx, key, region, "b", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "renewing a foreign lease fails")

	e.advance(ttl + time.Second)

	ok, err = e.store.Renew(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	assert.False(t, ok, "renewing an expired lease fails")
}

func testDelete(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("delete")

	ok, err := e.store.Delete(ctx, key, region, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.store.TryInsert(ctx, key, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.store.Delete(ctx, key, region, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.store.Delete(ctx, key, region, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.store.IsValid(ctx, key, region)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.store.TryInsert(ctx, key, region, "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testDeleteExpired(t *testing.T, e *env) {
	ctx := context.Background()
	short, long := lease.Key("short"), lease.Key("long")

	ok, err := e.store.TryInsert(ctx, short, region, "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = e.store.TryInsert(ctx, long, region, "a", 10*ttl)
	require.NoError(t, err)
	require.True(t, ok)

	e.advance(ttl + time.Second)

	n, err := e.store.DeleteExpired(ctx, region)
	require.NoError(t, err)
	if !e.h.ExpiresNatively {
		assert.EqualValues(t, 1, n)
	}

	ok, err = e.store.Delete(ctx, short, region, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expired lease was removed")

	ok, err = e.store.IsValid(ctx, long, region)
	require.NoError(t, err)
	assert.True(t, ok)
}

func testRegionsIsolated(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("shared")

	ok, err := e.store.TryInsert(ctx, key, "one", "a", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.store.TryInsert(ctx, key, "two", "b", ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.store.Delete(ctx, key, "two", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentTryInsert(t *testing.T, e *env) {
	ctx := context.Background()
	key := lease.Key("race")

	var winners atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := range 10 {
		g.Go(func() error {
			ok, err := e.store.TryInsert(gctx, key, region, fmt.Sprintf("owner-%d", i), ttl)
			if err != nil {
				return err
			}
			if ok {
				winners.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, winners.Load())
}

func testList(t *testing.T, e *env) {
	lister, ok := e.store.(lease.Lister)
	if !ok {
		t.Skip("store does not implement lease.Lister")
	}
	ctx := context.Background()

	for _, name := range []string{"l1", "l2"} {
		ok, err := e.store.TryInsert(ctx, lease.Key(name), region, "a", ttl)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := e.store.TryInsert(ctx, lease.Key("other"), "elsewhere", "a", ttl)
	require.NoError(t, err)
	require.True(t, ok)

	leases, err := lister.List(ctx, region)
	require.NoError(t, err)
	require.Len(t, leases, 2)
	for _, l := range leases {
		assert.Equal(t, region, l.Region)
		assert.Equal(t, "a", l.Owner)
		assert.True(t, l.ExpiredAfter.After(l.CreatedAt))
	}
}
