package leader

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/lease/leasetest"
	"github.com/enverbisevac/leaselock/lease/memory"
	"github.com/enverbisevac/leaselock/lock"
)

type recorder struct {
	DefaultCandidate
	granted atomic.Int32
	revoked atomic.Int32
}

func newRecorder(id string) *recorder {
	r := &recorder{}
	r.RoleName = "scheduler"
	r.Identity = id
	r.Granted = func(context.Context, Context) error {
		r.granted.Add(1)
		return nil
	}
	r.Revoked = func(context.Context, Context) {
		r.revoked.Add(1)
	}
	return r
}

func newRegistry(t *testing.T, store lease.Store) (*lock.Registry, *lease.Client) {
	t.Helper()

	c, err := lease.NewClient(context.Background(), store, lease.WithTTL(time.Second))
	require.NoError(t, err)
	return lock.New(c, lock.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	})), c
}

func fastOptions() []Option {
	return []Option{WithHeartbeat(20 * time.Millisecond), WithBusyWait(5 * time.Millisecond)}
}

func TestInitiatorGrantedAndRevokedOnStop(t *testing.T) {
	store := memory.New()
	r, c := newRegistry(t, store)
	cand := newRecorder("a")

	i := New(r, cand, fastOptions()...)
	assert.False(t, i.Context().IsLeader())

	i.Start(context.Background())
	require.Eventually(t, i.IsLeader, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, cand.granted.Load())

	held, err := c.IsAcquired(context.Background(), "scheduler")
	require.NoError(t, err)
	assert.True(t, held)

	i.Stop()
	assert.False(t, i.IsLeader())
	assert.EqualValues(t, 1, cand.revoked.Load())

	held, err = c.IsAcquired(context.Background(), "scheduler")
	require.NoError(t, err)
	assert.False(t, held, "stopping the leader releases the role lock")
}

func TestInitiatorFailover(t *testing.T) {
	store := memory.New()
	r1, _ := newRegistry(t, store)
	r2, _ := newRegistry(t, store)
	a, b := newRecorder("a"), newRecorder("b")

	ia := New(r1, a, fastOptions()...)
	ib := New(r2, b, fastOptions()...)
	defer ib.Stop()

	ia.Start(context.Background())
	require.Eventually(t, ia.IsLeader, time.Second, time.Millisecond)

	ib.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	assert.False(t, ib.IsLeader(), "only one candidate leads")
	assert.True(t, ia.IsLeader(), "the leader keeps renewing its lease")

	ia.Stop()
	require.Eventually(t, ib.IsLeader, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, b.granted.Load())
}

func TestInitiatorYield(t *testing.T) {
	store := memory.New()
	r1, _ := newRegistry(t, store)
	r2, _ := newRegistry(t, store)
	a, b := newRecorder("a"), newRecorder("b")

	ia := New(r1, a, WithHeartbeat(100*time.Millisecond), WithBusyWait(time.Millisecond))
	ib := New(r2, b, fastOptions()...)
	defer ia.Stop()
	defer ib.Stop()

	ia.Start(context.Background())
	require.Eventually(t, ia.IsLeader, time.Second, time.Millisecond)
	ib.Start(context.Background())

	ia.Context().Yield()
	require.Eventually(t, func() bool { return a.revoked.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, ib.IsLeader, time.Second, time.Millisecond)
	assert.False(t, ia.IsLeader())
}

func TestInitiatorYieldWhenNotLeader(t *testing.T) {
	r, _ := newRegistry(t, memory.New())
	i := New(r, newRecorder("idle"))

	i.Context().Yield()
	assert.Empty(t, i.yield)
}

func TestInitiatorLeaseLost(t *testing.T) {
	clock := leasetest.NewClock()
	store := memory.New(memory.WithClock(clock.Now))
	r, _ := newRegistry(t, store)
	cand := newRecorder("a")

	i := New(r, cand, fastOptions()...)
	defer i.Stop()
	i.Start(context.Background())
	require.Eventually(t, i.IsLeader, time.Second, time.Millisecond)

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return cand.revoked.Load() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return cand.granted.Load() >= 2 }, time.Second, time.Millisecond,
		"the candidate competes again after losing its lease")
}

func TestInitiatorCandidateRefuses(t *testing.T) {
	r, c := newRegistry(t, memory.New())
	var refusals atomic.Int32
	cand := newRecorder("picky")
	cand.Granted = func(context.Context, Context) error {
		refusals.Add(1)
		return errors.New("not ready")
	}

	i := New(r, cand, fastOptions()...)
	i.Start(context.Background())
	require.Eventually(t, func() bool { return cand.revoked.Load() >= 1 }, time.Second, time.Millisecond)
	i.Stop()

	assert.GreaterOrEqual(t, refusals.Load(), int32(1))
	held, err := c.IsAcquired(context.Background(), "scheduler")
	require.NoError(t, err)
	assert.False(t, held)
}
