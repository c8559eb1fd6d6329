package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls atomic.Int32
	err   error
}

func (e *countingExpirer) DeleteExpired(context.Context) (int64, error) {
	e.calls.Add(1)
	return 0, e.err
}

func TestJanitorSweep(t *testing.T) {
	f := newFixture()
	r, c := f.registry(t)
	ctx := context.Background()

	_, err := c.Acquire(ctx, "stale", time.Second)
	require.NoError(t, err)
	r.Obtain("idle")
	require.NoError(t, r.Obtain("busy").Lock(ctx))

	f.clock.Advance(time.Hour)

	j := NewJanitor(r, c, WithMaxIdle(time.Minute))
	j.Sweep(ctx, testr.New(t))

	assert.Equal(t, []string{"busy"}, r.Names())

	n, err := c.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the sweep already removed the expired lease")
}

func TestJanitorSweepExpirerError(t *testing.T) {
	f := newFixture()
	r, _ := f.registry(t)
	expirer := &countingExpirer{err: errors.New("database is locked")}

	j := NewJanitor(r, expirer)
	j.Sweep(context.Background(), testr.New(t))

	assert.EqualValues(t, 1, expirer.calls.Load())
}

func TestJanitorStartStop(t *testing.T) {
	f := newFixture()
	r, _ := f.registry(t)
	expirer := &countingExpirer{}

	j := NewJanitor(r, expirer, WithInterval(5*time.Millisecond), WithMaxIdle(0))
	ctx := logr.NewContext(context.Background(), logr.Discard())
	j.Start(ctx)
	j.Start(ctx)

	r.Obtain("dropped")
	assert.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2 && r.Len() == 0
	}, time.Second, 5*time.Millisecond)

	j.Stop()
	calls := expirer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, expirer.calls.Load(), "no sweeps after Stop")
}

func TestJanitorNilParts(t *testing.T) {
	j := NewJanitor(nil, nil)
	assert.NotPanics(t, func() {
		j.Sweep(context.Background(), logr.Discard())
	})
	assert.NotPanics(t, j.Stop)
}
