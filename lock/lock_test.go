package lock

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/require"

	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/lease/leasetest"
	"github.com/enverbisevac/leaselock/lease/memory"
)

// fixture is one lease store shared by several processes, each with its
// own lease client and registry.
type fixture struct {
	clock *leasetest.Clock
	store *memory.Store
}

func newFixture() *fixture {
	clock := leasetest.NewClock()
	return &fixture{
		clock: clock,
		store: memory.New(memory.WithClock(clock.Now)),
	}
}

func fastPoll() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func (f *fixture) client(t testing.TB) *lease.Client {
	t.Helper()

	c, err := lease.NewClient(context.Background(), f.store, lease.WithTTL(10*time.Second))
	require.NoError(t, err)
	return c
}

func (f *fixture) registry(t testing.TB, options ...Option) (*Registry, *lease.Client) {
	t.Helper()

	c := f.client(t)
	options = append([]Option{WithBackOff(fastPoll), WithClock(f.clock.Now)}, options...)
	return New(c, options...), c
}

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}
