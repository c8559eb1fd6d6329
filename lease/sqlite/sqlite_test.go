package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/lease/leasetest"
)

func openTestStore(t *testing.T, options ...Option) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "locks.db"), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStore(t *testing.T) {
	leasetest.RunStoreTests(t, leasetest.Harness{
		NewStore: func(t *testing.T, clock *leasetest.Clock) lease.Store {
			s := openTestStore(t, WithClock(clock.Now))
			require.NoError(t, s.Migrate(context.Background()))
			return s
		},
	})
}

func TestCheckMissingTable(t *testing.T) {
	s := openTestStore(t)

	err := s.Check(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err), "got %T: %v", err, err)

	_, err = lease.NewClient(context.Background(), s)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t, WithTablePrefix("app_"))
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Check(ctx))

	var name string
	err := s.DB().QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'app_lock'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "app_lock", name)
}

func TestClientExpiryWithRealClock(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	c1, err := lease.NewClient(ctx, s)
	require.NoError(t, err)
	c2, err := lease.NewClient(ctx, s)
	require.NoError(t, err)

	ok, err := c1.Acquire(ctx, "foo", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c2.Acquire(ctx, "foo", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(110 * time.Millisecond)

	ok, err = c2.Acquire(ctx, "foo", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c1.Delete(ctx, "foo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateTableSQL(t *testing.T) {
	sql := CreateTableSQL("int_")

	if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS int_lock") {
		t.Error("missing CREATE TABLE statement")
	}
	if !strings.Contains(sql, "PRIMARY KEY (region, lock_key)") {
		t.Error("missing composite primary key")
	}
	if !strings.Contains(sql, "idx_int_lock_expired ON int_lock (region, expired_after)") {
		t.Error("missing expiry index")
	}
}
