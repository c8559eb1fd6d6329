// Package lease coordinates time-bounded ownership of named resources
// through a shared store. A Store keeps one row per lock key; a Client
// binds the store to an owner identity and a default TTL.
package lease

import (
	"context"
	"time"
)

// DefaultRegion is the namespace used when no region is configured.
const DefaultRegion = "DEFAULT"

// Lease is a single row of the lock table.
type Lease struct {
	Region       string
	Key          string
	Owner        string
	CreatedAt    time.Time
	ExpiredAfter time.Time
}

// Valid reports whether the lease has not expired at now.
func (l Lease) Valid(now time.Time) bool {
	return l.ExpiredAfter.After(now)
}

// Store persists leases. Each method is one independent unit of work: it
// commits or rolls back on its own and never joins a caller transaction.
type Store interface {
	// TryInsert creates the lease for (region, key) unless a valid one
	// exists. An expired lease is replaced atomically. It reports whether
	// owner holds the lease afterwards.
	TryInsert(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error)

	// IsValid reports whether a non-expired lease exists.
	IsValid(ctx context.Context, key, region string) (bool, error)

	// Renew moves the expiry of a valid lease held by owner to now+ttl.
	// It returns false when the lease is missing, expired or owned by
	// somebody else.
	Renew(ctx context.Context, key, region, owner string, ttl time.Duration) (bool, error)

	// Delete removes the lease held by owner. It returns false when the
	// lease is missing or owned by somebody else.
	Delete(ctx context.Context, key, region, owner string) (bool, error)

	// DeleteExpired removes all expired leases of region and returns how
	// many were removed.
	DeleteExpired(ctx context.Context, region string) (int64, error)

	// Check verifies that the store is usable, returning a configuration
	// error when the lock table does not exist.
	Check(ctx context.Context) error
}

// Migrator is implemented by stores that can create their schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate leases.
type Lister interface {
	List(ctx context.Context, region string) ([]Lease, error)
}

// NowFunc returns the current time. Stores take one so tests can move
// time forward without sleeping.
type NowFunc func() time.Time
