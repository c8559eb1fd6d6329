// Package backend opens the lease store selected by a config.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/enverbisevac/leaselock/config"
	"github.com/enverbisevac/leaselock/errors"
	"github.com/enverbisevac/leaselock/lease"
	"github.com/enverbisevac/leaselock/lease/memory"
	"github.com/enverbisevac/leaselock/lease/pgx"
	"github.com/enverbisevac/leaselock/lease/redis"
	"github.com/enverbisevac/leaselock/lease/sqlite"
	"github.com/enverbisevac/leaselock/pubsub"
	"github.com/enverbisevac/leaselock/pubsub/inmem"
	pgxpubsub "github.com/enverbisevac/leaselock/pubsub/pgx"
	redispubsub "github.com/enverbisevac/leaselock/pubsub/redis"
)

// Backend is an open lease store together with its connection.
type Backend struct {
	Store lease.Store
	close func() error

	// newPubSub opens the release event channel of the store; nil when
	// the store has none.
	newPubSub func(ctx context.Context) (pubsub.PubSub, error)

	mu     sync.Mutex
	pubsub pubsub.PubSub
}

// Open connects to the store described by c.
func Open(ctx context.Context, c config.Config) (*Backend, error) {
	switch c.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, c.DSN, sqlite.WithTablePrefix(c.TablePrefix))
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, close: s.Close}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, c.DSN)
		if err != nil {
			return nil, errors.Configuration(err, "backend: postgres dsn")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("backend: ping postgres: %w", err)
		}
		return &Backend{
			Store: pgx.New(pool, pgx.WithTablePrefix(c.TablePrefix)),
			close: func() error {
				pool.Close()
				return nil
			},
			newPubSub: func(ctx context.Context) (pubsub.PubSub, error) {
				return pgxpubsub.New(ctx, pool, pubsubOptions(c)...)
			},
		}, nil

	case config.BackendRedis:
		opts, err := goredis.ParseURL(c.DSN)
		if err != nil {
			return nil, errors.Configuration(err, "backend: redis dsn")
		}
		client := goredis.NewClient(opts)
		return &Backend{
			Store: redis.New(client, redis.WithKeyPrefix(c.TablePrefix+"lock")),
			close: client.Close,
			newPubSub: func(context.Context) (pubsub.PubSub, error) {
				return redispubsub.New(client, pubsubOptions(c)...), nil
			},
		}, nil

	case config.BackendMemory:
		return &Backend{
			Store: memory.New(),
			close: func() error { return nil },
			newPubSub: func(context.Context) (pubsub.PubSub, error) {
				return inmem.New(pubsubOptions(c)...), nil
			},
		}, nil
	}
	return nil, errors.Configuration(nil, "backend: unsupported backend %q", c.Backend)
}

func pubsubOptions(c config.Config) []pubsub.Option {
	return []pubsub.Option{
		pubsub.WithApp(c.TablePrefix + "lock"),
		pubsub.WithNamespace(c.Region),
	}
}

// PubSub returns the release event channel of the store, opening it on
// first use. It returns nil for stores without one.
func (b *Backend) PubSub(ctx context.Context) (pubsub.PubSub, error) {
	if b.newPubSub == nil {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub == nil {
		ps, err := b.newPubSub(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: open pubsub: %w", err)
		}
		b.pubsub = ps
	}
	return b.pubsub, nil
}

// Migrate creates the schema when the store has one.
func (b *Backend) Migrate(ctx context.Context) (bool, error) {
	m, ok := b.Store.(lease.Migrator)
	if !ok {
		return false, nil
	}
	return true, m.Migrate(ctx)
}

// List returns the leases of region when the store can enumerate them.
func (b *Backend) List(ctx context.Context, region string) ([]lease.Lease, error) {
	l, ok := b.Store.(lease.Lister)
	if !ok {
		return nil, errors.Configuration(nil, "backend: store %T cannot list leases", b.Store)
	}
	return l.List(ctx, region)
}

// Close releases the pubsub and the store connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	var err error
	if ps != nil {
		err = ps.Close(context.Background())
	}
	return errors.Join(err, b.close())
}
