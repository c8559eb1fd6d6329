package lease

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/enverbisevac/leaselock/errors"
)

// Client acquires, renews and releases leases in a Store on behalf of a
// single owner. It keeps no lock state of its own apart from the names it
// acquired, which Close releases.
type Client struct {
	store  Store
	config Config

	mu   sync.Mutex
	held map[string]struct{}
}

// NewClient creates a client for store. It verifies the store schema and
// fails with a configuration error when the lock table is missing.
func NewClient(ctx context.Context, store Store, options ...Option) (*Client, error) {
	config := Config{
		Region:     DefaultRegion,
		TTL:        10 * time.Second,
		MaxRetries: 3,
		BackOff:    defaultBackOff,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	if config.Owner == "" {
		config.Owner = uuid.NewString()
	}

	if store == nil {
		return nil, errors.Configuration(nil, "lease: store is required")
	}
	if err := store.Check(ctx); err != nil {
		return nil, fmt.Errorf("lease: check store: %w", err)
	}

	return &Client{
		store:  store,
		config: config,
		held:   make(map[string]struct{}),
	}, nil
}

// ID returns the owner token of the client.
func (c *Client) ID() string {
	return c.config.Owner
}

// Region returns the region the client works in.
func (c *Client) Region() string {
	return c.config.Region
}

// TTL returns the default lease time to live.
func (c *Client) TTL() time.Duration {
	return c.config.TTL
}

// Key derives the fixed-width storage key of name.
func (c *Client) Key(name string) string {
	return Key(name)
}

// Key derives the fixed-width storage key of a lock name: a name based
// UUID, so names of any length fit a CHAR(36) column.
func Key(name string) string {
	return uuid.NewMD5(uuid.Nil, []byte(name)).String()
}

// Acquire tries to become the owner of name for ttl. A non-positive ttl
// uses the default.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := c.Key(name)
	ok, err := c.retry(ctx, "acquire", func() (bool, error) {
		return c.store.TryInsert(ctx, key, c.config.Region, c.config.Owner, c.ttl(ttl))
	})
	if err != nil {
		return false, fmt.Errorf("lease: acquire %q: %w", name, err)
	}
	if ok {
		c.track(name)
		logr.FromContextOrDiscard(ctx).V(1).Info("lease acquired", "name", name, "key", key, "owner", c.config.Owner)
	}
	return ok, nil
}

// IsAcquired reports whether any client holds a valid lease for name.
func (c *Client) IsAcquired(ctx context.Context, name string) (bool, error) {
	key := c.Key(name)
	ok, err := c.retry(ctx, "is acquired", func() (bool, error) {
		return c.store.IsValid(ctx, key, c.config.Region)
	})
	if err != nil {
		return false, fmt.Errorf("lease: is acquired %q: %w", name, err)
	}
	return ok, nil
}

// Renew extends the lease of name held by this client. It returns false
// when the lease is no longer held by this client.
func (c *Client) Renew(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	key := c.Key(name)
	ok, err := c.retry(ctx, "renew", func() (bool, error) {
		return c.store.Renew(ctx, key, c.config.Region, c.config.Owner, c.ttl(ttl))
	})
	if err != nil {
		return false, fmt.Errorf("lease: renew %q: %w", name, err)
	}
	if !ok {
		c.untrack(name)
	}
	return ok, nil
}

// Delete releases the lease of name held by this client. It returns false
// when the lease was gone or owned by another client.
func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	key := c.Key(name)
	ok, err := c.retry(ctx, "delete", func() (bool, error) {
		return c.store.Delete(ctx, key, c.config.Region, c.config.Owner)
	})
	if err != nil {
		return false, fmt.Errorf("lease: delete %q: %w", name, err)
	}
	c.untrack(name)
	if ok {
		logr.FromContextOrDiscard(ctx).V(1).Info("lease released", "name", name, "key", key, "owner", c.config.Owner)
	}
	return ok, nil
}

// DeleteExpired removes expired leases of the client region.
func (c *Client) DeleteExpired(ctx context.Context) (int64, error) {
	b := c.backOff(ctx)
	n, err := backoff.RetryWithData(func() (int64, error) {
		n, err := c.store.DeleteExpired(ctx, c.config.Region)
		if err != nil && !errors.IsTransient(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}, b)
	if err != nil {
		return 0, fmt.Errorf("lease: delete expired: %w", err)
	}
	return n, nil
}

// Close releases every lease the client still believes it holds. The
// deletes are independent; all failures are returned joined.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	names := make([]string, 0, len(c.held))
	for name := range c.held {
		names = append(names, name)
	}
	c.mu.Unlock()
	slices.Sort(names)

	log := logr.FromContextOrDiscard(ctx)
	var errs []error
	for _, name := range names {
		ok, err := c.Delete(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			log.Info("lease already gone on close", "name", name, "owner", c.config.Owner)
		}
	}
	return errors.Join(errs...)
}

// Held returns the names the client acquired and has not released.
func (c *Client) Held() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.held))
	for name := range c.held {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (c *Client) ttl(d time.Duration) time.Duration {
	if d <= 0 {
		return c.config.TTL
	}
	return d
}

func (c *Client) track(name string) {
	c.mu.Lock()
	c.held[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(name string) {
	c.mu.Lock()
	delete(c.held, name)
	c.mu.Unlock()
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(c.config.BackOff(), c.config.MaxRetries), ctx)
}

// retry runs fn until it succeeds, fails with a non transient error or the
// retry budget is spent. Every attempt is a separate store call and thus a
// separate transaction.
func (c *Client) retry(ctx context.Context, op string, fn func() (bool, error)) (bool, error) {
	log := logr.FromContextOrDiscard(ctx)
	return backoff.RetryNotifyWithData(func() (bool, error) {
		ok, err := fn()
		if err != nil && !errors.IsTransient(err) {
			return false, backoff.Permanent(err)
		}
		return ok, err
	}, c.backOff(ctx), func(err error, d time.Duration) {
		log.V(1).Info("retrying lease operation", "op", op, "after", d, "error", err.Error())
	})
}
