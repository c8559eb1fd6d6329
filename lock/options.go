package lock

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/enverbisevac/leaselock/pubsub"
)

// DefaultCacheCapacity bounds the number of cached handles.
const DefaultCacheCapacity = 100_000

// Config holds the configuration for a Registry.
type Config struct {
	// CacheCapacity bounds the number of idle handles kept.
	CacheCapacity int
	// BackOff returns the policy used between remote acquire attempts.
	// backoff.Stop ends the wait as if the lock were busy.
	BackOff func() backoff.BackOff
	// Now is the time source for idle tracking.
	Now func() time.Time
	// Registerer receives the registry metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// PubSub carries release events between registries. Nil leaves
	// waiters on plain polling.
	PubSub pubsub.PubSub
}

// Option configures a Registry instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a registry config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithCacheCapacity sets the handle cache capacity.
func WithCacheCapacity(n int) Option {
	return OptionFunc(func(c *Config) {
		if n > 0 {
			c.CacheCapacity = n
		}
	})
}

// WithBackOff sets the polling policy used while a lock is held elsewhere.
func WithBackOff(f func() backoff.BackOff) Option {
	return OptionFunc(func(c *Config) {
		if f != nil {
			c.BackOff = f
		}
	})
}

// WithClock sets the time source used for idle tracking.
func WithClock(now func() time.Time) Option {
	return OptionFunc(func(c *Config) {
		if now != nil {
			c.Now = now
		}
	})
}

// WithMetrics registers the registry metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return OptionFunc(func(c *Config) {
		c.Registerer = reg
	})
}

// WithPubSub publishes every release on ps and wakes local waiters when
// another registry releases a lock they wait for.
func WithPubSub(ps pubsub.PubSub) Option {
	return OptionFunc(func(c *Config) {
		c.PubSub = ps
	})
}

func defaultConfig() Config {
	return Config{
		CacheCapacity: DefaultCacheCapacity,
		BackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(100 * time.Millisecond)
		},
		Now: time.Now,
	}
}
