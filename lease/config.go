package lease

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds the configuration for a lease client.
type Config struct {
	// Region separates locks of different applications sharing a table.
	Region string
	// TTL is used when a call passes a non-positive ttl.
	TTL time.Duration
	// Owner identifies the client in the store. Generated when empty.
	Owner string
	// MaxRetries bounds retries of transient store errors.
	MaxRetries uint64
	// BackOff returns the policy used between transient retries.
	BackOff func() backoff.BackOff
}

// An Option configures a client instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a client config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithRegion sets the region of the client.
func WithRegion(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.Region = s
		}
	})
}

// WithTTL sets the default lease time to live.
func WithTTL(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.TTL = d
		}
	})
}

// WithOwner sets a fixed owner token instead of a generated one. Two live
// clients must never share an owner.
func WithOwner(s string) Option {
	return OptionFunc(func(c *Config) {
		c.Owner = s
	})
}

// WithMaxRetries sets how many times a transient store error is retried.
func WithMaxRetries(n uint64) Option {
	return OptionFunc(func(c *Config) {
		c.MaxRetries = n
	})
}

// WithRetryBackOff sets the backoff policy between transient retries.
func WithRetryBackOff(f func() backoff.BackOff) Option {
	return OptionFunc(func(c *Config) {
		if f != nil {
			c.BackOff = f
		}
	})
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}
