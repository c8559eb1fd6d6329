package pgx

import (
	"time"

	"github.com/enverbisevac/leaselock/lease"
)

// Config holds the configuration for the PostgreSQL lease store.
type Config struct {
	// TablePrefix is prepended to "lock" to form the table name.
	TablePrefix string
	// Now is the time source used to compute expiry. Expiry is decided by
	// the client clock, never by the database server.
	Now lease.NowFunc
}

// Option configures a store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithTablePrefix returns an option that sets the lock table prefix.
func WithTablePrefix(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.TablePrefix = s
		}
	})
}

// WithClock returns an option that sets the time source.
func WithClock(now lease.NowFunc) Option {
	return OptionFunc(func(c *Config) {
		if now != nil {
			c.Now = now
		}
	})
}

func defaultConfig(options ...Option) Config {
	config := Config{
		TablePrefix: "int_",
		Now:         time.Now,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return config
}
