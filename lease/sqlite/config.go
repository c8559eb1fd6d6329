package sqlite

import (
	"time"

	"github.com/enverbisevac/leaselock/lease"
)

// Config holds the configuration for the SQLite lease store.
type Config struct {
	// TablePrefix is prepended to "lock" to form the table name.
	TablePrefix string
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration
	// Now is the time source used to compute expiry.
	Now lease.NowFunc
}

// An Option configures a Store instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a Store config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithTablePrefix sets the lock table prefix.
func WithTablePrefix(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.TablePrefix = s
		}
	})
}

// WithBusyTimeout sets the SQLite busy timeout used by Open.
func WithBusyTimeout(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.BusyTimeout = d
		}
	})
}

// WithClock sets the time source.
func WithClock(now lease.NowFunc) Option {
	return OptionFunc(func(c *Config) {
		if now != nil {
			c.Now = now
		}
	})
}

func defaultConfig() Config {
	return Config{
		TablePrefix: "int_",
		BusyTimeout: 5 * time.Second,
		Now:         time.Now,
	}
}
