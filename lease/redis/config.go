package redis

import (
	"time"

	"github.com/enverbisevac/leaselock/lease"
)

// Config holds the configuration for the Redis lease store.
type Config struct {
	// KeyPrefix is prepended to every Redis key.
	KeyPrefix string
	// Now stamps created_at and resolves the absolute expiry reported by
	// List. Expiry itself is enforced by Redis key TTLs.
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

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(s string) Option {
	return OptionFunc(func(c *Config) {
		if s != "" {
			c.KeyPrefix = s
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

func defaultConfig(options ...Option) Config {
	config := Config{
		KeyPrefix: "leaselock",
		Now:       time.Now,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return config
}
