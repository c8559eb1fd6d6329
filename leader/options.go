package leader

import "time"

// Config holds the configuration for an Initiator.
type Config struct {
	// Heartbeat is both the lock wait and the renew interval while leader.
	// It must be well below the lease TTL.
	Heartbeat time.Duration
	// BusyWait is the pause between attempts while another candidate leads.
	BusyWait time.Duration
	// LeaseTTL is the lease TTL of the leadership lock; zero selects the
	// lease client default.
	LeaseTTL time.Duration
}

// Option configures an Initiator instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures an initiator config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.Heartbeat = d
		}
	})
}

// WithBusyWait sets the pause between attempts while not leader.
func WithBusyWait(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if d > 0 {
			c.BusyWait = d
		}
	})
}

// WithLeaseTTL sets the lease TTL of the leadership lock.
func WithLeaseTTL(d time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.LeaseTTL = d
	})
}
