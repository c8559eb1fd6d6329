package pubsub

import "time"

const (
	DefaultAppName   = "leaselock"
	DefaultNamespace = "DEFAULT"
)

type Config struct {
	App       string
	Namespace string

	// HealthInterval is how often an idle subscription pings the server.
	// Only redis uses it.
	HealthInterval time.Duration
	// SendTimeout bounds how long delivery to a slow subscriber may block
	// before the message is dropped.
	SendTimeout time.Duration
	ChannelSize int
}

// DefaultConfig returns the configuration shared by all implementations
// with options applied.
func DefaultConfig(options ...Option) Config {
	config := Config{
		App:            DefaultAppName,
		Namespace:      DefaultNamespace,
		HealthInterval: 3 * time.Second,
		SendTimeout:    time.Second,
		ChannelSize:    100,
	}
	for _, f := range options {
		f.Apply(&config)
	}
	return config
}

// An Option configures a pubsub instance.
type Option interface {
	Apply(*Config)
}

// OptionFunc is a function that configures a pubsub config.
type OptionFunc func(*Config)

// Apply calls f(config).
func (f OptionFunc) Apply(config *Config) {
	f(config)
}

// WithApp sets the topic prefix.
func WithApp(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.App = value
		}
	})
}

// WithNamespace sets the topic namespace, normally the lock region.
func WithNamespace(value string) Option {
	return OptionFunc(func(c *Config) {
		if value != "" {
			c.Namespace = value
		}
	})
}

// WithHealthCheckInterval sets the ping interval of idle subscriptions.
func WithHealthCheckInterval(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		c.HealthInterval = value
	})
}

// WithSendTimeout sets how long a slow subscriber may block delivery.
func WithSendTimeout(value time.Duration) Option {
	return OptionFunc(func(c *Config) {
		if value > 0 {
			c.SendTimeout = value
		}
	})
}

// WithChannelSize sets the buffer of each subscription.
func WithChannelSize(value int) Option {
	return OptionFunc(func(c *Config) {
		if value > 0 {
			c.ChannelSize = value
		}
	})
}
