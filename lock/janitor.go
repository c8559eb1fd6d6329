package lock

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Expirer removes expired leases from the store. *lease.Client implements
// it.
type Expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// JanitorConfig holds the configuration for a Janitor.
type JanitorConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// MaxIdle is how long a handle may stay unused before it is dropped
	// from the registry cache.
	MaxIdle time.Duration
}

// JanitorOption configures a Janitor instance.
type JanitorOption interface {
	Apply(*JanitorConfig)
}

// JanitorOptionFunc is a function that configures a janitor config.
type JanitorOptionFunc func(*JanitorConfig)

// Apply calls f(config).
func (f JanitorOptionFunc) Apply(config *JanitorConfig) {
	f(config)
}

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) JanitorOption {
	return JanitorOptionFunc(func(c *JanitorConfig) {
		if d > 0 {
			c.Interval = d
		}
	})
}

// WithMaxIdle sets the idle age after which handles are dropped.
func WithMaxIdle(d time.Duration) JanitorOption {
	return JanitorOptionFunc(func(c *JanitorConfig) {
		if d >= 0 {
			c.MaxIdle = d
		}
	})
}

// Janitor periodically trims idle handles from a registry and deletes
// expired leases from the store.
type Janitor struct {
	registry *Registry
	expirer  Expirer
	config   JanitorConfig

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor creates a new Janitor. expirer may be nil when the store
// expires leases by itself.
func NewJanitor(registry *Registry, expirer Expirer, options ...JanitorOption) *Janitor {
	config := JanitorConfig{
		Interval: time.Minute,
		MaxIdle:  10 * time.Minute,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Janitor{
		registry: registry,
		expirer:  expirer,
		config:   config,
	}
}

// Start begins sweeping. Safe to call multiple times.
func (j *Janitor) Start(ctx context.Context) {
	j.once.Do(func() {
		ctx, j.cancel = context.WithCancel(ctx)
		j.done = make(chan struct{})
		go j.run(ctx)
	})
}

// Stop cancels the janitor and waits for it to finish.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	log := logr.FromContextOrDiscard(ctx)
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx, log)
		}
	}
}

// Sweep runs one maintenance pass.
func (j *Janitor) Sweep(ctx context.Context, log logr.Logger) {
	if j.registry != nil {
		if n := j.registry.ExpireUnusedOlderThan(j.config.MaxIdle); n > 0 {
			log.V(1).Info("janitor: dropped idle handles", "count", n)
		}
	}

	if j.expirer == nil {
		return
	}
	n, err := j.expirer.DeleteExpired(ctx)
	if err != nil {
		log.Error(err, "janitor: delete expired leases")
		return
	}
	if n > 0 {
		log.Info("janitor: deleted expired leases", "count", n)
	}
}
