// Package leader elects one leader per role among candidates sharing a
// lock registry. The leader holds the role lock and renews its lease
// every heartbeat; losing the lease revokes leadership.
package leader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/enverbisevac/leaselock/lock"
)

// Candidate takes part in the election for one role.
type Candidate interface {
	// Role is the lock name competed for.
	Role() string
	// ID identifies the candidate; it is used as the lock holder.
	ID() string
	// OnGranted is called once leadership is acquired. Returning an error
	// gives leadership up again.
	OnGranted(ctx context.Context, lc Context) error
	// OnRevoked is called when leadership ends for any reason.
	OnRevoked(ctx context.Context, lc Context)
}

// Context is the leadership context handed to a candidate.
type Context interface {
	// IsLeader reports whether the candidate currently leads.
	IsLeader() bool
	// Yield gives leadership up. The candidate competes again after a
	// heartbeat.
	Yield()
}

// Initiator runs the election loop for one candidate.
type Initiator struct {
	registry  *lock.Registry
	candidate Candidate
	config    Config

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	leader bool
	yield  chan struct{}
}

// New creates an Initiator for candidate.
func New(registry *lock.Registry, candidate Candidate, options ...Option) *Initiator {
	config := Config{
		Heartbeat: 500 * time.Millisecond,
		BusyWait:  50 * time.Millisecond,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Initiator{
		registry:  registry,
		candidate: candidate,
		config:    config,
		yield:     make(chan struct{}, 1),
	}
}

// Start begins competing for leadership. Safe to call multiple times.
func (i *Initiator) Start(ctx context.Context) {
	i.once.Do(func() {
		ctx, i.cancel = context.WithCancel(ctx)
		i.done = make(chan struct{})
		go i.run(ctx)
	})
}

// Stop ends the election loop, giving up leadership if held, and waits
// for the loop to finish.
func (i *Initiator) Stop() {
	if i.cancel != nil {
		i.cancel()
		<-i.done
	}
}

// Context returns the leadership context of the candidate.
func (i *Initiator) Context() Context {
	return leaderContext{i}
}

// IsLeader reports whether the candidate currently leads.
func (i *Initiator) IsLeader() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.leader
}

func (i *Initiator) setLeader(v bool) {
	i.mu.Lock()
	i.leader = v
	i.mu.Unlock()
}

func (i *Initiator) run(ctx context.Context) {
	defer close(i.done)

	role := i.candidate.Role()
	log := logr.FromContextOrDiscard(ctx).WithValues("role", role, "candidate", i.candidate.ID())
	ctx = lock.WithHolder(ctx, i.candidate.ID())

	for ctx.Err() == nil {
		h := i.registry.Obtain(role)

		if !i.IsLeader() {
			ok, err := h.TryLockFor(ctx, i.config.Heartbeat, i.config.LeaseTTL)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					log.Error(err, "leader: acquire role lock")
				}
				i.sleep(ctx, i.config.BusyWait)
			case !ok:
				i.sleep(ctx, i.config.BusyWait)
			default:
				select {
				case <-i.yield:
				default:
				}
				i.setLeader(true)
				log.Info("leader: granted")
				if err := i.candidate.OnGranted(ctx, i.Context()); err != nil {
					log.Error(err, "leader: candidate refused leadership")
					i.revoke(ctx, log, h)
					i.sleep(ctx, i.config.Heartbeat)
				}
			}
			continue
		}

		t := time.NewTimer(i.config.Heartbeat)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-i.yield:
			t.Stop()
			log.Info("leader: yielding")
			i.revoke(ctx, log, h)
			i.sleep(ctx, i.config.Heartbeat)
		case <-t.C:
			if err := h.Renew(ctx, i.config.LeaseTTL); err != nil {
				if ctx.Err() != nil {
					break
				}
				log.Error(err, "leader: renew failed, leadership lost")
				i.revoke(ctx, log, h)
			}
		}
	}

	if i.IsLeader() {
		i.revoke(ctx, log, i.registry.Obtain(role))
	}
}

// revoke releases the role lock and notifies the candidate. The unlock
// runs even when ctx is already cancelled.
func (i *Initiator) revoke(ctx context.Context, log logr.Logger, h *lock.Handle) {
	i.setLeader(false)
	if err := h.Unlock(context.WithoutCancel(ctx)); err != nil {
		log.V(1).Info("leader: unlock role lock", "error", err.Error())
	}
	log.Info("leader: revoked")
	i.candidate.OnRevoked(ctx, i.Context())
}

func (i *Initiator) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

type leaderContext struct {
	i *Initiator
}

func (c leaderContext) IsLeader() bool {
	return c.i.IsLeader()
}

func (c leaderContext) Yield() {
	if !c.i.IsLeader() {
		return
	}
	select {
	case c.i.yield <- struct{}{}:
	default:
	}
}

func (c leaderContext) String() string {
	return fmt.Sprintf("leader.Context{role=%s, id=%s, leader=%t}",
		c.i.candidate.Role(), c.i.candidate.ID(), c.IsLeader())
}

// DefaultCandidate is a Candidate with optional callbacks.
type DefaultCandidate struct {
	RoleName string
	Identity string
	Granted  func(ctx context.Context, lc Context) error
	Revoked  func(ctx context.Context, lc Context)
}

func (c *DefaultCandidate) Role() string { return c.RoleName }

func (c *DefaultCandidate) ID() string { return c.Identity }

func (c *DefaultCandidate) OnGranted(ctx context.Context, lc Context) error {
	if c.Granted != nil {
		return c.Granted(ctx, lc)
	}
	return nil
}

func (c *DefaultCandidate) OnRevoked(ctx context.Context, lc Context) {
	if c.Revoked != nil {
		c.Revoked(ctx, lc)
	}
}
