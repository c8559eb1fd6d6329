package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"github.com/enverbisevac/leaselock/pubsub"
)

// PubSub sends release events over redis PUBLISH/SUBSCRIBE.
type PubSub struct {
	config pubsub.Config
	client redis.UniversalClient

	mutex    sync.Mutex
	registry []*redisSubscriber
}

// New creates a redis PubSub on client.
func New(client redis.UniversalClient, options ...pubsub.Option) *PubSub {
	return &PubSub{
		config:   pubsub.DefaultConfig(options...),
		client:   client,
		registry: make([]*redisSubscriber, 0, 16),
	}
}

// Subscribe calls handler for every message published on topic. It
// returns once redis confirmed the subscription.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(msg *pubsub.Msg),
) (pubsub.Consumer, error) {
	channel := pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic)

	rdb := ps.client.Subscribe(ctx, channel)
	if _, err := rdb.Receive(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pubsub: subscribe to %s: %w", channel, err)
	}

	subscriber := &redisSubscriber{
		rdb:     rdb,
		handler: handler,
		done:    make(chan struct{}),
	}
	go subscriber.start(logr.FromContextOrDiscard(ctx), ps.config)

	ps.mutex.Lock()
	ps.registry = append(ps.registry, subscriber)
	ps.mutex.Unlock()

	return subscriber, nil
}

// Publish sends key on topic.
func (ps *PubSub) Publish(ctx context.Context, topic, key string) error {
	channel := pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic)
	if err := ps.client.Publish(ctx, channel, key).Err(); err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}
	return nil
}

// Close closes every subscription. The client stays open.
func (ps *PubSub) Close(_ context.Context) error {
	ps.mutex.Lock()
	subscribers := ps.registry
	ps.registry = nil
	ps.mutex.Unlock()

	var first error
	for _, sub := range subscribers {
		if err := sub.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type redisSubscriber struct {
	rdb     *redis.PubSub
	handler func(msg *pubsub.Msg)
	done    chan struct{}
	once    sync.Once
}

func (s *redisSubscriber) start(log logr.Logger, config pubsub.Config) {
	ch := s.rdb.Channel(
		redis.WithChannelHealthCheckInterval(config.HealthInterval),
		redis.WithChannelSendTimeout(config.SendTimeout),
		redis.WithChannelSize(config.ChannelSize),
	)
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				log.V(1).Info("pubsub: redis channel was closed")
				return
			}
			s.handler(&pubsub.Msg{
				Topic: msg.Channel,
				Key:   msg.Payload,
			})
		}
	}
}

// Close ends the subscription. Closing twice is a no-op.
func (s *redisSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if cerr := s.rdb.Close(); cerr != nil {
			err = fmt.Errorf("pubsub: close subscriber: %w", cerr)
		}
	})
	return err
}
