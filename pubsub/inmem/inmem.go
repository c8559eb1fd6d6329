package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/enverbisevac/leaselock/pubsub"
)

var ErrClosed = errors.New("pubsub: subscriber is closed")

// PubSub delivers messages between registries of one process.
type PubSub struct {
	config pubsub.Config

	mutex    sync.RWMutex
	registry []*inMemorySubscriber
}

// New creates an in-memory PubSub.
func New(options ...pubsub.Option) *PubSub {
	return &PubSub{
		config:   pubsub.DefaultConfig(options...),
		registry: make([]*inMemorySubscriber, 0, 16),
	}
}

// Subscribe calls handler for every message published on topic.
func (ps *PubSub) Subscribe(
	ctx context.Context,
	topic string,
	handler func(msg *pubsub.Msg),
) (pubsub.Consumer, error) {
	subscriber := &inMemorySubscriber{
		ps:      ps,
		topic:   pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic),
		handler: handler,
		channel: make(chan *pubsub.Msg, ps.config.ChannelSize),
		done:    make(chan struct{}),
	}

	ps.mutex.Lock()
	ps.registry = append(ps.registry, subscriber)
	ps.mutex.Unlock()

	go subscriber.start(logr.FromContextOrDiscard(ctx))
	return subscriber, nil
}

// Publish sends key to every subscriber of topic. A subscriber whose
// buffer stays full for the send timeout misses the message.
func (ps *PubSub) Publish(ctx context.Context, topic, key string) error {
	log := logr.FromContextOrDiscard(ctx)
	topic = pubsub.FormatTopic(ps.config.App, ps.config.Namespace, topic)

	ps.mutex.RLock()
	subscribers := make([]*inMemorySubscriber, 0, len(ps.registry))
	for _, sub := range ps.registry {
		if sub.topic == topic {
			subscribers = append(subscribers, sub)
		}
	}
	ps.mutex.RUnlock()

	if len(subscribers) == 0 {
		log.V(2).Info("pubsub: no subscribers", "topic", topic)
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range subscribers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.send(ctx, &pubsub.Msg{Topic: topic, Key: key}, ps.config.SendTimeout, log)
		}()
	}
	// Wait so a cancelled ctx does not cut deliveries short.
	wg.Wait()
	return nil
}

// Close closes every subscription.
func (ps *PubSub) Close(_ context.Context) error {
	ps.mutex.Lock()
	subscribers := ps.registry
	ps.registry = nil
	ps.mutex.Unlock()

	for _, sub := range subscribers {
		_ = sub.close()
	}
	return nil
}

func (ps *PubSub) remove(s *inMemorySubscriber) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	for i, sub := range ps.registry {
		if sub == s {
			ps.registry = append(ps.registry[:i], ps.registry[i+1:]...)
			return
		}
	}
}

type inMemorySubscriber struct {
	ps      *PubSub
	topic   string
	handler func(*pubsub.Msg)
	channel chan *pubsub.Msg
	done    chan struct{}

	once sync.Once
}

func (s *inMemorySubscriber) start(log logr.Logger) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.channel:
			s.handler(msg)
			log.V(2).Info("pubsub: delivered", "topic", msg.Topic, "key", msg.Key)
		}
	}
}

func (s *inMemorySubscriber) send(ctx context.Context, msg *pubsub.Msg, timeout time.Duration, log logr.Logger) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.done:
	case s.channel <- msg:
	case <-ctx.Done():
	case <-t.C:
		log.V(1).Info("pubsub: subscriber is full, message dropped", "topic", msg.Topic)
	}
}

func (s *inMemorySubscriber) close() error {
	closed := true
	s.once.Do(func() {
		closed = false
		close(s.done)
	})
	if closed {
		return ErrClosed
	}
	return nil
}

// Close ends the subscription.
func (s *inMemorySubscriber) Close() error {
	if err := s.close(); err != nil {
		return err
	}
	s.ps.remove(s)
	return nil
}
