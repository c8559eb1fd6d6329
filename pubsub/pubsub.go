// Package pubsub broadcasts lock release events between processes. A
// registry publishes the key of every lock it releases; registries
// waiting for that key retry at once instead of at their next poll.
package pubsub

import "context"

// ReleasedTopic is the topic release events are published on.
const ReleasedTopic = "released"

// Msg is a release event.
type Msg struct {
	Topic string
	// Key is the storage key of the released lock.
	Key string
}

type Publisher interface {
	// Publish announces that the lock with key was released.
	Publish(ctx context.Context, topic, key string) error
}

// Consumer is an active subscription.
type Consumer interface {
	Close() error
}

type Subscriber interface {
	// Subscribe calls handler for every message on topic until the
	// returned consumer is closed. The subscription is active when
	// Subscribe returns.
	Subscribe(ctx context.Context, topic string, handler func(msg *Msg)) (Consumer, error)
}

// PubSub is implemented by the inmem, redis and pgx packages.
type PubSub interface {
	Publisher
	Subscriber
	Close(ctx context.Context) error
}

// FormatTopic scopes topic to an application and a namespace, normally
// the key prefix and the lock region.
func FormatTopic(app, ns, topic string) string {
	return app + ":" + ns + ":" + topic
}
