package inmem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/enverbisevac/leaselock/pubsub"
)

func TestSubscribeAndPublish(t *testing.T) {
	ps := New()
	ctx := context.Background()

	var received atomic.Value
	done := make(chan struct{})

	_, err := ps.Subscribe(ctx, pubsub.ReleasedTopic, func(msg *pubsub.Msg) {
		received.Store(msg)
		close(done)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := ps.Publish(ctx, pubsub.ReleasedTopic, "key-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	msg := received.Load().(*pubsub.Msg)
	if msg.Key != "key-1" {
		t.Errorf("expected key %q, got %q", "key-1", msg.Key)
	}
	if msg.Topic != "leaselock:DEFAULT:released" {
		t.Errorf("expected formatted topic, got %q", msg.Topic)
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	ps := New()
	if err := ps.Publish(context.Background(), pubsub.ReleasedTopic, "ignored"); err != nil {
		t.Fatalf("expected no error publishing with no subscribers, got: %v", err)
	}
}

func TestPublishOtherTopic(t *testing.T) {
	eu := New(pubsub.WithNamespace("eu"))
	ctx := context.Background()

	var called atomic.Bool
	_, err := eu.Subscribe(ctx, "other", func(*pubsub.Msg) {
		called.Store(true)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := eu.Publish(ctx, pubsub.ReleasedTopic, "k"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if called.Load() {
		t.Error("handler must not be called for another topic")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	ps := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	var count atomic.Int32
	for range 3 {
		wg.Add(1)
		_, err := ps.Subscribe(ctx, pubsub.ReleasedTopic, func(*pubsub.Msg) {
			count.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
	}

	if err := ps.Publish(ctx, pubsub.ReleasedTopic, "k"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitGroup(t, &wg)
	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 deliveries, got %d", got)
	}
}

func TestConsumerClose(t *testing.T) {
	ps := New()
	ctx := context.Background()

	var count atomic.Int32
	consumer, err := ps.Subscribe(ctx, pubsub.ReleasedTopic, func(*pubsub.Msg) {
		count.Add(1)
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := consumer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := consumer.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}

	if err := ps.Publish(ctx, pubsub.ReleasedTopic, "k"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Error("closed consumer must not receive messages")
	}
}

func TestSlowSubscriberDropsMessages(t *testing.T) {
	ps := New(pubsub.WithChannelSize(1), pubsub.WithSendTimeout(10*time.Millisecond))
	ctx := context.Background()

	release := make(chan struct{})
	_, err := ps.Subscribe(ctx, pubsub.ReleasedTopic, func(*pubsub.Msg) {
		<-release
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer close(release)

	start := time.Now()
	for range 4 {
		if err := ps.Publish(ctx, pubsub.ReleasedTopic, "k"); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publish blocked for %v on a slow subscriber", elapsed)
	}
}

func TestClose(t *testing.T) {
	ps := New()
	ctx := context.Background()

	consumer, err := ps.Subscribe(ctx, pubsub.ReleasedTopic, func(*pubsub.Msg) {})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := ps.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := consumer.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected consumer closed by PubSub.Close, got %v", err)
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
