package pubsub

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.App != DefaultAppName {
		t.Errorf("expected app %q, got %q", DefaultAppName, c.App)
	}
	if c.Namespace != DefaultNamespace {
		t.Errorf("expected namespace %q, got %q", DefaultNamespace, c.Namespace)
	}
	if c.SendTimeout != time.Second {
		t.Errorf("expected send timeout %v, got %v", time.Second, c.SendTimeout)
	}
	if c.ChannelSize != 100 {
		t.Errorf("expected channel size 100, got %d", c.ChannelSize)
	}
}

func TestDefaultConfigWithOptions(t *testing.T) {
	c := DefaultConfig(
		WithApp("int_lock"),
		WithNamespace("eu"),
		WithHealthCheckInterval(0),
		WithSendTimeout(5*time.Second),
		WithChannelSize(10),
		WithNamespace(""),
		WithChannelSize(-1),
	)
	if c.App != "int_lock" {
		t.Errorf("expected app %q, got %q", "int_lock", c.App)
	}
	if c.Namespace != "eu" {
		t.Errorf("empty namespace must not override, got %q", c.Namespace)
	}
	if c.HealthInterval != 0 {
		t.Errorf("expected disabled health check, got %v", c.HealthInterval)
	}
	if c.SendTimeout != 5*time.Second {
		t.Errorf("expected send timeout %v, got %v", 5*time.Second, c.SendTimeout)
	}
	if c.ChannelSize != 10 {
		t.Errorf("expected channel size 10, got %d", c.ChannelSize)
	}
}

func TestFormatTopic(t *testing.T) {
	if got := FormatTopic("leaselock", "DEFAULT", ReleasedTopic); got != "leaselock:DEFAULT:released" {
		t.Errorf("unexpected topic %q", got)
	}
}
