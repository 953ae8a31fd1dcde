package natsconn

import (
	"testing"
	"time"
)

func TestOptions_Defaults(t *testing.T) {
	t.Setenv("NATS_URL", "")
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("NATS_MAX_RECONNECTS", "")
	t.Setenv("NATS_RECONNECT_WAIT", "")

	o := Options{}.withDefaults()
	if o.URL != "nats://nats:4222" {
		t.Fatalf("unexpected default URL %q", o.URL)
	}
	if o.Name != "bookstagram" {
		t.Fatalf("unexpected default client name %q", o.Name)
	}
	if o.MaxReconnects != 5 || o.ReconnectWait != 2*time.Second {
		t.Fatalf("unexpected reconnect defaults: %d, %s", o.MaxReconnects, o.ReconnectWait)
	}
}

func TestOptions_EnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("SERVICE_NAME", "comments")
	t.Setenv("NATS_MAX_RECONNECTS", "9")
	t.Setenv("NATS_RECONNECT_WAIT", "500ms")

	o := Options{}.withDefaults()
	if o.URL != "nats://broker:4222" {
		t.Fatalf("unexpected URL %q", o.URL)
	}
	if o.Name != "comments" {
		t.Fatalf("expected client name from SERVICE_NAME, got %q", o.Name)
	}
	if o.MaxReconnects != 9 || o.ReconnectWait != 500*time.Millisecond {
		t.Fatalf("unexpected reconnect settings: %d, %s", o.MaxReconnects, o.ReconnectWait)
	}
}

func TestOptions_ExplicitValuesWin(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker:4222")
	o := Options{URL: "nats://local:4222", Name: "comments-worker"}.withDefaults()
	if o.URL != "nats://local:4222" || o.Name != "comments-worker" {
		t.Fatalf("explicit options overridden: %q, %q", o.URL, o.Name)
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	t.Setenv("NATSCONN_TEST_INT", "not-a-number")
	if v := envInt("NATSCONN_TEST_INT", 42); v != 42 {
		t.Fatalf("expected fallback 42, got %d", v)
	}
}

func TestEnvDuration_Invalid(t *testing.T) {
	t.Setenv("NATSCONN_TEST_DUR", "-3s")
	if v := envDuration("NATSCONN_TEST_DUR", 5*time.Second); v != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s", v)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Options{
		URL:           "nats://127.0.0.1:19999",
		ReconnectWait: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error connecting to unreachable NATS URL")
	}
}
