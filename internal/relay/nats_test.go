package relay

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	s := natsserver.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func natsConfig(url string) config.NATSConfig {
	return config.NATSConfig{
		URL:           url,
		Name:          "reverie-test",
		Subject:       "reverie.experiment.output",
		MaxReconnects: 1,
		ReconnectWait: 100 * time.Millisecond,
		Timeout:       2 * time.Second,
	}
}

func TestNATS_CrossInstance(t *testing.T) {
	s := runNATSServer(t)
	ctx := context.Background()

	sinkA, sinkB := &recordingSink{}, &recordingSink{}
	a, err := ConnectNATS(natsConfig(s.ClientURL()), sinkA, WithOrigin("node-a"))
	if err != nil {
		t.Fatalf("ConnectNATS() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	b, err := ConnectNATS(natsConfig(s.ClientURL()), sinkB, WithOrigin("node-b"))
	if err != nil {
		t.Fatalf("ConnectNATS() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })

	for _, r := range []*NATS{a, b} {
		if err := r.Start(ctx); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	for _, line := range []string{"one", "two", "ERROR: three"} {
		if err := a.Publish(ctx, "experiment_run_1", line); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := a.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got := waitFor(t, sinkB, 3)
	want := []string{"one", "two", "ERROR: three"}
	for i, w := range want {
		if got[i].message != w {
			t.Errorf("message[%d] = %q, want %q", i, got[i].message, w)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(sinkA.messages()); n != 0 {
		t.Errorf("publisher received %d of its own messages, want 0", n)
	}
}

func TestConnectNATS_Unreachable(t *testing.T) {
	cfg := natsConfig("nats://127.0.0.1:1")
	cfg.Timeout = 200 * time.Millisecond

	if _, err := ConnectNATS(cfg, &recordingSink{}); err == nil {
		t.Error("ConnectNATS() error = nil, want connection error")
	}
}
