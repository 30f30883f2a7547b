//go:build integration

package mqtt

import (
	"context"
	"sync"
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func connectIntegration(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_OutputRoundtrip(t *testing.T) {
	client := connectIntegration(t, "reverie-int-roundtrip")
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received = make(map[string]string)
		done     = make(chan struct{}, 2)
	)
	err := client.Subscribe(ctx, Topics{}.AllExperimentOutput(), 1, func(topic string, payload []byte) error {
		target, _ := TargetFromOutputTopic(topic)
		mu.Lock()
		received[target] = string(payload)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllExperimentOutput()) {
		t.Error("subscription not tracked")
	}

	for _, target := range []string{"run_a", "run_b"} {
		if err := client.PublishDefault(ctx, Topics{}.ExperimentOutput(target), []byte("line "+target)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if received["run_a"] != "line run_a" || received["run_b"] != "line run_b" {
		t.Errorf("received = %v", received)
	}
}

func TestIntegration_Unsubscribe(t *testing.T) {
	client := connectIntegration(t, "reverie-int-unsub")
	ctx := context.Background()
	topic := Topics{}.ExperimentOutput("run_unsub")

	if err := client.Subscribe(ctx, topic, 0, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(ctx, topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	client := connectIntegration(t, "reverie-int-health")

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
