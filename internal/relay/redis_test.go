package relay

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisRelays(t *testing.T) (*Redis, *recordingSink, *Redis, *recordingSink) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	newRelay := func(origin string) (*Redis, *recordingSink) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		sink := &recordingSink{}
		r := NewRedis(client, sink, WithOrigin(origin))
		if err := r.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		t.Cleanup(func() { r.Close() })
		return r, sink
	}

	a, sinkA := newRelay("node-a")
	b, sinkB := newRelay("node-b")
	return a, sinkA, b, sinkB
}

func TestRedis_CrossInstance(t *testing.T) {
	a, sinkA, b, sinkB := setupRedisRelays(t)
	ctx := context.Background()

	if err := a.Publish(ctx, "experiment_run_1", "step 1"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := a.Publish(ctx, "experiment_run_1", "实验结束"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := waitFor(t, sinkB, 2)
	if got[0].message != "step 1" || got[1].message != "实验结束" {
		t.Errorf("instance b got %v, want messages in publish order", got)
	}
	if got[0].group != "experiment_run_1" {
		t.Errorf("group = %q, want experiment_run_1", got[0].group)
	}

	// The publisher's own hub was already served locally
	if err := b.Publish(ctx, "experiment_run_2", "from b"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, sinkA, 1)
	for _, m := range sinkA.messages() {
		if m.group == "experiment_run_1" {
			t.Errorf("instance a received its own message %v", m)
		}
	}
}

func TestRedis_CloseIdempotent(t *testing.T) {
	a, _, _, _ := setupRedisRelays(t)

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
