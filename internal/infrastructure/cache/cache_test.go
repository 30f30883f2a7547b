package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/config"
)

// storeCase pairs a Store with a way to move its clock forward.
type storeCase struct {
	name    string
	store   Store
	advance func(d time.Duration)
}

func newMemoryCase(t *testing.T) storeCase {
	t.Helper()
	m := NewMemory(time.Hour)
	t.Cleanup(func() { m.Close() })

	var mu sync.Mutex
	now := time.Now()
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	return storeCase{
		name:  "memory",
		store: m,
		advance: func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		},
	}
}

func newRedisCase(t *testing.T) storeCase {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return storeCase{
		name:    "redis",
		store:   NewRedis(client),
		advance: mr.FastForward,
	}
}

func allStores(t *testing.T) []storeCase {
	return []storeCase{newMemoryCase(t), newRedisCase(t)}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()

	for _, sc := range allStores(t) {
		t.Run(sc.name, func(t *testing.T) {
			if _, ok, err := sc.store.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
			}

			if err := sc.store.Set(ctx, "k", []byte("4242"), 0); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			v, ok, err := sc.store.Get(ctx, "k")
			if err != nil || !ok || string(v) != "4242" {
				t.Fatalf("Get(k) = %q, %v, %v; want 4242", v, ok, err)
			}

			// Overwrite wins
			if err := sc.store.Set(ctx, "k", []byte("7"), 0); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			v, _, _ = sc.store.Get(ctx, "k")
			if string(v) != "7" {
				t.Errorf("Get(k) after overwrite = %q, want 7", v)
			}

			if err := sc.store.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, ok, _ := sc.store.Get(ctx, "k"); ok {
				t.Error("key still present after Delete")
			}
			if err := sc.store.Delete(ctx, "k"); err != nil {
				t.Errorf("Delete(absent) error = %v, want nil", err)
			}
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()

	for _, sc := range allStores(t) {
		t.Run(sc.name, func(t *testing.T) {
			if err := sc.store.Set(ctx, "ttl", []byte("1"), time.Minute); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			sc.advance(30 * time.Second)
			if _, ok, _ := sc.store.Get(ctx, "ttl"); !ok {
				t.Fatal("key expired early")
			}

			sc.advance(31 * time.Second)
			if _, ok, _ := sc.store.Get(ctx, "ttl"); ok {
				t.Error("key still present after ttl")
			}
		})
	}
}

func TestStore_CompareAndDelete(t *testing.T) {
	ctx := context.Background()

	for _, sc := range allStores(t) {
		t.Run(sc.name, func(t *testing.T) {
			if err := sc.store.Set(ctx, "pid", []byte("100"), time.Hour); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			deleted, err := sc.store.CompareAndDelete(ctx, "pid", []byte("99"))
			if err != nil {
				t.Fatalf("CompareAndDelete() error = %v", err)
			}
			if deleted {
				t.Error("CompareAndDelete deleted a key holding a different value")
			}
			if _, ok, _ := sc.store.Get(ctx, "pid"); !ok {
				t.Fatal("key removed by mismatched CompareAndDelete")
			}

			deleted, err = sc.store.CompareAndDelete(ctx, "pid", []byte("100"))
			if err != nil {
				t.Fatalf("CompareAndDelete() error = %v", err)
			}
			if !deleted {
				t.Error("CompareAndDelete did not delete matching key")
			}

			deleted, err = sc.store.CompareAndDelete(ctx, "pid", []byte("100"))
			if err != nil || deleted {
				t.Errorf("CompareAndDelete(absent) = %v, %v; want false, nil", deleted, err)
			}
		})
	}
}

func TestStore_Ping(t *testing.T) {
	for _, sc := range allStores(t) {
		t.Run(sc.name, func(t *testing.T) {
			if err := sc.store.Ping(context.Background()); err != nil {
				t.Errorf("Ping() error = %v", err)
			}
		})
	}
}

func TestMemory_SweepAndLen(t *testing.T) {
	sc := newMemoryCase(t)
	m := sc.store.(*Memory)
	ctx := context.Background()

	m.Set(ctx, "short", []byte("a"), time.Second)
	m.Set(ctx, "long", []byte("b"), time.Hour)
	m.Set(ctx, "forever", []byte("c"), 0)

	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}

	sc.advance(2 * time.Second)
	m.sweep()

	m.mu.Lock()
	raw := len(m.entries)
	m.mu.Unlock()
	if raw != 2 {
		t.Errorf("entries after sweep = %d, want 2", raw)
	}
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	m := NewMemory(time.Hour)
	defer m.Close()
	ctx := context.Background()

	buf := []byte("123")
	m.Set(ctx, "k", buf, 0)
	buf[0] = '9'

	v, _, _ := m.Get(ctx, "k")
	if string(v) != "123" {
		t.Errorf("stored value mutated through caller slice: %q", v)
	}
}

func TestMemory_Closed(t *testing.T) {
	m := NewMemory(time.Hour)
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Second close is a no-op
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	ctx := context.Background()
	if err := m.Set(ctx, "k", nil, 0); err != ErrClosed {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := m.Get(ctx, "k"); err != ErrClosed {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if err := m.Ping(ctx); err != ErrClosed {
		t.Errorf("Ping() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	r, err := ConnectRedis(ctx, config.RedisConfig{Address: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("ConnectRedis() error = %v", err)
	}
	defer r.Close()

	if r.Client() == nil {
		t.Error("Client() = nil")
	}
	if err := r.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := mr.TTL("k"); got != time.Minute {
		t.Errorf("server TTL = %v, want 1m", got)
	}
}

func TestConnectRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ConnectRedis(ctx, config.RedisConfig{Address: addr, DialTimeout: 200 * time.Millisecond}); err == nil {
		t.Error("ConnectRedis() to a closed server should fail")
	}
}
