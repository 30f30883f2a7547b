package experiment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/cache"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store, "reverie:", time.Hour)
}

func TestRegistry_PutGetDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, ok, err := reg.Get(ctx, "run_1"); err != nil || ok {
		t.Fatalf("Get() on empty registry = ok %v, err %v; want false, nil", ok, err)
	}

	if err := reg.Put(ctx, "run_1", 4242); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	rec, ok, err := reg.Get(ctx, "run_1")
	if err != nil || !ok {
		t.Fatalf("Get() = ok %v, err %v; want true, nil", ok, err)
	}
	if rec.ID != "run_1" || rec.PID != 4242 {
		t.Errorf("Get() = %+v, want {run_1 4242}", rec)
	}

	// Last write wins
	if err := reg.Put(ctx, "run_1", 5151); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if rec, _, _ := reg.Get(ctx, "run_1"); rec.PID != 5151 {
		t.Errorf("PID after overwrite = %d, want 5151", rec.PID)
	}

	if err := reg.Delete(ctx, "run_1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := reg.Get(ctx, "run_1"); ok {
		t.Error("record still present after Delete")
	}
	if err := reg.Delete(ctx, "run_1"); err != nil {
		t.Errorf("Delete() of missing record error = %v", err)
	}
}

func TestRegistry_StoresDecimalPID(t *testing.T) {
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	reg := NewRegistry(store, "reverie:", time.Hour)
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 4242); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	raw, ok, err := store.Get(ctx, "reverie:pid:run_1")
	if err != nil || !ok {
		t.Fatalf("store.Get() = ok %v, err %v", ok, err)
	}
	if string(raw) != "4242" {
		t.Errorf("stored value = %q, want %q", raw, "4242")
	}
}

func TestRegistry_CompareAndDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 100); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	deleted, err := reg.CompareAndDelete(ctx, "run_1", 99)
	if err != nil || deleted {
		t.Fatalf("CompareAndDelete(stale pid) = %v, %v; want false, nil", deleted, err)
	}
	if _, ok, _ := reg.Get(ctx, "run_1"); !ok {
		t.Fatal("record removed by a stale compare-and-delete")
	}

	deleted, err = reg.CompareAndDelete(ctx, "run_1", 100)
	if err != nil || !deleted {
		t.Fatalf("CompareAndDelete(current pid) = %v, %v; want true, nil", deleted, err)
	}
	if _, ok, _ := reg.Get(ctx, "run_1"); ok {
		t.Error("record still present after compare-and-delete")
	}
}

func TestRegistry_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedis(client)
	t.Cleanup(func() { _ = store.Close() })

	reg := NewRegistry(store, "reverie:", time.Hour)
	ctx := context.Background()

	if err := reg.Put(ctx, "run_1", 321); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Stored as a decimal string under the prefixed key
	got, err := mr.Get("reverie:pid:run_1")
	if err != nil {
		t.Fatalf("miniredis Get() error = %v", err)
	}
	if got != "321" {
		t.Errorf("stored value = %q, want 321", got)
	}
	if ttl := mr.TTL("reverie:pid:run_1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := reg.Get(ctx, "run_1"); ok {
		t.Error("record survived its TTL")
	}
}

func TestRegistry_CorruptValue(t *testing.T) {
	store := cache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	reg := NewRegistry(store, "", time.Hour)

	if err := store.Set(context.Background(), "pid:run_1", []byte("not-a-pid"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, _, err := reg.Get(context.Background(), "run_1"); err == nil {
		t.Error("Get() of a corrupt record should fail")
	}
}
