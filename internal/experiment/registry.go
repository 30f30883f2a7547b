package experiment

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/epitome-sim/reverie-core/internal/infrastructure/cache"
)

// Registry maps experiment ids to the pid of their simulation process.
//
// It is an explicit object owned by the hosting service and shared by the
// launcher and the lifecycle service. Records expire after ttl, which must
// outlast the longest run: an expired record turns "finished" into
// "not started".
type Registry struct {
	store  cache.Store
	prefix string
	ttl    time.Duration
}

// NewRegistry creates a Registry storing records in store under prefix.
func NewRegistry(store cache.Store, prefix string, ttl time.Duration) *Registry {
	return &Registry{
		store:  store,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *Registry) key(id string) string {
	return r.prefix + "pid:" + id
}

func encodePID(pid int) []byte {
	return []byte(strconv.Itoa(pid))
}

// Put records pid for id, replacing any previous record.
func (r *Registry) Put(ctx context.Context, id string, pid int) error {
	if err := r.store.Set(ctx, r.key(id), encodePID(pid), r.ttl); err != nil {
		return fmt.Errorf("recording pid for %s: %w", id, err)
	}
	return nil
}

// Get returns the record for id. The bool is false when none exists.
func (r *Registry) Get(ctx context.Context, id string) (Record, bool, error) {
	raw, ok, err := r.store.Get(ctx, r.key(id))
	if err != nil {
		return Record{}, false, fmt.Errorf("reading pid for %s: %w", id, err)
	}
	if !ok {
		return Record{}, false, nil
	}

	pid, err := strconv.Atoi(string(raw))
	if err != nil {
		return Record{}, false, fmt.Errorf("decoding pid for %s: %w", id, err)
	}
	return Record{ID: id, PID: pid}, true, nil
}

// Delete removes the record for id unconditionally.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.key(id)); err != nil {
		return fmt.Errorf("deleting pid for %s: %w", id, err)
	}
	return nil
}

// CompareAndDelete removes the record for id only if it still names pid.
func (r *Registry) CompareAndDelete(ctx context.Context, id string, pid int) (bool, error) {
	deleted, err := r.store.CompareAndDelete(ctx, r.key(id), encodePID(pid))
	if err != nil {
		return false, fmt.Errorf("clearing pid for %s: %w", id, err)
	}
	return deleted, nil
}

// TTL returns the record lifetime.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}
