package cache

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// defaultCleanupPeriod is how often the janitor sweeps expired keys.
const defaultCleanupPeriod = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store. Expired keys are invisible immediately
// and reclaimed by a background sweep.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMemory creates a Memory store and starts its janitor.
// A cleanupPeriod <= 0 uses one minute.
func NewMemory(cleanupPeriod time.Duration) *Memory {
	if cleanupPeriod <= 0 {
		cleanupPeriod = defaultCleanupPeriod
	}

	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.janitor(cleanupPeriod)

	return m
}

func (m *Memory) janitor(period time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops every expired entry.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}

	return bytes.Clone(e.value), true, nil
}

// Set stores value under key with the given ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	e := memoryEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e

	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	delete(m.entries, key)
	return nil
}

// CompareAndDelete removes key if it holds expected.
func (m *Memory) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) || !bytes.Equal(e.value, expected) {
		return false, nil
	}

	delete(m.entries, key)
	return true, nil
}

// Ping always succeeds on an open store.
func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the janitor and drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.entries = nil
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return nil
}
