// Package cache provides the shared key/value store with expiry that backs
// the experiment process registry and the experiment listing cache.
//
// Two implementations satisfy Store:
//   - Memory: process-local map with lazy expiry and a janitor goroutine.
//   - Redis: go-redis client, shared between service instances.
//
// Every single-key operation is atomic. CompareAndDelete is the only
// compound primitive: it removes a key only while it still holds an
// expected value, which lets callers clear a record without racing a
// concurrent writer.
package cache
