// Package cache provides the in-memory namespaced TTL store used for lookup results.
package cache

import (
	"time"

	"github.com/akyoto/cache"
	"github.com/sirupsen/logrus"
)

// cleanupInterval is how often expired entries are evicted in the background.
const cleanupInterval = time.Minute

type entryKey struct {
	namespace string
	key       string
}

// Memory is a types.Cache backed by an expiring in-memory map.
// Entries are immutable for their TTL; there is no invalidation.
type Memory struct {
	store *cache.Cache
}

// NewMemory creates an empty store. Call Close to stop background eviction.
func NewMemory() *Memory {
	return &Memory{store: cache.New(cleanupInterval)}
}

// Get returns the value stored under namespace/key if it has not expired.
func (m *Memory) Get(namespace, key string) (any, bool) {
	value, found := m.store.Get(entryKey{namespace: namespace, key: key})

	return value, found
}

// Set stores value under namespace/key for ttlMinutes minutes.
func (m *Memory) Set(namespace, key string, value any, ttlMinutes int) {
	m.SetWithTTL(namespace, key, value, time.Duration(ttlMinutes)*time.Minute)
}

// SetWithTTL stores value under namespace/key for ttl.
func (m *Memory) SetWithTTL(namespace, key string, value any, ttl time.Duration) {
	logrus.WithFields(logrus.Fields{
		"namespace": namespace,
		"key":       key,
		"ttl":       ttl,
	}).Trace("Caching value")

	m.store.Set(entryKey{namespace: namespace, key: key}, value, ttl)
}

// Close stops the background eviction goroutine.
func (m *Memory) Close() {
	m.store.Close()
}
