package kademlia

import (
	"sync"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/kadnet/kadnode/internal/events"
	"github.com/kadnet/kadnode/internal/metrics"
)

// StoredValue is the triple (key, value, expires_at) — spec.md §3.
type StoredValue struct {
	Key          ID
	Value        string
	ExpiresAt    clock.AbsTime
	republishAt  clock.AbsTime
}

// ValueStore is the local key/value map with per-entry expiry and
// republish timestamps (spec.md §3, component C6).
type ValueStore struct {
	mu      sync.Mutex
	entries map[ID]*StoredValue
	clock   clock.Clock
	metrics *metrics.Set
	feed    events.Feed[events.ValueExpired]
}

// DefaultTTL and DefaultRepublishInterval mirror spec.md §4.6.
const (
	DefaultTTL               = 24 * time.Hour
	DefaultRepublishInterval = time.Hour
)

func NewValueStore(clk clock.Clock, m *metrics.Set) *ValueStore {
	return &ValueStore{
		entries: make(map[ID]*StoredValue),
		clock:   clk,
		metrics: m,
	}
}

func (vs *ValueStore) Feed() *events.Feed[events.ValueExpired] { return &vs.feed }

// Put overwrites any existing entry, recording expires_at = now + ttl
// (spec.md §4.6).
func (vs *ValueStore) Put(key ID, value string, ttl time.Duration) {
	now := vs.clock.Now()
	vs.mu.Lock()
	vs.entries[key] = &StoredValue{
		Key:         key,
		Value:       value,
		ExpiresAt:   now.Add(ttl),
		republishAt: now,
	}
	n := len(vs.entries)
	vs.mu.Unlock()
	if vs.metrics != nil {
		vs.metrics.StoredValues.Set(int64(n))
	}
}

// Get returns the stored value for key, if present and not yet expired.
func (vs *ValueStore) Get(key ID) (string, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	e, ok := vs.entries[key]
	if !ok {
		return "", false
	}
	if vs.clock.Now() >= e.ExpiresAt {
		return "", false
	}
	return e.Value, true
}

// ExpireDue removes and returns the keys of entries whose expires_at has
// passed (spec.md §4.6).
func (vs *ValueStore) ExpireDue() []ID {
	now := vs.clock.Now()
	vs.mu.Lock()
	var expired []ID
	for k, e := range vs.entries {
		if now >= e.ExpiresAt {
			expired = append(expired, k)
			delete(vs.entries, k)
		}
	}
	n := len(vs.entries)
	vs.mu.Unlock()
	if len(expired) > 0 && vs.metrics != nil {
		vs.metrics.StoredValues.Set(int64(n))
	}
	for _, k := range expired {
		vs.feed.Send(events.ValueExpired{Key: k.String()})
	}
	return expired
}

// RepublishDue returns (key, value) pairs not republished within interval,
// and marks them as republished now (spec.md §4.6, driven by C9).
func (vs *ValueStore) RepublishDue(interval time.Duration) []StoredValue {
	now := vs.clock.Now()
	vs.mu.Lock()
	defer vs.mu.Unlock()
	var due []StoredValue
	for _, e := range vs.entries {
		if now.Sub(e.republishAt) >= interval {
			due = append(due, StoredValue{Key: e.Key, Value: e.Value, ExpiresAt: e.ExpiresAt})
			e.republishAt = now
		}
	}
	return due
}

// Len reports the number of entries currently held; an expired entry is
// counted until ExpireDue removes it.
func (vs *ValueStore) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.entries)
}
