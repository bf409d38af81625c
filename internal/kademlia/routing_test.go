package kademlia

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/stretchr/testify/require"
)

// fakePinger lets tests control the outcome of eviction probes (spec.md
// §4.5) without a real transport.
type fakePinger struct {
	mu    sync.Mutex
	alive map[ID]bool
}

func newFakePinger() *fakePinger { return &fakePinger{alive: make(map[ID]bool)} }

func (f *fakePinger) set(id ID, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[id] = ok
}

func (f *fakePinger) Ping(_ context.Context, p Peer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[p.ID]
}

// idWithLeadBitFlipped returns an id that shares self's bucket at index
// 159: the highest (most significant) bit differs from self, and the
// remaining bits are whatever the caller fills via tail.
func idWithLeadBitFlipped(tail byte) ID {
	var id ID
	id[0] = 0x80 | tail
	return id
}

func TestRoutingObserveLRUBump(t *testing.T) {
	var self ID
	rt := NewRoutingTable(self, 4, time.Hour, &clock.Simulated{}, newFakePinger(), nil)

	a := Peer{ID: idWithLeadBitFlipped(0x01)}
	b := Peer{ID: idWithLeadBitFlipped(0x02)}
	c := Peer{ID: idWithLeadBitFlipped(0x03)}

	rt.Observe(a)
	rt.Observe(b)
	rt.Observe(c)
	require.Equal(t, []ID{a.ID, b.ID, c.ID}, idsOf(rt.BucketPeers(159)))

	// Re-observing A bumps it to the tail (spec.md §3 scenario S3).
	rt.Observe(a)
	require.Equal(t, []ID{b.ID, c.ID, a.ID}, idsOf(rt.BucketPeers(159)))

	d := Peer{ID: idWithLeadBitFlipped(0x04)}
	rt.Observe(d)
	require.Equal(t, []ID{b.ID, c.ID, a.ID, d.ID}, idsOf(rt.BucketPeers(159)))
}

func TestRoutingObserveEvictionProbeSuccess(t *testing.T) {
	var self ID
	pinger := newFakePinger()
	rt := NewRoutingTable(self, 2, time.Hour, &clock.Simulated{}, pinger, nil)

	a := Peer{ID: idWithLeadBitFlipped(0x01)}
	b := Peer{ID: idWithLeadBitFlipped(0x02)}
	c := Peer{ID: idWithLeadBitFlipped(0x03)}
	pinger.set(a.ID, true)

	rt.Observe(a)
	rt.Observe(b)
	require.Equal(t, []ID{a.ID, b.ID}, idsOf(rt.BucketPeers(159)))

	rt.Observe(c) // bucket full: probes head (a), which responds alive
	require.Eventually(t, func() bool {
		ids := idsOf(rt.BucketPeers(159))
		return len(ids) == 2 && ids[0] == b.ID && ids[1] == a.ID
	}, time.Second, 5*time.Millisecond, "A should be retained and moved to tail, C discarded")
}

func TestRoutingObserveEvictionProbeFailure(t *testing.T) {
	var self ID
	pinger := newFakePinger()
	rt := NewRoutingTable(self, 2, time.Hour, &clock.Simulated{}, pinger, nil)

	a := Peer{ID: idWithLeadBitFlipped(0x01)}
	b := Peer{ID: idWithLeadBitFlipped(0x02)}
	c := Peer{ID: idWithLeadBitFlipped(0x03)}
	pinger.set(a.ID, false)

	rt.Observe(a)
	rt.Observe(b)
	rt.Observe(c) // bucket full: probes head (a), which times out

	require.Eventually(t, func() bool {
		ids := idsOf(rt.BucketPeers(159))
		return len(ids) == 2 && ids[0] == b.ID && ids[1] == c.ID
	}, time.Second, 5*time.Millisecond, "A should be evicted and C inserted in its place")
}

func TestRoutingClosestSortsByDistance(t *testing.T) {
	var self ID
	rt := NewRoutingTable(self, 20, time.Hour, &clock.Simulated{}, newFakePinger(), nil)

	var farID ID
	farID[0] = 0x80 // distance's highest bit at position 0 -> bucket 159
	var nearID ID
	nearID[19] = 0x01 // distance's highest bit at the last bit -> bucket 0

	rt.Observe(Peer{ID: farID})
	rt.Observe(Peer{ID: nearID})

	closest := rt.Closest(self, 5)
	require.Len(t, closest, 2)
	require.Equal(t, nearID, closest[0].ID, "nearID differs from self only in its lowest bit, should sort first")
	require.Equal(t, farID, closest[1].ID)
}

// TestRoutingClosestDoesNotStopAtBucketAdjacency reproduces a correctness
// bug caught in review: bucket-index adjacency to the target's own bucket
// does not track XOR-distance adjacency, so a walk that stops as soon as
// it has gathered `count` candidates can both drop a genuinely closer peer
// reached only by visiting a farther bucket, and keep a farther one found
// first. self is all-zero, so each peer's bucket index here is simply the
// position of its own highest set bit.
func TestRoutingClosestDoesNotStopAtBucketAdjacency(t *testing.T) {
	var self ID
	rt := NewRoutingTable(self, 20, time.Hour, &clock.Simulated{}, newFakePinger(), nil)

	var a, b, c, d, target ID
	a[0] = 0x50      // 0101_0000, bucket 158
	b[0] = 0x30      // 0011_0000, bucket 157
	c[0] = 0x80      // 1000_0000, bucket 159
	d[0] = 0x10      // 0001_0000, bucket 156 -- only reachable a few buckets past the target's own (158)
	target[0] = 0x40 // 0100_0000, own bucket 158

	for _, p := range []ID{a, b, c, d} {
		rt.Observe(Peer{ID: p})
	}

	// True ascending order by XOR distance to target: a(0x10), d(0x50),
	// b(0x70), c(0xc0). A walk that stops once 3 candidates are gathered
	// from buckets 158, 157, 159 (in that adjacency order) would return
	// {a, b, c} and never reach bucket 156 where d lives, dropping the
	// second-closest peer.
	closest := rt.Closest(target, 3)
	require.Equal(t, []ID{a, d, b}, idsOf(closest))
}

func TestRoutingObserveIgnoresSelf(t *testing.T) {
	self := mustID(t)
	rt := NewRoutingTable(self, 20, time.Hour, &clock.Simulated{}, newFakePinger(), nil)
	rt.Observe(Peer{ID: self})
	require.Equal(t, 0, rt.Count())
}

func idsOf(peers []Peer) []ID {
	out := make([]ID, len(peers))
	for i, p := range peers {
		out[i] = p.ID
	}
	return out
}
