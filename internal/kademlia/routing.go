package kademlia

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/kadnet/kadnode/internal/events"
	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// numBuckets is the width of the identifier space (spec.md §3).
const numBuckets = IDLen * 8

// Pinger is the liveness-probe collaborator the routing table calls into
// when an eviction decision needs to know whether a bucket's head is
// still reachable (spec.md §4.5). It is satisfied by the RPC client side
// of the node; kept as an interface here so routing stays free of
// transport and pending-table concerns.
type Pinger interface {
	Ping(ctx context.Context, p Peer) bool
}

// bucket is an ordered sequence of up to k peers, oldest at the head
// (list.Front()), newest at the tail (list.Back()) — spec.md §3 KBucket.
type bucket struct {
	mu          sync.Mutex
	ring        *list.List
	byID        map[ID]*list.Element
	probeSem    *semaphore.Weighted
	replacement *Peer // queued candidate while a probe is outstanding (spec.md §4.5)
}

func newBucket() *bucket {
	return &bucket{
		ring:     list.New(),
		byID:     make(map[ID]*list.Element),
		probeSem: semaphore.NewWeighted(1),
	}
}

func (b *bucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Len()
}

func (b *bucket) peers() []Peer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Peer, 0, b.ring.Len())
	for e := b.ring.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Peer))
	}
	return out
}

// RoutingTable is the fixed array of 160 k-buckets plus per-bucket
// refresh timestamps (spec.md §3, component C5).
type RoutingTable struct {
	self    ID
	k       int
	buckets [numBuckets]*bucket

	refreshMu       sync.Mutex
	lastRefresh     [numBuckets]clock.AbsTime
	refreshInterval time.Duration

	clock   clock.Clock
	pinger  Pinger
	log     log.Logger
	metrics *metrics.Set
	feed    events.Feed[events.PeerObserved]
}

// NewRoutingTable constructs an empty routing table for the local node.
func NewRoutingTable(self ID, k int, refreshInterval time.Duration, clk clock.Clock, pinger Pinger, m *metrics.Set) *RoutingTable {
	rt := &RoutingTable{
		self:            self,
		k:               k,
		refreshInterval: refreshInterval,
		clock:           clk,
		pinger:          pinger,
		log:             log.New("component", "routing"),
		metrics:         m,
	}
	for i := range rt.buckets {
		rt.buckets[i] = newBucket()
	}
	return rt
}

// Feed exposes PeerObserved notifications (SPEC_FULL.md §1.7).
func (rt *RoutingTable) Feed() *events.Feed[events.PeerObserved] { return &rt.feed }

// Observe is called for every peer from which a valid message (request or
// reply) is received (spec.md §4.5).
func (rt *RoutingTable) Observe(p Peer) {
	if p.ID.Equal(rt.self) {
		return
	}
	i, err := BucketIndex(rt.self, p.ID)
	if err != nil {
		return
	}
	p.LastSeen = rt.clock.Now().Time()
	b := rt.buckets[i]

	b.mu.Lock()
	if el, ok := b.byID[p.ID]; ok {
		el.Value = p
		b.ring.MoveToBack(el)
		b.mu.Unlock()
		rt.touch(p.ID.String(), i, false, false)
		return
	}
	if b.ring.Len() < rt.k {
		el := b.ring.PushBack(p)
		b.byID[p.ID] = el
		b.mu.Unlock()
		n := rt.tableSize()
		if rt.metrics != nil {
			rt.metrics.RoutingTablePeers.Set(int64(n))
		}
		rt.touch(p.ID.String(), i, false, false)
		return
	}

	// Bucket full: queue the candidate in the replacement slot, starting
	// an eviction probe of the head if one isn't already outstanding
	// (spec.md §4.5 Eviction probe concurrency).
	b.replacement = &p
	acquired := b.probeSem.TryAcquire(1)
	headEl := b.ring.Front()
	head, _ := headEl.Value.(Peer)
	b.mu.Unlock()

	if !acquired {
		rt.touch(p.ID.String(), i, true, false)
		return
	}
	if rt.metrics != nil {
		rt.metrics.ProbesOutstanding.Inc(1)
	}
	go rt.resolveProbe(b, i, head)
}

func (rt *RoutingTable) resolveProbe(b *bucket, i int, head Peer) {
	defer func() {
		b.probeSem.Release(1)
		if rt.metrics != nil {
			rt.metrics.ProbesOutstanding.Inc(-1)
		}
	}()
	ctx := context.Background()
	alive := rt.pinger != nil && rt.pinger.Ping(ctx, head)

	b.mu.Lock()
	slot := b.replacement
	b.replacement = nil
	if alive {
		// Head responded: bump it to the tail, discard whatever was queued.
		if el, ok := b.byID[head.ID]; ok {
			b.ring.MoveToBack(el)
		}
		b.mu.Unlock()
		rt.log.Debug("eviction probe succeeded, head retained", "bucket", i, "head", head.ID)
		if slot != nil {
			rt.touch(slot.ID.String(), i, true, false)
		}
		return
	}

	// Head is unreachable: evict it, insert the queued candidate (if any).
	if el, ok := b.byID[head.ID]; ok {
		b.ring.Remove(el)
		delete(b.byID, head.ID)
	}
	var inserted *Peer
	if slot != nil {
		slot.LastSeen = rt.clock.Now().Time()
		el := b.ring.PushBack(*slot)
		b.byID[slot.ID] = el
		inserted = slot
	}
	b.mu.Unlock()
	n := rt.tableSize()
	if rt.metrics != nil {
		rt.metrics.RoutingTablePeers.Set(int64(n))
	}
	rt.feed.Send(events.PeerObserved{Bucket: i, ID: head.ID.String(), Evicted: true})
	rt.log.Debug("eviction probe failed, head evicted", "bucket", i, "head", head.ID)
	if inserted != nil {
		rt.touch(inserted.ID.String(), i, false, true)
	}
}

func (rt *RoutingTable) touch(id string, bucket int, discarded, evicted bool) {
	rt.feed.Send(events.PeerObserved{Bucket: bucket, ID: id, Discarded: discarded, Evicted: evicted})
}

func (rt *RoutingTable) tableSize() int {
	n := 0
	for _, b := range rt.buckets {
		n += b.len()
	}
	return n
}

// Closest returns up to count peers with minimum XOR distance to target,
// sorted ascending by distance, drawn from the entire table (spec.md §4.5).
// Bucket-index adjacency does not track XOR-distance adjacency — a bucket
// several indices away from target's own bucket can still hold a peer
// closer than one in a neighboring bucket — so every bucket must be
// collected before sorting and truncating; an early stop the moment count
// candidates are gathered (as the original reference implementation's
// bucket-rotation walk does, SPEC_FULL.md §3) can both drop closer peers
// and keep farther ones. Each bucket holds at most k peers, so collecting
// all 160 is cheap.
func (rt *RoutingTable) Closest(target ID, count int) []Peer {
	var candidates []Peer
	for i := range rt.buckets {
		candidates = append(candidates, rt.buckets[i].peers()...)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return Less(Distance(candidates[i].ID, target), Distance(candidates[j].ID, target))
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// TouchBucket updates last_refresh[i] to now (spec.md §4.5). It is called
// after the random-id refresh lookup for bucket i that bootstrap and the
// maintenance scheduler perform; Lookup.Node and Lookup.Value do not touch
// any bucket themselves.
func (rt *RoutingTable) TouchBucket(i int) {
	rt.refreshMu.Lock()
	defer rt.refreshMu.Unlock()
	rt.lastRefresh[i] = rt.clock.Now()
}

// StaleBuckets returns the indices of non-empty buckets whose last_refresh
// predates the refresh interval (spec.md §4.5).
func (rt *RoutingTable) StaleBuckets() []int {
	now := rt.clock.Now()
	rt.refreshMu.Lock()
	defer rt.refreshMu.Unlock()
	var stale []int
	for i := 0; i < numBuckets; i++ {
		if rt.buckets[i].len() == 0 {
			continue
		}
		if now.Sub(rt.lastRefresh[i]) >= rt.refreshInterval {
			stale = append(stale, i)
		}
	}
	return stale
}

// Count returns the total number of peers held across all buckets.
func (rt *RoutingTable) Count() int { return rt.tableSize() }

// BucketPeers returns a snapshot of bucket i's peers, oldest first.
// Exposed for tests.
func (rt *RoutingTable) BucketPeers(i int) []Peer { return rt.buckets[i].peers() }

// RandomIDInBucket returns a random identifier that would fall into
// bucket i relative to self, for the stale-bucket refresh lookups
// performed by the maintenance scheduler (spec.md §4.9) and bootstrap
// (spec.md §4.8).
func (rt *RoutingTable) RandomIDInBucket(i int) (ID, error) {
	randID, err := RandomID()
	if err != nil {
		return randID, err
	}
	// bitPos is the absolute bit position (0 = MSB) that must be the
	// highest set bit of distance(self, id) for id to land in bucket i.
	// Bits above bitPos must match self (keeping distance's higher bits
	// zero); bitPos itself must differ from self (setting that bit);
	// bits below bitPos are free and are taken from a fresh random id.
	bitPos := numBuckets - 1 - i
	var id ID
	for bit := 0; bit < numBuckets; bit++ {
		byteIdx := bit / 8
		mask := byte(1) << uint(7-bit%8)
		selfBit := rt.self[byteIdx]&mask != 0
		var want bool
		switch {
		case bit < bitPos:
			want = selfBit
		case bit == bitPos:
			want = !selfBit
		default:
			want = randID[byteIdx]&mask != 0
		}
		if want {
			id[byteIdx] |= mask
		}
	}
	return id, nil
}
