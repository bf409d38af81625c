package kademlia

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kadnet/kadnode/internal/clock"
	"github.com/kadnet/kadnode/internal/kaderrs"
	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
)

// DefaultPendingCap is the soft cap on outstanding requests before new
// registrations are refused with Backpressure (spec.md §5).
const DefaultPendingCap = 10000

// PendingResult is delivered to a waiter exactly once: either a matching
// reply, or a timeout/cancellation signal.
type PendingResult struct {
	Reply     Message
	TimedOut  bool
	Cancelled bool
}

type pendingEntry struct {
	corrID       string // request-scoped log correlation id, distinct from the echo token
	expectedPeer ID
	anySrc       bool // bootstrap pings to an address of unknown id: accept any replier
	ch           chan PendingResult
	timer        clock.Timer
	done         bool // guarded by Pending.mu
}

// Pending correlates outbound requests with inbound replies by echo
// token (spec.md §4.4, component C4). The table is shared across the
// node; inserts, deletes, and dispatch reads are mutually exclusive
// (spec.md §4.4 Concurrency).
type Pending struct {
	mu      sync.Mutex
	clock   clock.Clock
	cap     int
	entries map[ID]*pendingEntry
	log     log.Logger
	metrics *metrics.Set
}

// NewPending constructs a pending-request table with the given soft cap.
func NewPending(clk clock.Clock, cap int, m *metrics.Set) *Pending {
	if cap <= 0 {
		cap = DefaultPendingCap
	}
	return &Pending{
		clock:   clk,
		cap:     cap,
		entries: make(map[ID]*pendingEntry),
		log:     log.New("component", "pending"),
		metrics: m,
	}
}

// Register records echo as awaiting a reply from expectedPeer within
// timeout, returning a channel that receives exactly one PendingResult.
// Returns a *kaderrs.Error of Kind Backpressure if the table is saturated
// (spec.md §5, §7).
func (p *Pending) Register(echo, expectedPeer ID, timeout time.Duration) (<-chan PendingResult, error) {
	return p.register(echo, expectedPeer, false, timeout)
}

// RegisterAny registers echo without a known expected peer identity, for
// bootstrap pings sent to a statically configured address whose node id
// isn't known yet; any replier's src is accepted as a match. This is the
// one place the matching rule in spec.md §4.4 is deliberately relaxed —
// everywhere else the peer id is already known from the routing table.
func (p *Pending) RegisterAny(echo ID, timeout time.Duration) (<-chan PendingResult, error) {
	return p.register(echo, ID{}, true, timeout)
}

func (p *Pending) register(echo, expectedPeer ID, anySrc bool, timeout time.Duration) (<-chan PendingResult, error) {
	p.mu.Lock()
	if len(p.entries) >= p.cap {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PendingBackpressure.Inc(1)
		}
		return nil, kaderrs.New(kaderrs.Backpressure, "pending request table saturated")
	}
	entry := &pendingEntry{
		corrID:       uuid.NewString(),
		expectedPeer: expectedPeer,
		anySrc:       anySrc,
		ch:           make(chan PendingResult, 1),
		timer:        p.clock.NewTimer(timeout),
	}
	p.entries[echo] = entry
	if p.metrics != nil {
		p.metrics.PendingInFlight.Set(int64(len(p.entries)))
	}
	p.mu.Unlock()
	p.log.Debug("request registered", "corr_id", entry.corrID, "echo", echo, "peer", expectedPeer, "any_src", anySrc)

	go p.awaitTimeout(echo, entry)
	return entry.ch, nil
}

func (p *Pending) awaitTimeout(echo ID, entry *pendingEntry) {
	<-entry.timer.C()
	p.mu.Lock()
	cur, ok := p.entries[echo]
	if !ok || cur != entry || entry.done {
		p.mu.Unlock()
		return
	}
	entry.done = true
	delete(p.entries, echo)
	if p.metrics != nil {
		p.metrics.PendingInFlight.Set(int64(len(p.entries)))
	}
	p.mu.Unlock()
	p.log.Debug("request timed out", "corr_id", entry.corrID, "echo", echo)
	entry.ch <- PendingResult{TimedOut: true}
}

// Deliver matches an inbound reply against the table by echo token and
// wakes the waiter. A reply matches iff its echo token is registered AND
// its src equals the peer the request was sent to; on a src mismatch the
// reply is dropped but the waiter is left pending until its own deadline
// (spec.md §4.4 Matching rule — defends against token injection from
// another peer).
func (p *Pending) Deliver(reply Message) {
	p.mu.Lock()
	entry, ok := p.entries[reply.Echo]
	if !ok {
		p.mu.Unlock()
		p.log.Debug("reply for unknown/expired echo token dropped", "echo", reply.Echo)
		return
	}
	if !entry.anySrc && !entry.expectedPeer.Equal(reply.Src) {
		p.mu.Unlock()
		p.log.Warn("reply src mismatch, dropped", "echo", reply.Echo, "want", entry.expectedPeer, "got", reply.Src)
		return
	}
	if entry.done {
		p.mu.Unlock()
		return
	}
	entry.done = true
	delete(p.entries, reply.Echo)
	if p.metrics != nil {
		p.metrics.PendingInFlight.Set(int64(len(p.entries)))
	}
	entry.timer.Stop()
	p.mu.Unlock()
	p.log.Debug("reply delivered", "corr_id", entry.corrID, "echo", reply.Echo, "from", reply.Src)
	entry.ch <- PendingResult{Reply: reply}
}

// Cancel resolves echo's waiter as Cancelled if it is still pending,
// without leaking the table entry (spec.md §5 Cancellation).
func (p *Pending) Cancel(echo ID) {
	p.mu.Lock()
	entry, ok := p.entries[echo]
	if !ok || entry.done {
		p.mu.Unlock()
		return
	}
	entry.done = true
	delete(p.entries, echo)
	if p.metrics != nil {
		p.metrics.PendingInFlight.Set(int64(len(p.entries)))
	}
	entry.timer.Stop()
	p.mu.Unlock()
	entry.ch <- PendingResult{Cancelled: true}
}

// Len reports the number of currently outstanding requests.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
