package kademlia

import (
	"context"
	"sort"

	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Lookup drives bounded-concurrency traversal of the XOR metric space
// toward a target identifier (spec.md §4.8, component C8): the central
// algorithm feeding results back into the routing table and driving
// bootstrap, STORE fan-out, and periodic bucket refresh.
type Lookup struct {
	self    ID
	k       int
	alpha   int
	client  *Client
	routing *RoutingTable
	log     log.Logger
	metrics *metrics.Set
}

func NewLookup(self ID, k, alpha int, client *Client, routing *RoutingTable, m *metrics.Set) *Lookup {
	return &Lookup{
		self:    self,
		k:       k,
		alpha:   alpha,
		client:  client,
		routing: routing,
		log:     log.New("component", "lookup"),
		metrics: m,
	}
}

// shortlist is the per-lookup working set of the k closest known
// candidates (spec.md GLOSSARY), owned by a single goroutine (the
// lookup's main loop) so it needs no internal locking.
type shortlist struct {
	target ID
	k      int
	peers  []Peer // sorted ascending by distance to target
}

func newShortlist(target ID, k int) *shortlist {
	return &shortlist{target: target, k: k}
}

// merge adds peers not already present, re-sorts, and truncates to k.
// Reports whether the closest entry strictly improved.
func (s *shortlist) merge(peers []Peer) bool {
	before := s.headDistance()
	seen := make(map[ID]bool, len(s.peers))
	for _, p := range s.peers {
		seen[p.ID] = true
	}
	for _, p := range peers {
		if !seen[p.ID] {
			seen[p.ID] = true
			s.peers = append(s.peers, p)
		}
	}
	sort.Slice(s.peers, func(i, j int) bool {
		return Less(Distance(s.peers[i].ID, s.target), Distance(s.peers[j].ID, s.target))
	})
	if len(s.peers) > s.k {
		s.peers = s.peers[:s.k]
	}
	after := s.headDistance()
	if before == nil {
		return after != nil
	}
	if after == nil {
		return false
	}
	return Less(*after, *before)
}

func (s *shortlist) headDistance() *ID {
	if len(s.peers) == 0 {
		return nil
	}
	d := Distance(s.peers[0].ID, s.target)
	return &d
}

// nextUnqueried returns the closest candidate not yet queried or pending.
func (s *shortlist) nextUnqueried(queried, pending map[ID]bool) (Peer, bool) {
	for _, p := range s.peers {
		if !queried[p.ID] && !pending[p.ID] {
			return p, true
		}
	}
	return Peer{}, false
}

// topKResolved reports whether every one of the closest min(k, len)
// entries has been queried (spec.md §4.8 step 2f).
func (s *shortlist) topKResolved(queried map[ID]bool) bool {
	for _, p := range s.peers {
		if !queried[p.ID] {
			return false
		}
	}
	return true
}

// Result is what an iterative lookup converges on: either a value (for
// FIND_VALUE) or the k closest live peers (spec.md §4.8 steps 3-4).
type Result struct {
	Value      string
	ValueFound bool
	Closest    []Peer
}

// Node performs an iterative FIND_NODE lookup for target (spec.md §4.8).
func (l *Lookup) Node(ctx context.Context, target ID) Result {
	return l.run(ctx, target, false)
}

// Value performs an iterative FIND_VALUE lookup for key, terminating
// immediately on the first value reply (spec.md §4.8 step 3).
func (l *Lookup) Value(ctx context.Context, key ID) Result {
	return l.run(ctx, key, true)
}

type probeOutcome struct {
	peer     Peer
	ok       bool
	nodes    []Peer
	value    string
	hasValue bool
}

func (l *Lookup) run(ctx context.Context, target ID, findValue bool) Result {
	list := newShortlist(target, l.k)
	list.merge(l.routing.Closest(target, l.alpha))

	queried := make(map[ID]bool)
	pending := make(map[ID]bool)
	live := make(map[ID]bool)
	results := make(chan probeOutcome, l.alpha)

	inFlight := 0
	noProgress := 0

	for {
		for inFlight < l.alpha {
			cand, ok := list.nextUnqueried(queried, pending)
			if !ok {
				break
			}
			pending[cand.ID] = true
			inFlight++
			if l.metrics != nil {
				l.metrics.LookupRPCsSent.Inc(1)
			}
			go l.probe(ctx, cand, target, findValue, results)
		}
		if inFlight == 0 {
			break
		}
		outcome := <-results
		inFlight--
		delete(pending, outcome.peer.ID)
		queried[outcome.peer.ID] = true

		if !outcome.ok {
			if l.metrics != nil {
				l.metrics.LookupRPCsTimedOut.Inc(1)
			}
			noProgress++
			continue
		}
		if l.metrics != nil {
			l.metrics.LookupRPCsOK.Inc(1)
		}
		live[outcome.peer.ID] = true
		// Invariant (spec.md §4.8): every responding peer is observed
		// before its result is merged into the shortlist.
		l.routing.Observe(outcome.peer)

		if findValue && outcome.hasValue {
			return Result{Value: outcome.value, ValueFound: true}
		}
		if list.merge(outcome.nodes) {
			noProgress = 0
		} else {
			noProgress++
		}
		if l.metrics != nil {
			l.metrics.LookupRounds.Inc(1)
		}
		if list.topKResolved(queried) && noProgress > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return l.finalResult(list, live)
		default:
		}
	}
	return l.finalResult(list, live)
}

func (l *Lookup) finalResult(list *shortlist, live map[ID]bool) Result {
	out := make([]Peer, 0, len(list.peers))
	for _, p := range list.peers {
		if live[p.ID] {
			out = append(out, p)
		}
	}
	return Result{Closest: out}
}

func (l *Lookup) probe(ctx context.Context, peer Peer, target ID, findValue bool, results chan<- probeOutcome) {
	if findValue {
		res, err := l.client.FindValue(ctx, peer, target)
		if err != nil {
			results <- probeOutcome{peer: peer, ok: false}
			return
		}
		if res.Found {
			results <- probeOutcome{peer: peer, ok: true, value: res.Value, hasValue: true}
			return
		}
		results <- probeOutcome{peer: peer, ok: true, nodes: res.Nodes}
		return
	}
	nodes, err := l.client.FindNode(ctx, peer, target)
	if err != nil {
		results <- probeOutcome{peer: peer, ok: false}
		return
	}
	results <- probeOutcome{peer: peer, ok: true, nodes: nodes}
}

// StoreFanout sends STORE(key, val) to every peer in peers, bounding
// concurrency to alpha outstanding RPCs and ignoring individual failures —
// STORE replies are acknowledgements only (spec.md §4.8 STORE fan-out).
func (l *Lookup) StoreFanout(ctx context.Context, peers []Peer, key ID, val string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.alpha)
	for _, p := range peers {
		peer := p
		g.Go(func() error {
			l.client.Store(gctx, peer, key, val)
			return nil
		})
	}
	g.Wait() // errors are impossible: Store reports failure via its bool return, not an error
}

// Store performs a node lookup for key and then fans STORE out to the k
// closest live peers found (spec.md §4.8 STORE fan-out).
func (l *Lookup) Store(ctx context.Context, key ID, val string) []Peer {
	res := l.Node(ctx, key)
	l.StoreFanout(ctx, res.Closest, key, val)
	return res.Closest
}
