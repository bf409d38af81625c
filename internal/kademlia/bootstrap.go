package kademlia

import "context"

// Bootstrap joins the network (spec.md §4.8 Bootstrap): PING each
// well-known bootstrap address, observe whichever respond, perform an
// iterative node lookup for the local node's own id, then refresh every
// bucket farther than the closest known neighbor to populate the table.
func (l *Lookup) Bootstrap(ctx context.Context, addrs []PeerAddr) {
	for _, addr := range addrs {
		peer, ok := l.client.PingAddr(ctx, addr)
		if !ok {
			l.log.Warn("bootstrap peer unreachable", "addr", addr)
			continue
		}
		l.routing.Observe(peer)
	}

	l.Node(ctx, l.self)

	startBucket := 0
	if closest := l.routing.Closest(l.self, 1); len(closest) > 0 {
		if idx, err := BucketIndex(l.self, closest[0].ID); err == nil {
			startBucket = idx
		}
	}
	for i := startBucket; i < numBuckets; i++ {
		randID, err := l.routing.RandomIDInBucket(i)
		if err != nil {
			continue
		}
		l.Node(ctx, randID)
		l.routing.TouchBucket(i)
	}
}
