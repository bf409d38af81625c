package kademlia

import (
	"fmt"
	"net"
	"time"
)

// PeerAddr is an immutable transport address (spec.md §3).
type PeerAddr struct {
	IP   string
	Port int
}

func (a PeerAddr) String() string { return net.JoinHostPort(a.IP, fmt.Sprint(a.Port)) }

// UDPAddr resolves a PeerAddr to a *net.UDPAddr.
func (a PeerAddr) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// Peer is the triple (id, addr, last_seen) (spec.md §3). It carries no
// liveness flag: the outcome of an eviction probe is held by the routing
// table while it resolves the probe. Two peers are equal iff their ids
// are equal.
type Peer struct {
	ID       ID
	Addr     PeerAddr
	LastSeen time.Time
}

// Equal reports id equality, per spec.md §3.
func (p Peer) Equal(other Peer) bool { return p.ID.Equal(other.ID) }
