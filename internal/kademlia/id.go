// Package kademlia implements the routing table, RPC server, and
// iterative lookup engine of a Kademlia DHT peer (spec.md components
// C1, C5, C7, C8, C9). It is grounded on the teacher's swarm overlay
// (bzz/network, common/kademlia) and on the original Python reference
// implementation under _examples/original_source/kademlia/kademlia.py.
package kademlia

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

// IDLen is the width of the identifier space in bytes (160 bits).
const IDLen = 20

// ID is an opaque 160-bit identifier: a NodeId or a storage key.
// Encoded on the wire as 40 lowercase hex characters (spec.md §6).
type ID [IDLen]byte

// ParseID decodes a 40-char lowercase hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != IDLen*2 {
		return id, fmt.Errorf("kademlia: id must be %d hex chars, got %d", IDLen*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("kademlia: invalid hex id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// RandomID returns a cryptographically random identifier, used for echo
// tokens and to pick lookup targets inside a bucket's range during
// maintenance (C9).
func RandomID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// String renders the ID as lowercase hex.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Equal reports whether two IDs are identical.
func (id ID) Equal(other ID) bool { return id == other }

// Distance returns the XOR distance between two identifiers, per
// spec.md §4.1: distance(a, b) := a XOR b.
func Distance(a, b ID) ID {
	var d ID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a is numerically smaller than b, treating both as
// big-endian unsigned 160-bit integers. Used to order peers by distance.
func Less(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ErrSameID is returned by BucketIndex when the two ids are equal; a peer
// with the same id as the local node is never inserted into the routing
// table (spec.md §4.1, §8 property 3).
var ErrSameID = errors.New("kademlia: ids are equal, bucket index undefined")

// BucketIndex returns 159 − leading_zero_bits(distance(self, other)), the
// index of the k-bucket that other belongs to relative to self.
func BucketIndex(self, other ID) (int, error) {
	d := Distance(self, other)
	if d == (ID{}) {
		return 0, ErrSameID
	}
	lz := leadingZeroBits(d)
	return (IDLen*8 - 1) - lz, nil
}

func leadingZeroBits(d ID) int {
	for i, b := range d {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return IDLen * 8
}
