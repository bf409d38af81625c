package kademlia

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBucketIndexScenarioS1 exercises spec.md §8 scenario S1.
func TestBucketIndexScenarioS1(t *testing.T) {
	var self ID // all zero
	other := self
	other[IDLen-1] = 0x01
	idx, err := BucketIndex(self, other)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	other2 := self
	other2[0] = 0x80
	idx2, err := BucketIndex(self, other2)
	require.NoError(t, err)
	require.Equal(t, 159, idx2)
}

func TestBucketIndexSameIDUndefined(t *testing.T) {
	id, err := RandomID()
	require.NoError(t, err)
	_, err = BucketIndex(id, id)
	require.ErrorIs(t, err, ErrSameID)
}

func TestParseIDRoundTrip(t *testing.T) {
	id, err := RandomID()
	require.NoError(t, err)
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseIDRejectsWrongLength(t *testing.T) {
	_, err := ParseID("abcd")
	require.Error(t, err)
}

func TestDistanceXOR(t *testing.T) {
	var a, b ID
	a[0] = 0xff
	b[0] = 0x0f
	d := Distance(a, b)
	require.Equal(t, byte(0xf0), d[0])
}

func TestLessOrdering(t *testing.T) {
	var a, b ID
	a[0] = 0x01
	b[0] = 0x02
	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
	require.False(t, Less(a, a))
}
