package kademlia

import (
	"testing"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/stretchr/testify/require"
)

func TestValueStorePutGet(t *testing.T) {
	clk := &clock.Simulated{}
	vs := NewValueStore(clk, nil)

	key := mustID(t)
	vs.Put(key, "noodles", time.Hour)

	v, ok := vs.Get(key)
	require.True(t, ok)
	require.Equal(t, "noodles", v)
}

func TestValueStoreGetMissing(t *testing.T) {
	vs := NewValueStore(&clock.Simulated{}, nil)
	_, ok := vs.Get(mustID(t))
	require.False(t, ok)
}

func TestValueStoreExpireDue(t *testing.T) {
	clk := &clock.Simulated{}
	vs := NewValueStore(clk, nil)

	key := mustID(t)
	vs.Put(key, "noodles", time.Minute)

	clk.Run(30 * time.Second)
	_, ok := vs.Get(key)
	require.True(t, ok, "value should still be live before ttl elapses")

	clk.Run(31 * time.Second)
	expired := vs.ExpireDue()
	require.Equal(t, []ID{key}, expired)

	_, ok = vs.Get(key)
	require.False(t, ok)
	require.Equal(t, 0, vs.Len())
}

func TestValueStoreRepublishDue(t *testing.T) {
	clk := &clock.Simulated{}
	vs := NewValueStore(clk, nil)

	key := mustID(t)
	vs.Put(key, "noodles", time.Hour)

	// Not due yet immediately after Put.
	require.Empty(t, vs.RepublishDue(time.Hour))

	clk.Run(2 * time.Hour)
	due := vs.RepublishDue(time.Hour)
	require.Len(t, due, 1)
	require.Equal(t, key, due[0].Key)
	require.Equal(t, "noodles", due[0].Value)

	// Having just been marked republished, it should not be due again.
	require.Empty(t, vs.RepublishDue(time.Hour))
}
