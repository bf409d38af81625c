package kademlia

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T) ID {
	t.Helper()
	id, err := RandomID()
	require.NoError(t, err)
	return id
}

func TestEncodeDecodePingRoundTrip(t *testing.T) {
	src, echo := mustID(t), mustID(t)
	m := Message{Type: TypeRequest, RPC: RPCPing, Src: src, Echo: echo}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, m.Type, got.Type)
	require.Equal(t, m.RPC, got.RPC)
	require.Equal(t, m.Src, got.Src)
	require.Equal(t, m.Echo, got.Echo)
}

func TestEncodeDecodeFindNodeRequest(t *testing.T) {
	src, echo, target := mustID(t), mustID(t), mustID(t)
	m := Message{Type: TypeRequest, RPC: RPCFindNode, Src: src, Echo: echo, TargetID: target, HasTarget: true}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.True(t, got.HasTarget)
	require.Equal(t, target, got.TargetID)
}

func TestEncodeDecodeFindNodeReplyWithNodes(t *testing.T) {
	src, echo := mustID(t), mustID(t)
	nodes := []Peer{
		{ID: mustID(t), Addr: PeerAddr{IP: "10.0.0.1", Port: 4000}},
		{ID: mustID(t), Addr: PeerAddr{IP: "10.0.0.2", Port: 4001}},
	}
	m := Message{Type: TypeReply, RPC: RPCFindNode, Src: src, Echo: echo, Nodes: nodes}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 2)
	require.Equal(t, nodes[0].ID, got.Nodes[0].ID)
	require.Equal(t, nodes[0].Addr, got.Nodes[0].Addr)
}

func TestEncodeDecodeFindValueReplyHit(t *testing.T) {
	src, echo := mustID(t), mustID(t)
	m := Message{Type: TypeReply, RPC: RPCFindValue, Src: src, Echo: echo, Value: "noodles", HasValue: true}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.True(t, got.HasValue)
	require.Equal(t, "noodles", got.Value)
}

func TestEncodeDecodeStoreRequest(t *testing.T) {
	src, echo, key := mustID(t), mustID(t), mustID(t)
	m := Message{Type: TypeRequest, RPC: RPCStore, Src: src, Echo: echo, TargetID: key, HasTarget: true, Val: "noodles"}
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, key, got.TargetID)
	require.Equal(t, "noodles", got.Val)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte("not json"))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"BOGUS","rpc":"PING","src":"` + mustID(t).String() + `","echo":"` + mustID(t).String() + `"}`))
	require.Error(t, err)
}

func TestDecodeRejectsMissingSrc(t *testing.T) {
	_, err := Decode([]byte(`{"type":"REQ","rpc":"PING","echo":"` + mustID(t).String() + `"}`))
	require.Error(t, err)
}

func TestDecodeTolerantOfUnknownFields(t *testing.T) {
	raw := `{"type":"REQ","rpc":"PING","src":"` + mustID(t).String() + `","echo":"` + mustID(t).String() + `","future_field":"whatever"}`
	_, err := Decode([]byte(raw))
	require.NoError(t, err)
}
