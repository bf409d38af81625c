package kademlia

import (
	"context"
	"time"

	"github.com/kadnet/kadnode/internal/kaderrs"
	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
)

// Client is the outbound half of the RPC layer: it sends PING/STORE/
// FIND_NODE/FIND_VALUE requests and correlates replies through the
// pending-request table (spec.md §4.4, §4.7 "built via C4+C3").
type Client struct {
	self      ID
	transport *Transport
	pending   *Pending
	timeout   time.Duration
	log       log.Logger
	metrics   *metrics.Set
}

func NewClient(self ID, t *Transport, p *Pending, timeout time.Duration, m *metrics.Set) *Client {
	return &Client{self: self, transport: t, pending: p, timeout: timeout, log: log.New("component", "rpc-client"), metrics: m}
}

func (c *Client) send(peer Peer, msg Message) (<-chan PendingResult, error) {
	data, err := Encode(msg)
	if err != nil {
		return nil, kaderrs.Wrap(kaderrs.DecodeError, "encode outbound message", err)
	}
	ch, err := c.pending.Register(msg.Echo, peer.ID, c.timeout)
	if err != nil {
		return nil, err
	}
	c.transport.Send(peer.Addr, data)
	return ch, nil
}

func (c *Client) await(ctx context.Context, echo ID, ch <-chan PendingResult) (Message, error) {
	select {
	case res := <-ch:
		if res.TimedOut {
			return Message{}, kaderrs.New(kaderrs.Timeout, "request timed out")
		}
		if res.Cancelled {
			return Message{}, context.Canceled
		}
		return res.Reply, nil
	case <-ctx.Done():
		c.pending.Cancel(echo)
		return Message{}, ctx.Err()
	}
}

// Ping satisfies the Pinger interface the routing table uses for
// eviction probes (spec.md §4.5).
func (c *Client) Ping(ctx context.Context, peer Peer) bool {
	echo, err := RandomID()
	if err != nil {
		return false
	}
	req := Message{Type: TypeRequest, RPC: RPCPing, Src: c.self, Echo: echo}
	ch, err := c.send(peer, req)
	if err != nil {
		return false
	}
	_, err = c.await(ctx, echo, ch)
	return err == nil
}

// PingAddr pings a bootstrap address of unknown node id (spec.md §4.8
// Bootstrap). It returns the discovered Peer on success.
func (c *Client) PingAddr(ctx context.Context, addr PeerAddr) (Peer, bool) {
	echo, err := RandomID()
	if err != nil {
		return Peer{}, false
	}
	req := Message{Type: TypeRequest, RPC: RPCPing, Src: c.self, Echo: echo}
	data, err := Encode(req)
	if err != nil {
		return Peer{}, false
	}
	ch, err := c.pending.RegisterAny(echo, c.timeout)
	if err != nil {
		return Peer{}, false
	}
	c.transport.Send(addr, data)
	rep, err := c.await(ctx, echo, ch)
	if err != nil {
		return Peer{}, false
	}
	return Peer{ID: rep.Src, Addr: addr}, true
}

// FindNode sends FIND_NODE(target) to peer and returns the nodes it
// reports knowing about (spec.md §4.7, §4.8).
func (c *Client) FindNode(ctx context.Context, peer Peer, target ID) ([]Peer, error) {
	echo, err := RandomID()
	if err != nil {
		return nil, err
	}
	req := Message{Type: TypeRequest, RPC: RPCFindNode, Src: c.self, Echo: echo, TargetID: target, HasTarget: true}
	ch, err := c.send(peer, req)
	if err != nil {
		return nil, err
	}
	rep, err := c.await(ctx, echo, ch)
	if err != nil {
		return nil, err
	}
	return rep.Nodes, nil
}

// FindValueResult carries either a hit (Found) or a list of closer nodes.
type FindValueResult struct {
	Found bool
	Value string
	Nodes []Peer
}

// FindValue sends FIND_VALUE(key) to peer (spec.md §4.7, §4.8).
func (c *Client) FindValue(ctx context.Context, peer Peer, key ID) (FindValueResult, error) {
	echo, err := RandomID()
	if err != nil {
		return FindValueResult{}, err
	}
	req := Message{Type: TypeRequest, RPC: RPCFindValue, Src: c.self, Echo: echo, TargetID: key, HasTarget: true}
	ch, err := c.send(peer, req)
	if err != nil {
		return FindValueResult{}, err
	}
	rep, err := c.await(ctx, echo, ch)
	if err != nil {
		return FindValueResult{}, err
	}
	if rep.HasValue {
		return FindValueResult{Found: true, Value: rep.Value}, nil
	}
	return FindValueResult{Nodes: rep.Nodes}, nil
}

// Store sends STORE(key, val) to peer. STORE replies are acknowledgements
// only: the returned bool is true iff a reply (of any content) arrived
// before timeout (spec.md §4.8 STORE fan-out).
func (c *Client) Store(ctx context.Context, peer Peer, key ID, val string) bool {
	echo, err := RandomID()
	if err != nil {
		return false
	}
	req := Message{Type: TypeRequest, RPC: RPCStore, Src: c.self, Echo: echo, TargetID: key, HasTarget: true, Val: val}
	ch, err := c.send(peer, req)
	if err != nil {
		return false
	}
	_, err = c.await(ctx, echo, ch)
	return err == nil
}
