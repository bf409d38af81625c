package kademlia

import (
	"context"
	"time"

	"github.com/kadnet/kadnode/internal/kaderrs"
	"github.com/kadnet/kadnode/internal/log"
)

// Server is the inbound half of the RPC layer: it dispatches decoded
// requests to PING/STORE/FIND_NODE/FIND_VALUE handlers, and routes
// decoded replies to the pending-request table (spec.md §4.7,
// component C7).
type Server struct {
	self      ID
	k         int
	valueTTL  time.Duration
	transport *Transport
	pending   *Pending
	routing   *RoutingTable
	store     *ValueStore
	log       log.Logger
}

// NewServer constructs the inbound RPC dispatcher. valueTTL is the
// configured lifetime (spec.md §6 `value_ttl`) applied to values accepted
// via STORE.
func NewServer(self ID, k int, valueTTL time.Duration, t *Transport, p *Pending, rt *RoutingTable, vs *ValueStore) *Server {
	return &Server{
		self:      self,
		k:         k,
		valueTTL:  valueTTL,
		transport: t,
		pending:   p,
		routing:   rt,
		store:     vs,
		log:       log.New("component", "rpc-server"),
	}
}

// Run drains the transport's inbound channel until ctx is cancelled,
// dispatching each datagram (spec.md §2 data flow: "C3 pushes decoded
// messages into C7 (if REQ) or C4 (if REP)").
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dg, ok := <-s.transport.Inbound():
			if !ok {
				return
			}
			s.handle(dg)
		}
	}
}

func (s *Server) handle(dg Datagram) {
	msg, err := Decode(dg.Data)
	if err != nil {
		s.log.Warn("dropping malformed datagram", "from", dg.Addr, "err", err)
		return
	}
	if msg.Type == TypeReply {
		s.pending.Deliver(msg)
		return
	}
	s.dispatch(dg.Addr, msg)
}

// dispatch composes a reply per spec.md §4.7, then observes the requester
// — the only path by which the table learns about unsolicited peers —
// before sending (the handler calls observe() "before returning", which
// this satisfies: observe happens strictly before the send that
// completes the RPC exchange from the caller's perspective).
func (s *Server) dispatch(from PeerAddr, req Message) {
	peer := Peer{ID: req.Src, Addr: from}
	var reply Message
	switch req.RPC {
	case RPCPing:
		reply = Message{Type: TypeReply, RPC: RPCPing, Src: s.self, Echo: req.Echo}

	case RPCStore:
		if !req.HasTarget {
			s.log.Warn("store request missing key", "from", from)
			return
		}
		s.store.Put(req.TargetID, req.Val, s.valueTTL)
		reply = Message{Type: TypeReply, RPC: RPCStore, Src: s.self, Echo: req.Echo}

	case RPCFindNode:
		if !req.HasTarget {
			s.log.Warn("find_node request missing id", "from", from)
			return
		}
		nodes := s.routing.Closest(req.TargetID, s.k)
		reply = Message{Type: TypeReply, RPC: RPCFindNode, Src: s.self, Echo: req.Echo, Nodes: nodes}

	case RPCFindValue:
		if !req.HasTarget {
			s.log.Warn("find_value request missing key", "from", from)
			return
		}
		if value, ok := s.store.Get(req.TargetID); ok {
			reply = Message{Type: TypeReply, RPC: RPCFindValue, Src: s.self, Echo: req.Echo, Value: value, HasValue: true}
		} else {
			nodes := s.routing.Closest(req.TargetID, s.k)
			reply = Message{Type: TypeReply, RPC: RPCFindValue, Src: s.self, Echo: req.Echo, Nodes: nodes}
		}

	default:
		s.log.Warn("unhandled rpc", "rpc", req.RPC, "from", from)
		return
	}

	data, err := Encode(reply)
	if err != nil {
		s.log.Error("failed to encode reply", "err", kaderrs.Wrap(kaderrs.DecodeError, "encode reply", err))
		return
	}
	s.routing.Observe(peer)
	s.transport.Send(from, data)
}
