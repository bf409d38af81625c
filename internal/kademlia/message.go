package kademlia

import (
	"encoding/json"
	"fmt"

	"github.com/kadnet/kadnode/internal/kaderrs"
)

// MessageType distinguishes requests from replies (spec.md §6).
type MessageType string

const (
	TypeRequest MessageType = "REQ"
	TypeReply   MessageType = "REP"
)

// RPC names the four procedures a peer exposes (spec.md §1).
type RPC string

const (
	RPCPing      RPC = "PING"
	RPCStore     RPC = "STORE"
	RPCFindNode  RPC = "FIND_NODE"
	RPCFindValue RPC = "FIND_VALUE"
)

// NodeTriple is the [ip, port, id] triple returned in FIND_NODE/FIND_VALUE
// replies (spec.md §6).
type NodeTriple struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
	ID   string `json:"id"`
}

func (t NodeTriple) Peer() (Peer, error) {
	id, err := ParseID(t.ID)
	if err != nil {
		return Peer{}, err
	}
	return Peer{ID: id, Addr: PeerAddr{IP: t.IP, Port: t.Port}}, nil
}

func triplesFromPeers(peers []Peer) []NodeTriple {
	out := make([]NodeTriple, len(peers))
	for i, p := range peers {
		out[i] = NodeTriple{IP: p.Addr.IP, Port: p.Addr.Port, ID: p.ID.String()}
	}
	return out
}

// wireMessage is the self-describing JSON frame exchanged over UDP
// (spec.md §2, §6). Unknown fields are tolerated by json.Unmarshal by
// default, satisfying the forward-compatibility requirement in §4.2.
// Fields are pointers/omitempty so a message carries only the fields its
// RPC and type actually use.
type wireMessage struct {
	Type  MessageType  `json:"type"`
	RPC   RPC          `json:"rpc"`
	Src   string       `json:"src"`
	Echo  string       `json:"echo"`
	ID    string       `json:"id,omitempty"`
	Key   string       `json:"key,omitempty"`
	Val   string       `json:"val,omitempty"`
	Value *string      `json:"value,omitempty"`
	Nodes []NodeTriple `json:"nodes,omitempty"`
}

// Message is the decoded, validated tagged union used internally. Exactly
// one of the RPC-specific fields is meaningful, selected by (Type, RPC).
type Message struct {
	Type MessageType
	RPC  RPC
	Src  ID
	Echo ID

	// FIND_NODE request / STORE target key.
	TargetID ID
	HasTarget bool

	// STORE request.
	Val string

	// FIND_VALUE reply carrying a hit.
	Value    string
	HasValue bool

	// FIND_NODE / FIND_VALUE reply carrying a miss.
	Nodes []Peer
}

// Encode serializes a Message to its wire JSON form.
func Encode(m Message) ([]byte, error) {
	w := wireMessage{
		Type: m.Type,
		RPC:  m.RPC,
		Src:  m.Src.String(),
		Echo: m.Echo.String(),
	}
	switch {
	case m.HasValue:
		w.Value = &m.Value
	case len(m.Nodes) > 0:
		w.Nodes = triplesFromPeers(m.Nodes)
	}
	if m.HasTarget {
		w.ID = m.TargetID.String()
		if m.RPC == RPCFindValue || m.RPC == RPCStore {
			w.Key = m.TargetID.String()
		}
	}
	if m.RPC == RPCStore && m.Type == TypeRequest {
		w.Val = m.Val
	}
	return json.Marshal(w)
}

// Decode parses and validates a wire frame into a Message. Malformed or
// incomplete frames return a *kaderrs.Error of Kind DecodeError; the
// caller is expected to drop, count, and continue per spec.md §4.2/§7.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "invalid json", err)
	}
	if w.Type != TypeRequest && w.Type != TypeReply {
		return Message{}, kaderrs.New(kaderrs.DecodeError, fmt.Sprintf("unknown type %q", w.Type))
	}
	switch w.RPC {
	case RPCPing, RPCStore, RPCFindNode, RPCFindValue:
	default:
		return Message{}, kaderrs.New(kaderrs.DecodeError, fmt.Sprintf("unknown rpc %q", w.RPC))
	}
	src, err := ParseID(w.Src)
	if err != nil {
		return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "missing/invalid src", err)
	}
	echo, err := ParseID(w.Echo)
	if err != nil {
		return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "missing/invalid echo", err)
	}
	m := Message{Type: w.Type, RPC: w.RPC, Src: src, Echo: echo}

	// §9 open question: "id" on a request is the FIND_NODE target, never
	// sender identity — src is always the canonical sender field.
	switch w.RPC {
	case RPCFindNode:
		if w.Type == TypeRequest {
			target, err := ParseID(w.ID)
			if err != nil {
				return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "find_node missing id", err)
			}
			m.TargetID, m.HasTarget = target, true
		} else {
			if err := decodeNodes(w.Nodes, &m); err != nil {
				return Message{}, err
			}
		}
	case RPCFindValue:
		if w.Type == TypeRequest {
			key, err := ParseID(w.Key)
			if err != nil {
				return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "find_value missing key", err)
			}
			m.TargetID, m.HasTarget = key, true
		} else if w.Value != nil {
			m.Value, m.HasValue = *w.Value, true
		} else {
			if err := decodeNodes(w.Nodes, &m); err != nil {
				return Message{}, err
			}
		}
	case RPCStore:
		if w.Type == TypeRequest {
			key, err := ParseID(w.Key)
			if err != nil {
				return Message{}, kaderrs.Wrap(kaderrs.DecodeError, "store missing key", err)
			}
			m.TargetID, m.HasTarget = key, true
			m.Val = w.Val
		}
	case RPCPing:
		// no extra fields
	}
	return m, nil
}

func decodeNodes(triples []NodeTriple, m *Message) error {
	peers := make([]Peer, 0, len(triples))
	for _, t := range triples {
		p, err := t.Peer()
		if err != nil {
			return kaderrs.Wrap(kaderrs.DecodeError, "invalid node triple", err)
		}
		peers = append(peers, p)
	}
	m.Nodes = peers
	return nil
}
