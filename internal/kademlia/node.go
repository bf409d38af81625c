package kademlia

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/kadnet/kadnode/internal/config"
	"github.com/kadnet/kadnode/internal/log"
	"github.com/kadnet/kadnode/internal/metrics"
)

// defaultExpireTick is how often the maintenance scheduler reaps expired
// values (spec.md §4.9: "every short tick (e.g., 1 s)").
const defaultExpireTick = time.Second

// Node wires components C1–C9 into a running peer.
type Node struct {
	Self ID

	Transport *Transport
	Pending   *Pending
	Routing   *RoutingTable
	Store     *ValueStore
	Server    *Server
	Client    *Client
	Lookup    *Lookup
	Scheduler *Scheduler

	cfg config.Config
	log log.Logger

	cancel context.CancelFunc
}

// New constructs a Node bound to cfg.BindAddr, wiring every component per
// spec.md §2's data flow description.
func New(cfg config.Config, reg *metrics.Registry) (*Node, error) {
	self, err := ParseID(cfg.SelfID)
	if err != nil {
		return nil, fmt.Errorf("kademlia: invalid self_id: %w", err)
	}

	transport, err := Bind(cfg.BindAddr)
	if err != nil {
		return nil, err
	}

	clk := clock.System{}
	mset := metrics.NewSet(reg)
	pending := NewPending(clk, DefaultPendingCap, mset)
	client := NewClient(self, transport, pending, cfg.RequestTimeout, mset)
	routing := NewRoutingTable(self, cfg.K, cfg.BucketRefreshInterval, clk, client, mset)
	store := NewValueStore(clk, mset)
	server := NewServer(self, cfg.K, cfg.ValueTTL, transport, pending, routing, store)
	lookup := NewLookup(self, cfg.K, cfg.Alpha, client, routing, mset)
	scheduler := NewScheduler(clk, routing, store, lookup,
		cfg.BucketRefreshInterval, cfg.ValueRepublishInterval, defaultExpireTick)

	return &Node{
		Self:      self,
		Transport: transport,
		Pending:   pending,
		Routing:   routing,
		Store:     store,
		Server:    server,
		Client:    client,
		Lookup:    lookup,
		Scheduler: scheduler,
		cfg:       cfg,
		log:       log.New("component", "node", "self", self.String()),
	}, nil
}

// Run starts serving RPCs and maintenance in the background, bootstraps
// against cfg.BootstrapPeers, and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	defer cancel()

	go n.Server.Run(ctx)
	go n.Scheduler.Run(ctx)

	if len(n.cfg.BootstrapPeers) > 0 {
		addrs := make([]PeerAddr, 0, len(n.cfg.BootstrapPeers))
		for _, raw := range n.cfg.BootstrapPeers {
			addr, err := parsePeerAddr(raw)
			if err != nil {
				n.log.Warn("skipping invalid bootstrap peer", "addr", raw, "err", err)
				continue
			}
			addrs = append(addrs, addr)
		}
		n.Lookup.Bootstrap(ctx, addrs)
		n.log.Info("bootstrap complete", "routing_table_peers", n.Routing.Count())
	}

	<-ctx.Done()
	return n.Close()
}

// Close cancels background work and releases the transport.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	return n.Transport.Close()
}

func parsePeerAddr(s string) (PeerAddr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return PeerAddr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return PeerAddr{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return PeerAddr{IP: host, Port: port}, nil
}
