// Package metrics provides a small process-wide registry of counters and
// gauges, modeled on the teacher's metrics package (Counter, Gauge,
// Registry, GetOrRegisterX), exported over HTTP via
// github.com/prometheus/client_golang the way metrics/prometheus adapts
// the teacher's registry for scraping.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter is a monotonically increasing value.
type Counter struct {
	v  int64
	pc prometheus.Counter
}

func (c *Counter) Inc(delta int64) {
	atomic.AddInt64(&c.v, delta)
	if c.pc != nil {
		c.pc.Add(float64(delta))
	}
}

func (c *Counter) Count() int64 { return atomic.LoadInt64(&c.v) }

// Gauge is an instantaneous value that can move up or down.
type Gauge struct {
	v  int64
	pg prometheus.Gauge
}

func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.v, v)
	if g.pg != nil {
		g.pg.Set(float64(v))
	}
}

func (g *Gauge) Inc(delta int64) {
	atomic.AddInt64(&g.v, delta)
	if g.pg != nil {
		g.pg.Add(float64(delta))
	}
}

func (g *Gauge) Value() int64 { return atomic.LoadInt64(&g.v) }

// Registry is a named collection of counters and gauges, registered with
// a prometheus.Registerer so they can be scraped.
type Registry struct {
	reg      *prometheus.Registry
	counters map[string]*Counter
	gauges   map[string]*Gauge
}

func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
	}
}

func (r *Registry) NewCounter(name, help string) *Counter {
	pc := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	r.reg.MustRegister(pc)
	c := &Counter{pc: pc}
	r.counters[name] = c
	return c
}

func (r *Registry) NewGauge(name, help string) *Gauge {
	pg := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	r.reg.MustRegister(pg)
	g := &Gauge{pg: pg}
	r.gauges[name] = g
	return g
}

// Handler returns the http.Handler serving this registry's /metrics page.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Set, exercised by the node's standard metric set.
type Set struct {
	PendingInFlight     *Gauge
	PendingBackpressure *Counter
	ProbesOutstanding   *Gauge
	RoutingTablePeers   *Gauge
	StoredValues        *Gauge
	LookupRounds        *Counter
	LookupRPCsSent      *Counter
	LookupRPCsOK        *Counter
	LookupRPCsTimedOut  *Counter
}

func NewSet(r *Registry) *Set {
	return &Set{
		PendingInFlight:     r.NewGauge("kadnode_pending_inflight", "pending RPC requests awaiting a reply"),
		PendingBackpressure: r.NewCounter("kadnode_pending_backpressure_total", "requests refused due to pending table saturation"),
		ProbesOutstanding:   r.NewGauge("kadnode_eviction_probes_outstanding", "k-bucket eviction probes currently in flight"),
		RoutingTablePeers:   r.NewGauge("kadnode_routing_table_peers", "peers currently held across all k-buckets"),
		StoredValues:        r.NewGauge("kadnode_stored_values", "key/value pairs currently held in the local store"),
		LookupRounds:        r.NewCounter("kadnode_lookup_rounds_total", "iterative lookup rounds performed"),
		LookupRPCsSent:      r.NewCounter("kadnode_lookup_rpcs_sent_total", "FIND_* RPCs sent by lookups"),
		LookupRPCsOK:        r.NewCounter("kadnode_lookup_rpcs_ok_total", "FIND_* RPCs that received a reply"),
		LookupRPCsTimedOut:  r.NewCounter("kadnode_lookup_rpcs_timeout_total", "FIND_* RPCs that timed out"),
	}
}
