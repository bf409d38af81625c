package kademlia

import (
	"context"
	"time"

	"github.com/kadnet/kadnode/internal/clock"
	"github.com/kadnet/kadnode/internal/log"
)

// Scheduler is the timer-driven client of Lookup, RoutingTable, and
// ValueStore (spec.md §4.9, component C9): periodic bucket refresh,
// value republish, and value expiry.
type Scheduler struct {
	clock              clock.Clock
	routing            *RoutingTable
	store              *ValueStore
	lookup             *Lookup
	refreshInterval    time.Duration
	republishInterval  time.Duration
	expireTick         time.Duration
	log                log.Logger
}

// NewScheduler constructs a maintenance scheduler. expireTick is the
// short interval (default 1s) at which expired values are reaped.
func NewScheduler(clk clock.Clock, routing *RoutingTable, store *ValueStore, lookup *Lookup, refreshInterval, republishInterval, expireTick time.Duration) *Scheduler {
	return &Scheduler{
		clock:             clk,
		routing:           routing,
		store:             store,
		lookup:            lookup,
		refreshInterval:   refreshInterval,
		republishInterval: republishInterval,
		expireTick:        expireTick,
		log:               log.New("component", "scheduler"),
	}
}

// Run drives the three maintenance timers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	refreshTimer := s.clock.NewTimer(s.refreshInterval)
	republishTimer := s.clock.NewTimer(s.republishInterval)
	expireTimer := s.clock.NewTimer(s.expireTick)
	defer refreshTimer.Stop()
	defer republishTimer.Stop()
	defer expireTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTimer.C():
			s.refreshStaleBuckets(ctx)
			refreshTimer.Reset(s.refreshInterval)
		case <-republishTimer.C():
			s.republishValues(ctx)
			republishTimer.Reset(s.republishInterval)
		case <-expireTimer.C():
			if expired := s.store.ExpireDue(); len(expired) > 0 {
				s.log.Debug("expired values reaped", "count", len(expired))
			}
			expireTimer.Reset(s.expireTick)
		}
	}
}

// refreshStaleBuckets performs an iterative lookup for a random id in
// every bucket whose last_refresh predates the refresh interval
// (spec.md §4.9, §8 property 8).
func (s *Scheduler) refreshStaleBuckets(ctx context.Context) {
	for _, i := range s.routing.StaleBuckets() {
		randID, err := s.routing.RandomIDInBucket(i)
		if err != nil {
			continue
		}
		s.lookup.Node(ctx, randID)
		s.routing.TouchBucket(i)
	}
}

// republishValues republishes every stored value not republished within
// the republish interval (spec.md §4.9).
func (s *Scheduler) republishValues(ctx context.Context) {
	for _, v := range s.store.RepublishDue(s.republishInterval) {
		s.lookup.Store(ctx, v.Key, v.Value)
	}
}
