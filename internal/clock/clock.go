// Package clock provides a pluggable notion of time, grounded on the
// teacher's common/mclock package: production code runs against System,
// which wraps the real time.Now/time.After, while tests run against
// Simulated, which advances virtual time on demand so deadline-driven
// logic (pending-request timeouts, bucket refresh, value expiry) can be
// exercised deterministically without sleeping in real time.
package clock

import (
	"sync"
	"time"
)

// AbsTime represents absolute monotonic time in nanoseconds.
type AbsTime int64

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns t - t2 as a duration.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// Time converts t to a time.Time, for fields (like Peer.LastSeen) that are
// recorded for display/logging rather than deadline arithmetic.
func (t AbsTime) Time() time.Time {
	return time.Unix(0, int64(t))
}

// Clock abstracts over timekeeping so deadline logic can be tested without
// real sleeps.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	After(time.Duration) <-chan AbsTime
	NewTimer(time.Duration) Timer
}

// Timer mirrors the subset of time.Timer that callers need.
type Timer interface {
	C() <-chan AbsTime
	Stop() bool
	Reset(time.Duration)
}

// System is the production Clock, backed by the OS clock.
type System struct{}

func (System) Now() AbsTime { return AbsTime(time.Now().UnixNano()) }

func (System) Sleep(d time.Duration) { time.Sleep(d) }

func (System) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	time.AfterFunc(d, func() { ch <- AbsTime(time.Now().UnixNano()) })
	return ch
}

func (System) NewTimer(d time.Duration) Timer {
	t := time.NewTimer(d)
	ch := make(chan AbsTime, 1)
	st := &systemTimer{t: t, out: ch}
	go st.relay()
	return st
}

type systemTimer struct {
	t   *time.Timer
	out chan AbsTime
}

func (s *systemTimer) relay() {
	if tm, ok := <-s.t.C; ok {
		select {
		case s.out <- AbsTime(tm.UnixNano()):
		default:
		}
	}
}

func (s *systemTimer) C() <-chan AbsTime { return s.out }
func (s *systemTimer) Stop() bool        { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) {
	s.t.Reset(d)
	go s.relay()
}

// Simulated is a virtual Clock for tests. The zero value is ready to use,
// starting at time zero; advance it with Run.
type Simulated struct {
	mu      sync.Mutex
	now     AbsTime
	waiters []*simWaiter
}

type simWaiter struct {
	deadline AbsTime
	ch       chan AbsTime
	fired    bool
}

// Now returns the current virtual time.
func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Run advances virtual time by d, firing any waiters whose deadline has
// passed.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.now += AbsTime(d)
	now := s.now
	var fired []*simWaiter
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		if !w.fired && w.deadline <= now {
			w.fired = true
			fired = append(fired, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.waiters = remaining
	s.mu.Unlock()
	for _, w := range fired {
		w.ch <- now
	}
}

// ActiveTimers reports the number of outstanding, unfired waiters.
func (s *Simulated) ActiveTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Sleep blocks the calling goroutine until Run has advanced time by at
// least d.
func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

// After returns a channel that receives once virtual time has advanced by
// at least d.
func (s *Simulated) After(d time.Duration) <-chan AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &simWaiter{deadline: s.now + AbsTime(d), ch: make(chan AbsTime, 1)}
	s.waiters = append(s.waiters, w)
	return w.ch
}

// NewTimer returns a resettable Timer driven by this Simulated clock.
func (s *Simulated) NewTimer(d time.Duration) Timer {
	return &simTimer{clk: s, ch: s.After(d).(chan AbsTime), dur: d}
}

type simTimer struct {
	clk *Simulated
	ch  chan AbsTime
	dur time.Duration
}

func (t *simTimer) C() <-chan AbsTime { return t.ch }

func (t *simTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	for i, w := range t.clk.waiters {
		if w.ch == t.ch {
			t.clk.waiters = append(t.clk.waiters[:i], t.clk.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (t *simTimer) Reset(d time.Duration) {
	t.Stop()
	t.ch = t.clk.After(d).(chan AbsTime)
	t.dur = d
}
