package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFeedDeliversToSubscriber(t *testing.T) {
	var feed Feed[PeerObserved]
	sub := feed.Subscribe()
	defer sub.Unsubscribe()

	feed.Send(PeerObserved{Bucket: 5, ID: "abc"})

	select {
	case ev := <-sub.C():
		require.Equal(t, 5, ev.Bucket)
		require.Equal(t, "abc", ev.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestFeedSendWithNoSubscribersDoesNotBlock(t *testing.T) {
	var feed Feed[ValueExpired]
	feed.Send(ValueExpired{Key: "x"}) // must not block or panic
}

func TestFeedDropsWhenSubscriberBufferFull(t *testing.T) {
	var feed Feed[PeerObserved]
	sub := feed.Subscribe()
	defer sub.Unsubscribe()

	for i := 0; i < 100; i++ {
		feed.Send(PeerObserved{Bucket: i})
	}
	// Non-blocking send drops once the subscriber's buffer is full; this
	// must complete without deadlocking regardless of how many were kept.
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("expected at least one buffered event")
	}
}

func TestFeedUnsubscribeStopsDelivery(t *testing.T) {
	var feed Feed[PeerObserved]
	sub := feed.Subscribe()
	sub.Unsubscribe()

	feed.Send(PeerObserved{Bucket: 1})
	select {
	case _, ok := <-sub.C():
		require.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected channel to be closed promptly after unsubscribe")
	}
}
