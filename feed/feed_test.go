package feed

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lumen-dex/clpool"
)

func TestBroadcasterPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(100, 10, nil)
	subA := &subscriber{id: uuid.New(), send: make(chan clpool.Event, subscriberSend), limiter: rate.NewLimiter(100, 10)}
	subB := &subscriber{id: uuid.New(), send: make(chan clpool.Event, subscriberSend), limiter: rate.NewLimiter(100, 10)}
	b.subscribers[subA.id] = subA
	b.subscribers[subB.id] = subB

	ev := clpool.Event{Kind: clpool.EventSwap, Tick: 5}
	b.Publish(ev)

	require.Equal(t, ev, <-subA.send)
	require.Equal(t, ev, <-subB.send)
}

func TestBroadcasterPublishDropsWhenSendBufferFull(t *testing.T) {
	b := NewBroadcaster(100, 10, nil)
	sub := &subscriber{id: uuid.New(), send: make(chan clpool.Event, 1), limiter: rate.NewLimiter(100, 10)}
	b.subscribers[sub.id] = sub

	b.Publish(clpool.Event{Kind: clpool.EventMint})
	b.Publish(clpool.Event{Kind: clpool.EventBurn})

	require.Len(t, sub.send, 1)
	require.Equal(t, clpool.EventMint, (<-sub.send).Kind)
}

func TestBroadcasterSubscriberCountReflectsRegistrations(t *testing.T) {
	b := NewBroadcaster(100, 10, nil)
	require.Equal(t, 0, b.SubscriberCount())
	sub := &subscriber{id: uuid.New(), send: make(chan clpool.Event, subscriberSend), limiter: rate.NewLimiter(100, 10)}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	require.Equal(t, 1, b.SubscriberCount())
}
