package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sb-quiz-service/internal/domain"
)

func TestHubRoutesByUser(t *testing.T) {
	hub := NewHub()
	mine, cancelMine := hub.Subscribe("tg:1")
	defer cancelMine()
	all, cancelAll := hub.SubscribeAll()
	defer cancelAll()

	hub.Publish(Event{Kind: EventAnswered, UserID: "tg:2"})
	hub.Publish(Event{Kind: EventReset, UserID: "tg:1"})

	ev := <-mine
	assert.Equal(t, EventReset, ev.Kind)
	assert.Len(t, mine, 0)
	assert.Len(t, all, 2)
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("tg:1")
	defer cancel()

	for i := 0; i < subscriberBuffer+2; i++ {
		hub.Publish(Event{Kind: EventAnswered, UserID: "tg:1", Result: domain.AdvanceResult{QuestionIndex: i}})
	}
	require.Len(t, ch, subscriberBuffer)
	first := <-ch
	assert.Equal(t, 2, first.Result.QuestionIndex)
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("tg:1")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	hub.Publish(Event{Kind: EventAnswered, UserID: "tg:1"})
}

func TestHubQueueKeepsBurstsBeyondChannelBuffers(t *testing.T) {
	hub := NewHub()
	q, cancel := hub.SubscribeQueue(0)
	defer cancel()

	const burst = 500
	for i := 0; i < burst; i++ {
		hub.Publish(Event{Kind: EventAnswered, UserID: fmt.Sprintf("tg:%d", i)})
	}
	require.Equal(t, burst, q.Len())
	assert.Zero(t, q.Dropped())

	ctx := context.Background()
	for i := 0; i < burst; i++ {
		ev, ok := q.Next(ctx)
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("tg:%d", i), ev.UserID)
	}
}

func TestHubQueueDropsOnlyPastBacklog(t *testing.T) {
	hub := NewHub()
	q, cancel := hub.SubscribeQueue(3)
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Kind: EventAnswered, UserID: "tg:1", Result: domain.AdvanceResult{QuestionIndex: i}})
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.Dropped())

	ev, ok := q.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, ev.Result.QuestionIndex)
}

func TestHubQueueNextWakesAndStops(t *testing.T) {
	hub := NewHub()
	q, cancel := hub.SubscribeQueue(0)

	got := make(chan Event, 1)
	go func() {
		ev, _ := q.Next(context.Background())
		got <- ev
	}()
	hub.Publish(Event{Kind: EventReset, UserID: "tg:9"})

	select {
	case ev := <-got:
		assert.Equal(t, "tg:9", ev.UserID)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up on publish")
	}

	cancel()
	_, ok := q.Next(context.Background())
	assert.False(t, ok)

	ctx, stop := context.WithCancel(context.Background())
	stop()
	other, cancelOther := hub.SubscribeQueue(0)
	defer cancelOther()
	_, ok = other.Next(ctx)
	assert.False(t, ok)
}
