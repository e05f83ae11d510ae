package app

import (
	"context"
	"sync"

	"sb-quiz-service/internal/domain"
)

// EventKind names what happened to a session.
type EventKind string

const (
	EventAnswered         EventKind = "answered"
	EventTimedOut         EventKind = "timedOut"
	EventCompleted        EventKind = "completed"
	EventCompletionFailed EventKind = "completionFailed"
	EventReset            EventKind = "reset"
)

// Event is published by the session engine after every state change.
type Event struct {
	Kind   EventKind            `json:"kind"`
	UserID string               `json:"userId"`
	Result domain.AdvanceResult `json:"result"`
	Err    string               `json:"error,omitempty"`
}

const subscriberBuffer = 8

// Hub fans engine events out to adapters. Publishing never blocks: a channel
// subscriber that falls behind loses its oldest pending event. Adapters that render
// the next step only from events subscribe with a Queue instead.
type Hub struct {
	mu     sync.Mutex
	byUser map[string]map[chan Event]struct{}
	all    map[chan Event]struct{}
	queues map[*Queue]struct{}
}

func NewHub() *Hub {
	return &Hub{
		byUser: make(map[string]map[chan Event]struct{}),
		all:    make(map[chan Event]struct{}),
		queues: make(map[*Queue]struct{}),
	}
}

// Subscribe returns a channel with the events of one user.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	subs, ok := h.byUser[userID]
	if !ok {
		subs = make(map[chan Event]struct{})
		h.byUser[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.byUser[userID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.byUser, userID)
		}
	}
	return ch, cancel
}

// SubscribeAll returns a channel with the events of every user.
func (h *Hub) SubscribeAll() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer*8)

	h.mu.Lock()
	h.all[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.all[ch]; ok {
			delete(h.all, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscribeQueue returns a catch-all subscription that holds up to backlog pending
// events before it starts dropping the oldest.
func (h *Hub) SubscribeQueue(backlog int) (*Queue, func()) {
	if backlog <= 0 {
		backlog = DefaultQueueBacklog
	}
	q := &Queue{backlog: backlog, notify: make(chan struct{}, 1)}

	h.mu.Lock()
	h.queues[q] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.queues, q)
		h.mu.Unlock()
		q.close()
	}
	return q, cancel
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.byUser[ev.UserID] {
		deliver(ch, ev)
	}
	for ch := range h.all {
		deliver(ch, ev)
	}
	for q := range h.queues {
		q.push(ev)
	}
}

// deliver must be called with h.mu held; only publishers send, so after dropping one
// event the send below cannot block.
func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
}

// DefaultQueueBacklog is the backlog of a Queue created without an explicit size.
const DefaultQueueBacklog = 4096

// Queue is a hub subscription backed by a growable backlog instead of a fixed channel.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	backlog int
	dropped int
	closed  bool
	notify  chan struct{}
}

func (q *Queue) push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.events) >= q.backlog {
		q.events[0] = Event{}
		q.events = q.events[1:]
		q.dropped++
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is pending. It returns false once ctx is done or the
// queue was cancelled and drained.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev := q.events[0]
			q.events[0] = Event{}
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// Len reports how many events are pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped reports how many events were discarded because the backlog was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
