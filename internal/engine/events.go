package engine

import (
	"sync"
	"time"

	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/metrics"
	"github.com/google/uuid"
)

// EventType represents the type of engine event
type EventType string

const (
	EventSent      EventType = "sent"
	EventEnqueued  EventType = "enqueued"
	EventDelivered EventType = "delivered"
	EventReset     EventType = "reset"
)

// Event represents a change notification.
// ProcessID is the sender for EventSent, the receiver for EventEnqueued and
// EventDelivered, and -1 for EventReset.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID uuid.UUID     `json:"session_id"`
	ProcessID int           `json:"process"`
	Message   *core.Message `json:"message,omitempty"`
	Clock     core.Entries  `json:"clock,omitempty"` // process clock after the event
	Timestamp time.Time     `json:"timestamp"`
}

// SubscriptionOptions configures a subscription
type SubscriptionOptions struct {
	// Events filters by event type (nil = all events)
	Events []EventType
	// ProcessID filters by process (nil = all processes).
	// Reset events are always delivered.
	ProcessID *int
	// BufferSize overrides the channel capacity (0 = 100)
	BufferSize int
}

// Subscription represents an active event subscription
type Subscription interface {
	// Events returns the channel to receive events on
	Events() <-chan Event
	// Close stops the subscription and closes the channel
	Close()
	// Dropped returns how many matching events were discarded because the
	// channel was full
	Dropped() uint64
}

// subscriptionImpl is the concrete implementation
type subscriptionImpl struct {
	ch     chan Event
	closed  bool
	dropped uint64
	mu      sync.Mutex
	filter  SubscriptionOptions
}

func newSubscription(opts SubscriptionOptions) *subscriptionImpl {
	size := opts.BufferSize
	if size <= 0 {
		size = 100
	}
	return &subscriptionImpl{
		ch:     make(chan Event, size),
		filter: opts,
	}
}

func (s *subscriptionImpl) Events() <-chan Event {
	return s.ch
}

func (s *subscriptionImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *subscriptionImpl) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *subscriptionImpl) matches(event Event) bool {
	if len(s.filter.Events) > 0 {
		found := false
		for _, et := range s.filter.Events {
			if et == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if s.filter.ProcessID != nil && event.Type != EventReset && event.ProcessID != *s.filter.ProcessID {
		return false
	}

	return true
}

func (s *subscriptionImpl) send(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && s.matches(event) {
		select {
		case s.ch <- event:
		default:
			// Buffer full, drop event (non-blocking)
			s.dropped++
			metrics.EventsDropped.Inc()
		}
	}
}

// EventBus manages subscriptions and broadcasts events
type EventBus struct {
	subs []*subscriptionImpl
	mu   sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe creates a new subscription (all events)
func (b *EventBus) Subscribe() Subscription {
	return b.SubscribeWithOptions(SubscriptionOptions{})
}

// SubscribeWithOptions creates a new subscription with filtering
func (b *EventBus) SubscribeWithOptions(opts SubscriptionOptions) Subscription {
	sub := newSubscription(opts)
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Publish sends an event to all subscribers
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.send(event)
	}
}

// Unsubscribe removes a subscription
func (b *EventBus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			s.Close()
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close closes all subscriptions
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
}
