// Package bus provides in-process fan-out of typed system events.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultBacklog is the per-subscriber buffer before drop-oldest kicks in.
const DefaultBacklog = 1024

// EventType identifies the kind of system event.
type EventType string

const (
	EventDeviceMetric    EventType = "device.metric"
	EventDeviceState     EventType = "device.state"
	EventDeviceDiscovery EventType = "device.discovery"
	EventRuleTriggered   EventType = "rule.triggered"
	EventAlertCreated    EventType = "alert.created"
	EventAgentActivity   EventType = "agent.activity"
	EventWorkflowUpdate  EventType = "workflow.update"
)

// Event is one published system event with its originating source.
type Event struct {
	Type    EventType
	Source  string
	Time    time.Time
	Payload any
}

// Subscription receives events published after Subscribe returned.
// Slow subscribers lose their oldest buffered events once the backlog is
// full; the drop count is observable via Dropped.
type Subscription struct {
	ch      chan Event
	bus     *Bus
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// C returns the receive channel. It is closed when the subscription closes.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events were discarded due to backpressure.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
			// Backlog full: drop the oldest buffered event and retry.
			select {
			case <-s.ch:
				s.dropped++
			default:
			}
		}
	}
}

// Bus is a multi-subscriber broadcast queue. Publish never blocks on slow
// subscribers; delivery order is publication order per publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	backlog int
	logger  *slog.Logger
}

// Option configures the bus.
type Option func(*Bus)

// WithBacklog overrides the per-subscriber buffer size.
func WithBacklog(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.backlog = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[*Subscription]struct{}),
		backlog: DefaultBacklog,
		logger:  slog.Default().With("component", "bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ch:  make(chan Event, b.backlog),
		bus: b,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// Publish enqueues the event to every live subscriber and returns.
func (b *Bus) Publish(eventType EventType, source string, payload any) {
	ev := Event{
		Type:    eventType,
		Source:  source,
		Time:    time.Now(),
		Payload: payload,
	}
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
