// Package eventbus provides the engine's centralized pub/sub channel,
// generalizing internal/events' project-scoped bus to the topic strings
// the Gateway's WebSocket endpoints subscribe to directly: "log:<worker-id>",
// "plan:<project-id>:<task-id>", and the catch-all "system" topic.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	EventType() string
	Timestamp() time.Time
	Topic() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"timestamp"`
	Top   string    `json:"topic"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) Topic() string        { return e.Top }

// NewBaseEvent creates a new base event on the given topic.
func NewBaseEvent(eventType, topic string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Top: topic}
}

// LogTopic returns the topic for a worker's live log stream.
func LogTopic(workerID string) string { return "log:" + workerID }

// PlanTopic returns the topic for a task's plan-refinement conversation.
func PlanTopic(projectID, taskID string) string { return "plan:" + projectID + ":" + taskID }

// SystemTopic is the catch-all topic for dispatcher/system narration.
const SystemTopic = "system"

// subscriber represents one event subscription.
type subscriber struct {
	ch       chan Event
	topic    string // exact match required; "" subscribes to everything
	types    map[string]bool
	priority bool
}

// Bus provides topic-filtered pub/sub with backpressure control and
// bounded per-topic replay, matching internal/events.EventBus's ring-buffer
// and priority-subscriber design.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*subscriber
	prioritySubs []*subscriber
	bufferSize   int
	droppedCount int64
	closed       bool

	replaySize int
	history    map[string][]Event
}

// New creates a new Bus with the given per-subscriber buffer size and
// per-topic replay history size.
func New(bufferSize, replaySize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if replaySize <= 0 {
		replaySize = 200
	}
	return &Bus{
		subscribers:  make([]*subscriber, 0),
		prioritySubs: make([]*subscriber, 0),
		bufferSize:   bufferSize,
		replaySize:   replaySize,
		history:      make(map[string][]Event),
	}
}

// Subscribe subscribes to a single topic, optionally filtered by event type.
func (b *Bus) Subscribe(topic string, types ...string) <-chan Event {
	return b.subscribe(topic, false, types)
}

// SubscribePriority subscribes with blocking delivery: the publisher waits
// rather than dropping. Use for "system" narration that must never be lost.
func (b *Bus) SubscribePriority(topic string, types ...string) <-chan Event {
	return b.subscribe(topic, true, types)
}

func (b *Bus) subscribe(topic string, priority bool, types []string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	size := b.bufferSize
	if priority {
		size = 50
	}
	sub := &subscriber{
		ch:       make(chan Event, size),
		topic:    topic,
		types:    make(map[string]bool, len(types)),
		priority: priority,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	if priority {
		b.prioritySubs = append(b.prioritySubs, sub)
	} else {
		b.subscribers = append(b.subscribers, sub)
	}
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = removeSubscriber(b.subscribers, ch)
	b.prioritySubs = removeSubscriber(b.prioritySubs, ch)
}

func removeSubscriber(subs []*subscriber, ch <-chan Event) []*subscriber {
	result := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s.ch != ch {
			result = append(result, s)
		} else {
			close(s.ch)
		}
	}
	return result
}

// Publish sends an event to matching subscribers (drop-oldest-on-full) and
// appends it to its topic's replay history.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	b.recordHistory(event)
	closed := b.closed
	subs := b.subscribers
	b.mu.Unlock()

	if closed {
		return
	}
	for _, s := range subs {
		if !shouldDeliver(s, event) {
			continue
		}
		b.deliverWithRingBuffer(s, event)
	}
}

// PublishPriority sends to both regular and priority subscribers, blocking
// on priority delivery so critical events are never dropped.
func (b *Bus) PublishPriority(event Event) {
	b.mu.Lock()
	b.recordHistory(event)
	closed := b.closed
	subs := b.subscribers
	prio := b.prioritySubs
	b.mu.Unlock()

	if closed {
		return
	}
	for _, s := range subs {
		if shouldDeliver(s, event) {
			b.deliverWithRingBuffer(s, event)
		}
	}
	for _, s := range prio {
		if shouldDeliver(s, event) {
			s.ch <- event
		}
	}
}

func shouldDeliver(s *subscriber, event Event) bool {
	if s.topic != "" && s.topic != event.Topic() {
		return false
	}
	if len(s.types) > 0 && !s.types[event.EventType()] {
		return false
	}
	return true
}

func (b *Bus) deliverWithRingBuffer(s *subscriber, event Event) {
	select {
	case s.ch <- event:
	default:
		select {
		case <-s.ch:
			atomic.AddInt64(&b.droppedCount, 1)
		default:
		}
		select {
		case s.ch <- event:
		default:
			atomic.AddInt64(&b.droppedCount, 1)
		}
	}
}

// recordHistory appends event to its topic's bounded replay buffer. Caller
// must hold b.mu.
func (b *Bus) recordHistory(event Event) {
	topic := event.Topic()
	buf := append(b.history[topic], event)
	if len(buf) > b.replaySize {
		buf = buf[len(buf)-b.replaySize:]
	}
	b.history[topic] = buf
}

// Replay returns up to lastN most recent events recorded for topic, oldest
// first, for a reconnecting WebSocket client to catch up on.
func (b *Bus) Replay(topic string, lastN int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	buf := b.history[topic]
	if lastN <= 0 || lastN > len(buf) {
		lastN = len(buf)
	}
	out := make([]Event, lastN)
	copy(out, buf[len(buf)-lastN:])
	return out
}

// DroppedCount returns the total number of dropped deliveries.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.droppedCount)
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.ch)
	}
	for _, s := range b.prioritySubs {
		close(s.ch)
	}
	b.subscribers = nil
	b.prioritySubs = nil
}
