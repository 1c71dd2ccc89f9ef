// Package events provides the typed event bus the scheduler components
// publish on. The UI shell (excluded from this module) subscribes here
// instead of registering callbacks deep inside each component, so nothing in
// the core ever calls back into presentation logic.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the types of events that can be emitted.
type EventType string

const (
	// Connection status events (health monitor)
	EventConnectionChanged EventType = "connection_changed"

	// Periodic refresh events (refresh coordinator)
	EventRefreshStarted  EventType = "refresh_started"
	EventRefreshFinished EventType = "refresh_finished"

	// Search events (query executor)
	EventSearchResults EventType = "search_results"
	EventSearchFailed  EventType = "search_failed"

	// Upload queue events (upload runner)
	EventUploadQueued    EventType = "upload_queued"
	EventUploadStarted   EventType = "upload_started"
	EventUploadProgress  EventType = "upload_progress"
	EventUploadCompleted EventType = "upload_completed"
	EventUploadFailed    EventType = "upload_failed"
	EventUploadCancelled EventType = "upload_cancelled"
	EventQueueDrained    EventType = "queue_drained"
)

// DefaultBuffer is the per-subscriber channel buffer. Publishing never
// blocks: events beyond a full buffer are dropped and counted.
const DefaultBuffer = 256

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields.
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// NewBase builds the common fields for an event emitted now.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// ConnectionEvent reports a backend reachability change.
type ConnectionEvent struct {
	BaseEvent
	Connected           bool
	ConsecutiveFailures int
	CheckInterval       time.Duration
	NextCheckAt         time.Time
}

// RefreshEvent reports the start or completion of one refresh task run.
type RefreshEvent struct {
	BaseEvent
	Task        string
	Success     bool
	RateLimited bool
	Err         error
	Duration    time.Duration
}

// SearchEvent reports an applied search response or a search failure.
// Stale responses (superseded request IDs) never produce an event.
type SearchEvent struct {
	BaseEvent
	RequestID uint64
	Query     string
	Page      int
	Items     int
	Err       error
}

// UploadEvent reports an upload job lifecycle change.
type UploadEvent struct {
	BaseEvent
	JobID   string
	Name    string
	Status  string
	Percent int
	Err     error
}

// QueueDrainedEvent reports the final tally of an upload batch,
// emitted exactly once when the queue empties.
type QueueDrainedEvent struct {
	BaseEvent
	Completed int
	Failed    int
	Cancelled int
}

// Bus manages event subscriptions and publishing.
type Bus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
	dropped     atomic.Int64
}

// NewBus creates an event bus with the specified per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBuffer
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to every event.
func (b *Bus) SubscribeAll() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, b.bufferSize)
	b.all = append(b.all, ch)
	return ch
}

// Publish sends an event to all matching subscribers without blocking.
// A nil bus is valid and discards everything, so components can treat the
// bus as optional.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	subscribers := b.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			b.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel everywhere it appears.
func (b *Bus) UnsubscribeAll(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for eventType, subscribers := range b.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				b.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}
	for i, subCh := range b.all {
		if subCh == ch {
			b.all[i] = b.all[len(b.all)-1]
			b.all = b.all[:len(b.all)-1]
			break
		}
	}
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}

// Dropped returns the total number of events dropped due to full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
