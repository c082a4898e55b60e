package run

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultEventCapacity bounds each run's event ring.
const DefaultEventCapacity = 256

// Event is one progress entry. IDs are monotonic from zero per run and
// never reused.
type Event struct {
	ID   int64          `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBuffer is a bounded per-run ring of events, replayable by id.
// Subscribers register a channel to receive live appends; replay and live
// delivery compose through Since.
type EventBuffer struct {
	mu       sync.Mutex
	capacity int
	events   []Event // ring contents, oldest first
	nextID   int64
	subs     map[string]chan Event
	closed   bool
}

// NewEventBuffer creates a ring with the given capacity (default when <= 0).
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultEventCapacity
	}
	return &EventBuffer{capacity: capacity, subs: map[string]chan Event{}}
}

// Append pushes an event, assigning the next monotonic id, and fans it out
// to live subscribers.
func (b *EventBuffer) Append(eventType string, data map[string]any) Event {
	b.mu.Lock()
	ev := Event{ID: b.nextID, Type: eventType, Data: data}
	b.nextID++
	b.events = append(b.events, ev)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow consumer; it will catch up via Since
		}
	}
	return ev
}

// Since returns all buffered events with id strictly greater than lastID.
// Pass -1 for the full buffer.
func (b *EventBuffer) Since(lastID int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.events {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a live event channel and returns its subscriber id
// plus the channel. Unsubscribe with the returned id.
func (b *EventBuffer) Subscribe() (string, <-chan Event) {
	ch := make(chan Event, 64)
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber.
func (b *EventBuffer) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// LastID returns the highest assigned id, or -1 when empty.
func (b *EventBuffer) LastID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID - 1
}
