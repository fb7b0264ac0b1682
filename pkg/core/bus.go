package core

import "sync"

// EventBus fans orchestrator events out to subscribers. Publishing never
// blocks; a subscriber that falls behind loses events.
type EventBus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel for receiving events. The caller must call
// Unsubscribe when done to prevent resource leaks.
func (b *EventBus) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Subscribe. The channel
// is not closed; after Unsubscribe returns no further events are sent to it.
func (b *EventBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all subscribers.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}
