// Package bus provides an in-process event bus so subsystems can react to
// domain events (loot drops, respawns) without a broker round-trip.
package bus

import (
	"log"
	"sync"
)

// Event is one in-process event on a named stream.
type Event struct {
	Stream string
	Type   string
	Data   map[string]any
}

// Bus fans events out to subscriber channels per stream.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe creates a buffered channel receiving events on a stream.
func (b *Bus) Subscribe(stream string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	b.subs[stream] = append(b.subs[stream], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[stream]
	for i, sub := range subs {
		if sub == ch {
			b.subs[stream] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers an event to all subscribers of its stream without
// blocking. A subscriber with a full buffer misses the event.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Stream] {
		select {
		case ch <- event:
		default:
			log.Printf("[bus] event dropped: subscriber buffer full stream=%s type=%s",
				event.Stream, event.Type)
		}
	}
}
