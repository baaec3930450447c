// Package events turns store changes into a sequenced feed for UI clients
// and other instances.
package events

import (
	"log"
	"sync"
	"time"

	"scribeflow/internal/store"
)

// Event is a sequenced store change.
type Event struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      store.ChangeKind `json:"kind"`
	JobID     string           `json:"job_id,omitempty"`
}

// Sink receives every published event.
type Sink interface {
	Send(Event)
}

// Bus stores recent events, provides incremental reads and fans events out
// to live subscribers and sinks.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]chan Event
	nextSub   int
	sinks     []Sink
}

// NewBus creates a bounded in-memory event buffer.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Attach publishes every change of s.
func (b *Bus) Attach(s *store.Store) {
	s.OnChange(func(c store.Change) {
		b.Publish(Event{Kind: c.Kind, JobID: c.JobID})
	})
}

// AddSink registers a sink for future events.
func (b *Bus) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Publish appends one event and assigns sequence and timestamp.
func (b *Bus) Publish(event Event) Event {
	b.mu.Lock()
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			log.Printf("events: subscriber %d is behind, dropped event %d", id, event.Seq)
		}
	}
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	for _, sink := range sinks {
		sink.Send(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}
	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns the events after seq that are still buffered plus a
// channel of every later event. Call cancel to unsubscribe.
func (b *Bus) Subscribe(seq int64, buffer int) (backlog []Event, ch <-chan Event, cancel func()) {
	if buffer <= 0 {
		buffer = 64
	}
	c := make(chan Event, buffer)
	b.mu.Lock()
	for _, event := range b.events {
		if event.Seq > seq {
			backlog = append(backlog, event)
		}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = c
	b.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return backlog, c, cancel
}
