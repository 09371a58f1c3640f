package events

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
)

// Sink receives every published event. Implementations must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// DefaultBuffer is the channel depth given to each subscriber.
const DefaultBuffer = 256

// Bus fans events out to channel subscribers and sinks. A subscriber whose
// channel is full misses the event.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	sinks       []Sink
	dropped     uint64
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered channel. The ID is passed to Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, DefaultBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// AddSink registers a sink that receives every later event.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Publish delivers e to every sink and subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sinks {
		s.Publish(e)
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				monitoring.Logf("events: subscriber %s is slow, dropped %d events so far", id, b.dropped)
			}
		}
	}
}

// Dropped returns how many subscriber deliveries were skipped.
func (b *Bus) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
