// Package event is the in-process notification bus. Lookup workers and the
// library watcher publish on it; the presentation layer subscribes.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	MusicBrainzLookupAmbiguous Type = "musicbrainz.lookup.ambiguous"
	DiscogsLookupAmbiguous     Type = "discogs.lookup.ambiguous"
	LibraryRefreshed           Type = "library.refreshed"
)

// LookupAmbiguous returns the ambiguity event type for a catalog name.
func LookupAmbiguous(catalog string) Type {
	return Type(catalog + ".lookup.ambiguous")
}

// Event represents something that happened in the system.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler is a function that processes an event.
type Handler func(Event)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(Event)
}

// Bus is an in-process event bus backed by a buffered channel. Handlers run
// on the dispatch goroutine in subscription order.
type Bus struct {
	ch      chan Event
	mu      sync.RWMutex
	subs    map[Type][]Handler
	all     []Handler
	dropped atomic.Uint64
	logger  *slog.Logger
	done    chan struct{}
	stopped bool
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger.With(slog.String("component", "event")),
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish sends an event to the bus. It never blocks: when the buffer is
// full the event is dropped with a warning. Missing ids and timestamps are
// filled in.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
	default:
		n := b.dropped.Add(1)
		b.logger.Warn("event bus full, dropping event",
			slog.String("type", string(e.Type)),
			slog.String("event_id", e.ID),
			slog.Uint64("dropped_total", n))
	}
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Start drains the channel and dispatches events until Stop is called.
// Call it in a goroutine.
func (b *Bus) Start() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.done:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		}
	}
}

// Stop signals the bus to stop processing events after draining the buffer.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Type])+len(b.all))
	handlers = append(handlers, b.subs[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "type", string(e.Type), "panic", r)
				}
			}()
			h(e)
		}()
	}
}
