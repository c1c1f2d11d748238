package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/fitloop/syncd/internal/domain"
)

// Bus is a synchronous, in-process typed pub/sub per spec.md §4.6's design
// note: listeners are invoked on the publishing goroutine and must not
// block, the same discipline internal/network.Monitor uses for its own
// subscribers.
type Bus struct {
	mu        sync.Mutex
	listeners map[int]domain.Listener
	nextID    int
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]domain.Listener)}
}

// Subscribe registers a listener and returns a function that removes it.
func (b *Bus) Subscribe(l domain.Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers evt to every current subscriber, synchronously, in
// registration order. A panicking listener is recovered and logged so one
// misbehaving subscriber cannot take down the drain loop.
func (b *Bus) Publish(evt domain.Event) {
	b.mu.Lock()
	listeners := make([]domain.Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		b.deliver(l, evt)
	}
}

func (b *Bus) deliver(l domain.Listener, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", slog.Any("recover", r), slog.String("event_kind", string(evt.Kind)))
		}
	}()
	l(evt)
}
