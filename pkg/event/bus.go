package event

import (
	"log/slog"
	"sync"

	"github.com/mocklet/mocklet/pkg/logging"
)

// Bus fans lifecycle events out to subscribed observers.
//
// Publishing delivers the event synchronously to each observer in
// subscription order. Per-observer panics are recovered, logged, and
// discarded, so one failing observer never stops delivery to the next or
// aborts the request being served. There is no queue and no retry: an event
// published while no observers are subscribed is dropped.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer
	log       *slog.Logger
}

// NewBus creates a Bus. A nil logger falls back to a no-op logger.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{log: log}
}

// Subscribe registers an observer. The same observer may be subscribed
// only once; duplicate subscriptions are ignored.
func (b *Bus) Subscribe(o Observer) {
	if o == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.observers {
		if existing == o {
			return
		}
	}
	b.observers = append(b.observers, o)
}

// Unsubscribe removes an observer. Removing an observer that is not
// subscribed is a no-op.
func (b *Bus) Unsubscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Publish creates an event with the current timestamp and delivers it to
// every subscribed observer. Safe for concurrent use.
func (b *Bus) Publish(name string, attrs Attributes) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	e := NewEvent(name, attrs)
	for _, o := range observers {
		b.deliver(o, e)
	}
}

// deliver hands one event to one observer, containing any panic.
func (b *Bus) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("observer panicked while handling event",
				"event", e.Name, "panic", r)
		}
	}()
	o.Observe(e)
}

// Close stops every subscribed observer and clears the registry.
// Individual Stop failures are logged and do not abort the drain.
func (b *Bus) Close() {
	b.mu.Lock()
	observers := b.observers
	b.observers = nil
	b.mu.Unlock()

	for _, o := range observers {
		if err := o.Stop(); err != nil {
			b.log.Warn("observer stop failed", "error", err)
		}
	}
}
