package event

import (
	"fmt"
	"reflect"
	"sync"
)

// Bus is a synchronous typed event bus. Publish delivers to every handler on
// the publishing goroutine before returning; hook callbacks publish from the
// host thread, so handlers must be short and must not block on the host.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[reflect.Type][]subscription

	// OnPanic receives a handler panic converted to an error. Panics never
	// escape Publish.
	OnPanic func(err error)
}

type subscription struct {
	id uint64
	fn any
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]subscription),
	}
}

// Subscribe registers a typed handler for events of type T and returns a
// function that removes it.
func Subscribe[T any](b *Bus, fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[t]
		for i, s := range subs {
			if s.id == id {
				b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to every handler subscribed to T, in subscription
// order. Handlers added or removed during delivery take effect next time.
func Publish[T any](b *Bus, event T) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	subs := b.handlers[t]
	b.mu.RUnlock()
	for _, s := range subs {
		deliver(b, s.fn.(func(T)), event)
	}
}

func deliver[T any](b *Bus, fn func(T), event T) {
	defer func() {
		if r := recover(); r != nil && b.OnPanic != nil {
			b.OnPanic(fmt.Errorf("event handler for %T panicked: %v", event, r))
		}
	}()
	fn(event)
}

// Count returns the number of handlers subscribed to T.
func Count[T any](b *Bus) int {
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
