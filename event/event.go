// Package event provides a typed event manager. Handlers are registered
// per event name and run in registration order.
//
//	evm := event.NewManager[*orm.EventArgs]()
//	evm.AddEventListener(event.HandlerFunc[*orm.EventArgs](onInsert), orm.PreInsert)
//	if err := evm.Dispatch(ctx, orm.PreInsert, args); err != nil {
//	    return err
//	}
package event

import (
	"context"
	"reflect"
	"slices"
	"sync"
)

// Handler handles dispatched events.
type Handler[A any] interface {
	HandleEvent(ctx context.Context, name string, args A) error
}

// HandlerFunc type is an adapter to allow the use of ordinary functions
// as event handlers.
type HandlerFunc[A any] func(ctx context.Context, name string, args A) error

// HandleEvent calls f(ctx, name, args).
func (f HandlerFunc[A]) HandleEvent(ctx context.Context, name string, args A) error {
	return f(ctx, name, args)
}

// Subscriber is a handler that knows the events it listens to.
type Subscriber[A any] interface {
	Handler[A]
	SubscribedEvents() []string
}

// Manager dispatches events to the registered handlers. It is safe for
// concurrent use.
type Manager[A any] struct {
	mu        sync.RWMutex
	listeners map[string][]Handler[A]
}

// NewManager returns an empty event manager.
func NewManager[A any]() *Manager[A] {
	return &Manager[A]{listeners: make(map[string][]Handler[A])}
}

// AddEventListener registers h for the given events.
func (m *Manager[A]) AddEventListener(h Handler[A], events ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.listeners[e] = append(m.listeners[e], h)
	}
}

// AddEventSubscriber registers s for its subscribed events.
func (m *Manager[A]) AddEventSubscriber(s Subscriber[A]) {
	m.AddEventListener(s, s.SubscribedEvents()...)
}

// RemoveEventListener unregisters h from the given events.
func (m *Manager[A]) RemoveEventListener(h Handler[A], events ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.listeners[e] = slices.DeleteFunc(m.listeners[e], func(l Handler[A]) bool {
			return sameHandler(l, h)
		})
		if len(m.listeners[e]) == 0 {
			delete(m.listeners, e)
		}
	}
}

// RemoveEventSubscriber unregisters s from its subscribed events.
func (m *Manager[A]) RemoveEventSubscriber(s Subscriber[A]) {
	m.RemoveEventListener(s, s.SubscribedEvents()...)
}

// HasListeners reports if any handler is registered for the event.
func (m *Manager[A]) HasListeners(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[name]) > 0
}

// Listeners returns the handlers registered for the event.
func (m *Manager[A]) Listeners(name string) []Handler[A] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.listeners[name])
}

// Dispatch calls the handlers of the event in registration order and
// stops at the first error.
func (m *Manager[A]) Dispatch(ctx context.Context, name string, args A) error {
	for _, h := range m.Listeners(name) {
		if err := h.HandleEvent(ctx, name, args); err != nil {
			return err
		}
	}
	return nil
}

// sameHandler compares handlers by identity. Functions are compared by
// code pointer.
func sameHandler[A any](a, b Handler[A]) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch {
	case va.Kind() == reflect.Func:
		return va.Pointer() == vb.Pointer()
	case va.Type().Comparable():
		return any(a) == any(b)
	}
	return false
}
