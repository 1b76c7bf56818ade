// Package eventbus is the in-process typed publish/subscribe hub. Handlers declare their
// bindings explicitly; there is no reflection over handler methods.
package eventbus

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
)

// ErrBusClosed is returned by PublishAsync once the worker pool has shut down.
var ErrBusClosed = errors.New("event bus is closed")

// Kind names an event type.
type Kind string

// Event is anything that can be published.
type Event interface {
	Kind() Kind
}

// HandlerFunc handles one event. A returned error or a panic is logged and contained.
type HandlerFunc func(Event) error

// Handler exposes the events it wants and the callback for each.
type Handler interface {
	Bindings() map[Kind]HandlerFunc
}

// Named lets a handler choose the name used in logs.
type Named interface {
	Name() string
}

// HandlerName identifies h in logs.
func HandlerName(h Handler) string {
	if n, ok := h.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}

// Bind adapts a callback for a concrete event type. Events of any other type fail.
func Bind[T Event](fn func(T) error) HandlerFunc {
	return func(evt Event) error {
		typed, ok := evt.(T)
		if !ok {
			return errors.Errorf("unexpected event type %T", evt)
		}
		return fn(typed)
	}
}

// Submitter runs tasks asynchronously; *scheduler.Pool satisfies it.
type Submitter interface {
	Submit(fn func()) error
}

type registration struct {
	handler  Handler
	name     string
	bindings map[Kind]HandlerFunc
}

// Bus dispatches events to registered handlers.
type Bus struct {
	pool   Submitter
	logger logging.Logger

	mu       sync.RWMutex
	handlers []*registration
}

// New creates a bus whose async publishes run on pool.
func New(pool Submitter, logger logging.Logger) *Bus {
	return &Bus{pool: pool, logger: logger}
}

// Register adds h. Its bindings are read once, at registration.
func (b *Bus) Register(h Handler) {
	reg := &registration{handler: h, name: HandlerName(h), bindings: h.Bindings()}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, reg)
}

// Unregister removes h. Handlers are compared by identity.
func (b *Bus) Unregister(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.handlers {
		if reg.handler == h {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Publish calls every binding for the event's kind in registration order on the
// caller's goroutine.
func (b *Bus) Publish(evt Event) {
	kind := evt.Kind()

	b.mu.RLock()
	regs := make([]*registration, 0, len(b.handlers))
	for _, reg := range b.handlers {
		if _, ok := reg.bindings[kind]; ok {
			regs = append(regs, reg)
		}
	}
	b.mu.RUnlock()

	for _, reg := range regs {
		b.dispatch(reg, kind, evt)
	}
}

func (b *Bus) dispatch(reg *registration, kind Kind, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.LogError("Event handler failed", "event_kind", string(kind), "handler", reg.name, "panic", fmt.Sprint(r))
		}
	}()
	if err := reg.bindings[kind](evt); err != nil {
		b.logger.LogError("Event handler failed", "event_kind", string(kind), "handler", reg.name, "error", err.Error())
	}
}

// PublishAsync queues Publish(evt) on the worker pool and returns immediately.
func (b *Bus) PublishAsync(evt Event) error {
	if err := b.pool.Submit(func() { b.Publish(evt) }); err != nil {
		return errors.Wrap(ErrBusClosed, err.Error())
	}
	return nil
}
