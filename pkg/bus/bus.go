// Package bus is the runtime's in-process event bus. It carries two
// independent channels: typed events dispatched with concurrent fan-out,
// and untyped emitters dispatched synchronously in registration order.
package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
)

// Handler processes one event payload. Deadlines travel in ctx; the bus
// never cancels handlers on its own.
type Handler func(ctx context.Context, payload map[string]any) error

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	events   map[string][]Handler
	emitters map[string][]Handler

	logger *slog.Logger
}

// New returns an empty bus logging through logger.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		events:   make(map[string][]Handler),
		emitters: make(map[string][]Handler),
		logger:   logger.With("component", "bus"),
	}
}

// RegisterEvent appends h to the typed handler list for name.
// Registration order is preserved in iteration.
func (b *Bus) RegisterEvent(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[name] = append(b.events[name], h)
}

// GetEvent returns a copy of the typed handler list for name.
func (b *Bus) GetEvent(name string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := b.events[name]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]Handler, len(handlers))
	copy(out, handlers)
	return out
}

// EmitEvent runs every typed handler registered for every listed name
// concurrently and waits for all of them. A handler failure is logged and
// does not affect its siblings; EmitEvent returns nil once all handlers
// have finished. Completion order across handlers is undefined.
func (b *Bus) EmitEvent(ctx context.Context, names []string, payload map[string]any) error {
	b.mu.RLock()
	var pending []struct {
		name    string
		handler Handler
	}
	for _, name := range names {
		for _, h := range b.events[name] {
			pending = append(pending, struct {
				name    string
				handler Handler
			}{name, h})
		}
	}
	b.mu.RUnlock()

	if len(pending) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, p := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.handler(ctx, payload); err != nil {
				b.logger.Error("event handler failed", "event", p.name, "error", err)
			}
		}()
	}
	wg.Wait()
	return nil
}

// On appends h to the untyped emitter list for name.
func (b *Bus) On(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitters[name] = append(b.emitters[name], h)
}

// Off removes h from the untyped emitter list for name, matching by
// function identity. Removing an unregistered handler is a no-op.
func (b *Bus) Off(name string, h Handler) {
	target := reflect.ValueOf(h).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.emitters[name]
	for i, have := range handlers {
		if reflect.ValueOf(have).Pointer() == target {
			b.emitters[name] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit invokes the untyped handlers for name synchronously, in
// registration order. Handler errors are logged and iteration continues.
func (b *Bus) Emit(ctx context.Context, name string, payload map[string]any) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.emitters[name]))
	copy(handlers, b.emitters[name])
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			b.logger.Error("emitter handler failed", "event", name, "error", err)
		}
	}
}
