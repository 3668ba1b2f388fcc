package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event. Handlers must tolerate concurrent
// invocation; the bus runs each in its own goroutine.
type HandlerFunc func(ctx context.Context, event Event) error

// Bus is an in-process publish-subscribe dispatcher. Components receive it
// by explicit injection from the orchestrator's owner; there is no global
// instance.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]handlerEntry)}
}

// Subscribe registers a named handler for one event type. The name only
// shows up in logs.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Emit publishes an event to every subscribed handler asynchronously. A
// stopped bus drops events silently.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped {
		return
	}

	for _, h := range b.handlers[event.Type] {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for every handler to finish,
// returning the first error encountered.
func (b *Bus) EmitSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return nil
	}
	handlers := make([]handlerEntry, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	var (
		firstErr error
		once     sync.Once
		wg       sync.WaitGroup
	)
	for _, h := range handlers {
		h := h
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(ctx, h, event); err != nil {
				once.Do(func() { firstErr = err })
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// run invokes one handler, containing panics and logging errors so a bad
// subscriber never takes down the publisher.
func (b *Bus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("event handler returned error")
	}
	return err
}

// Stop rejects further events and waits for in-flight handlers to drain.
func (b *Bus) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()

	b.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
