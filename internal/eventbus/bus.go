// Package eventbus dispatches in-process lifecycle events to listeners.
//
// Each event kind gets its own Topic, so listeners register against a
// concrete Go type and no reflection is involved. Publishing never runs
// listeners on the caller's goroutine; the Bus hands every invocation to its
// Executor. A panicking listener is logged and does not affect other
// listeners or the publisher.
package eventbus

import (
	"log/slog"
	"sync"
)

// Bus owns the executor shared by all of its topics.
type Bus struct {
	exec   Executor
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithExecutor replaces the default per-listener executor.
func WithExecutor(exec Executor) Option {
	return func(b *Bus) {
		if exec != nil {
			b.exec = exec
		}
	}
}

// WithLogger sets the logger used to report listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a Bus. Without options it spawns one goroutine per listener
// invocation.
func New(opts ...Option) *Bus {
	b := &Bus{
		exec:   PerListener(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close releases the executor if it holds resources.
func (b *Bus) Close() {
	if closer, ok := b.exec.(interface{ Close() }); ok {
		closer.Close()
	}
}

func (b *Bus) invoke(topic string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "topic", topic, "panic", r)
		}
	}()
	fn()
}

// Topic is the registration list for one event type.
type Topic[E any] struct {
	bus  *Bus
	name string

	mu        sync.RWMutex
	nextID    uint64
	listeners []listener[E]
}

type listener[E any] struct {
	id uint64
	fn func(E)
}

// NewTopic creates a topic for events of type E on bus. name only shows up
// in logs.
func NewTopic[E any](bus *Bus, name string) *Topic[E] {
	return &Topic[E]{bus: bus, name: name}
}

// Subscribe registers fn and returns a function that removes it again.
func (t *Topic[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	// Copy on write so Publish can iterate a snapshot without holding the lock.
	next := make([]listener[E], len(t.listeners), len(t.listeners)+1)
	copy(next, t.listeners)
	t.listeners = append(next, listener[E]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id) })
	}
}

func (t *Topic[E]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]listener[E], 0, len(t.listeners))
	for _, l := range t.listeners {
		if l.id != id {
			next = append(next, l)
		}
	}
	t.listeners = next
}

// Len returns the number of subscribed listeners.
func (t *Topic[E]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.listeners)
}

// Publish delivers event to every listener. With no listeners it does
// nothing.
func (t *Topic[E]) Publish(event E) {
	t.dispatch(event)
}

// PublishThen delivers event and calls onDone once every listener
// invocation has returned or panicked. With no listeners onDone runs
// immediately.
func (t *Topic[E]) PublishThen(event E, onDone func()) {
	wg := t.dispatch(event)
	if onDone == nil {
		return
	}
	if wg == nil {
		onDone()
		return
	}
	go func() {
		wg.Wait()
		onDone()
	}()
}

// PublishAndWait delivers event and blocks until every listener invocation
// has finished.
func (t *Topic[E]) PublishAndWait(event E) {
	if wg := t.dispatch(event); wg != nil {
		wg.Wait()
	}
}

func (t *Topic[E]) dispatch(event E) *sync.WaitGroup {
	t.mu.RLock()
	listeners := t.listeners
	t.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(listeners))
	for _, l := range listeners {
		fn := l.fn
		task := func() {
			defer wg.Done()
			t.bus.invoke(t.name, func() { fn(event) })
		}
		if err := t.bus.exec.Execute(task); err != nil {
			t.bus.logger.Warn("event dropped", "topic", t.name, "error", err)
			wg.Done()
		}
	}
	return &wg
}
