// Package diagnostics broadcasts lifecycle events of query compilation
// and batch execution to optional listeners.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies a lifecycle event.
type Kind uint8

// Event kinds.
const (
	QueryCompiled Kind = iota + 1
	BatchExecuting
	BatchExecuted
	Error
)

func (k Kind) String() string {
	switch k {
	case QueryCompiled:
		return "query_compiled"
	case BatchExecuting:
		return "batch_executing"
	case BatchExecuted:
		return "batch_executed"
	case Error:
		return "error"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Event is one lifecycle notification. ID correlates BatchExecuting with
// the BatchExecuted or Error event of the same batch.
type Event struct {
	Kind     Kind
	ID       uint64
	Time     time.Time
	Duration time.Duration
	// Query is a printed query plan for QueryCompiled events.
	Query string
	// Table, Op and Commands describe a command batch.
	Table    string
	Op       string
	Commands int
	Rows     int64
	Err      error
}

// Listener receives events. Listeners must not block.
type Listener interface {
	OnEvent(context.Context, Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(context.Context, Event)

// OnEvent calls f(ctx, e).
func (f ListenerFunc) OnEvent(ctx context.Context, e Event) { f(ctx, e) }

// Emitter fans events out to its listeners. A nil Emitter discards
// events. Listener panics are recovered and logged.
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *slog.Logger
	seq       atomic.Uint64
	now       func() time.Time
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the logger used to report listener panics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// WithClock sets the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) { e.now = now }
}

// NewEmitter returns an Emitter with the given listeners.
func NewEmitter(listeners []Listener, opts ...Option) *Emitter {
	e := &Emitter{
		listeners: listeners,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe adds a listener.
func (e *Emitter) Subscribe(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// NextID returns a fresh correlation id.
func (e *Emitter) NextID() uint64 {
	if e == nil {
		return 0
	}
	return e.seq.Add(1)
}

// Now returns the emitter clock reading.
func (e *Emitter) Now() time.Time {
	if e == nil {
		return time.Now()
	}
	return e.now()
}

// Emit delivers ev to every listener in subscription order.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, l := range listeners {
		e.deliver(ctx, l, ev)
	}
}

func (e *Emitter) deliver(ctx context.Context, l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "diagnostics listener panicked", "event", ev.Kind.String(), "panic", r)
		}
	}()
	l.OnEvent(ctx, ev)
}
