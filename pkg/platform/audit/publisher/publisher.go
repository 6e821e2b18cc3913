// Package publisher fans audit events out to a store, synchronously or
// through a bounded buffer drained by a single worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "ldgate/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is full
// and the caller's context does not allow waiting.
var ErrBufferFull = errors.New("audit buffer full")

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event audit.Event) error
	ListBySubject(ctx context.Context, subject string) ([]audit.Event, error)
}

// Publisher emits audit events to a Store.
type Publisher struct {
	store  Store
	logger *slog.Logger
	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables async mode with a buffer of the given size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an event. A zero timestamp is set to now and a missing
// category is derived from the action.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrBufferFull
}

// List returns events recorded for a subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains buffered events. Safe to call more than once.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.store.Append(context.Background(), event); err != nil {
			p.logger.Warn("failed to persist audit event", "action", event.Action, "error", err)
		}
	}
}
