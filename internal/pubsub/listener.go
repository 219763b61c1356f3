package pubsub

import "context"

// Listener wraps a broker subscription for callers that consume events one
// at a time instead of ranging over the channel.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to the broker. The subscription is torn down when
// ctx is cancelled.
func NewListener[T any](ctx context.Context, broker *Broker[T]) *Listener[T] {
	return &Listener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Next blocks until an event arrives, the context is cancelled, or the
// broker closes. The second return is false when no more events will come.
func (l *Listener[T]) Next() (Event[T], bool) {
	select {
	case <-l.ctx.Done():
		return Event[T]{}, false
	case event, ok := <-l.ch:
		if !ok {
			return Event[T]{}, false
		}
		return event, true
	}
}

// Ch exposes the underlying channel for select-based consumers.
func (l *Listener[T]) Ch() <-chan Event[T] {
	return l.ch
}
