// Package bus delivers committed events to interested parties.
//
// Publishing happens after the append has committed, so a failed publish never
// undoes a write. Subscribers must tolerate seeing an event again when a caller
// retries or a catch-up processor replays the log.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/projection"
)

// Publisher receives committed events one at a time, in commit order.
type Publisher interface {
	//nolint:gocritic // hugeParam: events are passed by value
	Publish(ctx context.Context, event es.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event es.Event) error

// Publish calls f.
//
//nolint:gocritic // hugeParam: events are passed by value
func (f PublisherFunc) Publish(ctx context.Context, event es.Event) error {
	return f(ctx, event)
}

// Dispatcher is an in-process synchronous bus. Each event goes to every
// subscribed projection in subscription order; scoped projections only see
// their aggregate types. Delivery stops at the first handler error.
type Dispatcher struct {
	logger      es.Logger
	projections []projection.Projection
	mu          sync.RWMutex
}

var _ Publisher = (*Dispatcher)(nil)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a logger for the dispatcher.
func WithLogger(logger es.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher with no subscribers.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe adds projections to the end of the delivery order.
func (d *Dispatcher) Subscribe(projections ...projection.Projection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projections = append(d.projections, projections...)
}

// Publish implements Publisher.
//
//nolint:gocritic // hugeParam: events are passed by value
func (d *Dispatcher) Publish(ctx context.Context, event es.Event) error {
	d.mu.RLock()
	projections := d.projections
	d.mu.RUnlock()

	for _, proj := range projections {
		if !projection.InScope(proj, event.AggregateType) {
			continue
		}
		if err := proj.Handle(ctx, event); err != nil {
			if d.logger != nil {
				d.logger.Error(ctx, "event handler failed",
					"projection", proj.Name(),
					"stream_id", event.StreamID,
					"version", event.Version,
					"event_type", event.EventType,
					"error", err)
			}
			return fmt.Errorf("projection %s failed on %s v%d: %w", proj.Name(), event.StreamID, event.Version, err)
		}
	}
	return nil
}

// Fanout publishes to each publisher in order. A failing publisher does not
// keep the event from the ones after it; their errors are joined.
type Fanout []Publisher

// Publish implements Publisher.
//
//nolint:gocritic // hugeParam: events are passed by value
func (f Fanout) Publish(ctx context.Context, event es.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, es.Event) error { return nil })

// ErrClosed is returned by publishers used after Close.
var ErrClosed = errors.New("publisher closed")
