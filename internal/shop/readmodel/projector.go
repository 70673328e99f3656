package readmodel

import (
	"context"
	"fmt"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/es/projection"
	"github.com/getpup/pupcart/internal/shop/cart"
	"github.com/getpup/pupcart/internal/shop/product"
)

// ProjectorName is the checkpoint name of the shop read model.
const ProjectorName = "shop-readmodel"

// Projector applies product and cart events to a Store.
//
// Handling is idempotent: creation events for an existing view and events at
// or below a view's version are skipped, so the log can be replayed over a
// populated store. Deleted products stay as tombstones; deleted carts are
// removed with their lines.
type Projector struct {
	store  Store
	codec  *codec.Registry
	logger es.Logger
}

var _ projection.ScopedProjection = (*Projector)(nil)

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithLogger sets a logger for the projector.
func WithLogger(logger es.Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = logger
	}
}

// NewProjector creates a projector writing to store. reg must know the
// product and cart events.
func NewProjector(store Store, reg *codec.Registry, opts ...ProjectorOption) *Projector {
	p := &Projector{store: store, codec: reg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Projector) Name() string { return ProjectorName }

func (p *Projector) AggregateTypes() []string {
	return []string{product.AggregateType, cart.AggregateType}
}

//nolint:gocritic // hugeParam: matches projection.Projection
func (p *Projector) Handle(ctx context.Context, event es.Event) error {
	decoded, err := p.codec.Decode(event.EventID, event.EventType, event.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode %s v%d: %w", event.StreamID, event.Version, err)
	}

	switch e := decoded.(type) {
	case product.Created:
		return p.productCreated(ctx, event, e)
	case product.Updated:
		return p.productUpdated(ctx, event, e)
	case product.Deleted:
		return p.productDeleted(ctx, event)
	case cart.Created:
		return p.cartCreated(ctx, event, e)
	case cart.ItemAdded:
		return p.cartLine(ctx, event, e.ProductID, func(current int) int { return current + e.Quantity })
	case cart.ItemRemoved:
		return p.cartLine(ctx, event, e.ProductID, func(current int) int { return current - e.Quantity })
	case cart.ItemQuantitySet:
		return p.cartLine(ctx, event, e.ProductID, func(int) int { return e.Quantity })
	case cart.Cleared:
		return p.cartCleared(ctx, event)
	case cart.Deleted:
		return p.cartDeleted(ctx, event)
	default:
		p.debug(ctx, "event ignored", event)
		return nil
	}
}

func audited(event *es.Event) Audit {
	return Audit{
		CreatedBy: event.ActorID,
		CreatedOn: event.OccurredOn,
		UpdatedBy: event.ActorID,
		UpdatedOn: event.OccurredOn,
	}
}

func touch(a *Audit, event *es.Event) {
	a.UpdatedBy = event.ActorID
	a.UpdatedOn = event.OccurredOn
}

func (p *Projector) productCreated(ctx context.Context, event es.Event, e product.Created) error {
	_, exists, err := p.store.GetProduct(ctx, event.StreamID)
	if err != nil {
		return err
	}
	if exists {
		p.debug(ctx, "product already projected", event)
		return nil
	}
	return p.store.PutProduct(ctx, ProductView{
		Audit:       audited(&event),
		ID:          event.StreamID,
		DisplayName: e.DisplayName,
		Description: e.Description,
		Price:       e.Price,
		PictureURL:  e.PictureURL,
		Version:     event.Version,
	})
}

func (p *Projector) productUpdated(ctx context.Context, event es.Event, e product.Updated) error {
	view, ok, err := p.store.GetProduct(ctx, event.StreamID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: update for unknown product %s", ErrIntegrity, event.StreamID)
	}
	if event.Version <= view.Version {
		p.debug(ctx, "stale product event skipped", event)
		return nil
	}
	e.DisplayName.ApplyTo(&view.DisplayName)
	e.Price.ApplyTo(&view.Price)
	e.Description.ApplyToPtr(&view.Description)
	e.PictureURL.ApplyToPtr(&view.PictureURL)
	view.Version = event.Version
	touch(&view.Audit, &event)
	return p.store.PutProduct(ctx, view)
}

// productDeleted leaves a tombstone: carts may still hold lines for the
// product, and their later line events must resolve it.
func (p *Projector) productDeleted(ctx context.Context, event es.Event) error {
	view, ok, err := p.store.GetProduct(ctx, event.StreamID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: delete for unknown product %s", ErrIntegrity, event.StreamID)
	}
	if view.Deleted || event.Version <= view.Version {
		p.debug(ctx, "stale product event skipped", event)
		return nil
	}
	view.Deleted = true
	view.Version = event.Version
	touch(&view.Audit, &event)
	return p.store.PutProduct(ctx, view)
}

func (p *Projector) cartCreated(ctx context.Context, event es.Event, e cart.Created) error {
	_, exists, err := p.store.GetCart(ctx, event.StreamID)
	if err != nil {
		return err
	}
	if exists {
		p.debug(ctx, "cart already projected", event)
		return nil
	}
	return p.store.PutCart(ctx, CartView{
		Audit:   audited(&event),
		ID:      event.StreamID,
		OwnerID: e.OwnerID,
		Version: event.Version,
	})
}

// activeCart returns the cart view for event, or ok=false when the event
// was already projected.
func (p *Projector) activeCart(ctx context.Context, event *es.Event) (CartView, bool, error) {
	view, found, err := p.store.GetCart(ctx, event.StreamID)
	if err != nil {
		return CartView{}, false, err
	}
	if !found {
		return CartView{}, false, fmt.Errorf("%w: %s for unknown cart %s", ErrIntegrity, event.EventType, event.StreamID)
	}
	if event.Version <= view.Version {
		p.debug(ctx, "stale cart event skipped", *event)
		return CartView{}, false, nil
	}
	return view, true, nil
}

func (p *Projector) cartLine(ctx context.Context, event es.Event, productID string, next func(current int) int) error {
	view, ok, err := p.activeCart(ctx, &event)
	if err != nil || !ok {
		return err
	}
	if _, found, err := p.store.GetProduct(ctx, productID); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: cart %s refers to unknown product %s", ErrIntegrity, event.StreamID, productID)
	}

	view.setQuantity(productID, next(view.Quantity(productID)))
	view.Version = event.Version
	touch(&view.Audit, &event)
	return p.store.PutCart(ctx, view)
}

func (p *Projector) cartCleared(ctx context.Context, event es.Event) error {
	view, ok, err := p.activeCart(ctx, &event)
	if err != nil || !ok {
		return err
	}
	view.Lines = nil
	view.Version = event.Version
	touch(&view.Audit, &event)
	return p.store.PutCart(ctx, view)
}

func (p *Projector) cartDeleted(ctx context.Context, event es.Event) error {
	_, ok, err := p.store.GetCart(ctx, event.StreamID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return p.store.DeleteCart(ctx, event.StreamID)
}

//nolint:gocritic // hugeParam: logging only
func (p *Projector) debug(ctx context.Context, msg string, event es.Event) {
	if p.logger == nil {
		return
	}
	p.logger.Debug(ctx, msg,
		"stream_id", event.StreamID,
		"event_type", event.EventType,
		"version", event.Version)
}
