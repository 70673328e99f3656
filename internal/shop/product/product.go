// Package product implements the catalogue product aggregate.
//
// Field setters buffer into one pending update; Update raises a single
// Updated event holding only the touched fields.
package product

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
)

// AggregateType names product streams.
const AggregateType = "Product"

// Money is an amount in minor currency units.
type Money int64

func (m Money) String() string {
	sign := ""
	if m < 0 {
		sign, m = "-", -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, m/100, m%100)
}

// Product is the product aggregate root.
type Product struct {
	description *string
	pictureURL  *string
	aggregate.Root
	displayName string
	pending     Updated
	price       Money
}

// New returns an empty product for streamID, ready for replay.
func New(streamID string, opts ...aggregate.Option) *Product {
	p := &Product{}
	p.Root = aggregate.NewRoot(streamID, AggregateType, p.apply, opts...)
	return p
}

// Create starts a new product.
func Create(id uuid.UUID, displayName string, price Money, actorID string, opts ...aggregate.Option) (*Product, error) {
	if err := validateName(displayName); err != nil {
		return nil, err
	}
	if err := validatePrice(price); err != nil {
		return nil, err
	}
	p := New(es.StreamIDFromUUID(id), opts...)
	p.Record(Created{DisplayName: displayName, Price: price}, actorID)
	return p, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return aggregate.Invariantf("product display name must not be empty")
	}
	return nil
}

func validatePrice(price Money) error {
	if price < 0 {
		return aggregate.Invariantf("product price must not be negative, got %s", price)
	}
	return nil
}

func (p *Product) apply(event any) {
	switch e := event.(type) {
	case Created:
		p.displayName = e.DisplayName
		p.price = e.Price
		p.description = e.Description
		p.pictureURL = e.PictureURL
	case Updated:
		e.DisplayName.ApplyTo(&p.displayName)
		e.Price.ApplyTo(&p.price)
		e.Description.ApplyToPtr(&p.description)
		e.PictureURL.ApplyToPtr(&p.pictureURL)
	case Deleted:
		p.pending = Updated{}
	default:
		panic(fmt.Sprintf("product: unknown event %T", event))
	}
}

// DisplayName returns the current name.
func (p *Product) DisplayName() string { return p.displayName }

// Price returns the current price.
func (p *Product) Price() Money { return p.price }

// Description returns the description if one is set.
func (p *Product) Description() (string, bool) { return deref(p.description) }

// PictureURL returns the picture URL if one is set.
func (p *Product) PictureURL() (string, bool) { return deref(p.pictureURL) }

func deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}

// SetDisplayName buffers a name change.
func (p *Product) SetDisplayName(name string) error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}
	p.pending.DisplayName = aggregate.SetTo(name)
	return nil
}

// SetPrice buffers a price change.
func (p *Product) SetPrice(price Money) error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	if err := validatePrice(price); err != nil {
		return err
	}
	p.pending.Price = aggregate.SetTo(price)
	return nil
}

// SetDescription buffers a description change.
func (p *Product) SetDescription(description string) error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	p.pending.Description = aggregate.SetTo(description)
	return nil
}

// ClearDescription buffers removal of the description.
func (p *Product) ClearDescription() error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	p.pending.Description = aggregate.Cleared[string]()
	return nil
}

// SetPictureURL buffers a picture change.
func (p *Product) SetPictureURL(url string) error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	p.pending.PictureURL = aggregate.SetTo(url)
	return nil
}

// ClearPictureURL buffers removal of the picture.
func (p *Product) ClearPictureURL() error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	p.pending.PictureURL = aggregate.Cleared[string]()
	return nil
}

// HasPendingUpdate reports whether setters have buffered anything.
func (p *Product) HasPendingUpdate() bool { return p.pending.Touched() }

// Update raises one Updated event for the buffered fields and resets the
// buffer. Nothing is raised when no field was touched.
func (p *Product) Update(actorID string) error {
	if err := p.GuardActive(); err != nil {
		return err
	}
	if !p.pending.Touched() {
		return nil
	}
	update := p.pending
	p.pending = Updated{}
	p.Record(update, actorID)
	return nil
}

// Delete marks the product deleted. Deleting again is a no-op.
func (p *Product) Delete(actorID string) {
	if p.IsDeleted() {
		return
	}
	p.RecordDelete(Deleted{}, actorID)
}
