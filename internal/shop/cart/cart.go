// Package cart implements the shopping cart aggregate.
package cart

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
)

// AggregateType names cart streams.
const AggregateType = "Cart"

// Line is one product and its quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// Cart is the cart aggregate root.
type Cart struct {
	items   map[string]int
	ownerID string
	aggregate.Root
}

// New returns an empty cart for streamID, ready for replay.
func New(streamID string, opts ...aggregate.Option) *Cart {
	c := &Cart{items: make(map[string]int)}
	c.Root = aggregate.NewRoot(streamID, AggregateType, c.apply, opts...)
	return c
}

// Create opens a cart owned by ownerID.
func Create(id uuid.UUID, ownerID, actorID string, opts ...aggregate.Option) *Cart {
	c := New(es.StreamIDFromUUID(id), opts...)
	c.Record(Created{OwnerID: ownerID}, actorID)
	return c
}

func (c *Cart) apply(event any) {
	switch e := event.(type) {
	case Created:
		c.ownerID = e.OwnerID
	case ItemAdded:
		c.items[e.ProductID] += e.Quantity
	case ItemRemoved:
		if c.items[e.ProductID] <= e.Quantity {
			delete(c.items, e.ProductID)
		} else {
			c.items[e.ProductID] -= e.Quantity
		}
	case ItemQuantitySet:
		if e.Quantity < 1 {
			delete(c.items, e.ProductID)
		} else {
			c.items[e.ProductID] = e.Quantity
		}
	case Cleared, Deleted:
		clear(c.items)
	default:
		panic(fmt.Sprintf("cart: unknown event %T", event))
	}
}

// OwnerID returns the owner the cart was opened for.
func (c *Cart) OwnerID() string { return c.ownerID }

// Quantity returns the quantity held for productID, 0 if absent.
func (c *Cart) Quantity(productID string) int { return c.items[productID] }

// Items returns the lines ordered by product id.
func (c *Cart) Items() []Line {
	lines := make([]Line, 0, len(c.items))
	for id, qty := range c.items {
		lines = append(lines, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}

// AddItem adds quantity of productID.
func (c *Cart) AddItem(productID string, quantity int, actorID string) error {
	if err := c.GuardActive(); err != nil {
		return err
	}
	if productID == "" {
		return aggregate.Invariantf("product id must not be empty")
	}
	if quantity <= 0 {
		return aggregate.Invariantf("quantity to add must be positive, got %d", quantity)
	}
	c.Record(ItemAdded{ProductID: productID, Quantity: quantity}, actorID)
	return nil
}

// RemoveItem removes up to quantity of productID.
func (c *Cart) RemoveItem(productID string, quantity int, actorID string) error {
	if err := c.GuardActive(); err != nil {
		return err
	}
	if quantity <= 0 {
		return aggregate.Invariantf("quantity to remove must be positive, got %d", quantity)
	}
	if _, ok := c.items[productID]; !ok {
		return aggregate.Invariantf("product %s is not in the cart", productID)
	}
	c.Record(ItemRemoved{ProductID: productID, Quantity: quantity}, actorID)
	return nil
}

// SetItem sets the quantity of productID. Zero removes the line; setting
// zero for a product not in the cart raises nothing.
func (c *Cart) SetItem(productID string, quantity int, actorID string) error {
	if err := c.GuardActive(); err != nil {
		return err
	}
	if productID == "" {
		return aggregate.Invariantf("product id must not be empty")
	}
	if quantity < 0 {
		return aggregate.Invariantf("quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		if _, ok := c.items[productID]; !ok {
			return nil
		}
	}
	c.Record(ItemQuantitySet{ProductID: productID, Quantity: quantity}, actorID)
	return nil
}

// Clear removes every line. An empty cart raises nothing.
func (c *Cart) Clear(actorID string) error {
	if err := c.GuardActive(); err != nil {
		return err
	}
	if len(c.items) == 0 {
		return nil
	}
	c.Record(Cleared{}, actorID)
	return nil
}

// Delete marks the cart deleted. Deleting again is a no-op.
func (c *Cart) Delete(actorID string) {
	if c.IsDeleted() {
		return
	}
	c.RecordDelete(Deleted{}, actorID)
}
