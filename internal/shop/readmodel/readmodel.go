// Package readmodel holds the query-side views of products and carts and the
// projector that keeps them in step with the event log.
package readmodel

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/getpup/pupcart/internal/shop/product"
)

// ErrIntegrity indicates an event refers to a view that does not exist.
// Projection cannot continue past such an event.
var ErrIntegrity = errors.New("read model integrity violation")

// Audit records who created and last changed a view.
type Audit struct {
	CreatedOn time.Time
	UpdatedOn time.Time
	CreatedBy string
	UpdatedBy string
}

// ProductView is the queryable product. A deleted product is kept as a
// tombstone so cart lines that still refer to it stay resolvable.
type ProductView struct {
	Audit
	Description *string
	PictureURL  *string
	ID          string
	DisplayName string
	Price       product.Money
	Version     int64
	Deleted     bool
}

// CartLine is one line of a cart view.
type CartLine struct {
	ProductID string
	Quantity  int
}

// CartView is the queryable cart. Lines are ordered by product id.
type CartView struct {
	Audit
	ID      string
	OwnerID string
	Lines   []CartLine
	Version int64
}

// Quantity returns the quantity for productID, 0 if absent.
func (c CartView) Quantity(productID string) int {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

func (c *CartView) setQuantity(productID string, quantity int) {
	for i, l := range c.Lines {
		if l.ProductID != productID {
			continue
		}
		if quantity < 1 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		} else {
			c.Lines[i].Quantity = quantity
		}
		return
	}
	if quantity < 1 {
		return
	}
	c.Lines = append(c.Lines, CartLine{ProductID: productID, Quantity: quantity})
	sortLines(c.Lines)
}

func sortLines(lines []CartLine) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
}

// Store persists views. Get methods report absence with ok=false.
type Store interface {
	// GetProduct returns tombstones too; check ProductView.Deleted.
	GetProduct(ctx context.Context, id string) (ProductView, bool, error)
	// ListProducts returns the products that are not deleted.
	ListProducts(ctx context.Context) ([]ProductView, error)
	PutProduct(ctx context.Context, view ProductView) error

	GetCart(ctx context.Context, id string) (CartView, bool, error)
	// PutCart replaces the cart and all of its lines.
	PutCart(ctx context.Context, view CartView) error
	// DeleteCart removes the cart and its lines.
	DeleteCart(ctx context.Context, id string) error
}
