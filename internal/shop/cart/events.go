package cart

import "github.com/getpup/pupcart/es/codec"

const (
	TagCreated         = "shop.cart.Created"
	TagItemAdded       = "shop.cart.ItemAdded"
	TagItemRemoved     = "shop.cart.ItemRemoved"
	TagItemQuantitySet = "shop.cart.ItemQuantitySet"
	TagCleared         = "shop.cart.Cleared"
	TagDeleted         = "shop.cart.Deleted"
)

// Created starts a cart stream.
type Created struct {
	OwnerID string `json:"ownerId"`
}

// ItemAdded increases the quantity of a line, creating it if needed.
type ItemAdded struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ItemRemoved decreases a line. Removing at least the held quantity deletes it.
type ItemRemoved struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ItemQuantitySet overwrites a line. A quantity below 1 deletes it.
type ItemQuantitySet struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cleared removes every line.
type Cleared struct{}

// Deleted is the cart's delete marker.
type Deleted struct{}

// Register adds the cart events to r.
func Register(r *codec.Registry) {
	codec.Register[Created](r, TagCreated)
	codec.Register[ItemAdded](r, TagItemAdded)
	codec.Register[ItemRemoved](r, TagItemRemoved)
	codec.Register[ItemQuantitySet](r, TagItemQuantitySet)
	codec.Register[Cleared](r, TagCleared)
	codec.Register[Deleted](r, TagDeleted)
}
