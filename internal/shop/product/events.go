package product

import (
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/codec"
)

// Type tags persisted in the event_type column.
const (
	TagCreated = "shop.product.Created"
	TagUpdated = "shop.product.Updated"
	TagDeleted = "shop.product.Deleted"
)

// Created starts a product stream.
type Created struct {
	Description *string `json:"description,omitempty"`
	PictureURL  *string `json:"pictureUrl,omitempty"`
	DisplayName string  `json:"displayName"`
	Price       Money   `json:"price"`
}

// Updated carries only the fields that changed.
type Updated struct {
	DisplayName aggregate.Field[string] `json:"displayName,omitzero"`
	Description aggregate.Field[string] `json:"description,omitzero"`
	Price       aggregate.Field[Money]  `json:"price,omitzero"`
	PictureURL  aggregate.Field[string] `json:"pictureUrl,omitzero"`
}

// Touched reports whether any field is present.
func (u Updated) Touched() bool {
	return !u.DisplayName.IsZero() || !u.Description.IsZero() || !u.Price.IsZero() || !u.PictureURL.IsZero()
}

// Deleted is the product's delete marker.
type Deleted struct{}

// Register adds the product events to r.
func Register(r *codec.Registry) {
	codec.Register[Created](r, TagCreated)
	codec.Register[Updated](r, TagUpdated)
	codec.Register[Deleted](r, TagDeleted)
}
