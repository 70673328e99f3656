// Package commands runs shop commands against the repositories.
//
// Each command loads the aggregate, mutates it and saves it. A concurrency
// conflict reruns the whole command with exponential backoff up to
// Config.MaxTries; every other error is returned as is.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/repository"
	"github.com/getpup/pupcart/es/store"
	"github.com/getpup/pupcart/internal/shop/cart"
	"github.com/getpup/pupcart/internal/shop/product"
)

// ErrNotFound indicates the addressed aggregate does not exist.
var ErrNotFound = errors.New("not found")

// Config configures a Service.
type Config struct {
	// Logger is optional. If nil, logging is disabled.
	Logger es.Logger

	// MaxTries bounds the attempts per command, including the first.
	MaxTries uint

	// InitialInterval is the first backoff delay after a conflict.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxTries:        5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

// Service executes product and cart commands.
type Service struct {
	products *repository.Repository[*product.Product]
	carts    *repository.Repository[*cart.Cart]
	config   Config
}

// NewService creates a service over the two repositories.
func NewService(products *repository.Repository[*product.Product], carts *repository.Repository[*cart.Cart], config Config) *Service {
	if config.MaxTries == 0 {
		config.MaxTries = 1
	}
	return &Service{products: products, carts: carts, config: config}
}

func (s *Service) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if s.config.InitialInterval > 0 {
		b.InitialInterval = s.config.InitialInterval
	}
	if s.config.MaxInterval > 0 {
		b.MaxInterval = s.config.MaxInterval
	}
	return b
}

// retry runs op until it succeeds, fails with a non-conflict error, or
// MaxTries is exhausted. It returns the version op reports.
func (s *Service) retry(ctx context.Context, command, streamID string, op func() (int64, error)) (int64, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (int64, error) {
		attempt++
		version, err := op()
		if err != nil && !store.IsConflict(err) {
			return 0, backoff.Permanent(err)
		}
		return version, err
	},
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(s.config.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			if s.config.Logger != nil {
				s.config.Logger.Info(ctx, "command conflicted, retrying",
					"command", command,
					"stream_id", streamID,
					"attempt", attempt,
					"retry_in", next.String(),
					"error", err)
			}
		}),
	)
}

func (s *Service) loadProduct(ctx context.Context, id string) (*product.Product, error) {
	p, ok, err := s.products.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *Service) loadCart(ctx context.Context, id string) (*cart.Cart, error) {
	c, ok, err := s.carts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: cart %s", ErrNotFound, id)
	}
	return c, nil
}

// CreateProduct creates a product and returns its stream id. It conflicts
// if id is already in use; creation is not retried.
func (s *Service) CreateProduct(ctx context.Context, id uuid.UUID, displayName string, price product.Money, actorID string) (string, error) {
	p, err := product.Create(id, displayName, price, actorID)
	if err != nil {
		return "", err
	}
	if err := s.products.Save(ctx, p); err != nil {
		return "", err
	}
	return p.StreamID(), nil
}

// ProductPatch lists product fields to change. Unchanged fields are left alone.
type ProductPatch struct {
	DisplayName aggregate.Field[string]
	Description aggregate.Field[string]
	Price       aggregate.Field[product.Money]
	PictureURL  aggregate.Field[string]
}

func (patch ProductPatch) apply(p *product.Product) error {
	if name, ok := patch.DisplayName.Get(); ok {
		if err := p.SetDisplayName(name); err != nil {
			return err
		}
	}
	if price, ok := patch.Price.Get(); ok {
		if err := p.SetPrice(price); err != nil {
			return err
		}
	}
	switch {
	case patch.Description.IsSet():
		desc, _ := patch.Description.Get()
		if err := p.SetDescription(desc); err != nil {
			return err
		}
	case patch.Description.IsCleared():
		if err := p.ClearDescription(); err != nil {
			return err
		}
	}
	switch {
	case patch.PictureURL.IsSet():
		url, _ := patch.PictureURL.Get()
		if err := p.SetPictureURL(url); err != nil {
			return err
		}
	case patch.PictureURL.IsCleared():
		if err := p.ClearPictureURL(); err != nil {
			return err
		}
	}
	return nil
}

// UpdateProduct applies patch as a single update event.
func (s *Service) UpdateProduct(ctx context.Context, id string, patch ProductPatch, actorID string) (int64, error) {
	return s.retry(ctx, "UpdateProduct", id, func() (int64, error) {
		p, err := s.loadProduct(ctx, id)
		if err != nil {
			return 0, err
		}
		if err := patch.apply(p); err != nil {
			return 0, err
		}
		if err := p.Update(actorID); err != nil {
			return 0, err
		}
		return s.saveProduct(ctx, p)
	})
}

// DeleteProduct deletes a product. Deleting a deleted product succeeds.
func (s *Service) DeleteProduct(ctx context.Context, id, actorID string) (int64, error) {
	return s.retry(ctx, "DeleteProduct", id, func() (int64, error) {
		p, err := s.loadProduct(ctx, id)
		if err != nil {
			return 0, err
		}
		p.Delete(actorID)
		return s.saveProduct(ctx, p)
	})
}

func (s *Service) saveProduct(ctx context.Context, p *product.Product) (int64, error) {
	if err := s.products.Save(ctx, p); err != nil {
		return 0, err
	}
	return p.Version(), nil
}

// OpenCart creates a cart for ownerID and returns its stream id.
func (s *Service) OpenCart(ctx context.Context, id uuid.UUID, ownerID, actorID string) (string, error) {
	c := cart.Create(id, ownerID, actorID)
	if err := s.carts.Save(ctx, c); err != nil {
		return "", err
	}
	return c.StreamID(), nil
}

// AddItem adds quantity of a product to a cart. The product must exist and
// not be deleted.
func (s *Service) AddItem(ctx context.Context, cartID, productID string, quantity int, actorID string) (int64, error) {
	return s.mutateCart(ctx, "AddItem", cartID, func(c *cart.Cart) error {
		if err := s.requireActiveProduct(ctx, productID); err != nil {
			return err
		}
		return c.AddItem(productID, quantity, actorID)
	})
}

// RemoveItem removes up to quantity of a product from a cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, productID string, quantity int, actorID string) (int64, error) {
	return s.mutateCart(ctx, "RemoveItem", cartID, func(c *cart.Cart) error {
		return c.RemoveItem(productID, quantity, actorID)
	})
}

// SetItem sets the quantity of a product in a cart; zero removes it.
func (s *Service) SetItem(ctx context.Context, cartID, productID string, quantity int, actorID string) (int64, error) {
	return s.mutateCart(ctx, "SetItem", cartID, func(c *cart.Cart) error {
		if quantity > 0 {
			if err := s.requireActiveProduct(ctx, productID); err != nil {
				return err
			}
		}
		return c.SetItem(productID, quantity, actorID)
	})
}

// ClearCart removes every line from a cart.
func (s *Service) ClearCart(ctx context.Context, cartID, actorID string) (int64, error) {
	return s.mutateCart(ctx, "ClearCart", cartID, func(c *cart.Cart) error {
		return c.Clear(actorID)
	})
}

// DeleteCart deletes a cart. Deleting a deleted cart succeeds.
func (s *Service) DeleteCart(ctx context.Context, cartID, actorID string) (int64, error) {
	return s.mutateCart(ctx, "DeleteCart", cartID, func(c *cart.Cart) error {
		c.Delete(actorID)
		return nil
	})
}

func (s *Service) mutateCart(ctx context.Context, command, cartID string, mutate func(*cart.Cart) error) (int64, error) {
	return s.retry(ctx, command, cartID, func() (int64, error) {
		c, err := s.loadCart(ctx, cartID)
		if err != nil {
			return 0, err
		}
		if err := mutate(c); err != nil {
			return 0, err
		}
		if err := s.carts.Save(ctx, c); err != nil {
			return 0, err
		}
		return c.Version(), nil
	})
}

func (s *Service) requireActiveProduct(ctx context.Context, productID string) error {
	p, err := s.loadProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.IsDeleted() {
		return fmt.Errorf("%w: product %s is deleted", ErrNotFound, productID)
	}
	return nil
}
