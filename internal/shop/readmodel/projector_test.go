package readmodel_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/es/projection"
	"github.com/getpup/pupcart/internal/shop/cart"
	"github.com/getpup/pupcart/internal/shop/product"
	"github.com/getpup/pupcart/internal/shop/readmodel"
)

func newRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	product.Register(reg)
	cart.Register(reg)
	return reg
}

// stream builds persisted events for one stream with increasing versions.
type stream struct {
	t             *testing.T
	reg           *codec.Registry
	id            string
	aggregateType string
	version       int64
}

func newStream(t *testing.T, reg *codec.Registry, aggregateType string) *stream {
	return &stream{t: t, reg: reg, id: es.StreamIDFromUUID(uuid.New()), aggregateType: aggregateType}
}

func (s *stream) next(payload any) es.Event {
	s.t.Helper()
	tag, data, err := s.reg.Encode(payload)
	require.NoError(s.t, err)
	s.version++
	return es.Event{
		EventID:       uuid.New(),
		StreamID:      s.id,
		AggregateType: s.aggregateType,
		Version:       s.version,
		ActorID:       "actor-" + tag,
		OccurredOn:    time.Unix(1_700_000_000+s.version, 0).UTC(),
		EventType:     tag,
		Payload:       data,
	}
}

type fixture struct {
	ctx   context.Context
	store readmodel.Store
	proj  *readmodel.Projector
	reg   *codec.Registry
}

func newFixture(t *testing.T, s readmodel.Store) *fixture {
	reg := newRegistry()
	return &fixture{ctx: context.Background(), store: s, proj: readmodel.NewProjector(s, reg), reg: reg}
}

func (f *fixture) handle(t *testing.T, events ...es.Event) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, f.proj.Handle(f.ctx, e))
	}
}

// seed projects a product and an empty cart, returning both streams.
func (f *fixture) seed(t *testing.T) (prod, crt *stream) {
	prod = newStream(t, f.reg, product.AggregateType)
	crt = newStream(t, f.reg, cart.AggregateType)
	f.handle(t,
		prod.next(product.Created{DisplayName: "Mug", Price: 1250}),
		crt.next(cart.Created{OwnerID: "owner"}),
	)
	return prod, crt
}

func (f *fixture) cart(t *testing.T, id string) readmodel.CartView {
	t.Helper()
	view, ok, err := f.store.GetCart(f.ctx, id)
	require.NoError(t, err)
	require.True(t, ok, "cart %s not projected", id)
	return view
}

func eachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, newStore()))
		})
	}
}

func TestProjectorScope(t *testing.T) {
	p := readmodel.NewProjector(readmodel.NewMemoryStore(), newRegistry())
	assert.Equal(t, readmodel.ProjectorName, p.Name())
	assert.True(t, projection.InScope(p, product.AggregateType))
	assert.True(t, projection.InScope(p, cart.AggregateType))
	assert.False(t, projection.InScope(p, "Invoice"))
}

func TestProjectProductLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod := newStream(t, f.reg, product.AggregateType)
		created := prod.next(product.Created{DisplayName: "Mug", Price: 1250})
		updated := prod.next(product.Updated{
			DisplayName: aggregate.SetTo("Big Mug"),
			PictureURL:  aggregate.SetTo("https://img.example/mug.png"),
		})
		f.handle(t, created, updated)

		view, ok, err := f.store.GetProduct(f.ctx, prod.id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Big Mug", view.DisplayName)
		assert.Equal(t, product.Money(1250), view.Price)
		require.NotNil(t, view.PictureURL)
		assert.Nil(t, view.Description)
		assert.Equal(t, int64(2), view.Version)
		assert.Equal(t, created.ActorID, view.CreatedBy)
		assert.Equal(t, created.OccurredOn, view.CreatedOn)
		assert.Equal(t, updated.ActorID, view.UpdatedBy)
		assert.Equal(t, updated.OccurredOn, view.UpdatedOn)

		f.handle(t, prod.next(product.Updated{PictureURL: aggregate.Cleared[string]()}))
		view, _, err = f.store.GetProduct(f.ctx, prod.id)
		require.NoError(t, err)
		assert.Nil(t, view.PictureURL)

		del := prod.next(product.Deleted{})
		del.DeleteMarker = true
		f.handle(t, del, del)
		view, ok, err = f.store.GetProduct(f.ctx, prod.id)
		require.NoError(t, err)
		require.True(t, ok, "deleted product is kept as a tombstone")
		assert.True(t, view.Deleted)
		assert.Equal(t, del.Version, view.Version)
		assert.Equal(t, del.OccurredOn, view.UpdatedOn)

		list, err := f.store.ListProducts(f.ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestProjectCartLinesOfDeletedProduct(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod, crt := f.seed(t)
		other := newStream(t, f.reg, product.AggregateType)
		f.handle(t,
			other.next(product.Created{DisplayName: "Cup", Price: 300}),
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 2}),
			crt.next(cart.ItemAdded{ProductID: other.id, Quantity: 1}),
		)

		delProd := prod.next(product.Deleted{})
		delProd.DeleteMarker = true
		delOther := other.next(product.Deleted{})
		delOther.DeleteMarker = true
		f.handle(t, delProd, delOther)
		assert.Len(t, f.cart(t, crt.id).Lines, 2, "product deletion leaves cart lines alone")

		f.handle(t,
			crt.next(cart.ItemRemoved{ProductID: prod.id, Quantity: 2}),
			crt.next(cart.ItemQuantitySet{ProductID: other.id, Quantity: 0}),
		)
		view := f.cart(t, crt.id)
		assert.Empty(t, view.Lines)
		assert.Equal(t, crt.version, view.Version)
	})
}

func TestProjectCartQuantityArithmetic(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod, crt := f.seed(t)

		f.handle(t,
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 3}),
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 2}),
		)
		assert.Equal(t, 5, f.cart(t, crt.id).Quantity(prod.id), "add is cumulative")

		f.handle(t, crt.next(cart.ItemRemoved{ProductID: prod.id, Quantity: 2}))
		assert.Equal(t, 3, f.cart(t, crt.id).Quantity(prod.id))

		f.handle(t, crt.next(cart.ItemRemoved{ProductID: prod.id, Quantity: 8}))
		assert.Empty(t, f.cart(t, crt.id).Lines, "removal clamps to the held quantity")

		f.handle(t, crt.next(cart.ItemQuantitySet{ProductID: prod.id, Quantity: 4}))
		assert.Equal(t, []readmodel.CartLine{{ProductID: prod.id, Quantity: 4}}, f.cart(t, crt.id).Lines)

		f.handle(t, crt.next(cart.ItemQuantitySet{ProductID: prod.id, Quantity: 0}))
		view := f.cart(t, crt.id)
		assert.Empty(t, view.Lines, "set below 1 deletes the line")
		assert.Equal(t, crt.version, view.Version)
	})
}

func TestProjectCartClearAndDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod, crt := f.seed(t)
		f.handle(t,
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 1}),
			crt.next(cart.Cleared{}),
		)
		assert.Empty(t, f.cart(t, crt.id).Lines)

		f.handle(t, crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 2}))
		del := crt.next(cart.Deleted{})
		del.DeleteMarker = true
		f.handle(t, del)

		_, ok, err := f.store.GetCart(f.ctx, crt.id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestProjectorSkipsReplayedEvents(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod := newStream(t, f.reg, product.AggregateType)
		crt := newStream(t, f.reg, cart.AggregateType)
		history := []es.Event{
			prod.next(product.Created{DisplayName: "Mug", Price: 100}),
			crt.next(cart.Created{OwnerID: "owner"}),
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 3}),
			prod.next(product.Updated{Price: aggregate.SetTo[product.Money](200)}),
			crt.next(cart.ItemAdded{ProductID: prod.id, Quantity: 1}),
		}

		f.handle(t, history...)
		f.handle(t, history...)

		assert.Equal(t, 4, f.cart(t, crt.id).Quantity(prod.id))
		view, _, err := f.store.GetProduct(f.ctx, prod.id)
		require.NoError(t, err)
		assert.Equal(t, product.Money(200), view.Price)
	})
}

func TestProjectorIntegrityViolations(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		prod, crt := f.seed(t)

		orphanCart := newStream(t, f.reg, cart.AggregateType)
		orphanCart.version = 1
		err := f.proj.Handle(f.ctx, orphanCart.next(cart.ItemAdded{ProductID: prod.id, Quantity: 1}))
		assert.ErrorIs(t, err, readmodel.ErrIntegrity)

		err = f.proj.Handle(f.ctx, crt.next(cart.ItemAdded{ProductID: "missing", Quantity: 1}))
		assert.ErrorIs(t, err, readmodel.ErrIntegrity)
		assert.Empty(t, f.cart(t, crt.id).Lines)

		orphanProduct := newStream(t, f.reg, product.AggregateType)
		orphanProduct.version = 1
		err = f.proj.Handle(f.ctx, orphanProduct.next(product.Updated{Price: aggregate.SetTo[product.Money](1)}))
		assert.ErrorIs(t, err, readmodel.ErrIntegrity)
		err = f.proj.Handle(f.ctx, orphanProduct.next(product.Deleted{}))
		assert.ErrorIs(t, err, readmodel.ErrIntegrity)
	})
}

func TestProjectorRejectsUnknownEventType(t *testing.T) {
	f := newFixture(t, readmodel.NewMemoryStore())
	err := f.proj.Handle(f.ctx, es.Event{
		StreamID:      "x",
		AggregateType: cart.AggregateType,
		Version:       1,
		EventType:     "shop.cart.Teleported",
		Payload:       []byte(`{}`),
	})
	assert.ErrorIs(t, err, codec.ErrEventTypeNotFound)
}
