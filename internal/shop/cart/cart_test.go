package cart_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es"
	"github.com/getpup/pupcart/es/aggregate"
	"github.com/getpup/pupcart/es/codec"
	"github.com/getpup/pupcart/internal/shop/cart"
)

const mug = "mug"

func newCart(t *testing.T) *cart.Cart {
	t.Helper()
	c := cart.Create(uuid.New(), "owner-1", "alice")
	c.Commit(1)
	return c
}

func TestRemoveMoreThanHeldClampsToFullRemoval(t *testing.T) {
	c := newCart(t)
	require.NoError(t, c.AddItem(mug, 5, ""))
	require.NoError(t, c.RemoveItem(mug, 8, ""))

	assert.Empty(t, c.Items())
	assert.Equal(t, 0, c.Quantity(mug))
}

func TestAddIsCumulative(t *testing.T) {
	c := newCart(t)
	require.NoError(t, c.AddItem(mug, 3, ""))
	require.NoError(t, c.AddItem(mug, 2, ""))

	assert.Equal(t, []cart.Line{{ProductID: mug, Quantity: 5}}, c.Items())
}

func TestSetItem(t *testing.T) {
	t.Run("zero removes held line", func(t *testing.T) {
		c := newCart(t)
		require.NoError(t, c.AddItem(mug, 2, ""))
		require.NoError(t, c.SetItem(mug, 0, ""))
		assert.Empty(t, c.Items())
	})

	t.Run("creates line on empty cart", func(t *testing.T) {
		c := newCart(t)
		require.NoError(t, c.SetItem(mug, 4, ""))
		assert.Equal(t, []cart.Line{{ProductID: mug, Quantity: 4}}, c.Items())
	})

	t.Run("zero on absent line raises nothing", func(t *testing.T) {
		c := newCart(t)
		require.NoError(t, c.SetItem(mug, 0, ""))
		assert.False(t, c.HasChanges())
	})
}

func TestInvariantViolationsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *cart.Cart) error
	}{
		{"add zero", func(c *cart.Cart) error { return c.AddItem(mug, 0, "") }},
		{"add negative", func(c *cart.Cart) error { return c.AddItem(mug, -1, "") }},
		{"add without product", func(c *cart.Cart) error { return c.AddItem("", 1, "") }},
		{"remove zero", func(c *cart.Cart) error { return c.RemoveItem(mug, 0, "") }},
		{"remove absent", func(c *cart.Cart) error { return c.RemoveItem("cup", 1, "") }},
		{"set negative", func(c *cart.Cart) error { return c.SetItem(mug, -2, "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCart(t)
			require.NoError(t, c.AddItem(mug, 1, ""))
			before := c.Changes()

			err := tt.run(c)
			assert.ErrorIs(t, err, aggregate.ErrInvariant)
			assert.Equal(t, before, c.Changes())
			assert.Equal(t, 1, c.Quantity(mug))
		})
	}
}

func TestClear(t *testing.T) {
	c := newCart(t)
	require.NoError(t, c.Clear(""))
	assert.False(t, c.HasChanges(), "clearing an empty cart raises nothing")

	require.NoError(t, c.AddItem(mug, 1, ""))
	require.NoError(t, c.AddItem("cup", 2, ""))
	require.NoError(t, c.Clear("bob"))

	assert.Empty(t, c.Items())
	changes := c.Changes()
	require.Len(t, changes, 3)
	assert.Equal(t, cart.Cleared{}, changes[2].Event)
}

func TestDelete(t *testing.T) {
	c := newCart(t)
	require.NoError(t, c.AddItem(mug, 1, ""))
	c.Delete("")
	c.Delete("")

	changes := c.Changes()
	require.Len(t, changes, 2)
	assert.True(t, changes[1].DeleteMarker)
	assert.Empty(t, c.Items())
	assert.ErrorIs(t, c.AddItem(mug, 1, ""), aggregate.ErrDeleted)
	assert.ErrorIs(t, c.Clear(""), aggregate.ErrDeleted)
}

func TestItemsSortedByProduct(t *testing.T) {
	c := newCart(t)
	require.NoError(t, c.AddItem("b", 1, ""))
	require.NoError(t, c.AddItem("a", 2, ""))
	require.NoError(t, c.AddItem("c", 3, ""))

	assert.Equal(t, []cart.Line{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}, {ProductID: "c", Quantity: 3}}, c.Items())
}

func TestReplayThroughCodec(t *testing.T) {
	reg := codec.NewRegistry()
	cart.Register(reg)

	history := []struct {
		tag     string
		payload string
	}{
		{cart.TagCreated, `{"ownerId":"o1"}`},
		{cart.TagItemAdded, `{"productId":"mug","quantity":3}`},
		{cart.TagItemAdded, `{"productId":"cup","quantity":1}`},
		{cart.TagItemRemoved, `{"productId":"mug","quantity":1}`},
		{cart.TagItemQuantitySet, `{"productId":"cup","quantity":6}`},
	}

	c := cart.New(es.StreamIDFromUUID(uuid.New()))
	for i, h := range history {
		event, err := reg.Decode(uuid.New(), h.tag, []byte(h.payload))
		require.NoError(t, err)
		require.NoError(t, c.Replay(es.Event{Version: int64(i + 1)}, event))
	}

	assert.Equal(t, "o1", c.OwnerID())
	assert.Equal(t, int64(5), c.Version())
	assert.Equal(t, []cart.Line{{ProductID: "cup", Quantity: 6}, {ProductID: "mug", Quantity: 2}}, c.Items())
}

func TestUnregisteredTagDoesNotTouchState(t *testing.T) {
	reg := codec.NewRegistry()
	cart.Register(reg)

	c := newCart(t)
	require.NoError(t, c.AddItem(mug, 2, ""))

	_, err := reg.Decode(uuid.New(), "shop.cart.Teleported", []byte(`{}`))
	assert.ErrorIs(t, err, codec.ErrEventTypeNotFound)
	assert.Equal(t, 2, c.Quantity(mug))
}
