package readmodel_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupcart/es/migrations"
	"github.com/getpup/pupcart/internal/shop/readmodel"
)

func openReadModelDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "readmodel.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	cfg := migrations.DefaultConfig()
	_, err = db.Exec(migrations.ReadModelSQLiteSchema(&cfg))
	require.NoError(t, err)
	return db
}

func stores(t *testing.T) map[string]func() readmodel.Store {
	return map[string]func() readmodel.Store{
		"memory": func() readmodel.Store { return readmodel.NewMemoryStore() },
		"sqlite": func() readmodel.Store {
			return readmodel.NewSQLStore(openReadModelDB(t), readmodel.DefaultSQLStoreConfig())
		},
	}
}

func strPtr(s string) *string { return &s }

var auditAt = time.Date(2024, 5, 1, 9, 30, 0, 123456000, time.UTC)

func TestStoreProducts(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			_, ok, err := s.GetProduct(ctx, "p1")
			require.NoError(t, err)
			assert.False(t, ok)

			mug := readmodel.ProductView{
				Audit:       readmodel.Audit{CreatedBy: "alice", CreatedOn: auditAt, UpdatedBy: "alice", UpdatedOn: auditAt},
				ID:          "p1",
				DisplayName: "Mug",
				Description: strPtr("ceramic"),
				Price:       1250,
				Version:     1,
			}
			require.NoError(t, s.PutProduct(ctx, mug))
			require.NoError(t, s.PutProduct(ctx, readmodel.ProductView{ID: "p0", DisplayName: "Cup", Version: 1}))

			got, ok, err := s.GetProduct(ctx, "p1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, mug, got)

			mug.Description = nil
			mug.Version = 2
			require.NoError(t, s.PutProduct(ctx, mug))
			got, _, err = s.GetProduct(ctx, "p1")
			require.NoError(t, err)
			assert.Nil(t, got.Description)
			assert.Equal(t, int64(2), got.Version)

			list, err := s.ListProducts(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "p0", list[0].ID)
			assert.Equal(t, "p1", list[1].ID)

			mug.Deleted = true
			mug.Version = 3
			require.NoError(t, s.PutProduct(ctx, mug))
			got, ok, err = s.GetProduct(ctx, "p1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Deleted)

			list, err = s.ListProducts(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1, "tombstones are not listed")
			assert.Equal(t, "p0", list[0].ID)
		})
	}
}

func TestStoreCarts(t *testing.T) {
	for name, newStore := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()

			c := readmodel.CartView{
				Audit:   readmodel.Audit{CreatedBy: "bob", CreatedOn: auditAt, UpdatedBy: "bob", UpdatedOn: auditAt},
				ID:      "c1",
				OwnerID: "owner",
				Lines:   []readmodel.CartLine{{ProductID: "b", Quantity: 1}, {ProductID: "a", Quantity: 3}},
				Version: 3,
			}
			require.NoError(t, s.PutCart(ctx, c))

			got, ok, err := s.GetCart(ctx, "c1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []readmodel.CartLine{{ProductID: "a", Quantity: 3}, {ProductID: "b", Quantity: 1}}, got.Lines)
			assert.Equal(t, c.Audit, got.Audit)

			c.Lines = []readmodel.CartLine{{ProductID: "b", Quantity: 2}}
			require.NoError(t, s.PutCart(ctx, c))
			got, _, err = s.GetCart(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, c.Lines, got.Lines)

			require.NoError(t, s.DeleteCart(ctx, "c1"))
			_, ok, err = s.GetCart(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLStoreCascadesCartLines(t *testing.T) {
	ctx := context.Background()
	db := openReadModelDB(t)
	s := readmodel.NewSQLStore(db, readmodel.DefaultSQLStoreConfig())

	require.NoError(t, s.PutCart(ctx, readmodel.CartView{
		ID:      "c1",
		Lines:   []readmodel.CartLine{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 2}},
		Version: 1,
	}))
	require.NoError(t, s.DeleteCart(ctx, "c1"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM cart_lines`).Scan(&n))
	assert.Zero(t, n)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := readmodel.NewMemoryStore()
	require.NoError(t, s.PutCart(ctx, readmodel.CartView{ID: "c1", Lines: []readmodel.CartLine{{ProductID: "a", Quantity: 1}}}))

	got, _, err := s.GetCart(ctx, "c1")
	require.NoError(t, err)
	got.Lines[0].Quantity = 99

	again, _, err := s.GetCart(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Lines[0].Quantity)
}
