package readmodel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/getpup/pupcart/es"
)

const sqlTimeFormat = "2006-01-02 15:04:05.000000"

// SQLStoreConfig names the read-model tables.
type SQLStoreConfig struct {
	ProductsTable  string
	CartsTable     string
	CartLinesTable string
}

// DefaultSQLStoreConfig returns the table names used by the generated migration.
func DefaultSQLStoreConfig() SQLStoreConfig {
	return SQLStoreConfig{
		ProductsTable:  "products",
		CartsTable:     "carts",
		CartLinesTable: "cart_lines",
	}
}

// SQLStore keeps views in SQLite. The connection must have foreign keys
// enabled so cart lines cascade with their cart.
type SQLStore struct {
	db     *sql.DB
	config SQLStoreConfig
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store on db.
func NewSQLStore(db *sql.DB, config SQLStoreConfig) *SQLStore {
	return &SQLStore{db: db, config: config}
}

func (s *SQLStore) GetProduct(ctx context.Context, id string) (ProductView, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, display_name, description, price, picture_url, version, deleted,
		       created_by, created_on, updated_by, updated_on
		FROM %s WHERE id = ?
	`, s.config.ProductsTable)

	view, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ProductView{}, false, nil
	}
	if err != nil {
		return ProductView{}, false, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return view, true, nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]ProductView, error) {
	query := fmt.Sprintf(`
		SELECT id, display_name, description, price, picture_url, version, deleted,
		       created_by, created_on, updated_by, updated_on
		FROM %s WHERE deleted = 0 ORDER BY id
	`, s.config.ProductsTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []ProductView
	for rows.Next() {
		view, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (ProductView, error) {
	var (
		v                    ProductView
		description, picture sql.NullString
		createdOn, updatedOn string
	)
	err := row.Scan(&v.ID, &v.DisplayName, &description, &v.Price, &picture, &v.Version, &v.Deleted,
		&v.CreatedBy, &createdOn, &v.UpdatedBy, &updatedOn)
	if err != nil {
		return ProductView{}, err
	}
	v.Description = nullableString(description)
	v.PictureURL = nullableString(picture)
	if v.CreatedOn, err = parseTime(createdOn); err != nil {
		return ProductView{}, err
	}
	if v.UpdatedOn, err = parseTime(updatedOn); err != nil {
		return ProductView{}, err
	}
	return v, nil
}

func (s *SQLStore) PutProduct(ctx context.Context, v ProductView) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, display_name, description, price, picture_url, version, deleted,
		                created_by, created_on, updated_by, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			price = excluded.price,
			picture_url = excluded.picture_url,
			version = excluded.version,
			deleted = excluded.deleted,
			updated_by = excluded.updated_by,
			updated_on = excluded.updated_on
	`, s.config.ProductsTable)

	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.DisplayName, v.Description, int64(v.Price), v.PictureURL, v.Version, v.Deleted,
		v.CreatedBy, formatTime(v.CreatedOn), v.UpdatedBy, formatTime(v.UpdatedOn))
	if err != nil {
		return fmt.Errorf("failed to put product %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLStore) GetCart(ctx context.Context, id string) (CartView, bool, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, version, created_by, created_on, updated_by, updated_on
		FROM %s WHERE id = ?
	`, s.config.CartsTable)

	var (
		v                    CartView
		createdOn, updatedOn string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.OwnerID, &v.Version, &v.CreatedBy, &createdOn, &v.UpdatedBy, &updatedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return CartView{}, false, nil
	}
	if err != nil {
		return CartView{}, false, fmt.Errorf("failed to get cart %s: %w", id, err)
	}
	if v.CreatedOn, err = parseTime(createdOn); err != nil {
		return CartView{}, false, err
	}
	if v.UpdatedOn, err = parseTime(updatedOn); err != nil {
		return CartView{}, false, err
	}

	linesQuery := fmt.Sprintf(`
		SELECT product_id, quantity FROM %s WHERE cart_id = ? ORDER BY product_id
	`, s.config.CartLinesTable)
	rows, err := s.db.QueryContext(ctx, linesQuery, id)
	if err != nil {
		return CartView{}, false, fmt.Errorf("failed to get lines of cart %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ProductID, &l.Quantity); err != nil {
			return CartView{}, false, fmt.Errorf("failed to scan cart line: %w", err)
		}
		v.Lines = append(v.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return CartView{}, false, fmt.Errorf("failed to get lines of cart %s: %w", id, err)
	}
	return v, true, nil
}

// PutCart upserts the cart row and rewrites its lines in one transaction.
func (s *SQLStore) PutCart(ctx context.Context, v CartView) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			//nolint:errcheck // rollback error is secondary to the original error
			tx.Rollback()
		}
	}()

	if err = s.putCartTx(ctx, tx, v); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cart %s: %w", v.ID, err)
	}
	return nil
}

func (s *SQLStore) putCartTx(ctx context.Context, tx es.DBTX, v CartView) error {
	upsert := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, version, created_by, created_on, updated_by, updated_on)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			version = excluded.version,
			updated_by = excluded.updated_by,
			updated_on = excluded.updated_on
	`, s.config.CartsTable)
	_, err := tx.ExecContext(ctx, upsert,
		v.ID, v.OwnerID, v.Version, v.CreatedBy, formatTime(v.CreatedOn), v.UpdatedBy, formatTime(v.UpdatedOn))
	if err != nil {
		return fmt.Errorf("failed to put cart %s: %w", v.ID, err)
	}

	clearLines := fmt.Sprintf(`DELETE FROM %s WHERE cart_id = ?`, s.config.CartLinesTable)
	if _, err := tx.ExecContext(ctx, clearLines, v.ID); err != nil {
		return fmt.Errorf("failed to clear lines of cart %s: %w", v.ID, err)
	}

	insertLine := fmt.Sprintf(`
		INSERT INTO %s (cart_id, product_id, quantity) VALUES (?, ?, ?)
	`, s.config.CartLinesTable)
	for _, l := range v.Lines {
		if _, err := tx.ExecContext(ctx, insertLine, v.ID, l.ProductID, l.Quantity); err != nil {
			return fmt.Errorf("failed to insert line %s of cart %s: %w", l.ProductID, v.ID, err)
		}
	}
	return nil
}

// DeleteCart removes the cart row; its lines go by cascade.
func (s *SQLStore) DeleteCart(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.config.CartsTable)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete cart %s: %w", id, err)
	}
	return nil
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqlTimeFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
