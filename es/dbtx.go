package es

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by the relational adapters.
// It is implemented by both *sql.DB and *sql.Tx, so callers may run store
// operations inside a transaction they own.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxBeginner starts transactions. Implemented by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ DBTX       = (*sql.DB)(nil)
	_ DBTX       = (*sql.Tx)(nil)
	_ TxBeginner = (*sql.DB)(nil)
)
