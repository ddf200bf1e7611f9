// Package pgxstore implements the graph store on PostgreSQL. All upserts are
// single conditional writes (INSERT ... ON CONFLICT DO UPDATE) keyed by the
// natural keys, which is what keeps concurrent workers from racing to create
// duplicate rows.
package pgxstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store provides graph, source and job persistence on a pgx connection pool.
type Store struct {
	conn pgxIConn
}

// New creates a Store using an existing pgx connection or pool.
func New(conn pgxIConn) *Store {
	return &Store{conn: conn}
}
