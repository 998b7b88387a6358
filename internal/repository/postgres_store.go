package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-ops-approvals/internal/platform/database"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/errors"
)

// PostgresStore implements Store on PostgreSQL. Each repository file in this
// package contributes the pgTx methods for one table.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn in one database transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// notFoundOr maps pgx.ErrNoRows to a not-found error and wraps anything else.
func notFoundOr(err error, resource, id, msg string) error {
	if err == pgx.ErrNoRows {
		return errors.NotFound(resource, id)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

// expectOne turns a zero-row update into a not-found or conflict error.
func (t *pgTx) expectOne(ctx context.Context, tag pgconn.CommandTag, table, resource, id string) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := t.tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check "+resource)
	}
	if !exists {
		return errors.NotFound(resource, id)
	}
	return errors.Conflict(resource, id)
}
