package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metricsgate/metricsgate/internal/plan"
)

// ErrNoScalar marks a validated query that produced no usable scalar. The
// renderer's COALESCE guarantees a row in normal operation, so hitting this
// means a rendering or schema mismatch, not a legitimate zero.
var ErrNoScalar = errors.New("query returned no scalar result")

// Executor runs rendered queries inside read-only transactions. Database
// failures are never retried here; after validation and parameterization a
// failing query is a structural bug and must fail loudly.
type Executor struct {
	db *sql.DB
}

func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// QueryScalar executes the rendered query and returns its single value. The
// transaction is opened read-only so the session itself rejects writes even
// if a hostile statement were to slip past the validator.
func (e *Executor) QueryScalar(ctx context.Context, rendered plan.Rendered) (int64, error) {
	if rendered.Text == "" {
		return 0, fmt.Errorf("%w: empty query", ErrNoScalar)
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var value sql.NullInt64
	if err := tx.QueryRowContext(ctx, rendered.Text, rendered.Args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: empty result set", ErrNoScalar)
		}
		return 0, fmt.Errorf("query scalar: %w", err)
	}
	if !value.Valid {
		return 0, fmt.Errorf("%w: null result", ErrNoScalar)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit read-only tx: %w", err)
	}
	return value.Int64, nil
}
