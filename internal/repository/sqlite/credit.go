package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

// compile-time check that *DB implements repository.CreditRepository
var _ repository.CreditRepository = (*DB)(nil)

// GetBalance returns the user's credits, or 0 when no row exists yet.
func (db *DB) GetBalance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT credits FROM credit_balances WHERE user_id = ?`, userID,
	).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.StorageUnavailable("get balance", err)
	}
	return credits, nil
}

// Grant adds amount to the user's balance in one upsert statement.
//
// In the DO UPDATE clause the bare column name refers to the stored row and
// excluded.credits to the value being inserted, so concurrent grants add up
// instead of overwriting each other.
//
// SQLite promotes an overflowing integer sum to REAL instead of failing, so
// the update is guarded. A grant that would pass math.MaxInt64 leaves the row
// untouched and is reported as a validation error.
func (db *DB) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO credit_balances (user_id, credits, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE
		 SET credits = credits + excluded.credits, updated_at = excluded.updated_at
		 WHERE credit_balances.credits <= ? - excluded.credits
		 RETURNING credits`,
		userID,
		amount,
		time.Now().UTC(),
		int64(math.MaxInt64),
	).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.ValidationFailed("amount", "grant would overflow the balance")
	}
	if err != nil {
		return 0, apperror.StorageUnavailable("grant", err)
	}
	return credits, nil
}

// Debit subtracts amount only when the stored balance covers it.
//
// The balance check lives in the WHERE clause of the same UPDATE, so SQLite
// evaluates and applies it under one write lock. No row returned means the
// balance was short (or the row never existed) and nothing changed.
func (db *DB) Debit(ctx context.Context, userID string, amount int64) (model.DebitResult, error) {
	var remaining int64
	err := db.conn.QueryRowContext(ctx,
		`UPDATE credit_balances
		 SET credits = credits - ?, updated_at = ?
		 WHERE user_id = ? AND credits >= ?
		 RETURNING credits`,
		amount,
		time.Now().UTC(),
		userID,
		amount,
	).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DebitResult{OK: false, Remaining: 0}, nil
	}
	if err != nil {
		return model.DebitResult{}, apperror.StorageUnavailable("debit", err)
	}
	return model.DebitResult{OK: true, Remaining: remaining}, nil
}
