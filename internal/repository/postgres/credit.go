package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

var (
	_ repository.CreditRepository = (*DB)(nil)
	_ repository.UsageRepository  = (*DB)(nil)
)

const (
	selectBalanceSQL = `SELECT credits FROM credit_balances WHERE user_id = $1`

	grantSQL = `INSERT INTO credit_balances (user_id, credits, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET credits = credit_balances.credits + EXCLUDED.credits, updated_at = NOW()
		WHERE credit_balances.credits <= 9223372036854775807 - EXCLUDED.credits
		RETURNING credits`

	debitSQL = `UPDATE credit_balances
		SET credits = credits - $2, updated_at = NOW()
		WHERE user_id = $1 AND credits >= $2
		RETURNING credits`

	insertUsageSQL = `INSERT INTO usage_events (id, user_id, org_id, endpoint, status_code, credits_consumed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

func (db *DB) GetBalance(ctx context.Context, userID string) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx, selectBalanceSQL, userID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperror.StorageUnavailable("get balance", err)
	}
	return credits, nil
}

// Grant is one upsert. The DO UPDATE guard skips a sum that would exceed
// BIGINT, which surfaces as no row and is reported as a validation error.
func (db *DB) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	var credits int64
	err := db.conn.QueryRowContext(ctx, grantSQL, userID, amount).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperror.ValidationFailed("amount", "grant would overflow the balance")
	}
	if err != nil {
		return 0, apperror.StorageUnavailable("grant", err)
	}
	return credits, nil
}

// Debit relies on Postgres re-evaluating the WHERE clause against the latest
// row version after acquiring the row lock, so two racing debits of the last
// credit cannot both match.
func (db *DB) Debit(ctx context.Context, userID string, amount int64) (model.DebitResult, error) {
	var remaining int64
	err := db.conn.QueryRowContext(ctx, debitSQL, userID, amount).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DebitResult{OK: false, Remaining: 0}, nil
	}
	if err != nil {
		return model.DebitResult{}, apperror.StorageUnavailable("debit", err)
	}
	return model.DebitResult{OK: true, Remaining: remaining}, nil
}

func (db *DB) InsertUsage(ctx context.Context, event *model.UsageEvent) error {
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, insertUsageSQL,
		event.ID,
		event.UserID,
		event.OrgID,
		event.Endpoint,
		event.StatusCode,
		event.CreditsConsumed,
		event.CreatedAt,
	)
	if err != nil {
		return apperror.StorageUnavailable("insert usage", err)
	}
	return nil
}
