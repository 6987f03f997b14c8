// Package repository declares the storage contracts the services depend on.
// Implementations live in the sqlite, postgres and redis subpackages.
package repository

import (
	"context"

	"github.com/sakif/docmeter/internal/model"
)

// CreditRepository stores one balance per user.
//
// Grant and Debit must each be a single atomic operation in the backing
// store. Implementations may not read the balance and then write it back in a
// separate round-trip. Every failure is returned as apperror.StorageUnavailable.
type CreditRepository interface {
	// GetBalance returns 0 when the user has no row.
	GetBalance(ctx context.Context, userID string) (int64, error)
	// Grant adds amount, creating the row if needed, and returns the new balance.
	Grant(ctx context.Context, userID string, amount int64) (int64, error)
	// Debit subtracts amount only if the balance covers it.
	Debit(ctx context.Context, userID string, amount int64) (model.DebitResult, error)
}

// UsageRepository appends audit records. It is never queried by this service.
type UsageRepository interface {
	InsertUsage(ctx context.Context, event *model.UsageEvent) error
}
