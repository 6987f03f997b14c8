package sqlite

import (
	"context"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/docmeter/internal/apperror"
	"github.com/sakif/docmeter/internal/model"
	"github.com/sakif/docmeter/internal/repository"
)

var _ repository.UsageRepository = (*DB)(nil)

// InsertUsage appends one usage event, filling in ID and CreatedAt when unset.
func (db *DB) InsertUsage(ctx context.Context, event *model.UsageEvent) error {
	if event.ID == "" {
		event.ID = xid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO usage_events (id, user_id, org_id, endpoint, status_code, credits_consumed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
