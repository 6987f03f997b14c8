package model

import "time"

// UsageEvent is an append-only audit record of one gated operation attempt.
type UsageEvent struct {
	ID              string    `json:"id"              db:"id"`
	UserID          string    `json:"userId"          db:"user_id"`
	OrgID           *string   `json:"orgId,omitempty" db:"org_id"`
	Endpoint        string    `json:"endpoint"        db:"endpoint"`
	StatusCode      int       `json:"statusCode"      db:"status_code"`
	CreditsConsumed int64     `json:"creditsConsumed" db:"credits_consumed"`
	CreatedAt       time.Time `json:"createdAt"       db:"created_at"`
}
