package models

import (
	"time"

	"github.com/google/uuid"
)

type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
)

// Claim is a user's assertion of ownership over a matched photo.
// MatchScore is nil for manually created claims.
type Claim struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	PhotoID    uuid.UUID   `json:"photo_id" db:"photo_id"`
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	Status     ClaimStatus `json:"status" db:"status"`
	MatchScore *float32    `json:"match_score,omitempty" db:"match_score"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}
