package dto

import "github.com/google/uuid"

// CreateClaimRequest asserts ownership of a matched photo.
type CreateClaimRequest struct {
	PhotoID    uuid.UUID `json:"photo_id" binding:"required"`
	UserID     uuid.UUID `json:"user_id" binding:"required"`
	MatchScore *float32  `json:"match_score,omitempty"`
}

// ClaimResponse is the public view of a claim.
type ClaimResponse struct {
	ID         uuid.UUID `json:"id"`
	PhotoID    uuid.UUID `json:"photo_id"`
	UserID     uuid.UUID `json:"user_id"`
	Status     string    `json:"status"`
	MatchScore *float32  `json:"match_score,omitempty"`
	CreatedAt  string    `json:"created_at"`
}
