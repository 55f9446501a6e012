package dto

import "github.com/google/uuid"

// FindMeRequest asks for the photos a user appears in.
type FindMeRequest struct {
	UserID  uuid.UUID  `json:"user_id" binding:"required"`
	EventID *uuid.UUID `json:"event_id,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// MatchResult is one photo the user likely appears in.
type MatchResult struct {
	PhotoID uuid.UUID `json:"photo_id"`
	Score   float64   `json:"score"`
}
