package models

import (
	"time"

	"github.com/google/uuid"
)

// PhotoEmbedding is one detected face inside one photo. Rows are append-only
// during ingestion and removed only by the photo's cascade delete.
type PhotoEmbedding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PhotoID   uuid.UUID `json:"photo_id" db:"photo_id"`
	Embedding []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// UserEmbedding is one registered reference face for one user. A user keeps
// history across selfie re-registrations; matching reads only active rows.
type UserEmbedding struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Embedding []float32 `json:"-" db:"embedding"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Candidate pairs a photo id with one of its face embeddings, forming the
// pool a find-me query is ranked against.
type Candidate struct {
	PhotoID   uuid.UUID
	Embedding []float32
}
