package dto

import (
	"github.com/google/uuid"
)

// PhotoResponse is the public view of a photo row.
type PhotoResponse struct {
	ID         uuid.UUID  `json:"id"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	UploaderID uuid.UUID  `json:"uploader_id"`
	Status     string     `json:"status"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	FacesCount int        `json:"faces_count"`
	CapturedAt string     `json:"captured_at,omitempty"`
	CreatedAt  string     `json:"created_at"`
	// Error carries the processing failure for failed photos.
	Error string `json:"error,omitempty"`
}

// UploadPhotoResponse acknowledges an upload before processing starts.
type UploadPhotoResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}
