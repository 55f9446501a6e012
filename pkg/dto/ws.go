package dto

import (
	"time"

	"github.com/google/uuid"
)

// WSStatusEvent is the photo lifecycle event pushed to WebSocket clients.
type WSStatusEvent struct {
	PhotoID    uuid.UUID  `json:"photo_id"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	UploaderID uuid.UUID  `json:"uploader_id"`
	Status     string     `json:"status"`
	FacesCount int        `json:"faces_count"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}
