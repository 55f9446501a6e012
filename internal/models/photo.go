package models

import (
	"time"

	"github.com/google/uuid"
)

type PhotoStatus string

const (
	PhotoStatusPending    PhotoStatus = "pending"
	PhotoStatusProcessing PhotoStatus = "processing"
	PhotoStatusReady      PhotoStatus = "ready"
	PhotoStatusFailed     PhotoStatus = "failed"
	PhotoStatusHidden     PhotoStatus = "hidden"
	PhotoStatusDeleted    PhotoStatus = "deleted"
)

type Photo struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	EventID         *uuid.UUID  `json:"event_id,omitempty" db:"event_id"`
	UploaderID      uuid.UUID   `json:"uploader_id" db:"uploader_id"`
	RawKey          string      `json:"raw_key" db:"raw_key"`
	DisplayKey      string      `json:"display_key,omitempty" db:"display_key"`
	Width           int         `json:"width" db:"width"`
	Height          int         `json:"height" db:"height"`
	CapturedAt      *time.Time  `json:"captured_at,omitempty" db:"captured_at"`
	Status          PhotoStatus `json:"status" db:"status"`
	RetryCount      int         `json:"retry_count" db:"retry_count"`
	ProcessingError string      `json:"processing_error,omitempty" db:"processing_error"`
	FacesCount      int         `json:"faces_count" db:"faces_count"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// PhotoTask is the message published to NATS for worker processing.
type PhotoTask struct {
	PhotoID uuid.UUID  `json:"photo_id"`
	RawKey  string     `json:"raw_key"`
	EventID *uuid.UUID `json:"event_id,omitempty"`
}

// StatusEvent is published when the pipeline moves a photo between states.
type StatusEvent struct {
	PhotoID    uuid.UUID   `json:"photo_id"`
	EventID    *uuid.UUID  `json:"event_id,omitempty"`
	UploaderID uuid.UUID   `json:"uploader_id"`
	Status     PhotoStatus `json:"status"`
	FacesCount int         `json:"faces_count"`
	Error      string      `json:"error,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
