package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/selfie"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/pkg/dto"
)

// SelfieGate validates reference selfies before registration.
type SelfieGate interface {
	Validate(ctx context.Context, data []byte) (*selfie.Result, error)
}

type SelfieHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	gate  SelfieGate
}

func NewSelfieHandler(db *storage.PostgresStore, minio *storage.MinIOStore, gate SelfieGate) *SelfieHandler {
	return &SelfieHandler{db: db, minio: minio, gate: gate}
}

// Register accepts a selfie upload, runs the validation gate and, if it
// passes, replaces the user's active reference embedding. A rejected selfie
// is a 200 with is_valid false: the reason is for the user, not an API error.
func (h *SelfieHandler) Register(c *gin.Context) {
	userID, err := uuid.Parse(c.PostForm("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	if h.gate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "selfie validation not available"})
		return
	}

	result, err := h.gate.Validate(c.Request.Context(), imageData)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "selfie validation failed"})
		return
	}

	if !result.IsValid {
		c.JSON(http.StatusOK, dto.SelfieResponse{IsValid: false, Error: result.Error})
		return
	}

	if _, err := h.db.ReplaceActiveUserEmbedding(c.Request.Context(), userID, result.Embedding); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Keep the selfie for audit; registration already succeeded, so a
	// storage hiccup here only costs the audit copy.
	key := storage.SelfiePrefix + userID.String()
	if err := h.minio.PutObject(c.Request.Context(), key, imageData, c.ContentType()); err != nil {
		slog.Warn("store selfie audit copy", "user_id", userID, "error", err)
	}

	c.JSON(http.StatusOK, dto.SelfieResponse{
		IsValid:   true,
		RealScore: result.RealScore,
		LiveScore: result.LiveScore,
	})
}
