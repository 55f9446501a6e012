package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/models"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/pkg/dto"
)

type ClaimHandler struct {
	db *storage.PostgresStore
}

func NewClaimHandler(db *storage.PostgresStore) *ClaimHandler {
	return &ClaimHandler{db: db}
}

func claimResponse(c *models.Claim) dto.ClaimResponse {
	return dto.ClaimResponse{
		ID:         c.ID,
		PhotoID:    c.PhotoID,
		UserID:     c.UserID,
		Status:     string(c.Status),
		MatchScore: c.MatchScore,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ClaimHandler) Create(c *gin.Context) {
	var req dto.CreateClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Scores come from the match engine, which emits [0, 1] only.
	if req.MatchScore != nil && (*req.MatchScore < 0 || *req.MatchScore > 1) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match_score must be between 0 and 1"})
		return
	}

	photo, err := h.db.GetPhoto(c.Request.Context(), req.PhotoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil || photo.Status != models.PhotoStatusReady {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not available"})
		return
	}

	claim, err := h.db.CreateClaim(c.Request.Context(), req.PhotoID, req.UserID, req.MatchScore)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, claimResponse(claim))
}

func (h *ClaimHandler) Approve(c *gin.Context) {
	h.updateStatus(c, models.ClaimStatusApproved)
}

func (h *ClaimHandler) Reject(c *gin.Context) {
	h.updateStatus(c, models.ClaimStatusRejected)
}

func (h *ClaimHandler) updateStatus(c *gin.Context, status models.ClaimStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid claim id"})
		return
	}

	if err := h.db.UpdateClaimStatus(c.Request.Context(), id, status); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}

func (h *ClaimHandler) ListByUser(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	claims, err := h.db.ListUserClaims(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ClaimResponse, 0, len(claims))
	for i := range claims {
		resp = append(resp, claimResponse(&claims[i]))
	}

	c.JSON(http.StatusOK, gin.H{"claims": resp, "total": len(resp)})
}

func (h *ClaimHandler) ListByPhoto(c *gin.Context) {
	photoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	claims, err := h.db.ListPhotoClaims(c.Request.Context(), photoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ClaimResponse, 0, len(claims))
	for i := range claims {
		resp = append(resp, claimResponse(&claims[i]))
	}

	c.JSON(http.StatusOK, gin.H{"claims": resp, "total": len(resp)})
}
