package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/match"
	"github.com/your-org/facefind/internal/observability"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/pkg/dto"
)

type MatchHandler struct {
	db  *storage.PostgresStore
	cfg config.MatchConfig
}

func NewMatchHandler(db *storage.PostgresStore, cfg config.MatchConfig) *MatchHandler {
	return &MatchHandler{db: db, cfg: cfg}
}

// FindMe ranks the event's ready photos against the user's active reference
// embeddings. Requires a registered selfie; an empty match list is a normal
// outcome, not an error.
func (h *MatchHandler) FindMe(c *gin.Context) {
	var req dto.FindMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queries, err := h.db.ActiveUserEmbeddings(c.Request.Context(), req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(queries) == 0 {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "no registered selfie for user"})
		return
	}

	candidates, err := h.db.CandidatePhotoEmbeddings(c.Request.Context(), req.EventID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	observability.MatchQueries.Inc()

	results := match.Dedupe(match.RankBest(queries, candidates, h.cfg.Threshold))

	limit := req.Limit
	if limit <= 0 || limit > h.cfg.Limit {
		limit = h.cfg.Limit
	}
	if len(results) > limit {
		results = results[:limit]
	}

	matches := make([]dto.MatchResult, 0, len(results))
	for _, r := range results {
		matches = append(matches, dto.MatchResult{PhotoID: r.PhotoID, Score: r.Score})
	}

	c.JSON(http.StatusOK, gin.H{"matches": matches, "total": len(matches)})
}
