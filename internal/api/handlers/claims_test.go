package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facefind/pkg/dto"
)

func TestCreateClaimRejectsOutOfRangeScore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// Validation runs before any database access, so no store is needed.
	r.POST("/claims", NewClaimHandler(nil).Create)

	for _, score := range []float32{-1, -0.001, 1.001, 7.5} {
		s := score
		body, err := json.Marshal(dto.CreateClaimRequest{
			PhotoID:    uuid.New(),
			UserID:     uuid.New(),
			MatchScore: &s,
		})
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/claims", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("match_score %v: status = %d, want 400", s, w.Code)
		}
	}
}
