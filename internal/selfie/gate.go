package selfie

import (
	"context"
	"fmt"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/observability"
	"github.com/your-org/facefind/internal/vision"
)

// Extractor is the slice of the vision handle the gate needs.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]vision.Face, error)
	CheckLiveness(ctx context.Context, data []byte, box vision.Box) (vision.LivenessScores, error)
	EmbeddingDim() int
}

// Rejection messages are user-facing; callers show them verbatim and
// re-prompt. They never indicate a system fault.
const (
	reasonNoFace        = "no face detected"
	reasonMultipleFaces = "multiple faces detected"
	reasonLowConfidence = "face not clearly visible"
	reasonBadEmbedding  = "could not extract face features"
	reasonSpoof         = "appears fake/computer-generated"
	reasonNotLive       = "appears to be a recording/printout"
)

// Result is the outcome of validating one selfie. When IsValid is false,
// Error holds the first failed check's reason and Embedding is nil.
type Result struct {
	IsValid   bool      `json:"is_valid"`
	Error     string    `json:"error,omitempty"`
	Embedding []float32 `json:"-"`
	RealScore float32   `json:"real_score,omitempty"`
	LiveScore float32   `json:"live_score,omitempty"`
}

// Gate validates a reference selfie before it becomes a user's active
// embedding. The checks form a strict ordered sequence: the first violation
// short-circuits and is the only one reported.
type Gate struct {
	extractor Extractor
	cfg       config.SelfieConfig
}

func NewGate(extractor Extractor, cfg config.SelfieConfig) *Gate {
	return &Gate{extractor: extractor, cfg: cfg}
}

// Validate runs the gate. Extraction or backend errors are returned as
// errors (system faults); quality rejections come back in Result.
func (g *Gate) Validate(ctx context.Context, data []byte) (*Result, error) {
	faces, err := g.extractor.Extract(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extract selfie: %w", err)
	}

	if len(faces) == 0 {
		return g.reject(reasonNoFace), nil
	}
	if len(faces) > 1 {
		return g.reject(reasonMultipleFaces), nil
	}

	face := faces[0]
	if float64(face.Confidence) < g.cfg.MinConfidence {
		return g.reject(reasonLowConfidence), nil
	}
	if len(face.Embedding) != g.extractor.EmbeddingDim() {
		return g.reject(reasonBadEmbedding), nil
	}

	// Anti-spoof runs last: it is the expensive check and only this path
	// pays for it.
	scores, err := g.extractor.CheckLiveness(ctx, data, face.Box)
	if err != nil {
		return nil, fmt.Errorf("liveness check: %w", err)
	}
	if float64(scores.Real) < g.cfg.MinRealScore {
		return g.reject(reasonSpoof), nil
	}
	if float64(scores.Live) < g.cfg.MinLiveScore {
		return g.reject(reasonNotLive), nil
	}

	return &Result{
		IsValid:   true,
		Embedding: face.Embedding,
		RealScore: scores.Real,
		LiveScore: scores.Live,
	}, nil
}

func (g *Gate) reject(reason string) *Result {
	observability.SelfieRejections.WithLabelValues(reason).Inc()
	return &Result{IsValid: false, Error: reason}
}
