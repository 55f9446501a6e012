package selfie

import (
	"context"
	"errors"
	"testing"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/vision"
)

type fakeExtractor struct {
	faces         []vision.Face
	extractErr    error
	scores        vision.LivenessScores
	livenessErr   error
	livenessCalls int
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte) ([]vision.Face, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.faces, nil
}

func (f *fakeExtractor) CheckLiveness(ctx context.Context, data []byte, box vision.Box) (vision.LivenessScores, error) {
	f.livenessCalls++
	if f.livenessErr != nil {
		return vision.LivenessScores{}, f.livenessErr
	}
	return f.scores, nil
}

func (f *fakeExtractor) EmbeddingDim() int { return 4 }

func goodFace() vision.Face {
	return vision.Face{
		Embedding:  []float32{1, 0, 0, 0},
		Box:        vision.Box{X: 0.2, Y: 0.2, W: 0.5, H: 0.5},
		Confidence: 0.95,
	}
}

func defaults() config.SelfieConfig {
	return config.SelfieConfig{MinConfidence: 0.6, MinRealScore: 0.5, MinLiveScore: 0.5}
}

func TestGateAccepts(t *testing.T) {
	ext := &fakeExtractor{
		faces:  []vision.Face{goodFace()},
		scores: vision.LivenessScores{Real: 0.9, Live: 0.8},
	}
	gate := NewGate(ext, defaults())

	res, err := gate.Validate(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("rejected: %s", res.Error)
	}
	if len(res.Embedding) != 4 {
		t.Errorf("embedding missing from accepted result")
	}
	if res.RealScore != 0.9 || res.LiveScore != 0.8 {
		t.Errorf("scores = %v/%v", res.RealScore, res.LiveScore)
	}
}

func TestGateRejectionOrder(t *testing.T) {
	lowConf := goodFace()
	lowConf.Confidence = 0.3

	badEmb := goodFace()
	badEmb.Embedding = []float32{1, 2} // wrong dimensionality

	noEmb := goodFace()
	noEmb.Embedding = nil

	tests := []struct {
		name   string
		faces  []vision.Face
		scores vision.LivenessScores
		want   string
	}{
		{"no face", nil, vision.LivenessScores{}, "no face detected"},
		{"multiple faces", []vision.Face{goodFace(), goodFace()}, vision.LivenessScores{}, "multiple faces detected"},
		// Two bad faces: the count check fires before any quality check.
		{"multiple low-quality faces", []vision.Face{lowConf, badEmb}, vision.LivenessScores{}, "multiple faces detected"},
		{"low confidence", []vision.Face{lowConf}, vision.LivenessScores{Real: 1, Live: 1}, "face not clearly visible"},
		{"bad embedding", []vision.Face{badEmb}, vision.LivenessScores{Real: 1, Live: 1}, "could not extract face features"},
		{"missing embedding", []vision.Face{noEmb}, vision.LivenessScores{Real: 1, Live: 1}, "could not extract face features"},
		{"spoof", []vision.Face{goodFace()}, vision.LivenessScores{Real: 0.2, Live: 1}, "appears fake/computer-generated"},
		{"not live", []vision.Face{goodFace()}, vision.LivenessScores{Real: 0.9, Live: 0.1}, "appears to be a recording/printout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := &fakeExtractor{faces: tt.faces, scores: tt.scores}
			gate := NewGate(ext, defaults())

			res, err := gate.Validate(context.Background(), []byte("img"))
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if res.IsValid {
				t.Fatal("expected rejection")
			}
			if res.Error != tt.want {
				t.Errorf("error = %q, want %q", res.Error, tt.want)
			}
			if res.Embedding != nil {
				t.Error("rejected result must not carry an embedding")
			}
		})
	}
}

func TestGateSkipsLivenessOnEarlyRejection(t *testing.T) {
	// Anti-spoof is expensive; pre-liveness rejections must not invoke it.
	ext := &fakeExtractor{faces: nil}
	gate := NewGate(ext, defaults())

	if _, err := gate.Validate(context.Background(), []byte("img")); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ext.livenessCalls != 0 {
		t.Errorf("liveness ran %d times on a no-face selfie, want 0", ext.livenessCalls)
	}
}

func TestGateSystemErrors(t *testing.T) {
	t.Run("extract failure", func(t *testing.T) {
		ext := &fakeExtractor{extractErr: errors.New("decode failed")}
		gate := NewGate(ext, defaults())
		if _, err := gate.Validate(context.Background(), []byte("img")); err == nil {
			t.Error("backend failure must be an error, not a rejection")
		}
	})
	t.Run("liveness failure", func(t *testing.T) {
		ext := &fakeExtractor{faces: []vision.Face{goodFace()}, livenessErr: errors.New("model gone")}
		gate := NewGate(ext, defaults())
		if _, err := gate.Validate(context.Background(), []byte("img")); err == nil {
			t.Error("liveness backend failure must be an error")
		}
	})
}
