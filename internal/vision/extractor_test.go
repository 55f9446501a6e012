package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/your-org/facefind/internal/config"
)

type fakeDetector struct {
	detections []Detection
	err        error
	calls      int
}

func (f *fakeDetector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}
func (f *fakeDetector) InputSize() (int, int) { return 64, 64 }
func (f *fakeDetector) Close()                {}

type fakeEmbedder struct {
	dim     int
	baddim  int // when > 0, emit vectors of this wrong size instead
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(input []float32) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	n := f.dim
	if f.baddim > 0 {
		n = f.baddim
	}
	v := make([]float32, n)
	v[0] = 1
	return v, nil
}
func (f *fakeEmbedder) InputSize() (int, int) { return 16, 16 }
func (f *fakeEmbedder) Dim() int              { return f.dim }
func (f *fakeEmbedder) Close()                {}

type fakeSpoof struct {
	scores LivenessScores
	err    error
}

func (f *fakeSpoof) Predict(input []float32) (LivenessScores, error) {
	if f.err != nil {
		return LivenessScores{}, f.err
	}
	return f.scores, nil
}
func (f *fakeSpoof) InputSize() (int, int) { return 8, 8 }
func (f *fakeSpoof) Close()                {}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func detections(n int) []Detection {
	out := make([]Detection, n)
	for i := range out {
		out[i] = Detection{
			BBox:       [4]float32{float32(10 * i), 10, float32(10*i + 20), 40},
			Confidence: 0.9,
		}
	}
	return out
}

func newTestExtractor(det FaceDetector, emb FaceEmbedder, spoof SpoofPredictor) *Extractor {
	cfg := config.VisionConfig{EmbeddingDim: 4, MaxConcurrent: 2}
	return NewExtractorWithBackends(cfg, det, emb, nil, spoof)
}

func TestExtractReturnsTypedFaces(t *testing.T) {
	e := newTestExtractor(&fakeDetector{detections: detections(3)}, &fakeEmbedder{dim: 4}, nil)

	faces, err := e.Extract(context.Background(), testJPEG(t, 200, 100))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(faces) != 3 {
		t.Fatalf("got %d faces, want 3", len(faces))
	}
	for _, f := range faces {
		if len(f.Embedding) != 4 {
			t.Errorf("embedding dim %d, want 4", len(f.Embedding))
		}
		if f.Box.X < 0 || f.Box.X > 1 || f.Box.W <= 0 || f.Box.W > 1 {
			t.Errorf("box not normalized: %+v", f.Box)
		}
		if f.HasAge || f.HasGender {
			t.Errorf("no attribute backend, presence flags must stay false")
		}
	}
}

func TestExtractZeroFacesIsNotError(t *testing.T) {
	e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, nil)

	faces, err := e.Extract(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("zero faces must not error: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("got %d faces, want 0", len(faces))
	}
}

func TestExtractDropsWrongDimensionality(t *testing.T) {
	e := newTestExtractor(&fakeDetector{detections: detections(2)}, &fakeEmbedder{dim: 4, baddim: 7}, nil)

	faces, err := e.Extract(context.Background(), testJPEG(t, 100, 100))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(faces) != 0 {
		t.Errorf("wrong-dim faces must be dropped silently, got %d", len(faces))
	}
}

func TestExtractHardFailures(t *testing.T) {
	t.Run("undecodable image", func(t *testing.T) {
		e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, nil)
		if _, err := e.Extract(context.Background(), []byte("garbage")); err == nil {
			t.Error("corrupt input must be a hard failure")
		}
	})
	t.Run("detector error", func(t *testing.T) {
		e := newTestExtractor(&fakeDetector{err: errors.New("backend down")}, &fakeEmbedder{dim: 4}, nil)
		if _, err := e.Extract(context.Background(), testJPEG(t, 50, 50)); err == nil {
			t.Error("detector failure must propagate")
		}
	})
	t.Run("embedder error", func(t *testing.T) {
		e := newTestExtractor(&fakeDetector{detections: detections(1)}, &fakeEmbedder{dim: 4, err: errors.New("boom")}, nil)
		if _, err := e.Extract(context.Background(), testJPEG(t, 50, 50)); err == nil {
			t.Error("embedder failure must propagate")
		}
	})
}

func TestExtractBufferLeakBound(t *testing.T) {
	det := &fakeDetector{detections: detections(4)}
	emb := &fakeEmbedder{dim: 4}
	e := newTestExtractor(det, emb, nil)

	img := testJPEG(t, 300, 200)
	const n = 50
	for i := 0; i < n; i++ {
		if _, err := e.Extract(context.Background(), img); err != nil {
			t.Fatalf("extract %d: %v", i, err)
		}
	}
	// Interleave failures; error paths must release buffers too.
	emb.err = errors.New("boom")
	for i := 0; i < n; i++ {
		_, _ = e.Extract(context.Background(), img)
	}
	if out := e.OutstandingBuffers(); out != 0 {
		t.Errorf("outstanding buffers after %d extractions = %d, want 0", 2*n, out)
	}
}

func TestInitIdempotent(t *testing.T) {
	loads := 0
	e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, nil)
	e.loadFn = func() error {
		loads++
		return nil
	}

	for i := 0; i < 5; i++ {
		if err := e.Init(context.Background()); err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
	}
	if loads != 1 {
		t.Errorf("loadFn ran %d times, want 1", loads)
	}
}

func TestInitFailureSticks(t *testing.T) {
	e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, nil)
	e.loadFn = func() error { return fmt.Errorf("no model file") }

	err1 := e.Init(context.Background())
	err2 := e.Init(context.Background())
	if err1 == nil || err2 == nil {
		t.Fatal("failed init must keep failing, not silently recover")
	}
	if err1.Error() != err2.Error() {
		t.Errorf("init errors differ across calls: %v vs %v", err1, err2)
	}
}

func TestCheckLiveness(t *testing.T) {
	spoof := &fakeSpoof{scores: LivenessScores{Real: 0.9, Live: 0.8}}
	e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, spoof)

	scores, err := e.CheckLiveness(context.Background(), testJPEG(t, 100, 100), Box{X: 0.1, Y: 0.1, W: 0.5, H: 0.5})
	if err != nil {
		t.Fatalf("liveness: %v", err)
	}
	if scores.Real != 0.9 || scores.Live != 0.8 {
		t.Errorf("scores = %+v", scores)
	}
	if out := e.OutstandingBuffers(); out != 0 {
		t.Errorf("outstanding buffers = %d, want 0", out)
	}
}

func TestCheckLivenessWithoutBackend(t *testing.T) {
	e := newTestExtractor(&fakeDetector{}, &fakeEmbedder{dim: 4}, nil)
	if _, err := e.CheckLiveness(context.Background(), testJPEG(t, 50, 50), Box{W: 1, H: 1}); err == nil {
		t.Error("missing antispoof backend must surface an error")
	}
}

func TestExtractRespectsCancelledContext(t *testing.T) {
	e := newTestExtractor(&fakeDetector{detections: detections(1)}, &fakeEmbedder{dim: 4}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Extract(ctx, testJPEG(t, 50, 50)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if out := e.OutstandingBuffers(); out != 0 {
		t.Errorf("outstanding buffers = %d, want 0", out)
	}
}
