package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facefind/internal/config"
)

// Extractor is the process-wide handle over the face models. It is
// constructed once at startup and passed by reference; there is no hidden
// global model state. Init is idempotent and must complete before the first
// Extract or CheckLiveness call returns data.
type Extractor struct {
	cfg config.VisionConfig

	detector FaceDetector
	embedder FaceEmbedder
	attrs    AttrPredictor
	spoof    SpoofPredictor

	initOnce sync.Once
	initErr  error
	loadFn   func() error

	// sem bounds concurrent in-flight extractions so decoded-image buffers
	// cannot grow without bound under load.
	sem chan struct{}

	bufPool     sync.Pool
	outstanding atomic.Int64
}

// NewExtractor creates an extractor that loads ONNX models from
// cfg.ModelsDir on Init. The gender/age and anti-spoof models are optional;
// detection and embedding are not.
func NewExtractor(cfg config.VisionConfig) *Extractor {
	e := newExtractor(cfg)
	e.loadFn = func() error {
		detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
		embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")
		attrPath := filepath.Join(cfg.ModelsDir, "genderage.onnx")
		spoofPath := filepath.Join(cfg.ModelsDir, "minifas.onnx")

		slog.Info("loading detection model", "path", detPath)
		det, err := NewRetinaDetector(detPath, float32(cfg.DetectionThreshold), nil)
		if err != nil {
			return fmt.Errorf("load detector: %w", err)
		}

		slog.Info("loading embedding model", "path", embPath, "dim", cfg.EmbeddingDim)
		emb, err := NewArcFaceEmbedder(embPath, cfg.EmbeddingDim)
		if err != nil {
			det.Close()
			return fmt.Errorf("load embedder: %w", err)
		}

		attrs, err := NewGenderAgePredictor(attrPath)
		if err != nil {
			slog.Warn("attribute model unavailable, age/gender disabled", "error", err)
			attrs = nil
		}

		spoof, err := NewMiniFASPredictor(spoofPath)
		if err != nil {
			slog.Warn("antispoof model unavailable, selfie liveness disabled", "error", err)
			spoof = nil
		}

		e.detector = det
		e.embedder = emb
		if attrs != nil {
			e.attrs = attrs
		}
		if spoof != nil {
			e.spoof = spoof
		}
		slog.Info("extractor ready")
		return nil
	}
	return e
}

// NewExtractorWithBackends wires pre-built backends, bypassing model
// loading. Used for tests and alternative numeric backends.
func NewExtractorWithBackends(cfg config.VisionConfig, det FaceDetector, emb FaceEmbedder, attrs AttrPredictor, spoof SpoofPredictor) *Extractor {
	e := newExtractor(cfg)
	e.detector = det
	e.embedder = emb
	e.attrs = attrs
	e.spoof = spoof
	return e
}

func newExtractor(cfg config.VisionConfig) *Extractor {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 4
	}
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = 512
	}
	return &Extractor{
		cfg: cfg,
		sem: make(chan struct{}, maxConc),
	}
}

// Init loads the models. Calling it repeatedly is safe and has the same
// observable effect as calling it once.
func (e *Extractor) Init(ctx context.Context) error {
	e.initOnce.Do(func() {
		if e.loadFn != nil {
			e.initErr = e.loadFn()
		} else if e.detector == nil || e.embedder == nil {
			e.initErr = fmt.Errorf("extractor has no detection/embedding backend")
		}
	})
	if e.initErr != nil {
		return e.initErr
	}
	return ctx.Err()
}

// EmbeddingDim returns the configured embedding dimensionality.
func (e *Extractor) EmbeddingDim() int {
	return e.cfg.EmbeddingDim
}

// HasLiveness reports whether the anti-spoof backend is available.
func (e *Extractor) HasLiveness() bool {
	return e.spoof != nil
}

// OutstandingBuffers returns the number of pixel buffers currently checked
// out of the pool. It is zero between calls unless a buffer leaked.
func (e *Extractor) OutstandingBuffers() int64 {
	return e.outstanding.Load()
}

// Extract decodes an image and returns every detected face with its
// embedding. Zero faces is a normal empty result, not an error. Faces whose
// embedding does not match the configured dimensionality are dropped.
func (e *Extractor) Extract(ctx context.Context, data []byte) ([]Face, error) {
	if err := e.Init(ctx); err != nil {
		return nil, err
	}
	if err := e.acquireSlot(ctx); err != nil {
		return nil, err
	}
	defer e.releaseSlot()

	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	origW := img.Bounds().Dx()
	origH := img.Bounds().Dy()

	dw, dh := e.detector.InputSize()
	detBuf := e.acquireBuf(3 * dw * dh)
	defer e.releaseBuf(detBuf)
	preprocessForDetection(img, dw, dh, detBuf)

	detections, err := e.detector.Detect(detBuf, origW, origH)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	faces := make([]Face, 0, len(detections))
	for _, det := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		crop := cropFace(img, det.BBox)
		if crop == nil {
			continue
		}

		embedding, err := e.embedFace(crop)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		if len(embedding) != e.cfg.EmbeddingDim {
			// Backend anomaly; drop the face rather than poison the store.
			slog.Debug("dropping face with unexpected embedding size",
				"got", len(embedding), "want", e.cfg.EmbeddingDim)
			continue
		}

		face := Face{
			Embedding:  embedding,
			Box:        normalizeBox(det.BBox, origW, origH),
			Confidence: det.Confidence,
		}
		e.predictAttributes(crop, &face)
		faces = append(faces, face)
	}

	return faces, nil
}

// CheckLiveness runs the anti-spoof model on the face at box. It is the
// expensive path reserved for selfie validation.
func (e *Extractor) CheckLiveness(ctx context.Context, data []byte, box Box) (LivenessScores, error) {
	if err := e.Init(ctx); err != nil {
		return LivenessScores{}, err
	}
	if e.spoof == nil {
		return LivenessScores{}, fmt.Errorf("antispoof model not loaded")
	}
	if err := e.acquireSlot(ctx); err != nil {
		return LivenessScores{}, err
	}
	defer e.releaseSlot()

	img, err := decodeImage(data)
	if err != nil {
		return LivenessScores{}, fmt.Errorf("decode image: %w", err)
	}

	crop := cropFace(img, denormalizeBox(box, img.Bounds().Dx(), img.Bounds().Dy()))
	if crop == nil {
		return LivenessScores{}, fmt.Errorf("face box outside image bounds")
	}

	sw, sh := e.spoof.InputSize()
	buf := e.acquireBuf(3 * sw * sh)
	defer e.releaseBuf(buf)
	preprocessForAntispoof(crop, sw, sh, buf)

	scores, err := e.spoof.Predict(buf)
	if err != nil {
		return LivenessScores{}, fmt.Errorf("antispoof: %w", err)
	}
	return scores, nil
}

func (e *Extractor) embedFace(crop image.Image) ([]float32, error) {
	ew, eh := e.embedder.InputSize()
	buf := e.acquireBuf(3 * ew * eh)
	defer e.releaseBuf(buf)
	preprocessForEmbedding(crop, ew, eh, buf)
	return e.embedder.Embed(buf)
}

func (e *Extractor) predictAttributes(crop image.Image, face *Face) {
	if e.attrs == nil {
		return
	}
	aw, ah := e.attrs.InputSize()
	buf := e.acquireBuf(3 * aw * ah)
	defer e.releaseBuf(buf)
	preprocessForAttributes(crop, aw, ah, buf)

	ga, err := e.attrs.Predict(buf)
	if err != nil {
		slog.Debug("attribute prediction failed", "error", err)
		return
	}
	face.Age = ga.Age
	face.HasAge = true
	face.Gender = ga.Gender
	face.GenderConfidence = ga.GenderConfidence
	face.HasGender = true
}

// Close releases all backend sessions.
func (e *Extractor) Close() {
	if e.detector != nil {
		e.detector.Close()
	}
	if e.embedder != nil {
		e.embedder.Close()
	}
	if e.attrs != nil {
		e.attrs.Close()
	}
	if e.spoof != nil {
		e.spoof.Close()
	}
}

func (e *Extractor) acquireSlot(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Extractor) releaseSlot() {
	<-e.sem
}

func (e *Extractor) acquireBuf(n int) []float32 {
	e.outstanding.Add(1)
	if v := e.bufPool.Get(); v != nil {
		buf := v.([]float32)
		if cap(buf) >= n {
			return buf[:n]
		}
	}
	return make([]float32, n)
}

func (e *Extractor) releaseBuf(buf []float32) {
	e.outstanding.Add(-1)
	e.bufPool.Put(buf) //nolint:staticcheck // slice reuse is the point
}

// InitONNXRuntime initializes the shared ONNX Runtime environment. Safe to
// call before constructing extractors; pair with DestroyONNXRuntime.
func InitONNXRuntime() error {
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

// DestroyONNXRuntime tears down the shared environment.
func DestroyONNXRuntime() {
	_ = ort.DestroyEnvironment()
}

// onnxLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

// --- Image helpers ---

func decodeImage(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	img, _, err = image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

func preprocessForDetection(img image.Image, targetW, targetH int, out []float32) {
	imageToCHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0}, out)
}

func preprocessForEmbedding(img image.Image, targetW, targetH int, out []float32) {
	imageToCHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}, out)
}

func preprocessForAttributes(img image.Image, targetW, targetH int, out []float32) {
	imageToCHW(img, targetW, targetH, [3]float32{0, 0, 0}, [3]float32{1, 1, 1}, out)
}

func preprocessForAntispoof(img image.Image, targetW, targetH int, out []float32) {
	imageToCHW(img, targetW, targetH, [3]float32{0, 0, 0}, [3]float32{255, 255, 255}, out)
}

// imageToCHW converts an image to CHW float32 layout with normalization:
//
//	pixel = (pixel - mean) / std
//
// The result is written into out, which must hold 3*targetH*targetW values.
func imageToCHW(img image.Image, targetW, targetH int, mean, std [3]float32, out []float32) {
	resized := resizeNearest(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			out[0*h*w+idx] = (rf - mean[0]) / std[0]
			out[1*h*w+idx] = (gf - mean[1]) / std[1]
			out[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}
}

// resizeNearest performs nearest-neighbour resize (fast, good enough for
// model input; display derivatives use proper filtering in imaging).
func resizeNearest(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	if srcW == targetW && srcH == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// cropFace extracts a face region with 10% padding on each side.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1 := int(bbox[0])
	y1 := int(bbox[1])
	x2 := int(bbox[2])
	y2 := int(bbox[3])

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW := int(float32(w) * 0.1)
	padH := int(float32(h) * 0.1)
	x1 -= padW
	y1 -= padH
	x2 += padW
	y2 += padH

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

func normalizeBox(bbox [4]float32, origW, origH int) Box {
	w := float32(origW)
	h := float32(origH)
	if w <= 0 || h <= 0 {
		return Box{}
	}
	return Box{
		X: clampF(bbox[0]/w, 0, 1),
		Y: clampF(bbox[1]/h, 0, 1),
		W: clampF((bbox[2]-bbox[0])/w, 0, 1),
		H: clampF((bbox[3]-bbox[1])/h, 0, 1),
	}
}

func denormalizeBox(box Box, origW, origH int) [4]float32 {
	w := float32(origW)
	h := float32(origH)
	return [4]float32{
		box.X * w,
		box.Y * h,
		(box.X + box.W) * w,
		(box.Y + box.H) * h,
	}
}
