package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/imaging"
	"github.com/your-org/facefind/internal/models"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/internal/vision"
)

type fakeStore struct {
	mu         sync.Mutex
	photo      *models.Photo
	embeddings [][]float32
	calls      []string
}

func (s *fakeStore) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *fakeStore) ClaimPhotoForProcessing(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("claim")
	if s.photo == nil || s.photo.ID != id || s.photo.Status != models.PhotoStatusPending {
		return nil, nil
	}
	s.photo.Status = models.PhotoStatusProcessing
	cp := *s.photo
	return &cp, nil
}

func (s *fakeStore) MarkPhotoReady(ctx context.Context, id uuid.UUID, displayKey string, width, height, facesCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ready")
	if s.photo.Status != models.PhotoStatusProcessing {
		return errors.New("not processing")
	}
	s.photo.Status = models.PhotoStatusReady
	s.photo.DisplayKey = displayKey
	s.photo.Width = width
	s.photo.Height = height
	s.photo.FacesCount = facesCount
	s.photo.ProcessingError = ""
	return nil
}

func (s *fakeStore) MarkPhotoFailed(ctx context.Context, id uuid.UUID, procErr string, maxRetries int) (models.PhotoStatus, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("failed")
	s.photo.RetryCount++
	s.photo.ProcessingError = procErr
	if s.photo.RetryCount >= maxRetries {
		s.photo.Status = models.PhotoStatusFailed
	} else {
		s.photo.Status = models.PhotoStatusPending
	}
	return s.photo.Status, s.photo.RetryCount, nil
}

func (s *fakeStore) AddPhotoEmbeddings(ctx context.Context, photoID uuid.UUID, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("embeddings")
	s.embeddings = append(s.embeddings, embeddings...)
	return nil
}

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func (b *fakeBlobs) GetObject(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	return b.objects[key], nil
}

func (b *fakeBlobs) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = data
	return nil
}

type fakeExtractor struct {
	faces []vision.Face
	err   error
}

func (e *fakeExtractor) Extract(ctx context.Context, data []byte) ([]vision.Face, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.faces, nil
}

type fakePublisher struct {
	mu          sync.Mutex
	republished []models.PhotoTask
	statuses    []models.StatusEvent
}

func (p *fakePublisher) RepublishPhotoTask(ctx context.Context, task models.PhotoTask, attempt int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.republished = append(p.republished, task)
	return nil
}

func (p *fakePublisher) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)
	return nil
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func faces(n int) []vision.Face {
	out := make([]vision.Face, n)
	for i := range out {
		out[i] = vision.Face{
			Embedding:  []float32{float32(i), 1, 0, 0},
			Box:        vision.Box{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
			Confidence: 0.9,
		}
	}
	return out
}

func newFixture(t *testing.T, ext *fakeExtractor) (*Pipeline, *fakeStore, *fakeBlobs, *fakePublisher, models.PhotoTask) {
	t.Helper()
	photoID := uuid.New()
	store := &fakeStore{photo: &models.Photo{
		ID:         photoID,
		UploaderID: uuid.New(),
		RawKey:     storage.RawKey(photoID),
		Status:     models.PhotoStatusPending,
	}}
	blobs := &fakeBlobs{objects: map[string][]byte{
		storage.RawKey(photoID): testJPEG(t, 320, 240),
	}}
	pub := &fakePublisher{}
	p := NewPipeline(store, blobs, ext, pub,
		config.IngestConfig{MaxRetries: 3, ExtractTimeout: 30 * time.Second, TransformTimeout: 30 * time.Second},
		config.TransformConfig{TargetHeight: 120, JPEGQuality: 80, WatermarkText: "test"})
	task := models.PhotoTask{PhotoID: photoID, RawKey: storage.RawKey(photoID)}
	return p, store, blobs, pub, task
}

func TestProcessHappyPath(t *testing.T) {
	p, store, blobs, pub, task := newFixture(t, &fakeExtractor{faces: faces(4)})

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.photo.Status != models.PhotoStatusReady {
		t.Fatalf("status = %s, want ready", store.photo.Status)
	}
	if store.photo.FacesCount != 4 {
		t.Errorf("faces_count = %d, want 4", store.photo.FacesCount)
	}
	if len(store.embeddings) != 4 {
		t.Errorf("stored %d embeddings, want 4", len(store.embeddings))
	}
	if _, ok := blobs.objects[storage.DisplayKey(task.PhotoID)]; !ok {
		t.Error("display derivative not stored")
	}
	if store.photo.Width == 0 || store.photo.Height != 120 {
		t.Errorf("dimensions = %dx%d, want height 120", store.photo.Width, store.photo.Height)
	}
	if len(pub.statuses) != 1 || pub.statuses[0].Status != models.PhotoStatusReady {
		t.Errorf("status events = %+v, want one ready", pub.statuses)
	}
}

func TestProcessZeroFacesStillReady(t *testing.T) {
	p, store, _, _, task := newFixture(t, &fakeExtractor{})

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.photo.Status != models.PhotoStatusReady {
		t.Fatalf("status = %s, want ready", store.photo.Status)
	}
	if store.photo.FacesCount != 0 {
		t.Errorf("faces_count = %d, want 0", store.photo.FacesCount)
	}
	if len(store.embeddings) != 0 {
		t.Errorf("stored %d embeddings, want 0", len(store.embeddings))
	}
}

func TestProcessReadyIsLastWrite(t *testing.T) {
	p, store, _, _, task := newFixture(t, &fakeExtractor{faces: faces(2)})

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	last := store.calls[len(store.calls)-1]
	if last != "ready" {
		t.Errorf("last store call = %s, want ready", last)
	}
	for i, call := range store.calls {
		if call == "ready" {
			for _, before := range store.calls[:i] {
				if before == "embeddings" {
					return
				}
			}
			t.Error("embeddings were not stored before the ready flip")
		}
	}
}

func TestProcessCorruptImageFailsAfterRetries(t *testing.T) {
	p, store, blobs, _, task := newFixture(t, &fakeExtractor{err: errors.New("undecodable")})
	blobs.objects[task.RawKey] = []byte("not an image")

	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), task); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	if store.photo.Status != models.PhotoStatusFailed {
		t.Fatalf("status = %s, want failed", store.photo.Status)
	}
	if store.photo.RetryCount != 3 {
		t.Errorf("retry_count = %d, want the full budget", store.photo.RetryCount)
	}
	if store.photo.ProcessingError == "" {
		t.Error("processing_error not recorded")
	}
}

func TestProcessRetryableFailureRequeues(t *testing.T) {
	p, store, _, pub, task := newFixture(t, &fakeExtractor{err: errors.New("backend down")})

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.photo.Status != models.PhotoStatusPending {
		t.Fatalf("status = %s, want pending for requeue", store.photo.Status)
	}
	if store.photo.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", store.photo.RetryCount)
	}
	if len(pub.republished) != 1 {
		t.Fatalf("republished %d tasks, want 1", len(pub.republished))
	}
	if pub.republished[0].PhotoID != task.PhotoID {
		t.Errorf("republished wrong task: %+v", pub.republished[0])
	}
}

func TestProcessExhaustsRetryBudget(t *testing.T) {
	p, store, _, pub, task := newFixture(t, &fakeExtractor{err: errors.New("backend down")})

	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), task); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}

	if store.photo.Status != models.PhotoStatusFailed {
		t.Fatalf("status = %s, want failed after budget spent", store.photo.Status)
	}
	if store.photo.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", store.photo.RetryCount)
	}
	if !strings.Contains(store.photo.ProcessingError, "backend down") {
		t.Errorf("processing_error = %q, want last failure recorded", store.photo.ProcessingError)
	}
	// First two attempts requeue, the third is terminal.
	if len(pub.republished) != 2 {
		t.Errorf("republished %d tasks, want 2", len(pub.republished))
	}
	last := pub.statuses[len(pub.statuses)-1]
	if last.Status != models.PhotoStatusFailed {
		t.Errorf("final status event = %s, want failed", last.Status)
	}
}

func TestProcessStuckTransformCountsAsFailure(t *testing.T) {
	p, store, _, pub, task := newFixture(t, &fakeExtractor{faces: faces(1)})
	p.cfg.TransformTimeout = 20 * time.Millisecond

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	p.transformFn = func(data []byte, opts imaging.Options) (*imaging.Result, error) {
		<-release
		return nil, errors.New("never reached")
	}

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.photo.Status != models.PhotoStatusPending {
		t.Fatalf("status = %s, want pending for requeue", store.photo.Status)
	}
	if !strings.Contains(store.photo.ProcessingError, "timed out") {
		t.Errorf("processing_error = %q, want the timeout recorded", store.photo.ProcessingError)
	}
	if len(pub.republished) != 1 {
		t.Errorf("republished %d tasks, want 1", len(pub.republished))
	}
}

func TestProcessSkipsAlreadyClaimedPhoto(t *testing.T) {
	p, store, _, pub, task := newFixture(t, &fakeExtractor{faces: faces(1)})
	store.photo.Status = models.PhotoStatusProcessing

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}

	if store.photo.Status != models.PhotoStatusProcessing {
		t.Errorf("status changed to %s, duplicate delivery must be a no-op", store.photo.Status)
	}
	if len(store.embeddings) != 0 || len(pub.statuses) != 0 {
		t.Error("duplicate delivery did work")
	}
}

func TestProcessFetchFailureIsRetryable(t *testing.T) {
	p, store, blobs, pub, task := newFixture(t, &fakeExtractor{faces: faces(1)})
	blobs.getErr = errors.New("connection refused")

	if err := p.Process(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	if store.photo.Status != models.PhotoStatusPending {
		t.Errorf("status = %s, want pending", store.photo.Status)
	}
	if len(pub.republished) != 1 {
		t.Errorf("republished %d tasks, want 1", len(pub.republished))
	}
}
