package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/imaging"
	"github.com/your-org/facefind/internal/models"
	"github.com/your-org/facefind/internal/observability"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/internal/vision"
)

// PhotoStore is the slice of the database the pipeline needs.
type PhotoStore interface {
	ClaimPhotoForProcessing(ctx context.Context, id uuid.UUID) (*models.Photo, error)
	MarkPhotoReady(ctx context.Context, id uuid.UUID, displayKey string, width, height, facesCount int) error
	MarkPhotoFailed(ctx context.Context, id uuid.UUID, procErr string, maxRetries int) (models.PhotoStatus, int, error)
	AddPhotoEmbeddings(ctx context.Context, photoID uuid.UUID, embeddings [][]float32) error
}

// BlobStore reads raw uploads and writes display derivatives.
type BlobStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Extractor produces face embeddings from raw photo bytes.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]vision.Face, error)
}

// Publisher re-enqueues retryable failures and emits lifecycle events.
type Publisher interface {
	RepublishPhotoTask(ctx context.Context, task models.PhotoTask, attempt int) error
	PublishStatus(ctx context.Context, ev models.StatusEvent) error
}

// Pipeline drives one photo from pending to ready or failed. Stages:
// claim, fetch raw bytes, transform and extract in parallel, persist
// embeddings and the display derivative, flip status last.
type Pipeline struct {
	store     PhotoStore
	blobs     BlobStore
	extractor Extractor
	publisher Publisher
	cfg       config.IngestConfig
	transform config.TransformConfig

	// transformFn is swappable for tests; defaults to the real transform.
	transformFn func(data []byte, opts imaging.Options) (*imaging.Result, error)
}

func NewPipeline(store PhotoStore, blobs BlobStore, extractor Extractor, publisher Publisher,
	cfg config.IngestConfig, transform config.TransformConfig) *Pipeline {
	return &Pipeline{
		store:       store,
		blobs:       blobs,
		extractor:   extractor,
		publisher:   publisher,
		cfg:         cfg,
		transform:   transform,
		transformFn: imaging.TransformForDisplay,
	}
}

// Process handles one photo task. A returned error means the task never got
// as far as claiming the photo and should be redelivered; once the photo is
// claimed, every failure is absorbed into the photo's own retry bookkeeping
// and Process returns nil so the message is acked exactly once.
func (p *Pipeline) Process(ctx context.Context, task models.PhotoTask) error {
	photo, err := p.store.ClaimPhotoForProcessing(ctx, task.PhotoID)
	if err != nil {
		return fmt.Errorf("claim photo %s: %w", task.PhotoID, err)
	}
	if photo == nil {
		// Already claimed by another delivery, or terminal. Nothing to do.
		slog.Debug("photo not pending, skipping", "photo_id", task.PhotoID)
		return nil
	}

	log := slog.With("photo_id", photo.ID)

	data, err := p.blobs.GetObject(ctx, photo.RawKey)
	if err != nil {
		p.fail(ctx, photo, task, fmt.Errorf("fetch raw photo: %w", err))
		return nil
	}

	// Transform and extraction are independent reads of the same bytes.
	// The resize cannot be interrupted mid-decode, so the transform timeout
	// abandons the goroutine and discards its eventual result.
	type transformOut struct {
		res *imaging.Result
		err error
	}
	tCh := make(chan transformOut, 1)
	tTimer := time.NewTimer(p.cfg.TransformTimeout)
	defer tTimer.Stop()
	go func() {
		start := time.Now()
		res, err := p.transformFn(data, imaging.Options{
			TargetHeight:  p.transform.TargetHeight,
			JPEGQuality:   p.transform.JPEGQuality,
			WatermarkText: p.transform.WatermarkText,
			SkipWatermark: p.transform.SkipWatermark,
		})
		observability.StageDuration.WithLabelValues("transform").Observe(time.Since(start).Seconds())
		tCh <- transformOut{res: res, err: err}
	}()

	extCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	start := time.Now()
	faces, extErr := p.extractor.Extract(extCtx, data)
	cancel()
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())

	var (
		tRes *imaging.Result
		tErr error
	)
	select {
	case out := <-tCh:
		tRes, tErr = out.res, out.err
	case <-tTimer.C:
		tErr = fmt.Errorf("timed out after %s", p.cfg.TransformTimeout)
	}

	if tErr != nil {
		p.fail(ctx, photo, task, fmt.Errorf("transform: %w", tErr))
		return nil
	}
	if extErr != nil {
		p.fail(ctx, photo, task, fmt.Errorf("extract faces: %w", extErr))
		return nil
	}

	if err := p.blobs.PutObject(ctx, storage.DisplayKey(photo.ID), tRes.Buffer, "image/jpeg"); err != nil {
		p.fail(ctx, photo, task, fmt.Errorf("store display photo: %w", err))
		return nil
	}

	embeddings := make([][]float32, 0, len(faces))
	for _, f := range faces {
		embeddings = append(embeddings, f.Embedding)
	}
	if err := p.store.AddPhotoEmbeddings(ctx, photo.ID, embeddings); err != nil {
		p.fail(ctx, photo, task, fmt.Errorf("store embeddings: %w", err))
		return nil
	}

	// The status flip is the last write. Zero faces is still ready: crowd
	// shots without detectable faces belong in the event gallery.
	if err := p.store.MarkPhotoReady(ctx, photo.ID, storage.DisplayKey(photo.ID), tRes.Width, tRes.Height, len(faces)); err != nil {
		p.fail(ctx, photo, task, fmt.Errorf("mark ready: %w", err))
		return nil
	}

	observability.PhotosProcessed.WithLabelValues("ready").Inc()
	observability.FacesExtracted.Add(float64(len(faces)))
	log.Info("photo ready", "faces", len(faces), "width", tRes.Width, "height", tRes.Height)

	p.notify(ctx, photo, models.PhotoStatusReady, len(faces), "")
	return nil
}

// fail records a processing failure. Every failure consumes one retry and
// goes back on the queue while budget remains; even an undecodable image
// gets its full budget, since decode errors can be transient truncation
// from a slow upload. The budget makes the terminal call.
func (p *Pipeline) fail(ctx context.Context, photo *models.Photo, task models.PhotoTask, cause error) {
	log := slog.With("photo_id", photo.ID, "error", cause)

	status, retries, err := p.store.MarkPhotoFailed(ctx, photo.ID, cause.Error(), p.cfg.MaxRetries)
	if err != nil {
		log.Error("record failure", "store_error", err)
		return
	}

	switch status {
	case models.PhotoStatusPending:
		observability.PhotoRetries.Inc()
		log.Warn("photo processing failed, requeueing", "attempt", retries)
		if err := p.publisher.RepublishPhotoTask(ctx, task, retries); err != nil {
			// The row is pending with budget left; a requeue sweep or manual
			// republish can pick it up.
			log.Error("republish photo task", "publish_error", err)
		}
	case models.PhotoStatusFailed:
		observability.PhotosProcessed.WithLabelValues("failed").Inc()
		log.Warn("photo failed after exhausting retries", "attempts", retries)
		p.notify(ctx, photo, models.PhotoStatusFailed, 0, cause.Error())
	}
}

func (p *Pipeline) notify(ctx context.Context, photo *models.Photo, status models.PhotoStatus, faces int, errMsg string) {
	ev := models.StatusEvent{
		PhotoID:    photo.ID,
		EventID:    photo.EventID,
		UploaderID: photo.UploaderID,
		Status:     status,
		FacesCount: faces,
		Error:      errMsg,
		Timestamp:  time.Now(),
	}
	if err := p.publisher.PublishStatus(ctx, ev); err != nil {
		slog.Warn("publish status event", "photo_id", photo.ID, "error", err)
	}
}
