package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facefind/internal/models"
	"github.com/your-org/facefind/internal/queue"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/pkg/dto"
)

type PhotoHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewPhotoHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *PhotoHandler {
	return &PhotoHandler{db: db, minio: minio, producer: producer}
}

func photoResponse(p *models.Photo) dto.PhotoResponse {
	resp := dto.PhotoResponse{
		ID:         p.ID,
		EventID:    p.EventID,
		UploaderID: p.UploaderID,
		Status:     string(p.Status),
		FacesCount: p.FacesCount,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
	if p.Status == models.PhotoStatusReady {
		resp.Width = p.Width
		resp.Height = p.Height
	}
	if p.Status == models.PhotoStatusFailed {
		resp.Error = p.ProcessingError
	}
	if p.CapturedAt != nil {
		resp.CapturedAt = p.CapturedAt.Format(time.RFC3339)
	}
	return resp
}

// Upload accepts a multipart photo upload, stores the raw bytes and enqueues
// processing. The response returns immediately with status pending.
func (h *PhotoHandler) Upload(c *gin.Context) {
	uploaderID, err := uuid.Parse(c.PostForm("uploader_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uploader_id"})
		return
	}

	var eventID *uuid.UUID
	if v := c.PostForm("event_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
			return
		}
		eventID = &id
	}

	var capturedAt *time.Time
	if v := c.PostForm("captured_at"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captured_at, want RFC3339"})
			return
		}
		capturedAt = &ts
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

	photo := &models.Photo{
		ID:         uuid.New(),
		EventID:    eventID,
		UploaderID: uploaderID,
		CapturedAt: capturedAt,
	}
	photo.RawKey = storage.RawKey(photo.ID)

	if err := h.minio.PutObject(c.Request.Context(), photo.RawKey, imageData, c.ContentType()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store photo failed"})
		return
	}

	if err := h.db.CreatePhoto(c.Request.Context(), photo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	task := models.PhotoTask{PhotoID: photo.ID, RawKey: photo.RawKey, EventID: photo.EventID}
	if err := h.producer.PublishPhotoTask(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue photo failed"})
		return
	}

	c.JSON(http.StatusAccepted, dto.UploadPhotoResponse{ID: photo.ID, Status: string(photo.Status)})
}

func (h *PhotoHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	photo, err := h.db.GetPhoto(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil || photo.Status == models.PhotoStatusDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	c.JSON(http.StatusOK, photoResponse(photo))
}

// ListByEvent returns an event's photos. Only ready photos by default;
// uploaders can ask for other statuses to track processing.
func (h *PhotoHandler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Query("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_id"})
		return
	}

	status := models.PhotoStatus(c.DefaultQuery("status", string(models.PhotoStatusReady)))
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	photos, err := h.db.ListEventPhotos(c.Request.Context(), eventID, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.PhotoResponse, 0, len(photos))
	for i := range photos {
		resp = append(resp, photoResponse(&photos[i]))
	}

	c.JSON(http.StatusOK, gin.H{"photos": resp, "total": len(resp)})
}

// Display streams the watermarked display derivative.
func (h *PhotoHandler) Display(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	photo, err := h.db.GetPhoto(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil || photo.Status != models.PhotoStatusReady {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not available"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), photo.DisplayKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch photo failed"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *PhotoHandler) Hide(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	if err := h.db.HidePhoto(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "hidden"})
}

// Delete tombstones the photo row and removes its blobs.
func (h *PhotoHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id"})
		return
	}

	photo, err := h.db.DeletePhoto(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if photo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	keys := []string{photo.RawKey}
	if photo.DisplayKey != "" {
		keys = append(keys, photo.DisplayKey)
	}
	if err := h.minio.DeleteObjects(c.Request.Context(), keys); err != nil {
		// Row is already tombstoned; orphaned blobs are a cleanup-job problem.
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "warning": "blob cleanup incomplete"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
