package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facefind/internal/models"
)

const (
	PhotosStreamName  = "PHOTOS"
	PhotosSubjectBase = "photos"
	StatusStreamName  = "STATUS"
	StatusSubjectBase = "status"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to handle NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PhotosStreamName,
			Subjects:  []string{PhotosSubjectBase + ".>"},
			Retention: jetstream.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			MaxMsgs:   1000000,
			MaxBytes:  1 * 1024 * 1024 * 1024, // 1GB
			Storage:   jetstream.FileStorage,
			Discard:   jetstream.DiscardOld,
			// Dedupe window absorbs double publishes from API retries.
			Duplicates:  30 * time.Second,
			Description: "Photo processing tasks for ingest workers",
		},
		{
			Name:        StatusStreamName,
			Subjects:    []string{StatusSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Photo lifecycle status events",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishPhotoTask enqueues a photo for worker processing. The photo id as
// message id lets the stream's dedupe window drop accidental re-publishes.
func (p *Producer) PublishPhotoTask(ctx context.Context, task models.PhotoTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal photo task: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", PhotosSubjectBase, task.PhotoID)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(task.PhotoID.String()))
	if err != nil {
		return fmt.Errorf("publish photo task: %w", err)
	}
	return nil
}

// RepublishPhotoTask re-enqueues a photo after a retryable failure. A fresh
// message id per attempt keeps the dedupe window from swallowing it.
func (p *Producer) RepublishPhotoTask(ctx context.Context, task models.PhotoTask, attempt int) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal photo task: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", PhotosSubjectBase, task.PhotoID)
	msgID := fmt.Sprintf("%s-retry-%d", task.PhotoID, attempt)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("republish photo task: %w", err)
	}
	return nil
}

// PublishStatus publishes a photo lifecycle event for WebSocket fan-out.
func (p *Producer) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", StatusSubjectBase, ev.PhotoID)
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending messages in the PHOTOS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
