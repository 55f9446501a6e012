package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facefind/internal/api"
	"github.com/your-org/facefind/internal/api/handlers"
	"github.com/your-org/facefind/internal/api/ws"
	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/models"
	"github.com/your-org/facefind/internal/observability"
	"github.com/your-org/facefind/internal/queue"
	"github.com/your-org/facefind/internal/selfie"
	"github.com/your-org/facefind/internal/storage"
	"github.com/your-org/facefind/internal/vision"
	"github.com/your-org/facefind/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facefind API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background(), cfg.Vision.EmbeddingDim); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Status consumer pushes photo lifecycle updates to WebSocket clients.
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create status consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeStatus(ctx, "api-status", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.StatusEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return err
		}
		hub.BroadcastStatus(&dto.WSStatusEvent{
			PhotoID:    ev.PhotoID,
			EventID:    ev.EventID,
			UploaderID: ev.UploaderID,
			Status:     string(ev.Status),
			FacesCount: ev.FacesCount,
			Error:      ev.Error,
			Timestamp:  ev.Timestamp,
		})
		return nil
	})
	if err != nil {
		slog.Warn("start status consumer", "error", err)
	}

	// Selfie gate needs the vision models. The rest of the API works
	// without them, so a missing runtime degrades the one endpoint.
	var gate handlers.SelfieGate
	if err := vision.InitONNXRuntime(); err != nil {
		slog.Warn("onnx runtime init failed, selfie registration unavailable", "error", err)
	} else {
		extractor := vision.NewExtractor(cfg.Vision)
		if err := extractor.Init(ctx); err != nil {
			slog.Warn("vision init failed, selfie registration unavailable", "error", err)
		} else {
			gate = selfie.NewGate(extractor, cfg.Selfie)
			defer extractor.Close()
			defer vision.DestroyONNXRuntime()
			slog.Info("selfie gate ready", "liveness", extractor.HasLiveness())
		}
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Gate:     gate,
		Match:    cfg.Match,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
