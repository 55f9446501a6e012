package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefind",
		Name:      "photos_processed_total",
		Help:      "Total number of photos processed by the ingestion pipeline",
	}, []string{"outcome"})

	PhotoRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefind",
		Name:      "photo_retries_total",
		Help:      "Total number of photo processing retries",
	})

	FacesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefind",
		Name:      "faces_extracted_total",
		Help:      "Total number of face embeddings extracted from photos",
	})

	SelfieRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facefind",
		Name:      "selfie_rejections_total",
		Help:      "Selfie gate rejections by reason",
	}, []string{"reason"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefind",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	MatchQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facefind",
		Name:      "match_queries_total",
		Help:      "Total number of find-me match queries",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefind",
		Name:      "queue_depth",
		Help:      "Number of pending photo tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facefind",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facefind",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
