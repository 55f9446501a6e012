package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facefind/internal/api/handlers"
	"github.com/your-org/facefind/internal/api/ws"
	"github.com/your-org/facefind/internal/auth"
	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/queue"
	"github.com/your-org/facefind/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Gate     handlers.SelfieGate
	Match    config.MatchConfig
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Photos
	photoH := handlers.NewPhotoHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	v1.POST("/photos", photoH.Upload)
	v1.GET("/photos", photoH.ListByEvent)
	v1.GET("/photos/:id", photoH.Get)
	v1.GET("/photos/:id/display", photoH.Display)
	v1.POST("/photos/:id/hide", photoH.Hide)
	v1.DELETE("/photos/:id", photoH.Delete)

	// Selfie registration
	selfieH := handlers.NewSelfieHandler(cfg.DB, cfg.MinIO, cfg.Gate)
	v1.POST("/selfies", selfieH.Register)

	// Find-me matching
	matchH := handlers.NewMatchHandler(cfg.DB, cfg.Match)
	v1.POST("/matches/find-me", matchH.FindMe)

	// Claims
	claimH := handlers.NewClaimHandler(cfg.DB)
	v1.POST("/claims", claimH.Create)
	v1.GET("/claims", claimH.ListByUser)
	v1.POST("/claims/:id/approve", claimH.Approve)
	v1.POST("/claims/:id/reject", claimH.Reject)
	v1.GET("/photos/:id/claims", claimH.ListByPhoto)

	return r
}
