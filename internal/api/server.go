package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/api/handlers"
	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/services"
)

type Server struct {
	config    *config.Config
	container *services.ServiceContainer
	router    *gin.Engine
	server    *http.Server

	healthHandler   *handlers.HealthHandler
	cameraHandler   *handlers.CameraHandler
	zonesHandler    *handlers.ZonesHandler
	evidenceHandler *handlers.EvidenceHandler
	systemHandler   *handlers.SystemHandler
	workerHandler   *handlers.WorkerHandler
	events          *handlers.EventHub
}

func NewServer(cfg *config.Config, container *services.ServiceContainer) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	// a nil *storage.Index must not become a non-nil interface
	var index handlers.EvidenceLister
	if container.Index != nil {
		index = container.Index
	}

	return &Server{
		config:          cfg,
		container:       container,
		router:          gin.New(),
		healthHandler:   handlers.NewHealthHandler(cfg.WorkerID, cfg.Version, container.Audit),
		cameraHandler:   handlers.NewCameraHandler(container.Worker),
		zonesHandler:    handlers.NewZonesHandler(container.Site),
		evidenceHandler: handlers.NewEvidenceHandler(index, container.Recorders),
		systemHandler:   handlers.NewSystemHandler(cfg.WorkerID),
		workerHandler:   handlers.NewWorkerHandler(cfg),
		events:          handlers.NewEventHub(),
	}
}

func (s *Server) Setup() error {
	s.setupMiddleware()
	s.setupRoutes()
	s.setupSwagger()

	s.container.Audit.AddMirror("websocket", s.events)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.router,
	}
	return nil
}

// Start blocks until the server is shut down
func (s *Server) Start() error {
	log.Info().Int("port", s.config.Port).Msg("🚀 Starting Sentinel Worker API")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("🛑 Stopping Sentinel Worker API...")
	return s.server.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
