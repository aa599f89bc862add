package api

import (
	"sentinel-worker-go/internal/api/middleware"
)

func (s *Server) setupMiddleware() {
	// order matters: ids and start time must exist before the logger reads them
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestContext())
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
}
