package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "sentinel-worker-go/docs"
)

func (s *Server) setupSwagger() {
	s.router.GET("/api/info", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"title":       "Sentinel Worker API",
			"version":     s.config.Version,
			"description": "Multi-camera decision worker: alerts, evidence and the METRIC/EVENT audit log",
			"swagger_ui":  "/docs/index.html",
			"endpoints": gin.H{
				"health":      "/health",
				"worker_info": "/",
				"cameras":     "/cameras",
				"ingest":      "/ingest",
				"zones":       "/zones",
				"evidence":    "/evidence",
				"events":      "/ws/events",
				"system":      "/system",
				"worker":      "/worker",
			},
			"worker_id": s.config.WorkerID,
			"port":      s.config.Port,
		})
	})

	s.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	s.router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/docs/index.html")
	})
}
