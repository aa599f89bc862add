package api

func (s *Server) setupRoutes() {
	s.router.GET("/", s.healthHandler.WorkerInfo)
	s.router.GET("/health", s.healthHandler.HealthCheck)

	cameras := s.router.Group("/cameras")
	{
		cameras.GET("", s.cameraHandler.ListCameras)
		cameras.GET("/:camera_id", s.cameraHandler.GetCamera)
	}
	s.router.POST("/ingest", s.cameraHandler.Ingest)

	s.router.GET("/zones", s.zonesHandler.ListZones)

	evidence := s.router.Group("/evidence")
	{
		evidence.GET("", s.evidenceHandler.ListEvidence)
		evidence.GET("/active", s.evidenceHandler.ActiveRecordings)
	}

	s.router.GET("/ws/events", s.events.Stream)

	system := s.router.Group("/system")
	{
		system.GET("/stats", s.systemHandler.GetStats)
	}

	worker := s.router.Group("/worker")
	{
		worker.GET("/config", s.workerHandler.GetConfig)
		worker.POST("/shutdown", s.workerHandler.Shutdown)
	}
}
