package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinel-worker-go/internal/services/auditlog"
)

// AuditHealth is the slice of the audit writer the health check needs
type AuditHealth interface {
	Healthy() bool
	Stats() auditlog.Stats
	Path() string
}

type HealthHandler struct {
	WorkerID string
	Version  string
	audit    AuditHealth
}

func NewHealthHandler(workerID, version string, audit AuditHealth) *HealthHandler {
	return &HealthHandler{WorkerID: workerID, Version: version, audit: audit}
}

type HealthResponse struct {
	Status   string         `json:"status" example:"healthy"`
	WorkerID string         `json:"worker_id" example:"worker-1"`
	AuditLog AuditLogHealth `json:"audit_log"`
}

type AuditLogHealth struct {
	Path    string         `json:"path" example:"logs/audit.jsonl"`
	Healthy bool           `json:"healthy"`
	Stats   auditlog.Stats `json:"stats"`
}

type WorkerInfoResponse struct {
	WorkerID     string   `json:"worker_id" example:"worker-1"`
	Status       string   `json:"status" example:"running"`
	Version      string   `json:"version" example:"1.0.0"`
	Capabilities []string `json:"capabilities"`
}

// @Summary Health check
// @Description Check if the worker is healthy. Reports 503 while audit records are being dropped.
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		WorkerID: h.WorkerID,
	}
	code := http.StatusOK

	if h.audit != nil {
		resp.AuditLog = AuditLogHealth{
			Path:    h.audit.Path(),
			Healthy: h.audit.Healthy(),
			Stats:   h.audit.Stats(),
		}
		if !resp.AuditLog.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, resp)
}

// @Summary Worker information
// @Description Get basic worker information and capabilities
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} WorkerInfoResponse
// @Router / [get]
func (h *HealthHandler) WorkerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerInfoResponse{
		WorkerID: h.WorkerID,
		Status:   "running",
		Version:  h.Version,
		Capabilities: []string{
			"stage_scheduling",
			"policy_alerts",
			"evidence_recording",
			"audit_log",
		},
	})
}
