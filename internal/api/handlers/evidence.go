package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sentinel-worker-go/internal/logging"
	"sentinel-worker-go/internal/services/recorder"
	"sentinel-worker-go/internal/services/storage"
)

// EvidenceLister reads the evidence catalogue
type EvidenceLister interface {
	List(cameraID string, limit int) ([]storage.EvidenceRecord, error)
}

// RecorderStatuses reports the live recorder state per camera
type RecorderStatuses interface {
	Statuses() map[string]recorder.Status
}

type EvidenceHandler struct {
	index     EvidenceLister
	recorders RecorderStatuses
}

func NewEvidenceHandler(index EvidenceLister, recorders RecorderStatuses) *EvidenceHandler {
	return &EvidenceHandler{index: index, recorders: recorders}
}

// ListEvidence lists finished recording sessions
// @Summary List evidence sessions
// @Description List archived recording sessions, newest first
// @Tags evidence
// @Produce json
// @Param camera query string false "Camera ID"
// @Param limit query int false "Maximum number of sessions" default(100)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /evidence [get]
func (h *EvidenceHandler) ListEvidence(c *gin.Context) {
	if h.index == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "evidence index unavailable"})
		return
	}

	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	camera := c.Query("camera")
	sessions, err := h.index.List(camera, limit)
	if err != nil {
		logging.Error(c).Err(err).Str("camera", camera).Msg("Failed to list evidence")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// ActiveRecordings lists sessions still being recorded
// @Summary Active recordings
// @Description Recorder state of every camera
// @Tags evidence
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /evidence/active [get]
func (h *EvidenceHandler) ActiveRecordings(c *gin.Context) {
	statuses := map[string]recorder.Status{}
	if h.recorders != nil {
		statuses = h.recorders.Statuses()
	}
	c.JSON(http.StatusOK, gin.H{"recorders": statuses})
}
