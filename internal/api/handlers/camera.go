package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinel-worker-go/internal/logging"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/worker"
)

// CameraRegistry is the part of the worker the camera endpoints drive
type CameraRegistry interface {
	Cameras() []worker.CameraState
	Camera(cameraID string) (worker.CameraState, error)
	Ingest(ctx context.Context, batch *models.FrameDetectionBatch) error
}

type CameraHandler struct {
	registry CameraRegistry
}

func NewCameraHandler(registry CameraRegistry) *CameraHandler {
	return &CameraHandler{
		registry: registry,
	}
}

// ListCameras lists all cameras
// @Summary List all cameras
// @Description Get the decision state of every camera pipeline
// @Tags cameras
// @Success 200 {object} map[string]interface{}
// @Router /cameras [get]
func (h *CameraHandler) ListCameras(c *gin.Context) {
	cameras := h.registry.Cameras()
	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"count":   len(cameras),
	})
}

// GetCamera gets camera details
// @Summary Get camera details
// @Description Get scheduler, recorder, cooldown and heartbeat state of one camera
// @Tags cameras
// @Param camera_id path string true "Camera ID"
// @Success 200 {object} worker.CameraState
// @Failure 404 {object} ErrorResponse
// @Router /cameras/{camera_id} [get]
func (h *CameraHandler) GetCamera(c *gin.Context) {
	cameraID := c.Param("camera_id")
	c.Set(string(logging.CtxCameraID), cameraID)

	camera, err := h.registry.Camera(cameraID)
	if err != nil {
		logging.Debug(c).Err(err).Msg("Camera not found")
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Camera not found"})
		return
	}

	c.JSON(http.StatusOK, camera)
}

// Ingest accepts one frame detection batch
// @Summary Ingest a frame detection batch
// @Description Queue detections (or a control signal) for a camera. Blocks while the camera queue is full.
// @Tags cameras
// @Accept json
// @Produce json
// @Param request body models.FrameDetectionBatch true "Frame detection batch"
// @Success 202 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /ingest [post]
func (h *CameraHandler) Ingest(c *gin.Context) {
	var batch models.FrameDetectionBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		logging.Warn(c).Err(err).Msg("Invalid ingest body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.Set(string(logging.CtxCameraID), batch.CameraID)

	err := h.registry.Ingest(c.Request.Context(), &batch)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, SuccessResponse{Message: "accepted"})
	case errors.Is(err, worker.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.Warn(c).Err(err).Msg("Ingest not accepted")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		logging.Warn(c).Err(err).Msg("Ingest rejected")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
}
