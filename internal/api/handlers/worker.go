package handlers

import (
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel-worker-go/internal/config"
)

type WorkerHandler struct {
	cfg *config.Config
}

func NewWorkerHandler(cfg *config.Config) *WorkerHandler {
	return &WorkerHandler{cfg: cfg}
}

type WorkerConfigResponse struct {
	WorkerID           string        `json:"worker_id"`
	Environment        string        `json:"environment"`
	StartTime          time.Time     `json:"start_time"`
	SiteConfig         string        `json:"site_config"`
	DetectorMode       string        `json:"detector_mode"`
	StageTimeout       time.Duration `json:"stage_timeout"`
	CameraQueueSize    int           `json:"camera_queue_size"`
	WatchdogInterval   time.Duration `json:"watchdog_interval"`
	HeartbeatDecoupled bool          `json:"heartbeat_decoupled"`
	AuditLogPath       string        `json:"audit_log_path"`
	EvidenceDir        string        `json:"evidence_dir"`
	EvidenceFPS        float64       `json:"evidence_fps"`
	NatsEnabled        bool          `json:"nats_enabled"`
	KafkaEnabled       bool          `json:"kafka_enabled"`
	MinioEnabled       bool          `json:"minio_enabled"`
}

type ShutdownRequest struct {
	Force bool `json:"force,omitempty"`
}

type ShutdownResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var startTime = time.Now()

// GetConfig godoc
// @Summary Get worker configuration
// @Description Get the effective process settings (secrets omitted)
// @Tags worker
// @Produce json
// @Success 200 {object} WorkerConfigResponse
// @Router /worker/config [get]
func (h *WorkerHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, WorkerConfigResponse{
		WorkerID:           h.cfg.WorkerID,
		Environment:        h.cfg.Environment,
		StartTime:          startTime,
		SiteConfig:         h.cfg.SiteConfigPath,
		DetectorMode:       h.cfg.DetectorMode,
		StageTimeout:       h.cfg.StageTimeout,
		CameraQueueSize:    h.cfg.CameraQueueSize,
		WatchdogInterval:   h.cfg.WatchdogInterval,
		HeartbeatDecoupled: h.cfg.HeartbeatDecoupled,
		AuditLogPath:       h.cfg.AuditLogPath,
		EvidenceDir:        h.cfg.EvidenceDir,
		EvidenceFPS:        h.cfg.EvidenceFPS,
		NatsEnabled:        h.cfg.NatsEnabled,
		KafkaEnabled:       len(h.cfg.KafkaBrokers) > 0,
		MinioEnabled:       h.cfg.MinioEndpoint != "",
	})
}

// Shutdown godoc
// @Summary Shutdown worker
// @Description Gracefully shutdown the worker. Open recordings are closed and pending audit records flushed.
// @Tags worker
// @Accept json
// @Produce json
// @Param shutdown body ShutdownRequest false "Shutdown options"
// @Success 200 {object} ShutdownResponse
// @Router /worker/shutdown [post]
func (h *WorkerHandler) Shutdown(c *gin.Context) {
	var req ShutdownRequest
	c.ShouldBindJSON(&req) // optional body

	c.JSON(http.StatusOK, ShutdownResponse{
		Status:    "shutting_down",
		Message:   "Worker shutdown initiated",
		Timestamp: time.Now(),
	})

	go func() {
		time.Sleep(100 * time.Millisecond) // let the response go out
		if req.Force {
			os.Exit(0)
		}
		p, _ := os.FindProcess(os.Getpid())
		p.Signal(syscall.SIGTERM)
	}()
}
