package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string `env:"VERSION" envDefault:"1.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	WorkerID    string `env:"WORKER_ID" envDefault:"worker-1"`
	Port        int    `env:"PORT" envDefault:"8000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool   `env:"LOGDY_ENABLED" envDefault:"false"`
	LogdyHost    string `env:"LOGDY_HOST" envDefault:"localhost"`
	LogdyPort    int    `env:"LOGDY_PORT" envDefault:"8080"`

	// Site policy (zones, hours, thresholds)
	SiteConfigPath string `env:"SITE_CONFIG" envDefault:"configs/site.yaml"`

	// Audit log (METRIC / EVENT json lines)
	AuditLogPath       string        `env:"AUDIT_LOG_PATH" envDefault:"logs/audit.jsonl"`
	AuditLogRetries    int           `env:"AUDIT_LOG_RETRIES" envDefault:"3"`
	AuditLogBackoff    time.Duration `env:"AUDIT_LOG_BACKOFF" envDefault:"50ms"`
	HeartbeatDecoupled bool          `env:"HEARTBEAT_DECOUPLED" envDefault:"false"`

	// NATS (ingest and audit mirror)
	// Default: nats://localhost:4222, nats://nats:4222 inside Docker
	NatsEnabled        bool          `env:"NATS_ENABLED" envDefault:"false"`
	NatsURL            string        `env:"NATS_URL"`
	NatsConnectTimeout time.Duration `env:"NATS_CONNECT_TIMEOUT" envDefault:"10s"`
	NatsReconnectWait  time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	NatsMaxReconnects  int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"` // -1 = unlimited
	IngestSubject      string        `env:"INGEST_SUBJECT" envDefault:"frames.detections"`
	IngestQueue        string        `env:"INGEST_QUEUE" envDefault:"sentinel-workers"`
	EventsSubject      string        `env:"EVENTS_SUBJECT" envDefault:"audit.events"`
	MetricsSubject     string        `env:"METRICS_SUBJECT" envDefault:"audit.metrics"`

	// Kafka audit mirror, disabled when no brokers are set
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"sentinel.audit"`

	// Detection stages
	DetectorMode string        `env:"DETECTOR_MODE" envDefault:"batch"` // batch | grpc
	AIGRPCURL    string        `env:"AI_GRPC_URL" envDefault:"localhost:50052"`
	AIService    string        `env:"AI_GRPC_SERVICE" envDefault:"inference.StageService"`
	StageTimeout time.Duration `env:"STAGE_TIMEOUT" envDefault:"2s"`

	// Evidence
	EvidenceDir       string  `env:"EVIDENCE_DIR" envDefault:"evidence"`
	EvidenceFPS       float64 `env:"EVIDENCE_FPS" envDefault:"10"`
	EvidenceIndexPath string  `env:"EVIDENCE_INDEX_PATH" envDefault:"evidence/index.db"`

	// MinIO evidence upload, disabled when no endpoint is set
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"evidence"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`

	// Camera pipelines
	CameraQueueSize  int           `env:"CAMERA_QUEUE_SIZE" envDefault:"64"`
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" envDefault:"500ms"`

	// Graceful Shutdown
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.NatsURL == "" {
		cfg.NatsURL = defaultNatsURL()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects process settings the worker cannot start with
func (c *Config) Validate() error {
	switch c.DetectorMode {
	case "batch", "grpc":
	default:
		return fmt.Errorf("DETECTOR_MODE must be batch or grpc, got %q", c.DetectorMode)
	}
	if c.AuditLogPath == "" {
		return fmt.Errorf("AUDIT_LOG_PATH is required")
	}
	if c.AuditLogRetries < 0 {
		return fmt.Errorf("AUDIT_LOG_RETRIES must not be negative")
	}
	if c.CameraQueueSize <= 0 {
		return fmt.Errorf("CAMERA_QUEUE_SIZE must be positive")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL must be positive")
	}
	if c.EvidenceFPS <= 0 {
		return fmt.Errorf("EVIDENCE_FPS must be positive")
	}
	return nil
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// defaultNatsURL returns the NATS URL used when NATS_URL is unset
func defaultNatsURL() string {
	if isRunningInDocker() {
		return "nats://nats:4222"
	}
	return "nats://localhost:4222"
}
