package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/auditlog"
	"sentinel-worker-go/internal/services/detection"
	"sentinel-worker-go/internal/services/messaging"
	"sentinel-worker-go/internal/services/postprocessing"
	"sentinel-worker-go/internal/services/recorder"
	"sentinel-worker-go/internal/services/scheduler"
	"sentinel-worker-go/internal/services/storage"
	"sentinel-worker-go/internal/worker"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config *config.Config
	Site   *config.Site

	Audit        *auditlog.Writer
	DetectionSvc *detection.Service
	Dedup        *postprocessing.Service
	Recorders    *recorder.Service
	Index        *storage.Index
	Archiver     *storage.Archiver
	Messaging    *messaging.Service
	Kafka        *messaging.KafkaMirror
	Worker       *worker.Worker

	ingestSub *nats.Subscription
}

// NewServiceContainer creates every service and wires the audit mirrors.
// Site policy errors are returned and must stop the process.
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	site, err := config.LoadSite(cfg.SiteConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", cfg.SiteConfigPath).Msg("Site config not found, using built-in defaults")
		site = config.DefaultSite()
		err = site.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("site config: %w", err)
	}

	sc := &ServiceContainer{Config: cfg, Site: site}

	sc.Audit, err = auditlog.NewWriter(cfg.AuditLogPath, auditlog.Options{
		Retries: cfg.AuditLogRetries,
		Backoff: cfg.AuditLogBackoff,
	})
	if err != nil {
		return nil, err
	}

	var detector scheduler.Detector
	switch cfg.DetectorMode {
	case "grpc":
		sc.DetectionSvc, err = detection.NewService(cfg.AIGRPCURL, cfg.AIService)
		if err != nil {
			sc.Audit.Close()
			return nil, err
		}
		detector = sc.DetectionSvc
	default:
		detector = detection.NewBatchDetector()
	}

	sc.Index, err = storage.OpenIndex(cfg.EvidenceIndexPath)
	if err != nil {
		log.Warn().Err(err).Msg("Evidence index unavailable, sessions will not be catalogued")
	}

	var uploader storage.Uploader
	if cfg.MinioEndpoint != "" {
		up, err := storage.NewMinioUploader(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Warn().Err(err).Msg("MinIO uploader disabled")
		} else {
			uploader = up
			log.Info().Str("endpoint", cfg.MinioEndpoint).Str("bucket", cfg.MinioBucket).Msg("Evidence upload enabled")
		}
	}
	sc.Archiver = storage.NewArchiver(sc.Index, uploader, 64)

	sc.Dedup = postprocessing.NewService(site)
	sc.Recorders = recorder.NewService(site, recorder.NewGocvSink(cfg.EvidenceDir, cfg.EvidenceFPS), sc.Archiver)

	if cfg.NatsEnabled {
		sc.Messaging, err = messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NatsURL).Msg("NATS unavailable, ingest and audit mirror disabled")
		} else {
			sc.Audit.AddMirror("nats", sc.Messaging)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		sc.Kafka, err = messaging.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn().Err(err).Strs("brokers", cfg.KafkaBrokers).Msg("Kafka audit mirror disabled")
		} else {
			sc.Audit.AddMirror("kafka", sc.Kafka)
		}
	}

	sc.Worker, err = worker.New(cfg, site, worker.Deps{
		Detector:  detector,
		Dedup:     sc.Dedup,
		Recorders: sc.Recorders,
		Audit:     sc.Audit,
	})
	if err != nil {
		return nil, err
	}

	go sc.watchAuditFailures()

	log.Info().
		Str("site", site.SiteID).
		Str("detector", cfg.DetectorMode).
		Str("audit_log", cfg.AuditLogPath).
		Bool("nats", sc.Messaging != nil).
		Bool("kafka", sc.Kafka != nil).
		Msg("Service container initialized")

	return sc, nil
}

// Start runs the worker and, when NATS is connected, the ingest subscription
func (sc *ServiceContainer) Start() error {
	if err := sc.Worker.Start(); err != nil {
		return err
	}

	if sc.Messaging == nil {
		return nil
	}
	sub, err := sc.Messaging.QueueSubscribe(sc.Config.IngestSubject, sc.Config.IngestQueue, sc.handleIngest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", sc.Config.IngestSubject, err)
	}
	sc.ingestSub = sub
	log.Info().Str("subject", sc.Config.IngestSubject).Str("queue", sc.Config.IngestQueue).Msg("NATS ingest subscribed")
	return nil
}

func (sc *ServiceContainer) handleIngest(data []byte) {
	var batch models.FrameDetectionBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed ingest message")
		return
	}
	if err := sc.Worker.Ingest(context.Background(), &batch); err != nil {
		log.Warn().Err(err).Str("camera_id", batch.CameraID).Msg("Ingest rejected")
	}
}

// watchAuditFailures surfaces exhausted audit writes to the operator log
func (sc *ServiceContainer) watchAuditFailures() {
	for err := range sc.Audit.Failures() {
		log.Error().Err(err).Str("path", sc.Audit.Path()).Msg("🔥 Audit log is failing, records are being lost")
	}
}

// Shutdown gracefully shuts down all services
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	var errs []error

	if sc.ingestSub != nil {
		if err := sc.ingestSub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("Failed to unsubscribe ingest")
		}
	}

	if sc.Worker != nil {
		if err := sc.Worker.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if sc.Archiver != nil {
		if err := sc.Archiver.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if sc.Index != nil {
		sc.Index.Close()
	}

	if sc.Dedup != nil {
		sc.Dedup.Shutdown(ctx)
	}

	if sc.Audit != nil {
		if err := sc.Audit.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if sc.Kafka != nil {
		if err := sc.Kafka.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Kafka producer")
		}
	}

	if sc.Messaging != nil {
		sc.Messaging.Shutdown(ctx)
	}

	if sc.DetectionSvc != nil {
		sc.DetectionSvc.Shutdown(ctx)
	}

	return errors.Join(errs...)
}
