package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/logging"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/aggregator"
	"sentinel-worker-go/internal/services/auditlog"
	"sentinel-worker-go/internal/services/policy"
	"sentinel-worker-go/internal/services/postprocessing"
	"sentinel-worker-go/internal/services/recorder"
	"sentinel-worker-go/internal/services/scheduler"
)

var (
	ErrStopped  = errors.New("worker is stopped")
	ErrNotFound = errors.New("camera not found")
)

// AuditWriter persists METRIC and EVENT records
type AuditWriter interface {
	Write(rec auditlog.Record) error
}

// Deps are the collaborators a Worker drives
type Deps struct {
	Detector  scheduler.Detector
	Dedup     *postprocessing.Service
	Recorders *recorder.Service
	Audit     AuditWriter
	// Clock supplies wall time; nil means time.Now
	Clock func() time.Time
}

// Worker is the registry of camera pipelines. Each camera gets one goroutine
// that owns its scheduler, recorder and heartbeat state; cameras run in
// parallel and share only the cooldown table and the audit writer.
type Worker struct {
	cfg    *config.Config
	site   *config.Site
	logger zerolog.Logger
	clock  func() time.Time

	sched     *scheduler.Scheduler
	agg       *aggregator.Aggregator
	policy    *policy.Engine
	detector  scheduler.Detector
	dedup     *postprocessing.Service
	recorders *recorder.Service
	audit     AuditWriter

	watchdog *Watchdog

	mutex     sync.RWMutex
	pipelines map[string]*pipeline
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
}

// New creates a worker; pipelines are created lazily on first ingest
func New(cfg *config.Config, site *config.Site, deps Deps) (*Worker, error) {
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit writer is required")
	}
	if deps.Recorders == nil {
		return nil, fmt.Errorf("recorder service is required")
	}
	if deps.Dedup == nil {
		deps.Dedup = postprocessing.NewService(site)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:       cfg,
		site:      site,
		logger:    logging.NewServiceLogger(cfg, "worker"),
		clock:     deps.Clock,
		sched:     scheduler.New(site.Thresholds),
		agg:       aggregator.New(site),
		policy:    policy.NewEngine(site),
		detector:  deps.Detector,
		dedup:     deps.Dedup,
		recorders: deps.Recorders,
		audit:     deps.Audit,
		pipelines: make(map[string]*pipeline),
		ctx:       ctx,
		cancel:    cancel,
	}
	w.watchdog = NewWatchdog(w, cfg.WatchdogInterval, site.Thresholds.OfflineTimeout)
	return w, nil
}

// Start launches the watchdog and a pipeline for every configured camera
func (w *Worker) Start() error {
	w.logger.Info().
		Str("site", w.site.SiteID).
		Int("cameras", len(w.site.Cameras)).
		Msg("Starting worker core")

	// configured cameras that never deliver a frame still go offline
	started := w.clock()
	ids := lo.Keys(w.site.Cameras)
	sort.Strings(ids)
	for _, id := range ids {
		p, err := w.pipelineFor(id)
		if err != nil {
			return err
		}
		p.seedArrival(started)
	}

	w.watchdog.Start(w.ctx)
	w.logger.Info().Msg("Worker core started successfully")
	return nil
}

// Ingest queues a batch for its camera. It blocks while the camera queue is
// full, until ctx is done.
func (w *Worker) Ingest(ctx context.Context, batch *models.FrameDetectionBatch) error {
	if batch == nil {
		return fmt.Errorf("nil batch")
	}
	if w.ctx.Err() != nil {
		return ErrStopped
	}
	if err := batch.Validate(); err != nil {
		return err
	}

	p, err := w.pipelineFor(batch.CameraID)
	if err != nil {
		return err
	}

	j := job{kind: jobFrame, batch: batch, wall: w.clock()}
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrStopped
	}
}

func (w *Worker) pipelineFor(cameraID string) (*pipeline, error) {
	w.mutex.RLock()
	p, ok := w.pipelines[cameraID]
	stopped := w.stopped
	w.mutex.RUnlock()
	if ok {
		return p, nil
	}
	if stopped {
		return nil, ErrStopped
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.stopped {
		return nil, ErrStopped
	}
	if p, ok := w.pipelines[cameraID]; ok {
		return p, nil
	}

	p = newPipeline(w, cameraID)
	w.pipelines[cameraID] = p
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		p.run(w.ctx)
	}()

	w.logger.Info().Str("camera_id", cameraID).Str("display_name", p.name).Msg("Camera pipeline created")
	return p, nil
}

func (w *Worker) snapshotPipelines() []*pipeline {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return lo.Values(w.pipelines)
}

// Cameras returns the state of every camera, ordered by id
func (w *Worker) Cameras() []CameraState {
	states := lo.Map(w.snapshotPipelines(), func(p *pipeline, _ int) CameraState {
		return p.snapshot()
	})
	sort.Slice(states, func(i, j int) bool { return states[i].CameraID < states[j].CameraID })
	return states
}

// Camera returns the state of one camera
func (w *Worker) Camera(cameraID string) (CameraState, error) {
	w.mutex.RLock()
	p, ok := w.pipelines[cameraID]
	w.mutex.RUnlock()
	if !ok {
		return CameraState{}, ErrNotFound
	}
	return p.snapshot(), nil
}

func (w *Worker) Site() *config.Site {
	return w.site
}

func (w *Worker) Watchdog() *Watchdog {
	return w.watchdog
}

// barrier waits until every job queued for the camera before the call has
// been processed
func (w *Worker) barrier(ctx context.Context, cameraID string) error {
	w.mutex.RLock()
	p, ok := w.pipelines[cameraID]
	w.mutex.RUnlock()
	if !ok {
		return ErrNotFound
	}

	done := make(chan struct{})
	select {
	case p.jobs <- job{kind: jobBarrier, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the watchdog, lets every pipeline drain its queue and close
// its recording, then returns
func (w *Worker) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Stopping worker core...")

	w.mutex.Lock()
	w.stopped = true
	w.mutex.Unlock()

	w.watchdog.Stop()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Worker core stopped successfully")
		return nil
	case <-ctx.Done():
		w.logger.Warn().Msg("Worker shutdown timed out with pipelines still draining")
		return ctx.Err()
	}
}
