package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/aggregator"
	"sentinel-worker-go/internal/services/auditlog"
	"sentinel-worker-go/internal/services/policy"
	"sentinel-worker-go/internal/services/recorder"
	"sentinel-worker-go/internal/services/scheduler"
)

type jobKind int

const (
	jobFrame jobKind = iota
	jobStale
	jobBarrier
)

type job struct {
	kind  jobKind
	batch *models.FrameDetectionBatch
	wall  time.Time
	done  chan struct{}
}

// CameraState is the externally visible state of one camera pipeline
type CameraState struct {
	CameraID       string                         `json:"camera_id"`
	DisplayName    string                         `json:"display_name"`
	Offline        bool                           `json:"offline"`
	LastFrameIndex uint64                         `json:"last_frame_index"`
	LastFrameAt    time.Time                      `json:"last_frame_at"`
	LastArrival    time.Time                      `json:"last_arrival"`
	LastHeartbeat  time.Time                      `json:"last_heartbeat,omitempty"`
	LastEventAt    time.Time                      `json:"last_event_at,omitempty"`
	PeopleCount    int                            `json:"people_count"`
	Frames         uint64                         `json:"frames"`
	Events         uint64                         `json:"events"`
	Metrics        uint64                         `json:"metrics"`
	QueueDepth     int                            `json:"queue_depth"`
	Stages         scheduler.Stats                `json:"stages"`
	Recorder       recorder.Status                `json:"recorder"`
	Cooldowns      map[models.AlertType]time.Time `json:"cooldowns,omitempty"`
}

// pipeline owns every piece of per-camera decision state. Only its run
// goroutine mutates it; lastArrival is the one field the watchdog reads.
type pipeline struct {
	id     string
	name   string
	w      *Worker
	jobs   chan job
	logger zerolog.Logger

	runner    *scheduler.Runner
	recorder  *recorder.CameraRecorder
	heartbeat *auditlog.HeartbeatClock

	// frame clock
	lastBatchTS time.Time
	lastWall    time.Time
	lastIndex   uint64
	offline     bool

	// people count of the last frame the general stage ran on
	lastPeopleCount int

	lastArrival atomic.Int64

	stateMu sync.RWMutex
	state   CameraState

	done chan struct{}
}

func newPipeline(w *Worker, cameraID string) *pipeline {
	logger := w.logger.With().Str("camera_id", cameraID).Logger()
	p := &pipeline{
		id:        cameraID,
		name:      w.site.DisplayName(cameraID),
		w:         w,
		jobs:      make(chan job, w.cfg.CameraQueueSize),
		logger:    logger,
		runner:    scheduler.NewRunner(w.sched, w.detector, w.cfg.StageTimeout, logger.With().Str("service", "scheduler").Logger()),
		recorder:  w.recorders.ForCamera(cameraID),
		heartbeat: auditlog.NewHeartbeatClock(w.site.Thresholds.HeartbeatInterval, w.cfg.HeartbeatDecoupled),
		done:      make(chan struct{}),
	}
	p.state = CameraState{CameraID: cameraID, DisplayName: p.name}
	return p
}

// run is the single owner loop of the camera
func (p *pipeline) run(ctx context.Context) {
	defer close(p.done)
	p.logger.Debug().Msg("Camera pipeline started")

	for {
		select {
		case <-ctx.Done():
			p.drain()
			p.close()
			p.logger.Debug().Msg("Camera pipeline stopped")
			return
		case j := <-p.jobs:
			p.handle(j)
		}
	}
}

func (p *pipeline) drain() {
	for {
		select {
		case j := <-p.jobs:
			p.handle(j)
		default:
			return
		}
	}
}

func (p *pipeline) close() {
	now := p.frameClock(p.w.clock())
	p.recorder.Close(now)
	p.publish()
}

func (p *pipeline) handle(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Camera job panic recovered")
		}
		if j.done != nil {
			close(j.done)
		}
	}()

	switch j.kind {
	case jobFrame:
		p.processFrame(j.batch, j.wall)
	case jobStale:
		p.processStale(j.wall)
	case jobBarrier:
	}
	p.publish()
}

// frameClock projects a wall-clock instant onto the camera's timestamp axis
func (p *pipeline) frameClock(wall time.Time) time.Time {
	if p.lastBatchTS.IsZero() {
		return wall
	}
	return p.lastBatchTS.Add(wall.Sub(p.lastWall))
}

func (p *pipeline) processFrame(batch *models.FrameDetectionBatch, wall time.Time) {
	now := batch.Timestamp

	sig := policy.Signals{
		Offline: batch.ControlSignal == models.ControlSignalOffline,
		Warning: batch.ControlSignal == models.ControlSignalWarning || batch.ControlSignal == models.ControlSignalError,
	}

	var agg aggregator.Aggregated
	if batch.ControlOnly() {
		agg = p.w.agg.Merge(p.id, nil)
		if sig.Offline {
			p.offline = true
		}
	} else {
		if p.offline {
			p.logger.Info().Msg("Camera back online")
		}
		p.offline = sig.Offline
		if batch.FrameIndex < p.lastIndex {
			p.logger.Debug().Uint64("frame_index", batch.FrameIndex).Uint64("last_index", p.lastIndex).Msg("Frame index went backwards")
		}
		p.lastIndex = batch.FrameIndex
		p.lastBatchTS = now
		p.lastWall = wall
		p.lastArrival.Store(wall.UnixNano())

		plan := p.runner.Plan(batch.FrameIndex)
		res := p.runner.Run(context.Background(), plan, batch)
		agg = p.w.agg.Merge(p.id, res.Outputs)
		p.recorder.Observe(batch.Frame(), agg.Detections)

		if res.Ran(models.StageGeneral) {
			p.lastPeopleCount = agg.PeopleCount
		}

		p.stateMu.Lock()
		p.state.Frames++
		p.state.PeopleCount = p.lastPeopleCount
		p.stateMu.Unlock()
	}

	alerts := p.w.policy.Evaluate(policy.Snapshot{CameraID: p.id, LastFrameAt: p.lastBatchTS}, agg, now, sig)
	accepted := p.w.dedup.Filter(alerts)
	p.emit(accepted, agg, now, !batch.ControlOnly())
	p.recorder.Advance(now)
}

// processStale runs when the watchdog finds no frame within the offline
// timeout. The cooldown window keeps CAMERA_OFFLINE to one per window.
func (p *pipeline) processStale(wall time.Time) {
	now := p.frameClock(wall)
	if !p.offline {
		p.logger.Warn().Time("last_frame_at", p.lastBatchTS).Msg("⚠️ Camera stopped sending frames")
	}
	p.offline = true

	agg := p.w.agg.Merge(p.id, nil)
	alerts := p.w.policy.Evaluate(policy.Snapshot{CameraID: p.id, LastFrameAt: p.lastBatchTS}, agg, now, policy.Signals{Offline: true})
	accepted := p.w.dedup.Filter(alerts)
	p.emit(accepted, agg, now, false)
	p.recorder.Advance(now)
}

// emit writes one EVENT for the accepted alerts or, failing that, a due
// heartbeat. Decoupled heartbeats are written alongside EVENTs.
func (p *pipeline) emit(accepted []models.AlertEvent, agg aggregator.Aggregated, now time.Time, metricAllowed bool) {
	site := p.w.site.SiteID
	eventEmitted := len(accepted) > 0

	if eventEmitted {
		rec := auditlog.NewEvent(site, p.name, now, accepted, agg.PeopleCount, agg.Detections)
		if err := p.w.audit.Write(rec); err != nil {
			p.logger.Error().Err(err).Strs("triggers", rec.Event.Triggers).Msg("Failed to write EVENT")
		}
		p.logger.Info().
			Strs("triggers", rec.Event.Triggers).
			Str("status", rec.Meta.Status).
			Int("people_count", agg.PeopleCount).
			Msg("🚨 Alert accepted")

		p.recorder.Trigger(accepted, now)

		p.stateMu.Lock()
		p.state.Events++
		p.state.LastEventAt = now
		p.stateMu.Unlock()
	}

	if metricAllowed && p.heartbeat.Due(now, eventEmitted) {
		rec := auditlog.NewMetric(site, p.name, now, p.lastPeopleCount)
		if err := p.w.audit.Write(rec); err != nil {
			p.logger.Error().Err(err).Msg("Failed to write METRIC")
		}
		p.heartbeat.Mark(now)

		p.stateMu.Lock()
		p.state.Metrics++
		p.stateMu.Unlock()
	}
}

func (p *pipeline) publish() {
	rs := p.recorder.Status()
	stages := p.runner.Stats()
	cooldowns := p.w.dedup.Cooldowns(p.id)

	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.state.Offline = p.offline
	p.state.LastFrameIndex = p.lastIndex
	p.state.LastFrameAt = p.lastBatchTS
	p.state.LastArrival = p.lastWall
	p.state.LastHeartbeat = p.heartbeat.Last()
	p.state.Stages = stages
	p.state.Recorder = rs
	p.state.Cooldowns = cooldowns
}

func (p *pipeline) snapshot() CameraState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	st := p.state
	st.QueueDepth = len(p.jobs)
	return st
}

// arrival returns the wall time of the last detection frame, or the time the
// camera was registered at startup; zero for a camera created by its first batch
// that has not been processed yet
func (p *pipeline) arrival() time.Time {
	ns := p.lastArrival.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// seedArrival starts the offline timer of a camera that has not sent a frame
func (p *pipeline) seedArrival(wall time.Time) {
	p.lastArrival.CompareAndSwap(0, wall.UnixNano())
}

// offer enqueues without blocking and reports whether the job was taken
func (p *pipeline) offer(j job) bool {
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}
