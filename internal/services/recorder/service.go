package recorder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
)

// Options are the timing parameters of evidence capture
type Options struct {
	PreEvent          time.Duration
	PostEvent         time.Duration
	ExtendedPostEvent time.Duration
	SnapshotInterval  time.Duration
}

func OptionsFromThresholds(t config.Thresholds) Options {
	return Options{
		PreEvent:          t.PreEvent,
		PostEvent:         t.PostEvent,
		ExtendedPostEvent: t.ExtendedPostEvent,
		SnapshotInterval:  t.SnapshotInterval,
	}
}

// DurationFor returns the post-event duration for alerts accepted together.
// The longest applicable duration wins; durations never add up.
func (o Options) DurationFor(alerts []models.AlertEvent) time.Duration {
	extended := lo.SomeBy(alerts, func(a models.AlertEvent) bool {
		return a.Type == models.AlertTypeCrowd || a.Type == models.AlertTypeViolence
	})
	if extended && o.ExtendedPostEvent > o.PostEvent {
		return o.ExtendedPostEvent
	}
	return o.PostEvent
}

// Archiver receives every finished session
type Archiver interface {
	Archive(rec SessionRecord)
}

// Service hands out one CameraRecorder per camera
type Service struct {
	opts      Options
	sink      Sink
	archiver  Archiver
	recorders map[string]*CameraRecorder
	mutex     sync.RWMutex
}

func NewService(site *config.Site, sink Sink, archiver Archiver) *Service {
	service := &Service{
		opts:      OptionsFromThresholds(site.Thresholds),
		sink:      sink,
		archiver:  archiver,
		recorders: make(map[string]*CameraRecorder),
	}

	log.Info().
		Dur("pre_event", service.opts.PreEvent).
		Dur("post_event", service.opts.PostEvent).
		Dur("extended_post_event", service.opts.ExtendedPostEvent).
		Dur("snapshot_interval", service.opts.SnapshotInterval).
		Msg("Recorder service initialized")
	return service
}

// ForCamera returns the camera's recorder, creating it on first use
func (rs *Service) ForCamera(cameraID string) *CameraRecorder {
	rs.mutex.RLock()
	r, ok := rs.recorders[cameraID]
	rs.mutex.RUnlock()
	if ok {
		return r
	}

	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	if r, ok := rs.recorders[cameraID]; ok {
		return r
	}
	r = NewCameraRecorder(cameraID, rs.opts, rs.sink, rs.archiver, log.With().Str("service", "recorder").Str("camera_id", cameraID).Logger())
	rs.recorders[cameraID] = r
	return r
}

// Statuses returns the status of every camera recorder
func (rs *Service) Statuses() map[string]Status {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()

	out := make(map[string]Status, len(rs.recorders))
	for id, r := range rs.recorders {
		out[id] = r.Status()
	}
	return out
}

// CameraRecorder runs the evidence state machine of one camera. Observe,
// Trigger, Advance and Close must be called from a single goroutine; Status
// may be called from anywhere.
type CameraRecorder struct {
	cameraID string
	opts     Options
	sink     Sink
	archiver Archiver
	logger   zerolog.Logger
	buffer   *PreBuffer

	mu               sync.Mutex
	session          *Session
	writer           SegmentWriter
	nextSegmentRetry time.Time

	storageErrors atomic.Uint64
	sessions      atomic.Uint64
}

func NewCameraRecorder(cameraID string, opts Options, sink Sink, archiver Archiver, logger zerolog.Logger) *CameraRecorder {
	return &CameraRecorder{
		cameraID: cameraID,
		opts:     opts,
		sink:     sink,
		archiver: archiver,
		logger:   logger,
		buffer:   NewPreBuffer(opts.PreEvent),
	}
}

// Observe pushes a frame into the pre-buffer and, while recording, appends
// it to the segment. Capture happens whether or not a session is active.
func (r *CameraRecorder) Observe(f models.Frame, dets []models.Detection) {
	r.buffer.Push(Entry{Frame: f, Detections: dets})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		r.writeFrame(f)
	}
}

// Trigger starts a session for accepted alerts or extends the running one.
// The scheduled end never moves backwards.
func (r *CameraRecorder) Trigger(alerts []models.AlertEvent, now time.Time) {
	if len(alerts) == 0 {
		return
	}
	dur := r.opts.DurationFor(alerts)
	triggers := models.Triggers(alerts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s := r.session; s != nil {
		s.Triggers = lo.Union(s.Triggers, triggers)
		if end := now.Add(dur); end.After(s.ScheduledEndAt) {
			s.ScheduledEndAt = end
			s.Extensions++
			r.logger.Info().
				Strs("triggers", triggers).
				Time("scheduled_end_at", end).
				Msg("Recording extended")
		}
		if dur > s.DurationBase {
			s.DurationBase = dur
		}
		return
	}

	r.start(now, dur, triggers)
}

// Advance emits a snapshot if one is due and ends the session once its
// scheduled end has been reached.
func (r *CameraRecorder) Advance(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if s == nil {
		return
	}

	if !s.NextSnapshotDueAt.After(now) && !s.NextSnapshotDueAt.After(s.ScheduledEndAt) {
		if e, ok := r.buffer.Latest(); ok {
			r.snapshot("snap", e.Frame)
		}
		for !s.NextSnapshotDueAt.After(now) {
			s.NextSnapshotDueAt = s.NextSnapshotDueAt.Add(r.opts.SnapshotInterval)
		}
	}

	if !now.Before(s.ScheduledEndAt) {
		r.finish(now)
	}
}

// Close ends any running session immediately
func (r *CameraRecorder) Close(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		r.finish(now)
	}
}

func (r *CameraRecorder) start(now time.Time, dur time.Duration, triggers []string) {
	s := &Session{
		ID:                uuid.NewString(),
		CameraID:          r.cameraID,
		State:             StateRecording,
		StartedAt:         now,
		ScheduledEndAt:    now.Add(dur),
		NextSnapshotDueAt: now.Add(r.opts.SnapshotInterval),
		DurationBase:      dur,
		Triggers:          triggers,
	}
	if oldest, ok := r.buffer.Oldest(); ok {
		s.CoversFrom = oldest
	}
	r.session = s
	r.sessions.Add(1)

	r.logger.Info().
		Str("session_id", s.ID).
		Strs("triggers", triggers).
		Dur("duration", dur).
		Int("pre_buffer_frames", r.buffer.Len()).
		Msg("🎬 Recording session started")

	r.openSegment(now)
	if r.writer != nil {
		for _, e := range r.buffer.Entries() {
			r.writeFrame(e.Frame)
		}
	}

	if prev, ok := r.buffer.FromEnd(1); ok {
		r.snapshot("prev", prev.Frame)
	}
	if curr, ok := r.buffer.Latest(); ok {
		r.snapshot("curr", curr.Frame)
	}
}

func (r *CameraRecorder) openSegment(now time.Time) {
	s := r.session
	w, err := r.sink.OpenSegment(r.cameraID, s.StartedAt, s.Triggers)
	if err != nil {
		r.storageFailure(err, "Failed to open evidence segment")
		r.nextSegmentRetry = now.Add(r.opts.SnapshotInterval)
		return
	}
	r.writer = w
	s.SegmentPath = w.Path()
}

func (r *CameraRecorder) writeFrame(f models.Frame) {
	if r.writer == nil {
		if f.Timestamp.Before(r.nextSegmentRetry) {
			return
		}
		r.openSegment(f.Timestamp)
		if r.writer == nil {
			return
		}
	}

	if err := r.writer.WriteFrame(f); err != nil {
		if errors.Is(err, ErrNoImage) {
			return
		}
		r.storageFailure(err, "Failed to write frame to evidence segment")
		return
	}
	r.session.Frames++
}

func (r *CameraRecorder) snapshot(tag string, f models.Frame) {
	s := r.session
	s.snapshotSeq++
	path, err := r.sink.WriteSnapshot(r.cameraID, s.StartedAt, tag, s.snapshotSeq, f)
	if err != nil {
		if errors.Is(err, ErrNoImage) {
			r.logger.Debug().Str("tag", tag).Uint64("frame_index", f.FrameIndex).Msg("Snapshot skipped, frame has no image")
			return
		}
		r.storageFailure(err, "Failed to write snapshot")
		return
	}
	s.Snapshots = append(s.Snapshots, path)
}

func (r *CameraRecorder) storageFailure(err error, msg string) {
	r.storageErrors.Add(1)
	r.session.StorageErrors++

	// first failure of a session at warn, the rest at debug
	ev := r.logger.Debug()
	if r.session.StorageErrors == 1 {
		ev = r.logger.Warn()
	}
	ev.Err(err).Str("session_id", r.session.ID).Msg(msg)
}

func (r *CameraRecorder) finish(now time.Time) {
	s := r.session
	if r.writer != nil {
		if err := r.writer.Close(); err != nil {
			r.storageFailure(err, "Failed to close evidence segment")
		}
		r.writer = nil
	}
	r.nextSegmentRetry = time.Time{}

	s.State = StateIdle
	s.EndedAt = now
	r.session = nil

	rec := s.Record()
	r.logger.Info().
		Str("session_id", s.ID).
		Strs("triggers", s.Triggers).
		Time("started_at", s.StartedAt).
		Time("ended_at", now).
		Int("frames", s.Frames).
		Int("snapshots", len(s.Snapshots)).
		Int("storage_errors", s.StorageErrors).
		Msg("Recording session closed")

	if r.archiver != nil {
		r.archiver.Archive(rec)
	}
}

// Status reports the recorder state
func (r *CameraRecorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		State:         StateIdle,
		Sessions:      r.sessions.Load(),
		StorageErrors: r.storageErrors.Load(),
	}
	if r.session != nil {
		cp := *r.session
		cp.Triggers = append([]string(nil), r.session.Triggers...)
		cp.Snapshots = append([]string(nil), r.session.Snapshots...)
		st.State = StateRecording
		st.Session = &cp
	}
	return st
}

// BufferLen returns the number of frames in the pre-buffer.
// Owner goroutine only.
func (r *CameraRecorder) BufferLen() int {
	return r.buffer.Len()
}
