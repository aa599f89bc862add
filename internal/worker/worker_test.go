package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/auditlog"
	"sentinel-worker-go/internal/services/detection"
	"sentinel-worker-go/internal/services/recorder"
)

// Monday 10:00 UTC, inside office hours
var t0 = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type memAudit struct {
	mu   sync.Mutex
	recs []auditlog.Record
}

func (m *memAudit) Write(rec auditlog.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memAudit) records() []auditlog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auditlog.Record(nil), m.recs...)
}

func (m *memAudit) ofType(typ string) []auditlog.Record {
	var out []auditlog.Record
	for _, r := range m.records() {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

type memSegment struct{ path string }

func (s *memSegment) WriteFrame(models.Frame) error { return nil }
func (s *memSegment) Close() error                  { return nil }
func (s *memSegment) Path() string                  { return s.path }

type memSink struct{}

func (memSink) OpenSegment(cameraID string, startedAt time.Time, triggers []string) (recorder.SegmentWriter, error) {
	return &memSegment{path: cameraID + "/" + recorder.SegmentName(startedAt, triggers)}, nil
}

func (memSink) WriteSnapshot(cameraID string, startedAt time.Time, tag string, seq int, _ models.Frame) (string, error) {
	return cameraID + "/" + recorder.SnapshotName(startedAt, tag, seq), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	w     *Worker
	audit *memAudit
	clock *fakeClock
	recs  *recorder.Service
}

func testSite() *config.Site {
	site := config.DefaultSite()
	site.Cameras = map[string]string{"cam-01": "Lobby", "cam-02": "Yard"}
	site.Zones = []config.Zone{{
		Name:    "restricted-high-occupancy",
		Polygon: []config.Point{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}, {X: 0, Y: 1000}},
	}}
	return site
}

func newHarness(t *testing.T, decoupled bool) *harness {
	t.Helper()
	cfg := &config.Config{
		WorkerID:           "test",
		CameraQueueSize:    16,
		WatchdogInterval:   time.Hour,
		StageTimeout:       time.Second,
		HeartbeatDecoupled: decoupled,
	}
	site := testSite()
	audit := &memAudit{}
	clock := &fakeClock{now: t0}
	recs := recorder.NewService(site, memSink{}, nil)

	w, err := New(cfg, site, Deps{
		Detector:  detection.NewBatchDetector(),
		Recorders: recs,
		Audit:     audit,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })
	return &harness{w: w, audit: audit, clock: clock, recs: recs}
}

func (h *harness) ingest(t *testing.T, b *models.FrameDetectionBatch) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.w.Ingest(ctx, b))
	require.NoError(t, h.w.barrier(ctx, b.CameraID))
}

func (h *harness) sync(t *testing.T, cameraID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.w.barrier(ctx, cameraID))
}

func persons(n int) []models.Detection {
	out := make([]models.Detection, n)
	for i := range out {
		out[i] = models.NewDetection("person", 0.9, models.BBox{X: float32(10 * i), Y: 100, W: 20, H: 40})
	}
	return out
}

func batch(cam string, idx uint64, ts time.Time, dets ...models.Detection) *models.FrameDetectionBatch {
	return &models.FrameDetectionBatch{
		CameraID:   cam,
		FrameIndex: idx,
		Timestamp:  ts,
		Detections: dets,
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(&config.Config{}, testSite(), Deps{})
	assert.Error(t, err)
}

func TestFirstFrameEmitsMetric(t *testing.T) {
	h := newHarness(t, false)
	h.ingest(t, batch("cam-01", 0, t0, persons(2)...))

	metrics := h.audit.ofType(auditlog.TypeMetric)
	require.Len(t, metrics, 1)
	assert.Equal(t, "Lobby", metrics[0].Meta.CamID)
	assert.Equal(t, "HEAD_OFFICE", metrics[0].Meta.Site)
	assert.Equal(t, 2, metrics[0].Data.PeopleCount)
	assert.Empty(t, h.audit.ofType(auditlog.TypeEvent))
}

func TestMetricKeepsCountBetweenStageAFrames(t *testing.T) {
	h := newHarness(t, false)
	h.ingest(t, batch("cam-01", 0, t0, persons(5)...))
	for i := 1; i <= 70; i++ {
		if i%4 == 0 {
			continue
		}
		h.ingest(t, batch("cam-01", uint64(i), t0.Add(time.Duration(i)*time.Second), persons(5)...))
	}

	metrics := h.audit.ofType(auditlog.TypeMetric)
	require.Len(t, metrics, 2)
	assert.Equal(t, 5, metrics[0].Data.PeopleCount)
	assert.Equal(t, "2025-03-10T10:01:01.000Z", metrics[1].Meta.TS)
	assert.Equal(t, 5, metrics[1].Data.PeopleCount, "count comes from the last stage A frame")

	st, err := h.w.Camera("cam-01")
	require.NoError(t, err)
	assert.Equal(t, 5, st.PeopleCount)

	// an empty stage A frame resets the count
	h.ingest(t, batch("cam-01", 72, t0.Add(72*time.Second)))
	st, _ = h.w.Camera("cam-01")
	assert.Equal(t, 0, st.PeopleCount)
}

func TestHeartbeatSpacingAcrossFrames(t *testing.T) {
	h := newHarness(t, false)
	for i := 0; i <= 150; i++ {
		h.ingest(t, batch("cam-01", uint64(i*4), t0.Add(time.Duration(i)*time.Second)))
	}

	metrics := h.audit.ofType(auditlog.TypeMetric)
	require.Len(t, metrics, 3)
	var prev time.Time
	for i, m := range metrics {
		ts, err := time.Parse(auditlog.TimestampLayout, m.Meta.TS)
		require.NoError(t, err)
		if i > 0 {
			assert.GreaterOrEqual(t, ts.Sub(prev), 60*time.Second)
		}
		prev = ts
	}
}

func TestCrowdScenario(t *testing.T) {
	h := newHarness(t, false)
	at := t0.Add(10 * time.Second)
	h.ingest(t, batch("cam-01", 0, at, persons(11)...))

	events := h.audit.ofType(auditlog.TypeEvent)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"CROWD"}, events[0].Event.Triggers)
	assert.Equal(t, "CRITICAL", events[0].Meta.Status)
	assert.Equal(t, 11, events[0].Event.PeopleCount)
	assert.Empty(t, h.audit.ofType(auditlog.TypeMetric), "EVENT wins over the first heartbeat")

	st, err := h.w.Camera("cam-01")
	require.NoError(t, err)
	require.Equal(t, recorder.StateRecording, st.Recorder.State)
	assert.True(t, st.Recorder.Session.ScheduledEndAt.Equal(at.Add(10*time.Second)))
	assert.Equal(t, uint64(1), st.Events)
	assert.Equal(t, 11, st.PeopleCount)
	assert.Contains(t, st.Cooldowns, models.AlertTypeCrowd)

	// same crowd one second later is inside the cooldown
	h.ingest(t, batch("cam-01", 4, at.Add(time.Second), persons(11)...))
	assert.Len(t, h.audit.ofType(auditlog.TypeEvent), 1)
	assert.Len(t, h.audit.ofType(auditlog.TypeMetric), 1, "heartbeat is still due once no EVENT is written")

	// session runs out at t=20
	h.ingest(t, batch("cam-01", 5, at.Add(10*time.Second)))
	st, _ = h.w.Camera("cam-01")
	assert.Equal(t, recorder.StateIdle, st.Recorder.State)
}

func TestDecoupledHeartbeat(t *testing.T) {
	h := newHarness(t, true)
	h.ingest(t, batch("cam-01", 0, t0, persons(11)...))

	assert.Len(t, h.audit.ofType(auditlog.TypeEvent), 1)
	assert.Len(t, h.audit.ofType(auditlog.TypeMetric), 1)
}

func TestCameraOfflineOncePerWindow(t *testing.T) {
	h := newHarness(t, false)
	h.ingest(t, batch("cam-01", 1, t0))

	wd := h.w.Watchdog()
	assert.Empty(t, wd.Check(t0.Add(4900*time.Millisecond)))

	for ms := 5100; ms < 10000; ms += 100 {
		flagged := wd.Check(t0.Add(time.Duration(ms) * time.Millisecond))
		assert.Equal(t, []string{"cam-01"}, flagged)
		h.sync(t, "cam-01")
	}
	events := h.audit.ofType(auditlog.TypeEvent)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"CAMERA_OFFLINE"}, events[0].Event.Triggers)
	assert.Equal(t, "HIGH", events[0].Meta.Status)
	assert.Equal(t, "2025-03-10T10:00:05.100Z", events[0].Meta.TS)

	st, _ := h.w.Camera("cam-01")
	assert.True(t, st.Offline)

	wd.Check(t0.Add(10100 * time.Millisecond))
	h.sync(t, "cam-01")
	assert.Len(t, h.audit.ofType(auditlog.TypeEvent), 2, "second window fires again")

	// a frame brings the camera back
	h.clock.Set(t0.Add(11 * time.Second))
	h.ingest(t, batch("cam-01", 2, t0.Add(11*time.Second)))
	st, _ = h.w.Camera("cam-01")
	assert.False(t, st.Offline)
}

func TestWatchdogFlagsCamerasThatNeverConnect(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.w.Start())
	wd := h.w.Watchdog()

	assert.Empty(t, wd.Check(t0.Add(4900*time.Millisecond)))

	// cam-01 delivers, cam-02 stays silent
	h.clock.Set(t0.Add(3 * time.Second))
	h.ingest(t, batch("cam-01", 0, t0.Add(3*time.Second)))

	at := t0.Add(5100 * time.Millisecond)
	assert.Equal(t, []string{"cam-02"}, wd.Check(at))
	h.sync(t, "cam-02")

	events := h.audit.ofType(auditlog.TypeEvent)
	require.Len(t, events, 1)
	assert.Equal(t, "Yard", events[0].Meta.CamID)
	assert.Equal(t, []string{"CAMERA_OFFLINE"}, events[0].Event.Triggers)
	assert.Equal(t, "2025-03-10T10:00:05.100Z", events[0].Meta.TS)

	st, err := h.w.Camera("cam-02")
	require.NoError(t, err)
	assert.True(t, st.Offline)
	assert.Equal(t, uint64(0), st.Frames)
}

func TestControlSignals(t *testing.T) {
	h := newHarness(t, false)
	h.ingest(t, batch("cam-01", 1, t0))

	warn := batch("cam-01", 0, t0.Add(time.Second))
	warn.ControlSignal = "warning"
	h.ingest(t, warn)

	events := h.audit.ofType(auditlog.TypeEvent)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"CAMERA_WARNING"}, events[0].Event.Triggers)
	assert.Equal(t, "MEDIUM", events[0].Meta.Status)

	off := batch("cam-01", 0, t0.Add(2*time.Second))
	off.ControlSignal = models.ControlSignalOffline
	h.ingest(t, off)

	events = h.audit.ofType(auditlog.TypeEvent)
	require.Len(t, events, 2)
	assert.Equal(t, []string{"CAMERA_OFFLINE"}, events[1].Event.Triggers)

	st, _ := h.w.Camera("cam-01")
	assert.True(t, st.Offline)
	assert.Equal(t, uint64(1), st.Frames, "control batches are not frames")
	assert.Equal(t, uint64(1), st.LastFrameIndex)
}

func TestIngestRejectsInvalid(t *testing.T) {
	h := newHarness(t, false)
	err := h.w.Ingest(context.Background(), &models.FrameDetectionBatch{Timestamp: t0})
	assert.ErrorIs(t, err, models.ErrMissingCameraID)

	bad := batch("cam-01", 0, t0)
	bad.ControlSignal = "REBOOT"
	assert.Error(t, h.w.Ingest(context.Background(), bad))

	_, err = h.w.Camera("cam-01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCamerasRunIndependently(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.w.Start())

	var wg sync.WaitGroup
	for c := 1; c <= 4; c++ {
		wg.Add(1)
		go func(cam string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, h.w.Ingest(context.Background(), batch(cam, uint64(i), t0.Add(time.Duration(i)*100*time.Millisecond), persons(11)...)))
			}
		}(fmt.Sprintf("cam-%02d", c))
	}
	wg.Wait()
	for c := 1; c <= 4; c++ {
		h.sync(t, fmt.Sprintf("cam-%02d", c))
	}

	cams := h.w.Cameras()
	require.Len(t, cams, 4)
	assert.Equal(t, "cam-01", cams[0].CameraID)
	assert.Equal(t, "Lobby", cams[0].DisplayName)
	for _, st := range cams {
		assert.Equal(t, uint64(20), st.Frames)
		assert.Equal(t, uint64(1), st.Events, "one CROWD per camera inside the cooldown")
	}
}

func TestShutdownClosesRecordings(t *testing.T) {
	h := newHarness(t, false)
	h.ingest(t, batch("cam-01", 0, t0, persons(11)...))

	require.NoError(t, h.w.Shutdown(context.Background()))

	st := h.recs.Statuses()["cam-01"]
	assert.Equal(t, recorder.StateIdle, st.State)
	assert.ErrorIs(t, h.w.Ingest(context.Background(), batch("cam-01", 1, t0)), ErrStopped)
}
