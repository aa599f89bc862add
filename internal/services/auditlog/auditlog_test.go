package auditlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-worker-go/internal/models"
)

var base = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func readLines(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestMetricRecordShape(t *testing.T) {
	rec := NewMetric("HEAD_OFFICE", "Lobby", base, 3)
	line, err := rec.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])
	assert.JSONEq(t,
		`{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"Lobby","site":"HEAD_OFFICE","status":"SAFE"},"data":{"people_count":3}}`,
		string(line))

	parsed, err := ParseRecord(line)
	require.NoError(t, err)
	assert.Equal(t, rec, parsed)
}

func TestEventRecordShape(t *testing.T) {
	accepted := []models.AlertEvent{
		models.NewAlertEvent(models.AlertTypeCrowd, "cam-01", base, nil, 11),
		models.NewAlertEvent(models.AlertTypeFireSmoke, "cam-01", base, nil, 11),
	}
	dets := []models.Detection{models.NewDetection("fire", 0.9, models.BBox{X: 1, Y: 2, W: 3, H: 4})}

	rec := NewEvent("HEAD_OFFICE", "Lobby", base, accepted, 11, dets)
	assert.Equal(t, string(models.AlertSeverityCritical), rec.Meta.Status)
	assert.Equal(t, []string{"CROWD", "FIRE_SMOKE"}, rec.Event.Triggers)
	assert.Nil(t, rec.Data)

	line, err := rec.Marshal()
	require.NoError(t, err)
	parsed, err := ParseRecord(line)
	require.NoError(t, err)
	assert.Equal(t, rec.Event.Triggers, parsed.Event.Triggers)
	require.Len(t, parsed.Event.Detections, 1)
	assert.Equal(t, models.ClassFire, parsed.Event.Detections[0].Class)
}

func TestParseRecordRejects(t *testing.T) {
	cases := map[string]string{
		"not json":        `nope`,
		"unknown type":    `{"type":"INFO","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"SAFE"},"data":{"people_count":0}}`,
		"metric no data":  `{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"SAFE"}}`,
		"metric critical": `{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"CRITICAL"},"data":{"people_count":0}}`,
		"event no event":  `{"type":"EVENT","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"HIGH"},"data":{"people_count":0}}`,
		"event safe":      `{"type":"EVENT","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"SAFE"},"event":{"triggers":["CROWD"],"people_count":0,"detections":[]}}`,
		"event empty":     `{"type":"EVENT","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"HIGH"},"event":{"triggers":[],"people_count":0,"detections":[]}}`,
		"bad trigger":     `{"type":"EVENT","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"HIGH"},"event":{"triggers":["LOITER"],"people_count":0,"detections":[]}}`,
		"bad ts":          `{"type":"METRIC","meta":{"ts":"yesterday","cam_id":"a","site":"s","status":"SAFE"},"data":{"people_count":0}}`,
		"no cam":          `{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"","site":"s","status":"SAFE"},"data":{"people_count":0}}`,
		"extra field":     `{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"SAFE"},"data":{"people_count":0},"x":1}`,
		"two objects":     `{"type":"METRIC","meta":{"ts":"2025-03-10T14:00:00.000Z","cam_id":"a","site":"s","status":"SAFE"},"data":{"people_count":0}} {}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecord([]byte(line))
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestWriterConcurrentLinesStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	w, err := NewWriter(path, Options{Retries: 1, Backoff: time.Millisecond})
	require.NoError(t, err)

	const cameras, perCamera = 8, 50
	var wg sync.WaitGroup
	for c := 0; c < cameras; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			cam := fmt.Sprintf("cam-%02d", c)
			for i := 0; i < perCamera; i++ {
				ts := base.Add(time.Duration(i) * time.Second)
				var rec Record
				if i%3 == 0 {
					alert := models.NewAlertEvent(models.AlertTypeViolence, cam, ts, nil, 2)
					rec = NewEvent("HEAD_OFFICE", cam, ts, []models.AlertEvent{alert}, 2, nil)
				} else {
					rec = NewMetric("HEAD_OFFICE", cam, ts, i)
				}
				assert.NoError(t, w.Write(rec))
			}
		}(c)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, cameras*perCamera)
	for _, line := range lines {
		_, err := ParseRecord(line)
		require.NoError(t, err, string(line))
	}
	assert.Equal(t, uint64(cameras*perCamera), w.Stats().Written)
	assert.True(t, w.Healthy())
}

type failingFile struct{ fail bool }

func (f *failingFile) Write(p []byte) (int, error) {
	if f.fail {
		return 0, errors.New("disk full")
	}
	return len(p), nil
}

func (f *failingFile) Close() error { return nil }

func TestWriterRetriesThenReportsFailure(t *testing.T) {
	opens := 0
	opener := func(string) (io.WriteCloser, error) {
		opens++
		return &failingFile{fail: true}, nil
	}
	w, err := NewWriter("unused", Options{Retries: 2, Backoff: time.Millisecond, Opener: opener})
	require.NoError(t, err)

	err = w.Write(NewMetric("S", "cam", base, 0))
	require.ErrorIs(t, err, ErrWriteExhausted)
	assert.Equal(t, 3, opens, "initial open plus one reopen per retry")

	select {
	case ferr := <-w.Failures():
		assert.ErrorIs(t, ferr, ErrWriteExhausted)
	default:
		t.Fatal("expected failure notification")
	}

	st := w.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(2), st.Retried)
	assert.False(t, w.Healthy())
	assert.Contains(t, st.LastError, "disk full")
}

func TestWriterRecoversOnReopen(t *testing.T) {
	opens := 0
	opener := func(string) (io.WriteCloser, error) {
		opens++
		return &failingFile{fail: opens == 1}, nil
	}
	w, err := NewWriter("unused", Options{Retries: 3, Backoff: time.Millisecond, Opener: opener})
	require.NoError(t, err)

	require.NoError(t, w.Write(NewMetric("S", "cam", base, 0)))
	assert.True(t, w.Healthy())
	assert.Equal(t, uint64(1), w.Stats().Retried)
}

type flakyFile struct {
	mu    sync.Mutex
	fails int
	lines int
}

func (f *flakyFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return 0, errors.New("i/o error")
	}
	f.lines++
	return len(p), nil
}

func (f *flakyFile) Close() error { return nil }

func (f *flakyFile) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fails
}

func TestWriterBackoffDoesNotBlockOtherCameras(t *testing.T) {
	file := &flakyFile{fails: 1}
	opener := func(string) (io.WriteCloser, error) { return file, nil }
	w, err := NewWriter("unused", Options{Retries: 1, Backoff: 500 * time.Millisecond, Opener: opener})
	require.NoError(t, err)

	retried := make(chan error, 1)
	go func() { retried <- w.Write(NewMetric("S", "Lobby", base, 0)) }()
	require.Eventually(t, func() bool { return file.pending() == 0 }, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, w.Write(NewMetric("S", "Yard", base, 0)))
	assert.Less(t, time.Since(start), 250*time.Millisecond, "writer lock is free during backoff")

	require.NoError(t, <-retried)
	assert.Equal(t, 2, file.lines)
	assert.Equal(t, uint64(1), w.Stats().Retried)
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	opens := 0
	opener := func(string) (io.WriteCloser, error) {
		opens++
		return &failingFile{}, nil
	}
	w, err := NewWriter("unused", Options{Retries: 3, Backoff: time.Millisecond, Opener: opener})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Write(NewMetric("S", "cam", base, 0))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, opens, "a closed log is not reopened")
	assert.Equal(t, uint64(0), w.Stats().Retried)
}

func TestWriterMirrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, err := NewWriter(path, Options{})
	require.NoError(t, err)
	defer w.Close()

	var got []string
	w.AddMirror("capture", MirrorFunc(func(rec Record, line []byte) error {
		got = append(got, rec.Type)
		return nil
	}))
	w.AddMirror("broken", MirrorFunc(func(Record, []byte) error {
		return errors.New("broker down")
	}))

	require.NoError(t, w.Write(NewMetric("S", "cam", base, 0)), "mirror errors do not fail the write")
	assert.Equal(t, []string{TypeMetric}, got)
	assert.Equal(t, uint64(1), w.Stats().Mirrored)
}

func TestHeartbeatSpacing(t *testing.T) {
	hb := NewHeartbeatClock(60*time.Second, false)

	var emitted []time.Time
	for s := 0; s <= 300; s++ {
		now := base.Add(time.Duration(s) * time.Second)
		if hb.Due(now, false) {
			hb.Mark(now)
			emitted = append(emitted, now)
		}
	}
	require.Len(t, emitted, 6)
	assert.Equal(t, base, emitted[0], "first frame is always due")
	for i := 1; i < len(emitted); i++ {
		assert.GreaterOrEqual(t, emitted[i].Sub(emitted[i-1]), 60*time.Second)
	}
}

func TestHeartbeatEventPrecedence(t *testing.T) {
	hb := NewHeartbeatClock(60*time.Second, false)
	assert.False(t, hb.Due(base, true))
	assert.True(t, hb.Last().IsZero(), "suppressed heartbeat leaves the clock alone")
	assert.True(t, hb.Due(base.Add(time.Second), false))

	decoupled := NewHeartbeatClock(60*time.Second, true)
	assert.True(t, decoupled.Due(base, true))
	decoupled.Mark(base)
	assert.False(t, decoupled.Due(base.Add(59*time.Second), true))
	assert.True(t, decoupled.Due(base.Add(60*time.Second), true))
}
