package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
)

func persons(n int) []models.Detection {
	out := make([]models.Detection, n)
	for i := range out {
		out[i] = models.NewDetection("person", 0.9, models.BBox{X: float32(i), W: 10, H: 10})
	}
	return out
}

func defaultScheduler() *Scheduler {
	return New(config.DefaultSite().Thresholds)
}

func TestPlanCadence(t *testing.T) {
	s := defaultScheduler()

	for i := uint64(0); i < 300; i++ {
		p := s.Plan(i)
		assert.Equal(t, i%4 == 0, p.General, "frame %d", i)
		assert.Equal(t, i%30 == 0, p.Hazard, "frame %d", i)
		assert.False(t, p.Violence, "frame %d", i)
	}
}

func TestPlanCoincidingCadences(t *testing.T) {
	p := defaultScheduler().Plan(60)
	assert.True(t, p.General)
	assert.True(t, p.Hazard)
	assert.Equal(t, []models.Stage{models.StageGeneral, models.StageHazard}, p.Stages())
	assert.Equal(t, "general+hazard", p.String())
	assert.Equal(t, "none", defaultScheduler().Plan(1).String())
}

func TestEscalate(t *testing.T) {
	s := defaultScheduler()

	tests := []struct {
		name    string
		plan    Plan
		general []models.Detection
		want    bool
	}{
		{"two persons", s.Plan(4), persons(2), true},
		{"one person", s.Plan(4), persons(1), false},
		{"persons but general not planned", s.Plan(5), persons(5), false},
		{"cars do not count", s.Plan(8), []models.Detection{
			models.NewDetection("car", 0.9, models.BBox{}),
			models.NewDetection("car", 0.9, models.BBox{}),
			models.NewDetection("person", 0.9, models.BBox{}),
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Escalate(tt.plan, tt.general).Violence)
		})
	}
}

func TestGuard(t *testing.T) {
	g := NewGuard()
	require.True(t, g.TryAcquire(models.StageHazard))
	assert.False(t, g.TryAcquire(models.StageHazard))
	assert.True(t, g.TryAcquire(models.StageGeneral), "stages are independent")
	assert.True(t, g.Busy(models.StageHazard))

	g.Release(models.StageHazard)
	assert.False(t, g.Busy(models.StageHazard))
	assert.True(t, g.TryAcquire(models.StageHazard))
}

type fakeDetector struct {
	mu      sync.Mutex
	outputs map[models.Stage][]models.Detection
	errs    map[models.Stage]error
	block   map[models.Stage]chan struct{}
	calls   map[models.Stage]int
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{
		outputs: map[models.Stage][]models.Detection{},
		errs:    map[models.Stage]error{},
		block:   map[models.Stage]chan struct{}{},
		calls:   map[models.Stage]int{},
	}
}

func (f *fakeDetector) Detect(ctx context.Context, stage models.Stage, _ *models.FrameDetectionBatch) ([]models.Detection, error) {
	f.mu.Lock()
	f.calls[stage]++
	block := f.block[stage]
	out, err := f.outputs[stage], f.errs[stage]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return out, err
}

func (f *fakeDetector) count(stage models.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[stage]
}

func batchAt(idx uint64) *models.FrameDetectionBatch {
	return &models.FrameDetectionBatch{CameraID: "cam-01", FrameIndex: idx, Timestamp: time.Unix(int64(idx), 0)}
}

func TestRunnerEscalatesToViolence(t *testing.T) {
	det := newFakeDetector()
	det.outputs[models.StageGeneral] = persons(3)
	det.outputs[models.StageViolence] = []models.Detection{models.NewDetection("fight", 0.8, models.BBox{})}

	r := NewRunner(defaultScheduler(), det, time.Second, zerolog.Nop())
	res := r.Run(context.Background(), r.Plan(4), batchAt(4))

	assert.True(t, res.Plan.Violence)
	assert.Len(t, res.Outputs[models.StageGeneral], 3)
	assert.Len(t, res.Outputs[models.StageViolence], 1)
	assert.False(t, res.Ran(models.StageHazard))
	assert.Equal(t, 1, det.count(models.StageViolence))
}

func TestRunnerNoViolenceWithoutGeneral(t *testing.T) {
	det := newFakeDetector()
	det.outputs[models.StageGeneral] = persons(3)

	r := NewRunner(defaultScheduler(), det, time.Second, zerolog.Nop())

	// frame 30 plans hazard only
	res := r.Run(context.Background(), r.Plan(30), batchAt(30))
	assert.True(t, res.Ran(models.StageHazard))
	assert.False(t, res.Ran(models.StageGeneral))
	assert.False(t, res.Plan.Violence)
	assert.Equal(t, 0, det.count(models.StageViolence))
}

func TestRunnerFailOpen(t *testing.T) {
	det := newFakeDetector()
	det.outputs[models.StageGeneral] = persons(4)
	det.errs[models.StageGeneral] = errors.New("accelerator reset")
	det.outputs[models.StageHazard] = []models.Detection{models.NewDetection("fire", 0.9, models.BBox{})}

	r := NewRunner(defaultScheduler(), det, time.Second, zerolog.Nop())
	res := r.Run(context.Background(), r.Plan(60), batchAt(60))

	assert.True(t, res.Ran(models.StageGeneral))
	assert.Empty(t, res.Outputs[models.StageGeneral])
	assert.Len(t, res.Outputs[models.StageHazard], 1)
	assert.False(t, res.Plan.Violence, "failed general stage must not escalate")
	assert.EqualValues(t, 1, r.Stats().Failures)
}

func TestRunnerTimeoutKeepsStageBusyUntilReturn(t *testing.T) {
	det := newFakeDetector()
	release := make(chan struct{})
	det.block[models.StageHazard] = release
	det.outputs[models.StageHazard] = []models.Detection{models.NewDetection("smoke", 0.9, models.BBox{})}

	r := NewRunner(defaultScheduler(), det, 20*time.Millisecond, zerolog.Nop())

	res := r.Run(context.Background(), r.Plan(0), batchAt(0))
	assert.True(t, res.Ran(models.StageHazard))
	assert.Empty(t, res.Outputs[models.StageHazard])
	assert.EqualValues(t, 1, r.Stats().Timeouts)
	assert.True(t, r.Busy(models.StageHazard))

	// next hazard frame is skipped while the first call is outstanding
	res = r.Run(context.Background(), r.Plan(30), batchAt(30))
	assert.Equal(t, []models.Stage{models.StageHazard}, res.Skipped)
	assert.False(t, res.Plan.Hazard)
	assert.Equal(t, 1, det.count(models.StageHazard))

	close(release)
	require.Eventually(t, func() bool { return !r.Busy(models.StageHazard) }, time.Second, 5*time.Millisecond)

	// the following scheduled attempt runs normally
	res = r.Run(context.Background(), r.Plan(60), batchAt(60))
	assert.Len(t, res.Outputs[models.StageHazard], 1)
	assert.EqualValues(t, 1, r.Stats().Skipped)
}

type panicDetector struct{ calls atomic.Int32 }

func (p *panicDetector) Detect(context.Context, models.Stage, *models.FrameDetectionBatch) ([]models.Detection, error) {
	p.calls.Add(1)
	panic("boom")
}

func TestRunnerRecoversDetectorPanic(t *testing.T) {
	r := NewRunner(defaultScheduler(), &panicDetector{}, time.Second, zerolog.Nop())

	res := r.Run(context.Background(), r.Plan(4), batchAt(4))
	assert.True(t, res.Ran(models.StageGeneral))
	assert.Empty(t, res.Outputs[models.StageGeneral])
	require.Eventually(t, func() bool { return !r.Busy(models.StageGeneral) }, time.Second, 5*time.Millisecond)
}
