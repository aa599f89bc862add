package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sentinel-worker-go/internal/models"
)

// Detector runs one stage model against a frame
type Detector interface {
	Detect(ctx context.Context, stage models.Stage, batch *models.FrameDetectionBatch) ([]models.Detection, error)
}

// Result is the outcome of running a plan on one frame
type Result struct {
	// Plan after escalation
	Plan Plan
	// Outputs holds detections of every stage that executed, failed stages map to nil
	Outputs map[models.Stage][]models.Detection
	// Skipped lists planned stages that did not run because a previous call was still in flight
	Skipped []models.Stage
}

// Ran reports whether the stage executed on this frame (successfully or not)
func (r Result) Ran(stage models.Stage) bool {
	_, ok := r.Outputs[stage]
	return ok
}

// Stats counts stage invocations for one camera
type Stats struct {
	Invocations uint64 `json:"invocations"`
	Failures    uint64 `json:"failures"`
	Timeouts    uint64 `json:"timeouts"`
	Skipped     uint64 `json:"skipped"`
}

// Runner executes plans for one camera, enforcing one in-flight call per stage
type Runner struct {
	sched    *Scheduler
	detector Detector
	guard    *Guard
	timeout  time.Duration
	logger   zerolog.Logger

	invocations atomic.Uint64
	failures    atomic.Uint64
	timeouts    atomic.Uint64
	skipped     atomic.Uint64
}

func NewRunner(sched *Scheduler, detector Detector, timeout time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		sched:    sched,
		detector: detector,
		guard:    NewGuard(),
		timeout:  timeout,
		logger:   logger,
	}
}

// Plan delegates to the shared scheduler
func (r *Runner) Plan(frameIndex uint64) Plan {
	return r.sched.Plan(frameIndex)
}

// Run executes the cadence stages of plan concurrently, escalates on the
// general output, then runs the violence stage if escalation asked for it.
// Stage errors and timeouts are logged and contribute no detections.
func (r *Runner) Run(ctx context.Context, plan Plan, batch *models.FrameDetectionBatch) Result {
	res := Result{
		Plan:    plan,
		Outputs: make(map[models.Stage][]models.Detection, 3),
	}
	res.Plan.Violence = false

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, stage := range []models.Stage{models.StageGeneral, models.StageHazard} {
		if !plan.Has(stage) {
			continue
		}
		wg.Add(1)
		go func(stage models.Stage) {
			defer wg.Done()
			dets, ran := r.invoke(ctx, stage, batch)

			mu.Lock()
			defer mu.Unlock()
			if ran {
				res.Outputs[stage] = dets
			} else {
				res.Skipped = append(res.Skipped, stage)
			}
		}(stage)
	}
	wg.Wait()

	if !res.Ran(models.StageGeneral) {
		res.Plan.General = false
	}
	if !res.Ran(models.StageHazard) {
		res.Plan.Hazard = false
	}

	res.Plan = r.sched.Escalate(res.Plan, res.Outputs[models.StageGeneral])
	if res.Plan.Violence {
		if dets, ran := r.invoke(ctx, models.StageViolence, batch); ran {
			res.Outputs[models.StageViolence] = dets
		} else {
			res.Plan.Violence = false
			res.Skipped = append(res.Skipped, models.StageViolence)
		}
	}

	return res
}

type stageReply struct {
	detections []models.Detection
	err        error
}

// invoke calls the detector for one stage. ran is false only when the stage
// was skipped because its previous call has not returned yet.
func (r *Runner) invoke(ctx context.Context, stage models.Stage, batch *models.FrameDetectionBatch) ([]models.Detection, bool) {
	logger := r.logger.With().Str("stage", string(stage)).Uint64("frame_index", batch.FrameIndex).Logger()

	if !r.guard.TryAcquire(stage) {
		r.skipped.Add(1)
		logger.Warn().Msg("Stage still in flight, skipping")
		return nil, false
	}
	r.invocations.Add(1)

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	// The guard is released by the call goroutine, so a call that outlives its
	// timeout keeps the stage busy until it actually returns.
	reply := make(chan stageReply, 1)
	go func() {
		defer r.guard.Release(stage)
		defer func() {
			if rec := recover(); rec != nil {
				reply <- stageReply{err: fmt.Errorf("detector panic: %v", rec)}
			}
		}()
		dets, err := r.detector.Detect(callCtx, stage, batch)
		reply <- stageReply{detections: dets, err: err}
	}()

	select {
	case out := <-reply:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				r.timeouts.Add(1)
			}
			r.failures.Add(1)
			logger.Warn().Err(out.err).Msg("Stage failed, treating output as empty")
			return nil, true
		}
		return out.detections, true
	case <-callCtx.Done():
		r.timeouts.Add(1)
		r.failures.Add(1)
		logger.Warn().Err(callCtx.Err()).Dur("timeout", r.timeout).Msg("Stage timed out, treating output as empty")
		return nil, true
	}
}

// Stats returns a snapshot of the invocation counters
func (r *Runner) Stats() Stats {
	return Stats{
		Invocations: r.invocations.Load(),
		Failures:    r.failures.Load(),
		Timeouts:    r.timeouts.Load(),
		Skipped:     r.skipped.Load(),
	}
}

// Busy reports whether a stage call is outstanding
func (r *Runner) Busy(stage models.Stage) bool {
	return r.guard.Busy(stage)
}
