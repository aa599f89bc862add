package scheduler

import (
	"strings"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
)

// Plan is the set of stages to execute on one frame
type Plan struct {
	FrameIndex uint64
	General    bool
	Hazard     bool
	Violence   bool
}

// Has reports whether the stage is part of the plan
func (p Plan) Has(stage models.Stage) bool {
	switch stage {
	case models.StageGeneral:
		return p.General
	case models.StageHazard:
		return p.Hazard
	case models.StageViolence:
		return p.Violence
	default:
		return false
	}
}

// Stages returns the planned stages in cascade order
func (p Plan) Stages() []models.Stage {
	stages := make([]models.Stage, 0, 3)
	for _, s := range models.Stages {
		if p.Has(s) {
			stages = append(stages, s)
		}
	}
	return stages
}

// Empty reports whether nothing runs on this frame
func (p Plan) Empty() bool {
	return !p.General && !p.Hazard && !p.Violence
}

func (p Plan) String() string {
	names := make([]string, 0, 3)
	for _, s := range p.Stages() {
		names = append(names, string(s))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

// Scheduler decides which stages run on a frame. It holds no per-camera state.
type Scheduler struct {
	generalEvery uint64
	hazardEvery  uint64
	minPersons   int
}

func New(t config.Thresholds) *Scheduler {
	s := &Scheduler{
		generalEvery: t.StageAInterval,
		hazardEvery:  t.StageBInterval,
		minPersons:   t.ViolenceMinPersons,
	}
	if s.generalEvery == 0 {
		s.generalEvery = 1
	}
	if s.hazardEvery == 0 {
		s.hazardEvery = 1
	}
	if s.minPersons < 1 {
		s.minPersons = 1
	}
	return s
}

// Plan returns the cadence-driven stages for a frame index. The two cadences
// are independent; when they coincide both stages run.
func (s *Scheduler) Plan(frameIndex uint64) Plan {
	return Plan{
		FrameIndex: frameIndex,
		General:    frameIndex%s.generalEvery == 0,
		Hazard:     frameIndex%s.hazardEvery == 0,
	}
}

// Escalate adds the violence stage when the general stage ran on this frame
// and found enough people. general must be the general stage output of the
// same frame; it is ignored when the plan did not include the general stage.
func (s *Scheduler) Escalate(p Plan, general []models.Detection) Plan {
	if !p.General {
		return p
	}
	persons := 0
	for _, d := range general {
		if d.Class == models.ClassPerson {
			persons++
		}
	}
	p.Violence = persons >= s.minPersons
	return p
}
