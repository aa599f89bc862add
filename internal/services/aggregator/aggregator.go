package aggregator

import (
	"sort"

	"github.com/samber/lo"

	"sentinel-worker-go/internal/models"
)

// NameResolver maps a camera id to its display name
type NameResolver interface {
	DisplayName(cameraID string) string
}

// Aggregated is the merged view of every stage that ran on one frame
type Aggregated struct {
	CameraID    string             `json:"camera_id"`
	DisplayName string             `json:"cam_id"`
	Detections  []models.Detection `json:"detections"`
	PeopleCount int                `json:"people_count"`
}

// Persons returns the person detections, keeping order
func (a Aggregated) Persons() []models.Detection {
	return lo.Filter(a.Detections, func(d models.Detection, _ int) bool {
		return d.Class == models.ClassPerson
	})
}

type Aggregator struct {
	names NameResolver
}

func New(names NameResolver) *Aggregator {
	return &Aggregator{names: names}
}

// Merge concatenates stage outputs in cascade order and stable-sorts them by
// descending confidence. Overlapping classes from different stages are kept.
func (a *Aggregator) Merge(cameraID string, outputs map[models.Stage][]models.Detection) Aggregated {
	total := 0
	for _, dets := range outputs {
		total += len(dets)
	}

	merged := make([]models.Detection, 0, total)
	for _, stage := range models.Stages {
		merged = append(merged, outputs[stage]...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Confidence > merged[j].Confidence
	})

	name := cameraID
	if a.names != nil {
		name = a.names.DisplayName(cameraID)
	}

	return Aggregated{
		CameraID:    cameraID,
		DisplayName: name,
		Detections:  merged,
		PeopleCount: lo.CountBy(merged, func(d models.Detection) bool { return d.Class == models.ClassPerson }),
	}
}
