package detection

import (
	"context"

	"sentinel-worker-go/internal/models"
)

// BatchDetector serves stages from detections already carried in the batch.
// Each stage only sees the classes of its own family, so a stage that is not
// scheduled on a frame contributes nothing even if upstream sent its classes.
type BatchDetector struct{}

func NewBatchDetector() *BatchDetector {
	return &BatchDetector{}
}

func (BatchDetector) Detect(ctx context.Context, stage models.Stage, batch *models.FrameDetectionBatch) ([]models.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Detection, 0, len(batch.Detections))
	for _, d := range batch.Detections {
		if stage.Owns(d.Class) {
			out = append(out, d)
		}
	}
	return out, nil
}
