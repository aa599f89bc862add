package recorder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinel-worker-go/internal/models"
)

// ErrNoImage is returned by sinks for frames that carry no picture
var ErrNoImage = errors.New("frame has no image")

// SegmentWriter appends frames to one video segment
type SegmentWriter interface {
	WriteFrame(f models.Frame) error
	Close() error
	Path() string
}

// Sink persists evidence for a recording session
type Sink interface {
	OpenSegment(cameraID string, startedAt time.Time, triggers []string) (SegmentWriter, error)
	WriteSnapshot(cameraID string, startedAt time.Time, tag string, seq int, f models.Frame) (string, error)
}

const timestampLayout = "20060102_150405.000"

// SanitizeTriggers turns a trigger list into a filename-safe suffix
func SanitizeTriggers(triggers []string) string {
	if len(triggers) == 0 {
		return "EVENT"
	}
	joined := strings.ToUpper(strings.Join(triggers, "-"))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, joined)
}

// SegmentName is the deterministic file name of a session's video segment
func SegmentName(startedAt time.Time, triggers []string) string {
	return fmt.Sprintf("%s_%s.avi", startedAt.UTC().Format(timestampLayout), SanitizeTriggers(triggers))
}

// SnapshotName is the deterministic file name of a session still
func SnapshotName(startedAt time.Time, tag string, seq int) string {
	return fmt.Sprintf("%s_%s_%02d.jpg", startedAt.UTC().Format(timestampLayout), tag, seq)
}
