package recorder

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"sentinel-worker-go/internal/models"
)

// GocvSink writes MJPG segments and JPEG stills under <dir>/<camera_id>/
type GocvSink struct {
	dir     string
	fps     float64
	quality int
}

func NewGocvSink(dir string, fps float64) *GocvSink {
	return &GocvSink{dir: dir, fps: fps, quality: 95}
}

func (s *GocvSink) cameraDir(cameraID string) (string, error) {
	dir := filepath.Join(s.dir, cameraID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

func (s *GocvSink) OpenSegment(cameraID string, startedAt time.Time, triggers []string) (SegmentWriter, error) {
	dir, err := s.cameraDir(cameraID)
	if err != nil {
		return nil, err
	}
	return &gocvSegment{
		path: filepath.Join(dir, SegmentName(startedAt, triggers)),
		fps:  s.fps,
	}, nil
}

func (s *GocvSink) WriteSnapshot(cameraID string, startedAt time.Time, tag string, seq int, f models.Frame) (string, error) {
	if len(f.Image) == 0 {
		return "", ErrNoImage
	}
	dir, err := s.cameraDir(cameraID)
	if err != nil {
		return "", err
	}

	mat, err := gocv.IMDecode(f.Image, gocv.IMReadColor)
	if err != nil {
		return "", fmt.Errorf("decode frame %d: %w", f.FrameIndex, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return "", fmt.Errorf("decode frame %d: empty image", f.FrameIndex)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, s.quality})
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	defer buf.Close()

	path := filepath.Join(dir, SnapshotName(startedAt, tag, seq))
	if err := os.WriteFile(path, buf.GetBytes(), 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// gocvSegment opens its VideoWriter on the first decodable frame, since the
// frame size is only known then.
type gocvSegment struct {
	path   string
	fps    float64
	writer *gocv.VideoWriter
	width  int
	height int
}

func (g *gocvSegment) WriteFrame(f models.Frame) error {
	if len(f.Image) == 0 {
		return ErrNoImage
	}

	mat, err := gocv.IMDecode(f.Image, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame %d: %w", f.FrameIndex, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return fmt.Errorf("decode frame %d: empty image", f.FrameIndex)
	}

	if g.writer == nil {
		g.width, g.height = mat.Cols(), mat.Rows()
		vw, err := gocv.VideoWriterFile(g.path, "MJPG", g.fps, g.width, g.height, true)
		if err != nil {
			return fmt.Errorf("open segment %s: %w", g.path, err)
		}
		g.writer = vw
		log.Debug().Str("path", g.path).Int("width", g.width).Int("height", g.height).Msg("Segment writer opened")
	}

	if mat.Cols() != g.width || mat.Rows() != g.height {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(g.width, g.height), 0, 0, gocv.InterpolationLinear)
		return g.writer.Write(resized)
	}
	return g.writer.Write(mat)
}

func (g *gocvSegment) Close() error {
	if g.writer == nil {
		return nil
	}
	err := g.writer.Close()
	g.writer = nil
	return err
}

func (g *gocvSegment) Path() string {
	return g.path
}
