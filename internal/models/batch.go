package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ControlSignal is an out-of-band camera condition reported by the capture pipeline
type ControlSignal string

const (
	ControlSignalNone    ControlSignal = ""
	ControlSignalError   ControlSignal = "ERROR"
	ControlSignalWarning ControlSignal = "WARNING"
	ControlSignalOffline ControlSignal = "OFFLINE"
)

// ParseControlSignal normalises an inbound signal name
func ParseControlSignal(s string) (ControlSignal, error) {
	switch ControlSignal(strings.ToUpper(strings.TrimSpace(s))) {
	case ControlSignalNone:
		return ControlSignalNone, nil
	case ControlSignalError:
		return ControlSignalError, nil
	case ControlSignalWarning:
		return ControlSignalWarning, nil
	case ControlSignalOffline:
		return ControlSignalOffline, nil
	default:
		return ControlSignalNone, fmt.Errorf("unknown control signal %q", s)
	}
}

// Frame is the handle of one decoded frame. Image is the encoded picture
// supplied by the capture side and is never copied by the worker.
type Frame struct {
	CameraID   string    `json:"camera_id"`
	FrameIndex uint64    `json:"frame_index"`
	Timestamp  time.Time `json:"timestamp"`
	Image      []byte    `json:"-"`
}

// FrameDetectionBatch is the per-frame payload received from the inference pipeline
type FrameDetectionBatch struct {
	CameraID      string        `json:"camera_id"`
	FrameIndex    uint64        `json:"frame_index"`
	Timestamp     time.Time     `json:"timestamp"`
	Detections    []Detection   `json:"detections"`
	ControlSignal ControlSignal `json:"control_signal,omitempty"`
	Image         []byte        `json:"image,omitempty"`
}

var (
	ErrMissingCameraID  = errors.New("camera_id is required")
	ErrMissingTimestamp = errors.New("timestamp is required")
)

// Validate checks the batch before it reaches a camera pipeline
func (b *FrameDetectionBatch) Validate() error {
	if strings.TrimSpace(b.CameraID) == "" {
		return ErrMissingCameraID
	}
	if b.Timestamp.IsZero() {
		return ErrMissingTimestamp
	}
	sig, err := ParseControlSignal(string(b.ControlSignal))
	if err != nil {
		return err
	}
	b.ControlSignal = sig
	for i, d := range b.Detections {
		if d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d: confidence %.3f out of range [0,1]", i, d.Confidence)
		}
		if d.BBox.W < 0 || d.BBox.H < 0 {
			return fmt.Errorf("detection %d: negative bbox size", i)
		}
	}
	return nil
}

// ControlOnly reports whether the batch carries a signal but no frame content
func (b *FrameDetectionBatch) ControlOnly() bool {
	return b.ControlSignal != ControlSignalNone && len(b.Detections) == 0 && len(b.Image) == 0
}

// Frame returns the frame handle carried by the batch
func (b *FrameDetectionBatch) Frame() Frame {
	return Frame{
		CameraID:   b.CameraID,
		FrameIndex: b.FrameIndex,
		Timestamp:  b.Timestamp,
		Image:      b.Image,
	}
}
