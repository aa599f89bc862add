package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DetectionClass is the closed set of object classes the policy engine understands
type DetectionClass string

const (
	ClassPerson   DetectionClass = "person"
	ClassCar      DetectionClass = "car"
	ClassFire     DetectionClass = "fire"
	ClassSmoke    DetectionClass = "smoke"
	ClassFight    DetectionClass = "fight"
	ClassViolence DetectionClass = "violence"
	ClassOther    DetectionClass = "other"
)

// ParseClass maps an upstream label onto the closed class set.
// Labels outside the set become ClassOther and never match a rule.
func ParseClass(label string) DetectionClass {
	switch DetectionClass(strings.ToLower(strings.TrimSpace(label))) {
	case ClassPerson:
		return ClassPerson
	case ClassCar:
		return ClassCar
	case ClassFire:
		return ClassFire
	case ClassSmoke:
		return ClassSmoke
	case ClassFight:
		return ClassFight
	case ClassViolence:
		return ClassViolence
	default:
		return ClassOther
	}
}

// IsHazard reports whether the class belongs to the fire/smoke family
func (c DetectionClass) IsHazard() bool {
	return c == ClassFire || c == ClassSmoke
}

// IsViolence reports whether the class belongs to the fight/violence family
func (c DetectionClass) IsViolence() bool {
	return c == ClassFight || c == ClassViolence
}

// Stage identifies one detector model in the cascade
type Stage string

const (
	StageGeneral  Stage = "general"  // Stage A: person/car
	StageHazard   Stage = "hazard"   // Stage B: fire/smoke
	StageViolence Stage = "violence" // Stage C: fight/violence
)

// Stages lists every stage in cascade order
var Stages = []Stage{StageGeneral, StageHazard, StageViolence}

// Owns reports whether a detection class is produced by this stage
func (s Stage) Owns(c DetectionClass) bool {
	switch s {
	case StageGeneral:
		return c == ClassPerson || c == ClassCar || c == ClassOther
	case StageHazard:
		return c.IsHazard()
	case StageViolence:
		return c.IsViolence()
	default:
		return false
	}
}

// BBox is an axis-aligned bounding box in frame pixel coordinates
type BBox struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Center returns the centre point of the box
func (b BBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// UnmarshalJSON accepts both the object form {"x","y","w","h"} and the
// array form [x, y, w, h] emitted by most inference servers.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var arr []float32
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) != 4 {
			return fmt.Errorf("bbox array must have 4 elements, got %d", len(arr))
		}
		*b = BBox{X: arr[0], Y: arr[1], W: arr[2], H: arr[3]}
		return nil
	}

	type plain BBox
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	*b = BBox(obj)
	return nil
}

// Detection is one object found in a frame by one stage
type Detection struct {
	Class      DetectionClass `json:"-"`
	Label      string         `json:"label"`
	Confidence float32        `json:"confidence"`
	BBox       BBox           `json:"bbox"`
	TrackerID  *int64         `json:"tracker_id,omitempty"`
}

// wireDetection is the inbound shape; upstream calls the label class_label
type wireDetection struct {
	ClassLabel string  `json:"class_label"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	TrackerID  *int64  `json:"tracker_id,omitempty"`
}

// UnmarshalJSON decodes a detection and resolves its class
func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	label := w.ClassLabel
	if label == "" {
		label = w.Label
	}
	*d = Detection{
		Class:      ParseClass(label),
		Label:      label,
		Confidence: w.Confidence,
		BBox:       w.BBox,
		TrackerID:  w.TrackerID,
	}
	return nil
}

// NewDetection builds a detection with its class resolved from the label
func NewDetection(label string, confidence float32, box BBox) Detection {
	return Detection{
		Class:      ParseClass(label),
		Label:      label,
		Confidence: confidence,
		BBox:       box,
	}
}
