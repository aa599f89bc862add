package models

import (
	"time"

	"github.com/samber/lo"
)

// AlertType represents different types of alerts
type AlertType string

const (
	AlertTypeFireSmoke     AlertType = "FIRE_SMOKE"
	AlertTypeViolence      AlertType = "VIOLENCE"
	AlertTypeCrowd         AlertType = "CROWD"
	AlertTypeIntrusionTime AlertType = "INTRUSION_TIME"
	AlertTypeIntrusionZone AlertType = "INTRUSION_ZONE"
	AlertTypeCameraOffline AlertType = "CAMERA_OFFLINE"
	AlertTypeCameraWarning AlertType = "CAMERA_WARNING"
)

// AlertTypes lists every alert type in rule priority order
var AlertTypes = []AlertType{
	AlertTypeFireSmoke,
	AlertTypeViolence,
	AlertTypeCrowd,
	AlertTypeIntrusionTime,
	AlertTypeIntrusionZone,
	AlertTypeCameraOffline,
	AlertTypeCameraWarning,
}

// Priority returns the rule rank of the alert type, lower is more urgent.
// Unknown types sort last.
func (t AlertType) Priority() int {
	if i := lo.IndexOf(AlertTypes, t); i >= 0 {
		return i
	}
	return len(AlertTypes)
}

// Valid reports whether t is one of the known alert types
func (t AlertType) Valid() bool {
	return lo.Contains(AlertTypes, t)
}

// AlertSeverity represents alert severity levels
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "CRITICAL"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityMedium   AlertSeverity = "MEDIUM"
)

// StatusSafe is the record status used by heartbeats
const StatusSafe = "SAFE"

// Rank orders severities, higher is worse
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertSeverityCritical:
		return 3
	case AlertSeverityHigh:
		return 2
	case AlertSeverityMedium:
		return 1
	default:
		return 0
	}
}

// Severity returns the fixed severity of an alert type
func (t AlertType) Severity() AlertSeverity {
	switch t {
	case AlertTypeFireSmoke, AlertTypeViolence, AlertTypeCrowd:
		return AlertSeverityCritical
	case AlertTypeIntrusionTime, AlertTypeIntrusionZone, AlertTypeCameraOffline:
		return AlertSeverityHigh
	default:
		return AlertSeverityMedium
	}
}

// AlertEvent is a single policy violation raised for one camera at one instant
type AlertEvent struct {
	Type        AlertType     `json:"alert_type"`
	Severity    AlertSeverity `json:"severity"`
	CameraID    string        `json:"camera_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Detections  []Detection   `json:"triggering_detections"`
	PeopleCount int           `json:"people_count"`
}

// NewAlertEvent builds an alert with the severity implied by its type
func NewAlertEvent(alertType AlertType, cameraID string, ts time.Time, detections []Detection, peopleCount int) AlertEvent {
	return AlertEvent{
		Type:        alertType,
		Severity:    alertType.Severity(),
		CameraID:    cameraID,
		Timestamp:   ts,
		Detections:  detections,
		PeopleCount: peopleCount,
	}
}

// MaxSeverity returns the worst severity among alerts, empty if there are none
func MaxSeverity(alerts []AlertEvent) AlertSeverity {
	var worst AlertSeverity
	for _, a := range alerts {
		if a.Severity.Rank() > worst.Rank() {
			worst = a.Severity
		}
	}
	return worst
}

// Triggers returns the alert types in the order the alerts were raised
func Triggers(alerts []AlertEvent) []string {
	return lo.Map(alerts, func(a AlertEvent, _ int) string { return string(a.Type) })
}
