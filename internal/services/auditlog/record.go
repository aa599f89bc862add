package auditlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentinel-worker-go/internal/models"
)

const (
	TypeMetric = "METRIC"
	TypeEvent  = "EVENT"
)

// TimestampLayout is ISO 8601 with millisecond precision and zone offset
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrInvalidRecord = errors.New("invalid audit record")

type Meta struct {
	TS     string `json:"ts"`
	CamID  string `json:"cam_id"`
	Site   string `json:"site"`
	Status string `json:"status"`
}

type MetricData struct {
	PeopleCount int `json:"people_count"`
}

type EventData struct {
	Triggers    []string           `json:"triggers"`
	PeopleCount int                `json:"people_count"`
	Detections  []models.Detection `json:"detections"`
}

// Record is one line of the audit log. Exactly one of Data and Event is set,
// matching Type.
type Record struct {
	Type  string      `json:"type"`
	Meta  Meta        `json:"meta"`
	Data  *MetricData `json:"data,omitempty"`
	Event *EventData  `json:"event,omitempty"`
}

// NewMetric builds a heartbeat record
func NewMetric(site, camName string, ts time.Time, peopleCount int) Record {
	return Record{
		Type: TypeMetric,
		Meta: Meta{
			TS:     ts.Format(TimestampLayout),
			CamID:  camName,
			Site:   site,
			Status: models.StatusSafe,
		},
		Data: &MetricData{PeopleCount: peopleCount},
	}
}

// NewEvent builds one record for all alerts accepted on a tick. The status is
// the worst severity among them.
func NewEvent(site, camName string, ts time.Time, accepted []models.AlertEvent, peopleCount int, detections []models.Detection) Record {
	if detections == nil {
		detections = []models.Detection{}
	}
	return Record{
		Type: TypeEvent,
		Meta: Meta{
			TS:     ts.Format(TimestampLayout),
			CamID:  camName,
			Site:   site,
			Status: string(models.MaxSeverity(accepted)),
		},
		Event: &EventData{
			Triggers:    models.Triggers(accepted),
			PeopleCount: peopleCount,
			Detections:  detections,
		},
	}
}

// Marshal returns the record as a single newline-terminated line
func (r Record) Marshal() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ParseRecord decodes one log line and checks it against the shape declared
// by its type.
func ParseRecord(line []byte) (Record, error) {
	var rec Record
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(line)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if dec.More() {
		return Record{}, fmt.Errorf("%w: trailing data", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks the record's discriminator and type-specific fields
func (r Record) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
	}

	if _, err := time.Parse(TimestampLayout, r.Meta.TS); err != nil {
		if _, err := time.Parse(time.RFC3339Nano, r.Meta.TS); err != nil {
			return invalid("meta.ts %q is not ISO 8601", r.Meta.TS)
		}
	}
	if r.Meta.CamID == "" {
		return invalid("meta.cam_id is empty")
	}
	if r.Meta.Site == "" {
		return invalid("meta.site is empty")
	}

	switch r.Type {
	case TypeMetric:
		if r.Data == nil || r.Event != nil {
			return invalid("METRIC must carry data and no event")
		}
		if r.Meta.Status != models.StatusSafe {
			return invalid("METRIC status must be %s, got %q", models.StatusSafe, r.Meta.Status)
		}
		if r.Data.PeopleCount < 0 {
			return invalid("negative people_count")
		}
	case TypeEvent:
		if r.Event == nil || r.Data != nil {
			return invalid("EVENT must carry event and no data")
		}
		switch models.AlertSeverity(r.Meta.Status) {
		case models.AlertSeverityCritical, models.AlertSeverityHigh, models.AlertSeverityMedium:
		default:
			return invalid("EVENT status %q is not a severity", r.Meta.Status)
		}
		if len(r.Event.Triggers) == 0 {
			return invalid("EVENT without triggers")
		}
		for _, tr := range r.Event.Triggers {
			if !models.AlertType(tr).Valid() {
				return invalid("unknown trigger %q", tr)
			}
		}
		if r.Event.PeopleCount < 0 {
			return invalid("negative people_count")
		}
	default:
		return invalid("type %q is not METRIC or EVENT", r.Type)
	}
	return nil
}
