package recorder

import "time"

type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
)

// Session is the single active recording of a camera
type Session struct {
	ID                string        `json:"id"`
	CameraID          string        `json:"camera_id"`
	State             State         `json:"state"`
	StartedAt         time.Time     `json:"started_at"`
	CoversFrom        time.Time     `json:"covers_from"`
	ScheduledEndAt    time.Time     `json:"scheduled_end_at"`
	NextSnapshotDueAt time.Time     `json:"next_snapshot_due_at"`
	DurationBase      time.Duration `json:"duration_base"`
	EndedAt           time.Time     `json:"ended_at,omitempty"`
	Extensions        int           `json:"extensions"`
	Triggers          []string      `json:"triggers"`
	SegmentPath       string        `json:"segment_path,omitempty"`
	Snapshots         []string      `json:"snapshots"`
	Frames            int           `json:"frames"`
	StorageErrors     int           `json:"storage_errors"`

	snapshotSeq int
}

// SessionRecord is the archived summary of a finished session
type SessionRecord struct {
	ID          string    `json:"id"`
	CameraID    string    `json:"camera_id"`
	StartedAt   time.Time `json:"started_at"`
	CoversFrom  time.Time `json:"covers_from"`
	EndedAt     time.Time `json:"ended_at"`
	Triggers    []string  `json:"triggers"`
	SegmentPath string    `json:"segment_path"`
	Snapshots   []string  `json:"snapshots"`
	Frames      int       `json:"frames"`
	Errors      int       `json:"storage_errors"`
}

func (s *Session) Record() SessionRecord {
	return SessionRecord{
		ID:          s.ID,
		CameraID:    s.CameraID,
		StartedAt:   s.StartedAt,
		CoversFrom:  s.CoversFrom,
		EndedAt:     s.EndedAt,
		Triggers:    append([]string(nil), s.Triggers...),
		SegmentPath: s.SegmentPath,
		Snapshots:   append([]string(nil), s.Snapshots...),
		Frames:      s.Frames,
		Errors:      s.StorageErrors,
	}
}

// Status is the externally visible recorder state of one camera
type Status struct {
	State         State    `json:"state"`
	Session       *Session `json:"session,omitempty"`
	Sessions      uint64   `json:"sessions_started"`
	StorageErrors uint64   `json:"storage_errors"`
}
