package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"sentinel-worker-go/internal/services/recorder"
)

// Index keeps a searchable catalogue of finished evidence sessions
type Index struct {
	db *sql.DB
}

// EvidenceRecord is one catalogued session
type EvidenceRecord struct {
	recorder.SessionRecord
	ObjectKey  string    `json:"object_key,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
}

func OpenIndex(path string) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (i *Index) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			covers_from TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			triggers TEXT NOT NULL,
			segment_path TEXT,
			snapshots TEXT NOT NULL,
			frames INTEGER DEFAULT 0,
			storage_errors INTEGER DEFAULT 0,
			object_key TEXT,
			uploaded_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_camera_time ON sessions(camera_id, started_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := i.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Insert stores a finished session; re-archiving the same id replaces it
func (i *Index) Insert(rec recorder.SessionRecord) error {
	triggers, err := json.Marshal(rec.Triggers)
	if err != nil {
		return err
	}
	snapshots, err := json.Marshal(rec.Snapshots)
	if err != nil {
		return err
	}

	query := `INSERT INTO sessions (id, camera_id, started_at, covers_from, ended_at, triggers, segment_path, snapshots, frames, storage_errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			triggers = excluded.triggers,
			segment_path = excluded.segment_path,
			snapshots = excluded.snapshots,
			frames = excluded.frames,
			storage_errors = excluded.storage_errors`

	_, err = i.db.Exec(query,
		rec.ID, rec.CameraID,
		formatTime(rec.StartedAt), formatTime(rec.CoversFrom), formatTime(rec.EndedAt),
		string(triggers), rec.SegmentPath, string(snapshots), rec.Frames, rec.Errors)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// MarkUploaded records where a session's segment landed in object storage
func (i *Index) MarkUploaded(id, objectKey string, at time.Time) error {
	_, err := i.db.Exec("UPDATE sessions SET object_key = ?, uploaded_at = ? WHERE id = ?", objectKey, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark upload: %w", err)
	}
	return nil
}

// List returns sessions newest first, optionally for one camera
func (i *Index) List(cameraID string, limit int) ([]EvidenceRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, camera_id, started_at, covers_from, ended_at, triggers, segment_path, snapshots, frames, storage_errors,
		COALESCE(object_key, ''), COALESCE(uploaded_at, '')
		FROM sessions`
	args := []interface{}{}
	if cameraID != "" {
		query += " WHERE camera_id = ?"
		args = append(args, cameraID)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := i.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := []EvidenceRecord{}
	for rows.Next() {
		var (
			rec                              EvidenceRecord
			started, covers, ended, uploaded string
			triggers, snapshots, segment     string
		)
		if err := rows.Scan(&rec.ID, &rec.CameraID, &started, &covers, &ended, &triggers, &segment, &snapshots,
			&rec.Frames, &rec.Errors, &rec.ObjectKey, &uploaded); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.SegmentPath = segment
		rec.StartedAt = parseTime(started)
		rec.CoversFrom = parseTime(covers)
		rec.EndedAt = parseTime(ended)
		rec.UploadedAt = parseTime(uploaded)
		_ = json.Unmarshal([]byte(triggers), &rec.Triggers)
		_ = json.Unmarshal([]byte(snapshots), &rec.Snapshots)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (i *Index) Close() error {
	return i.db.Close()
}

// timeLayout has a fixed width so started_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
