package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/services/recorder"
)

const uploadTimeout = 2 * time.Minute

// Archiver catalogues and uploads finished sessions off the camera goroutines
type Archiver struct {
	index    *Index
	uploader Uploader
	queue    chan recorder.SessionRecord
	wg       sync.WaitGroup
	logger   zerolog.Logger

	mu      sync.Mutex
	dropped uint64
	closed  bool
}

// NewArchiver starts the archive worker. uploader may be nil.
func NewArchiver(index *Index, uploader Uploader, queueSize int) *Archiver {
	if queueSize <= 0 {
		queueSize = 32
	}
	a := &Archiver{
		index:    index,
		uploader: uploader,
		queue:    make(chan recorder.SessionRecord, queueSize),
		logger:   log.With().Str("service", "archiver").Logger(),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Archive queues a session without blocking the recorder. Sessions that
// arrive after Shutdown are dropped.
func (a *Archiver) Archive(rec recorder.SessionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.dropped++
		a.logger.Warn().Str("session_id", rec.ID).Str("camera_id", rec.CameraID).Msg("Archiver stopped, session not indexed")
		return
	}
	select {
	case a.queue <- rec:
	default:
		a.dropped++
		a.logger.Warn().Str("session_id", rec.ID).Str("camera_id", rec.CameraID).Msg("Archive queue full, session not indexed")
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for rec := range a.queue {
		a.process(rec)
	}
}

func (a *Archiver) process(rec recorder.SessionRecord) {
	if a.index != nil {
		if err := a.index.Insert(rec); err != nil {
			a.logger.Error().Err(err).Str("session_id", rec.ID).Msg("Failed to index session")
		}
	}

	if a.uploader == nil || rec.SegmentPath == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	key := ObjectName(rec.CameraID, rec.ID, rec.SegmentPath)
	url, err := a.uploader.Upload(ctx, key, rec.SegmentPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", rec.ID).Msg("Evidence upload failed")
		return
	}
	for _, snap := range rec.Snapshots {
		if _, err := a.uploader.Upload(ctx, ObjectName(rec.CameraID, rec.ID, snap), snap); err != nil {
			a.logger.Warn().Err(err).Str("snapshot", snap).Msg("Snapshot upload failed")
		}
	}

	if a.index != nil {
		if err := a.index.MarkUploaded(rec.ID, key, time.Now()); err != nil {
			a.logger.Error().Err(err).Str("session_id", rec.ID).Msg("Failed to record upload")
		}
	}
	a.logger.Info().Str("session_id", rec.ID).Str("url", url).Msg("📦 Evidence archived")
}

func (a *Archiver) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Shutdown drains queued sessions. It is safe to call more than once.
func (a *Archiver) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
