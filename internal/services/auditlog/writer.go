package auditlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrWriteExhausted is reported once every retry of a record has failed
	ErrWriteExhausted = errors.New("audit write retries exhausted")
	ErrClosed         = errors.New("audit log closed")
)

// Mirror receives every record after it has been appended to the file
type Mirror interface {
	MirrorAudit(rec Record, line []byte) error
}

// MirrorFunc adapts a function to Mirror
type MirrorFunc func(rec Record, line []byte) error

func (f MirrorFunc) MirrorAudit(rec Record, line []byte) error { return f(rec, line) }

// Opener opens the append target; tests swap it for a failing file
type Opener func(path string) (io.WriteCloser, error)

func openAppend(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

type Options struct {
	Retries int
	Backoff time.Duration
	Opener  Opener
}

// Stats counts writer outcomes
type Stats struct {
	Written   uint64 `json:"written"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Mirrored  uint64 `json:"mirrored"`
	LastError string `json:"last_error,omitempty"`
}

type namedMirror struct {
	name   string
	mirror Mirror
}

// Writer appends records to a JSON-lines file shared by every camera. Each
// record is one Write call under the mutex, so lines never interleave. The
// mutex is not held during retry backoff.
type Writer struct {
	mu      sync.Mutex
	path    string
	file    io.WriteCloser
	gen     uint64 // bumped on every reopen
	closed  bool
	opener  Opener
	retries int
	backoff time.Duration
	logger  zerolog.Logger

	mirrorMu sync.RWMutex
	mirrors  []namedMirror

	failures chan error

	written  atomic.Uint64
	failed   atomic.Uint64
	retried  atomic.Uint64
	mirrored atomic.Uint64
	lastErr  atomic.Pointer[string]
}

func NewWriter(path string, opts Options) (*Writer, error) {
	if opts.Opener == nil {
		opts.Opener = openAppend
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	w := &Writer{
		path:     path,
		opener:   opts.Opener,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		logger:   log.With().Str("service", "auditlog").Str("path", path).Logger(),
		failures: make(chan error, 16),
	}

	f, err := w.opener(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	w.file = f

	w.logger.Info().Int("retries", opts.Retries).Dur("backoff", opts.Backoff).Msg("Audit log opened")
	return w, nil
}

// AddMirror registers a downstream copy of the audit stream
func (w *Writer) AddMirror(name string, m Mirror) {
	w.mirrorMu.Lock()
	defer w.mirrorMu.Unlock()
	w.mirrors = append(w.mirrors, namedMirror{name: name, mirror: m})
}

// Write appends one record. On failure it retries with exponential backoff,
// reopening the file between attempts; once retries run out the error is
// logged, sent on Failures and returned wrapping ErrWriteExhausted.
func (w *Writer) Write(rec Record) error {
	line, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	if err := w.append(line); err != nil {
		w.failed.Add(1)
		msg := err.Error()
		w.lastErr.Store(&msg)

		w.logger.Error().Err(err).Str("type", rec.Type).Str("cam_id", rec.Meta.CamID).Msg("❌ Audit record dropped")
		select {
		case w.failures <- err:
		default:
		}
		return err
	}
	w.written.Add(1)
	w.lastErr.Store(nil)

	w.mirror(rec, line)
	return nil
}

func (w *Writer) append(line []byte) error {
	var lastErr error
	var failedGen uint64
	delay := w.backoff
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			w.retried.Add(1)
			time.Sleep(delay)
			delay *= 2
		}
		gen, err := w.tryAppend(line, attempt > 0, failedGen)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		lastErr, failedGen = err, gen
		w.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Audit write failed")
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrWriteExhausted, w.retries+1, lastErr)
}

// tryAppend makes one attempt under the mutex. A retry reopens the file
// unless another writer already reopened it since failedGen.
func (w *Writer) tryAppend(line []byte, retry bool, failedGen uint64) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.gen, ErrClosed
	}
	if retry && (w.file == nil || w.gen == failedGen) {
		w.reopen()
	}
	if w.file == nil {
		return w.gen, errors.New("audit log not open")
	}
	if _, err := w.file.Write(line); err != nil {
		return w.gen, err
	}
	return w.gen, nil
}

func (w *Writer) reopen() {
	w.gen++
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	f, err := w.opener(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to reopen audit log")
		return
	}
	w.file = f
}

func (w *Writer) mirror(rec Record, line []byte) {
	w.mirrorMu.RLock()
	mirrors := w.mirrors
	w.mirrorMu.RUnlock()

	for _, m := range mirrors {
		if err := m.mirror.MirrorAudit(rec, line); err != nil {
			w.logger.Warn().Err(err).Str("mirror", m.name).Msg("Audit mirror failed")
			continue
		}
		w.mirrored.Add(1)
	}
}

// Failures delivers exhausted write errors to the operator
func (w *Writer) Failures() <-chan error {
	return w.failures
}

// Healthy reports whether the most recent write succeeded
func (w *Writer) Healthy() bool {
	return w.lastErr.Load() == nil
}

func (w *Writer) Stats() Stats {
	st := Stats{
		Written:  w.written.Load(),
		Failed:   w.failed.Load(),
		Retried:  w.retried.Load(),
		Mirrored: w.mirrored.Load(),
	}
	if p := w.lastErr.Load(); p != nil {
		st.LastError = *p
	}
	return st
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
