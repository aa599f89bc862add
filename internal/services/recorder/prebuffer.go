package recorder

import (
	"time"

	"sentinel-worker-go/internal/models"
)

// Entry is one frame with the detections found on it
type Entry struct {
	Frame      models.Frame
	Detections []models.Detection
}

// PreBuffer keeps the most recent window of entries, measured against the
// newest pushed frame. It is not safe for concurrent use.
type PreBuffer struct {
	window  time.Duration
	entries []Entry
	head    int
}

func NewPreBuffer(window time.Duration) *PreBuffer {
	return &PreBuffer{window: window}
}

// Push appends e and evicts everything older than the window
func (b *PreBuffer) Push(e Entry) {
	b.entries = append(b.entries, e)

	newest := e.Frame.Timestamp
	for b.head < len(b.entries) && newest.Sub(b.entries[b.head].Frame.Timestamp) > b.window {
		b.entries[b.head] = Entry{}
		b.head++
	}

	// compact once the dead prefix dominates the backing array
	if b.head > 0 && b.head >= len(b.entries)/2 {
		n := copy(b.entries, b.entries[b.head:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
		b.head = 0
	}
}

// Entries returns the buffered entries, oldest first
func (b *PreBuffer) Entries() []Entry {
	out := make([]Entry, len(b.entries)-b.head)
	copy(out, b.entries[b.head:])
	return out
}

func (b *PreBuffer) Len() int {
	return len(b.entries) - b.head
}

// Latest returns the newest entry
func (b *PreBuffer) Latest() (Entry, bool) {
	return b.FromEnd(0)
}

// FromEnd returns the entry n positions before the newest
func (b *PreBuffer) FromEnd(n int) (Entry, bool) {
	i := len(b.entries) - 1 - n
	if n < 0 || i < b.head {
		return Entry{}, false
	}
	return b.entries[i], true
}

// Oldest returns the timestamp of the oldest buffered frame
func (b *PreBuffer) Oldest() (time.Time, bool) {
	if b.Len() == 0 {
		return time.Time{}, false
	}
	return b.entries[b.head].Frame.Timestamp, true
}
