package auditlog

import "time"

// HeartbeatClock decides when a camera owes a METRIC record. By default an
// EVENT on the same tick wins and the clock is left alone, so a camera that
// alerts continuously emits no heartbeats. Decoupled clocks ignore events.
type HeartbeatClock struct {
	interval  time.Duration
	decoupled bool
	last      time.Time
}

func NewHeartbeatClock(interval time.Duration, decoupled bool) *HeartbeatClock {
	return &HeartbeatClock{interval: interval, decoupled: decoupled}
}

// Due reports whether a METRIC should be written at now. The zero clock is
// always due.
func (h *HeartbeatClock) Due(now time.Time, eventEmitted bool) bool {
	if eventEmitted && !h.decoupled {
		return false
	}
	return h.last.IsZero() || now.Sub(h.last) >= h.interval
}

// Mark records that a METRIC was written at now
func (h *HeartbeatClock) Mark(now time.Time) {
	h.last = now
}

func (h *HeartbeatClock) Last() time.Time {
	return h.last
}
