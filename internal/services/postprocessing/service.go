package postprocessing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
)

// Decision is the dedup verdict for one candidate alert
type Decision string

const (
	DecisionAccept   Decision = "ACCEPT"
	DecisionSuppress Decision = "SUPPRESS"
)

// CooldownKey identifies one independent cooldown clock
type CooldownKey struct {
	CameraID  string
	AlertType models.AlertType
}

func (k CooldownKey) String() string {
	return k.CameraID + "|" + string(k.AlertType)
}

// Stats counts dedup verdicts
type Stats struct {
	Accepted   uint64 `json:"accepted"`
	Suppressed uint64 `json:"suppressed"`
}

// cameraCooldowns holds the clocks of one camera. Each camera pipeline only
// touches its own shard, so cameras never contend on a lock.
type cameraCooldowns struct {
	mu       sync.Mutex
	lastSent map[models.AlertType]time.Time
}

// Service deduplicates alerts with one cooldown clock per (camera, alert type).
// Clocks use alert timestamps, not the wall clock.
type Service struct {
	site *config.Site

	// guards shard lookup and creation only
	shardsMu sync.RWMutex
	shards   map[string]*cameraCooldowns

	accepted   atomic.Uint64
	suppressed atomic.Uint64
}

// NewService creates a new postprocessing service
func NewService(site *config.Site) *Service {
	s := &Service{
		site:   site,
		shards: make(map[string]*cameraCooldowns),
	}

	log.Info().
		Dur("default_cooldown", site.Thresholds.Cooldown).
		Int("overrides", len(site.Thresholds.CooldownOverrides)).
		Msg("Post-processing service initialized")

	return s
}

// Shutdown stops the service gracefully
func (s *Service) Shutdown(ctx context.Context) error {
	log.Info().Msg("Post-processing service shutdown")
	return nil
}

// Decide accepts the alert if its cooldown has elapsed and restarts the clock.
// A suppressed alert leaves the clock untouched.
func (s *Service) Decide(alert models.AlertEvent) Decision {
	key := CooldownKey{CameraID: alert.CameraID, AlertType: alert.Type}
	window := s.site.CooldownFor(alert.Type)

	shard := s.shard(alert.CameraID, true)
	shard.mu.Lock()
	last, exists := shard.lastSent[key.AlertType]
	if exists && alert.Timestamp.Sub(last) < window {
		shard.mu.Unlock()
		s.suppressed.Add(1)

		log.Debug().
			Str("camera_id", alert.CameraID).
			Str("alert_type", string(alert.Type)).
			Dur("since_last", alert.Timestamp.Sub(last)).
			Msg("Alert blocked by cooldown")
		return DecisionSuppress
	}
	shard.lastSent[key.AlertType] = alert.Timestamp
	shard.mu.Unlock()

	s.accepted.Add(1)
	return DecisionAccept
}

// Filter returns the accepted alerts, keeping their order
func (s *Service) Filter(alerts []models.AlertEvent) []models.AlertEvent {
	var out []models.AlertEvent
	for _, a := range alerts {
		if s.Decide(a) == DecisionAccept {
			out = append(out, a)
		}
	}
	return out
}

// CheckCooldown checks if enough time has passed since the last accepted alert
func (s *Service) CheckCooldown(key CooldownKey, now time.Time) bool {
	shard := s.shard(key.CameraID, false)
	if shard == nil {
		return true
	}
	shard.mu.Lock()
	lastSent, exists := shard.lastSent[key.AlertType]
	shard.mu.Unlock()
	if !exists {
		return true
	}

	return now.Sub(lastSent) >= s.site.CooldownFor(key.AlertType)
}

// Cooldowns returns the last accepted time of every alert type on a camera
func (s *Service) Cooldowns(cameraID string) map[models.AlertType]time.Time {
	out := make(map[models.AlertType]time.Time)
	shard := s.shard(cameraID, false)
	if shard == nil {
		return out
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	for typ, t := range shard.lastSent {
		out[typ] = t
	}
	return out
}

// shard returns the clocks of a camera, creating them when create is set
func (s *Service) shard(cameraID string, create bool) *cameraCooldowns {
	s.shardsMu.RLock()
	c, ok := s.shards[cameraID]
	s.shardsMu.RUnlock()
	if ok || !create {
		return c
	}

	s.shardsMu.Lock()
	defer s.shardsMu.Unlock()
	if c, ok = s.shards[cameraID]; !ok {
		c = &cameraCooldowns{lastSent: make(map[models.AlertType]time.Time)}
		s.shards[cameraID] = c
	}
	return c
}

func (s *Service) Stats() Stats {
	return Stats{
		Accepted:   s.accepted.Load(),
		Suppressed: s.suppressed.Load(),
	}
}
