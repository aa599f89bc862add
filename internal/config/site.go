package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"sentinel-worker-go/internal/models"
)

var (
	ErrInvalidPolygon  = errors.New("invalid zone polygon")
	ErrInvalidWindow   = errors.New("invalid time window")
	ErrMissingSiteID   = errors.New("site id is required")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidSetting  = errors.New("invalid threshold")
)

// Site is the static policy loaded once at startup: camera names, zones,
// office hours and every tunable threshold of the decision core.
type Site struct {
	SiteID     string            `yaml:"site"`
	Timezone   string            `yaml:"timezone"`
	Cameras    map[string]string `yaml:"cameras"`
	Zones      []Zone            `yaml:"zones"`
	Office     OfficeHours       `yaml:"office_hours"`
	Thresholds Thresholds        `yaml:"thresholds"`

	location *time.Location
}

// ZoneBossCabin is restricted only inside its active window, so it must have one
const ZoneBossCabin = "boss-cabin"

// Zone is a named polygon in frame pixel coordinates. An empty camera list
// means the zone applies to every camera.
type Zone struct {
	Name         string      `yaml:"name" json:"name"`
	Polygon      []Point     `yaml:"polygon" json:"polygon"`
	ActiveWindow *TimeWindow `yaml:"active_window,omitempty" json:"active_window,omitempty"`
	Cameras      []string    `yaml:"cameras,omitempty" json:"cameras,omitempty"`
}

// AppliesTo reports whether the zone is drawn on the given camera
func (z Zone) AppliesTo(cameraID string) bool {
	return len(z.Cameras) == 0 || lo.Contains(z.Cameras, cameraID)
}

type OfficeHours struct {
	Open       ClockTime `yaml:"open"`
	Close      ClockTime `yaml:"close"`
	ClosedDays []Weekday `yaml:"closed_days"`
}

// Allowed reports whether t (already in site local time) is inside working hours
func (o OfficeHours) Allowed(t time.Time) bool {
	if lo.Contains(o.ClosedDays, Weekday(t.Weekday())) {
		return false
	}
	return TimeWindow{Start: o.Open, End: o.Close}.Contains(t)
}

type Thresholds struct {
	StageAInterval     uint64                   `yaml:"stage_a_interval" json:"stage_a_interval"`
	StageBInterval     uint64                   `yaml:"stage_b_interval" json:"stage_b_interval"`
	ViolenceMinPersons int                      `yaml:"violence_min_persons" json:"violence_min_persons"`
	CrowdLimit         int                      `yaml:"crowd_limit" json:"crowd_limit"`
	HazardConfidence   float32                  `yaml:"hazard_confidence" json:"hazard_confidence"`
	Cooldown           time.Duration            `yaml:"cooldown" json:"cooldown"`
	CooldownOverrides  map[string]time.Duration `yaml:"cooldown_overrides" json:"cooldown_overrides"`
	HeartbeatInterval  time.Duration            `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	PreEvent           time.Duration            `yaml:"pre_event" json:"pre_event"`
	PostEvent          time.Duration            `yaml:"post_event" json:"post_event"`
	ExtendedPostEvent  time.Duration            `yaml:"extended_post_event" json:"extended_post_event"`
	SnapshotInterval   time.Duration            `yaml:"snapshot_interval" json:"snapshot_interval"`
	OfflineTimeout     time.Duration            `yaml:"offline_timeout" json:"offline_timeout"`
}

// DefaultSite returns the built-in policy used for any key the site file omits
func DefaultSite() *Site {
	return &Site{
		SiteID:   "HEAD_OFFICE",
		Timezone: "UTC",
		Cameras:  map[string]string{},
		Office: OfficeHours{
			Open:       NewClockTime(9, 30),
			Close:      NewClockTime(18, 30),
			ClosedDays: []Weekday{Weekday(time.Sunday)},
		},
		Thresholds: Thresholds{
			StageAInterval:     4,
			StageBInterval:     30,
			ViolenceMinPersons: 2,
			CrowdLimit:         10,
			HazardConfidence:   0.6,
			Cooldown:           5 * time.Second,
			CooldownOverrides:  map[string]time.Duration{},
			HeartbeatInterval:  60 * time.Second,
			PreEvent:           3 * time.Second,
			PostEvent:          5 * time.Second,
			ExtendedPostEvent:  10 * time.Second,
			SnapshotInterval:   2 * time.Second,
			OfflineTimeout:     5 * time.Second,
		},
		location: time.UTC,
	}
}

// LoadSite reads the site file at path over the defaults and validates it
func LoadSite(path string) (*Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site config: %w", err)
	}
	return ParseSite(data)
}

// ParseSite decodes a site document over the defaults and validates it
func ParseSite(data []byte) (*Site, error) {
	site := DefaultSite()
	if err := yaml.Unmarshal(data, site); err != nil {
		return nil, fmt.Errorf("parse site config: %w", err)
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}
	return site, nil
}

// Validate checks the whole site document. Any error here is fatal at startup.
func (s *Site) Validate() error {
	if strings.TrimSpace(s.SiteID) == "" {
		return ErrMissingSiteID
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidTimezone, s.Timezone, err)
	}
	s.location = loc

	for i, z := range s.Zones {
		if strings.TrimSpace(z.Name) == "" {
			return fmt.Errorf("zone %d: name is required", i)
		}
		if err := validatePolygon(z.Polygon); err != nil {
			return fmt.Errorf("zone %q: %w", z.Name, err)
		}
		if z.ActiveWindow != nil && z.ActiveWindow.Start == z.ActiveWindow.End {
			return fmt.Errorf("zone %q: %w: start equals end", z.Name, ErrInvalidWindow)
		}
		if z.Name == ZoneBossCabin && z.ActiveWindow == nil {
			return fmt.Errorf("zone %q: %w: active_window is required", z.Name, ErrInvalidWindow)
		}
	}

	if s.Office.Open == s.Office.Close {
		return fmt.Errorf("office hours: %w: open equals close", ErrInvalidWindow)
	}

	return s.Thresholds.validate()
}

func (t Thresholds) validate() error {
	switch {
	case t.StageAInterval == 0:
		return fmt.Errorf("%w: stage_a_interval must be positive", ErrInvalidSetting)
	case t.StageBInterval == 0:
		return fmt.Errorf("%w: stage_b_interval must be positive", ErrInvalidSetting)
	case t.ViolenceMinPersons < 1:
		return fmt.Errorf("%w: violence_min_persons must be at least 1", ErrInvalidSetting)
	case t.CrowdLimit < 0:
		return fmt.Errorf("%w: crowd_limit must not be negative", ErrInvalidSetting)
	case t.HazardConfidence < 0 || t.HazardConfidence > 1:
		return fmt.Errorf("%w: hazard_confidence must be in [0,1]", ErrInvalidSetting)
	case t.Cooldown < 0:
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidSetting)
	case t.HeartbeatInterval <= 0:
		return fmt.Errorf("%w: heartbeat_interval must be positive", ErrInvalidSetting)
	case t.PreEvent < 0:
		return fmt.Errorf("%w: pre_event must not be negative", ErrInvalidSetting)
	case t.PostEvent <= 0 || t.ExtendedPostEvent <= 0:
		return fmt.Errorf("%w: post event durations must be positive", ErrInvalidSetting)
	case t.SnapshotInterval <= 0:
		return fmt.Errorf("%w: snapshot_interval must be positive", ErrInvalidSetting)
	case t.OfflineTimeout <= 0:
		return fmt.Errorf("%w: offline_timeout must be positive", ErrInvalidSetting)
	}
	for name, d := range t.CooldownOverrides {
		if !models.AlertType(name).Valid() {
			return fmt.Errorf("%w: cooldown override for unknown alert type %q", ErrInvalidSetting, name)
		}
		if d < 0 {
			return fmt.Errorf("%w: cooldown override for %s must not be negative", ErrInvalidSetting, name)
		}
	}
	return nil
}

func validatePolygon(poly []Point) error {
	if len(poly) < 3 {
		return fmt.Errorf("%w: need at least 3 points, got %d", ErrInvalidPolygon, len(poly))
	}
	var area float64
	for i, p := range poly {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: point %d is not finite", ErrInvalidPolygon, i)
		}
		q := poly[(i+1)%len(poly)]
		area += p.X*q.Y - q.X*p.Y
	}
	if area == 0 {
		return fmt.Errorf("%w: polygon has zero area", ErrInvalidPolygon)
	}
	return nil
}

// Location returns the site time zone
func (s *Site) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// DisplayName resolves a camera id to its configured name, falling back to the id
func (s *Site) DisplayName(cameraID string) string {
	if name, ok := s.Cameras[cameraID]; ok && name != "" {
		return name
	}
	return cameraID
}

// ZonesFor returns the zones with the given name drawn on a camera
func (s *Site) ZonesFor(cameraID, name string) []Zone {
	return lo.Filter(s.Zones, func(z Zone, _ int) bool {
		return z.Name == name && z.AppliesTo(cameraID)
	})
}

// CooldownFor returns the dedup window of an alert type
func (s *Site) CooldownFor(alertType models.AlertType) time.Duration {
	if d, ok := s.Thresholds.CooldownOverrides[string(alertType)]; ok {
		return d
	}
	return s.Thresholds.Cooldown
}
