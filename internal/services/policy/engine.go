package policy

import (
	"time"

	"github.com/samber/lo"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/aggregator"
)

// Zone names the rules look for
const (
	ZoneHighOccupancy = "restricted-high-occupancy"
	ZoneOffice        = "office"
	ZoneBossCabin     = config.ZoneBossCabin
)

// Snapshot is the read-only camera state the rules may consult
type Snapshot struct {
	CameraID    string
	LastFrameAt time.Time
}

// Signals are synthetic conditions that do not come from detections
type Signals struct {
	Offline bool
	Warning bool
}

// Engine evaluates the site rules. It keeps no state between calls.
type Engine struct {
	site *config.Site
}

func NewEngine(site *config.Site) *Engine {
	return &Engine{site: site}
}

// Evaluate returns every alert whose condition holds, in rule priority order.
// Rules never suppress each other.
func (e *Engine) Evaluate(snap Snapshot, agg aggregator.Aggregated, now time.Time, sig Signals) []models.AlertEvent {
	var alerts []models.AlertEvent
	raise := func(t models.AlertType, dets []models.Detection) {
		alerts = append(alerts, models.NewAlertEvent(t, snap.CameraID, now, dets, agg.PeopleCount))
	}

	th := e.site.Thresholds
	local := now.In(e.site.Location())

	hazards := lo.Filter(agg.Detections, func(d models.Detection, _ int) bool {
		return d.Class.IsHazard() && d.Confidence >= th.HazardConfidence
	})
	if len(hazards) > 0 {
		raise(models.AlertTypeFireSmoke, hazards)
	}

	violent := lo.Filter(agg.Detections, func(d models.Detection, _ int) bool {
		return d.Class.IsViolence()
	})
	if len(violent) > 0 {
		raise(models.AlertTypeViolence, violent)
	}

	persons := agg.Persons()

	for _, z := range e.activeZones(snap.CameraID, ZoneHighOccupancy, local) {
		inside := personsIn(persons, z)
		if len(inside) > th.CrowdLimit {
			raise(models.AlertTypeCrowd, inside)
			break
		}
	}

	if !e.site.Office.Allowed(local) {
		if inside := e.personsInAny(persons, snap.CameraID, ZoneOffice, local); len(inside) > 0 {
			raise(models.AlertTypeIntrusionTime, inside)
		}
	}

	// boss-cabin's active window is its restricted window; without one it never fires
	cabins := lo.Filter(e.site.ZonesFor(snap.CameraID, ZoneBossCabin), func(z config.Zone, _ int) bool {
		return z.ActiveWindow != nil && z.ActiveWindow.Contains(local)
	})
	if inside := personsInZones(persons, cabins); len(inside) > 0 {
		raise(models.AlertTypeIntrusionZone, inside)
	}

	if sig.Offline {
		raise(models.AlertTypeCameraOffline, nil)
	}
	if sig.Warning {
		raise(models.AlertTypeCameraWarning, nil)
	}

	return alerts
}

// activeZones returns the named zones on the camera whose active window
// contains local. A zone without a window is always active.
func (e *Engine) activeZones(cameraID, name string, local time.Time) []config.Zone {
	return lo.Filter(e.site.ZonesFor(cameraID, name), func(z config.Zone, _ int) bool {
		return z.ActiveWindow == nil || z.ActiveWindow.Contains(local)
	})
}

func (e *Engine) personsInAny(persons []models.Detection, cameraID, name string, local time.Time) []models.Detection {
	return personsInZones(persons, e.activeZones(cameraID, name, local))
}

func personsInZones(persons []models.Detection, zones []config.Zone) []models.Detection {
	if len(zones) == 0 {
		return nil
	}
	return lo.Filter(persons, func(d models.Detection, _ int) bool {
		return lo.SomeBy(zones, func(z config.Zone) bool { return InZone(d, z) })
	})
}

func personsIn(persons []models.Detection, z config.Zone) []models.Detection {
	return lo.Filter(persons, func(d models.Detection, _ int) bool { return InZone(d, z) })
}
