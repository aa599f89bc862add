package policy

import (
	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
)

// PointInPolygon is the even-odd ray casting test. Points exactly on an edge
// may fall either way.
func PointInPolygon(x, y float64, poly []config.Point) bool {
	inside := false
	for i, j := 0, len(poly)-1; i < len(poly); j, i = i, i+1 {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) &&
			x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// InZone reports whether the bbox centre of d lies inside the zone
func InZone(d models.Detection, z config.Zone) bool {
	cx, cy := d.BBox.Center()
	return PointInPolygon(cx, cy, z.Polygon)
}
