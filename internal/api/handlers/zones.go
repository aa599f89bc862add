package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sentinel-worker-go/internal/config"
)

type ZonesHandler struct {
	site *config.Site
}

func NewZonesHandler(site *config.Site) *ZonesHandler {
	return &ZonesHandler{site: site}
}

// ListZones returns the configured zones and office hours
// @Summary List zones
// @Description Get the site's zones, office hours and policy thresholds
// @Tags policy
// @Produce json
// @Param camera query string false "Only zones drawn on this camera"
// @Success 200 {object} map[string]interface{}
// @Router /zones [get]
func (h *ZonesHandler) ListZones(c *gin.Context) {
	zones := h.site.Zones
	if cam := c.Query("camera"); cam != "" {
		zones = make([]config.Zone, 0, len(h.site.Zones))
		for _, z := range h.site.Zones {
			if z.AppliesTo(cam) {
				zones = append(zones, z)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"site":     h.site.SiteID,
		"timezone": h.site.Location().String(),
		"zones":    zones,
		"office_hours": gin.H{
			"open":        h.site.Office.Open.String(),
			"close":       h.site.Office.Close.String(),
			"closed_days": h.site.Office.ClosedDays,
		},
		"thresholds": h.site.Thresholds,
		"cameras":    h.site.Cameras,
	})
}
