package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-worker-go/internal/config"
	"sentinel-worker-go/internal/models"
	"sentinel-worker-go/internal/services/auditlog"
	"sentinel-worker-go/internal/services/recorder"
	"sentinel-worker-go/internal/services/storage"
	"sentinel-worker-go/internal/worker"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeAudit struct {
	healthy bool
}

func (f fakeAudit) Healthy() bool         { return f.healthy }
func (f fakeAudit) Stats() auditlog.Stats { return auditlog.Stats{Written: 7} }
func (f fakeAudit) Path() string          { return "logs/audit.jsonl" }

type fakeRegistry struct {
	cameras  []worker.CameraState
	ingested []*models.FrameDetectionBatch
	err      error
}

func (f *fakeRegistry) Cameras() []worker.CameraState { return f.cameras }

func (f *fakeRegistry) Camera(id string) (worker.CameraState, error) {
	for _, c := range f.cameras {
		if c.CameraID == id {
			return c, nil
		}
	}
	return worker.CameraState{}, worker.ErrNotFound
}

func (f *fakeRegistry) Ingest(_ context.Context, b *models.FrameDetectionBatch) error {
	if f.err != nil {
		return f.err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	f.ingested = append(f.ingested, b)
	return nil
}

type fakeIndex struct {
	rows      []storage.EvidenceRecord
	gotCamera string
	gotLimit  int
}

func (f *fakeIndex) List(camera string, limit int) ([]storage.EvidenceRecord, error) {
	f.gotCamera, f.gotLimit = camera, limit
	return f.rows, nil
}

func serve(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		code    int
		status  string
	}{
		{"audit log writing", true, http.StatusOK, "healthy"},
		{"audit log failing", false, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("worker-1", "1.0.0", fakeAudit{healthy: tt.healthy})
			r := gin.New()
			r.GET("/health", h.HealthCheck)

			w := serve(r, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.code, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.healthy, resp.AuditLog.Healthy)
			assert.Equal(t, uint64(7), resp.AuditLog.Stats.Written)
		})
	}
}

func TestCameraEndpoints(t *testing.T) {
	reg := &fakeRegistry{cameras: []worker.CameraState{
		{CameraID: "cam-01", DisplayName: "Lobby", PeopleCount: 3},
	}}
	h := NewCameraHandler(reg)
	r := gin.New()
	r.GET("/cameras", h.ListCameras)
	r.GET("/cameras/:camera_id", h.GetCamera)

	w := serve(r, http.MethodGet, "/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = serve(r, http.MethodGet, "/cameras/cam-01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cam worker.CameraState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cam))
	assert.Equal(t, "Lobby", cam.DisplayName)
	assert.Equal(t, 3, cam.PeopleCount)

	w = serve(r, http.MethodGet, "/cameras/cam-99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngest(t *testing.T) {
	ts := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)

	t.Run("accepted", func(t *testing.T) {
		reg := &fakeRegistry{}
		r := gin.New()
		r.POST("/ingest", NewCameraHandler(reg).Ingest)

		body := `{"camera_id":"cam-01","frame_index":4,"timestamp":"` + ts + `","detections":[]}`
		w := serve(r, http.MethodPost, "/ingest", []byte(body))
		assert.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, reg.ingested, 1)
		assert.Equal(t, uint64(4), reg.ingested[0].FrameIndex)
	})

	t.Run("malformed json", func(t *testing.T) {
		reg := &fakeRegistry{}
		r := gin.New()
		r.POST("/ingest", NewCameraHandler(reg).Ingest)

		w := serve(r, http.MethodPost, "/ingest", []byte(`{"camera_id":`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, reg.ingested)
	})

	t.Run("missing camera", func(t *testing.T) {
		reg := &fakeRegistry{}
		r := gin.New()
		r.POST("/ingest", NewCameraHandler(reg).Ingest)

		w := serve(r, http.MethodPost, "/ingest", []byte(`{"frame_index":1,"timestamp":"`+ts+`"}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "camera_id")
	})

	t.Run("stopped worker", func(t *testing.T) {
		reg := &fakeRegistry{err: worker.ErrStopped}
		r := gin.New()
		r.POST("/ingest", NewCameraHandler(reg).Ingest)

		body := `{"camera_id":"cam-01","frame_index":1,"timestamp":"` + ts + `"}`
		w := serve(r, http.MethodPost, "/ingest", []byte(body))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestListZones(t *testing.T) {
	site, err := config.ParseSite([]byte(`
site: HQ
timezone: Europe/Berlin
cameras:
  cam-01: Lobby
  cam-02: Yard
zones:
  - name: restricted
    polygon: [[0, 0], [100, 0], [100, 100]]
    cameras: [cam-01]
  - name: loading-bay
    polygon: [[0, 0], [50, 0], [50, 50]]
    cameras: [cam-02]
`))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/zones", NewZonesHandler(site).ListZones)

	w := serve(r, http.MethodGet, "/zones?camera=cam-01", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Site     string `json:"site"`
		Timezone string `json:"timezone"`
		Zones    []struct {
			Name    string      `json:"name"`
			Polygon [][]float64 `json:"polygon"`
		} `json:"zones"`
		OfficeHours struct {
			Open  string `json:"open"`
			Close string `json:"close"`
		} `json:"office_hours"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "HQ", resp.Site)
	assert.Equal(t, "Europe/Berlin", resp.Timezone)
	require.Len(t, resp.Zones, 1)
	assert.Equal(t, "restricted", resp.Zones[0].Name)
	assert.Equal(t, []float64{100, 0}, resp.Zones[0].Polygon[1])
	assert.Equal(t, "09:30", resp.OfficeHours.Open)

	w = serve(r, http.MethodGet, "/zones", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Zones, 2)
}

func TestListEvidence(t *testing.T) {
	started := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	idx := &fakeIndex{rows: []storage.EvidenceRecord{{
		SessionRecord: recorder.SessionRecord{
			ID:        "s-1",
			CameraID:  "cam-01",
			StartedAt: started,
			Triggers:  []string{"CROWD"},
		},
	}}}
	r := gin.New()
	h := NewEvidenceHandler(idx, nil)
	r.GET("/evidence", h.ListEvidence)
	r.GET("/evidence/active", h.ActiveRecordings)

	w := serve(r, http.MethodGet, "/evidence?camera=cam-01&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cam-01", idx.gotCamera)
	assert.Equal(t, 5, idx.gotLimit)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"CROWD"`)

	w = serve(r, http.MethodGet, "/evidence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, idx.gotLimit)

	w = serve(r, http.MethodGet, "/evidence?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/evidence/active", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	unavailable := gin.New()
	unavailable.GET("/evidence", NewEvidenceHandler(nil, nil).ListEvidence)
	w = serve(unavailable, http.MethodGet, "/evidence", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventHubFilters(t *testing.T) {
	hub := NewEventHub()
	all := &subscriber{send: make(chan []byte, 4)}
	lobbyEvents := &subscriber{send: make(chan []byte, 4), camera: "Lobby", events: true}
	hub.clients[all] = struct{}{}
	hub.clients[lobbyEvents] = struct{}{}
	assert.Equal(t, 2, hub.ClientCount())

	ts := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	metric := auditlog.NewMetric("HQ", "Lobby", ts, 2)
	event := auditlog.NewEvent("HQ", "Yard", ts, []models.AlertEvent{{Type: models.AlertTypeCrowd, Severity: models.AlertSeverityCritical}}, 12, nil)
	lobbyEvent := auditlog.NewEvent("HQ", "Lobby", ts, []models.AlertEvent{{Type: models.AlertTypeCrowd, Severity: models.AlertSeverityCritical}}, 12, nil)

	require.NoError(t, hub.MirrorAudit(metric, []byte("m")))
	require.NoError(t, hub.MirrorAudit(event, []byte("e-yard")))
	require.NoError(t, hub.MirrorAudit(lobbyEvent, []byte("e-lobby")))

	assert.Len(t, all.send, 3)
	require.Len(t, lobbyEvents.send, 1)
	assert.Equal(t, "e-lobby", string(<-lobbyEvents.send))
}

func TestEventHubDropsForSlowClient(t *testing.T) {
	hub := NewEventHub()
	slow := &subscriber{send: make(chan []byte, 1)}
	hub.clients[slow] = struct{}{}

	rec := auditlog.NewMetric("HQ", "Lobby", time.Now(), 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.MirrorAudit(rec, []byte(strings.Repeat("x", i))))
	}
	assert.Len(t, slow.send, 1)
}
