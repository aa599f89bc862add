package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"sentinel-worker-go/internal/models"
)

// Service invokes stage models on a remote inference server. Payloads are
// google.protobuf.Struct so no generated stubs are needed on either side.
type Service struct {
	mu        sync.Mutex
	conn      *managedConn
	grpcURL   string
	method    string
	isHealthy bool
}

// managedConn is one dialed connection. Calls hold it through inflight, so a
// connection replaced by a reconnect is closed only after its calls finish.
type managedConn struct {
	cc       *grpc.ClientConn
	health   healthpb.HealthClient
	inflight sync.WaitGroup
}

func (m *managedConn) release() { m.inflight.Done() }

func NewService(grpcURL, serviceName string) (*Service, error) {
	log.Info().Str("url", grpcURL).Str("service", serviceName).Msg("Initializing AI detection service")

	service := &Service{
		grpcURL: grpcURL,
		method:  "/" + serviceName + "/InferStage",
	}

	// Try to connect, but don't fail if it's not available
	if m, err := service.acquire(); err != nil {
		log.Warn().Err(err).Msg("AI detection service not available, will retry later")
	} else {
		m.release()
	}

	return service, nil
}

func (s *Service) dial() (*managedConn, error) {
	conn, err := grpc.NewClient(s.grpcURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to detection service: %w", err)
	}

	health := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("detection service health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		conn.Close()
		return nil, fmt.Errorf("detection service not serving: %s", resp.GetStatus())
	}
	return &managedConn{cc: conn, health: health}, nil
}

// acquire returns a healthy connection, reconnecting if needed. The caller
// must release it when its call is done.
func (s *Service) acquire() (*managedConn, error) {
	s.mu.Lock()
	if s.isHealthy && s.conn != nil {
		m := s.conn
		m.inflight.Add(1)
		s.mu.Unlock()
		return m, nil
	}
	failed := s.conn
	s.mu.Unlock()

	fresh, err := s.dial()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isHealthy && s.conn != nil && s.conn != failed {
		// a parallel stage reconnected first
		fresh.cc.Close()
		s.conn.inflight.Add(1)
		return s.conn, nil
	}

	old := s.conn
	s.conn = fresh
	s.isHealthy = true
	fresh.inflight.Add(1)
	retire(old)

	log.Info().Msg("Successfully connected to AI detection service")
	return fresh, nil
}

// retire closes a replaced connection once its in-flight calls return
func retire(m *managedConn) {
	if m == nil {
		return
	}
	go func() {
		m.inflight.Wait()
		m.cc.Close()
	}()
}

// markUnhealthy flags the connection for replacement, unless a reconnect
// already replaced the one that failed
func (s *Service) markUnhealthy(failed *managedConn) {
	s.mu.Lock()
	if s.conn == failed {
		s.isHealthy = false
	}
	s.mu.Unlock()
}

type stageResponse struct {
	Detections []models.Detection `json:"detections"`
}

// Detect runs one stage model on the frame image
func (s *Service) Detect(ctx context.Context, stage models.Stage, batch *models.FrameDetectionBatch) ([]models.Detection, error) {
	conn, err := s.acquire()
	if err != nil {
		return nil, fmt.Errorf("detection service unavailable: %w", err)
	}
	defer conn.release()

	req, err := structpb.NewStruct(map[string]interface{}{
		"stage":       string(stage),
		"camera_id":   batch.CameraID,
		"frame_index": batch.FrameIndex,
		"timestamp":   batch.Timestamp.Format(time.RFC3339Nano),
		"image":       batch.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", stage, err)
	}

	resp := &structpb.Struct{}
	if err := conn.cc.Invoke(ctx, s.method, req, resp); err != nil {
		s.markUnhealthy(conn)
		return nil, fmt.Errorf("%s inference: %w", stage, err)
	}

	dets, err := decodeDetections(resp)
	if err != nil {
		return nil, fmt.Errorf("%s inference: %w", stage, err)
	}

	log.Debug().
		Str("camera_id", batch.CameraID).
		Str("stage", string(stage)).
		Int("detections", len(dets)).
		Msg("Stage response")

	// a model may emit labels outside its family; keep only its own classes
	owned := dets[:0]
	for _, d := range dets {
		if stage.Owns(d.Class) {
			owned = append(owned, d)
		}
	}
	return owned, nil
}

func decodeDetections(resp *structpb.Struct) ([]models.Detection, error) {
	raw, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	var out stageResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Detections, nil
}

func (s *Service) HealthCheck(ctx context.Context) error {
	conn, err := s.acquire()
	if err != nil {
		return err
	}
	defer conn.release()

	resp, err := conn.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err == nil && resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		err = fmt.Errorf("detection service not serving: %s", resp.GetStatus())
	}
	if err != nil {
		s.markUnhealthy(conn)
	}
	return err
}

func (s *Service) IsHealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHealthy
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		log.Info().Msg("Shutting down detection service connection")
		err := s.conn.cc.Close()
		s.conn = nil
		s.isHealthy = false
		return err
	}
	return nil
}
