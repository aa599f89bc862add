package scheduler

import (
	"sync"

	"sentinel-worker-go/internal/models"
)

// Guard tracks in-flight stage invocations for one camera
type Guard struct {
	mu       sync.Mutex
	inFlight map[models.Stage]bool
}

func NewGuard() *Guard {
	return &Guard{inFlight: make(map[models.Stage]bool, len(models.Stages))}
}

// TryAcquire marks the stage busy, returning false if it already is
func (g *Guard) TryAcquire(stage models.Stage) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[stage] {
		return false
	}
	g.inFlight[stage] = true
	return true
}

// Release marks the stage idle
func (g *Guard) Release(stage models.Stage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, stage)
}

// Busy reports whether the stage has an invocation outstanding
func (g *Guard) Busy(stage models.Stage) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.inFlight[stage]
}
