package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID string
	started  time.Time
	proc     *process.Process
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(workerID string) *SystemHandler {
	h := &SystemHandler{
		WorkerID: workerID,
		started:  time.Now(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		h.proc = p
	}
	return h
}

// @Summary Get system stats
// @Description Get process and host resource usage
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := gin.H{
		"worker_id":      h.WorkerID,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"heap_mb":        m.Alloc / 1024 / 1024,
		"cpu_cores":      runtime.NumCPU(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	}

	if h.proc != nil {
		ctx := c.Request.Context()
		if cpu, err := h.proc.CPUPercentWithContext(ctx); err == nil {
			stats["process_cpu_percent"] = cpu
		}
		if info, err := h.proc.MemoryInfoWithContext(ctx); err == nil {
			stats["process_rss_mb"] = info.RSS / 1024 / 1024
		}
		if n, err := h.proc.NumThreadsWithContext(ctx); err == nil {
			stats["process_threads"] = n
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		stats["host_memory_used_percent"] = vm.UsedPercent
		stats["host_memory_total_mb"] = vm.Total / 1024 / 1024
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"stats":     stats,
		"timestamp": time.Now().Unix(),
	})
}
