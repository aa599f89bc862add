package worker

import (
	"context"
	"sync"
	"time"
)

// Watchdog notices cameras that stopped sending frames. It never touches
// pipeline state itself; it only queues stale jobs for the owning goroutine.
type Watchdog struct {
	w        *Worker
	interval time.Duration
	timeout  time.Duration

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewWatchdog(w *Worker, interval, timeout time.Duration) *Watchdog {
	return &Watchdog{
		w:        w,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
	}
}

func (d *Watchdog) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stop:
				return
			case <-ticker.C:
				d.Check(d.w.clock())
			}
		}
	}()

	d.w.logger.Info().Dur("interval", d.interval).Dur("offline_timeout", d.timeout).Msg("Watchdog started")
}

// Check queues a stale job for every camera whose last frame arrived more
// than the offline timeout before now. A configured camera that never sent a
// frame is timed from worker start. It returns the ids it flagged.
func (d *Watchdog) Check(now time.Time) []string {
	var stale []string
	for _, p := range d.w.snapshotPipelines() {
		last := p.arrival()
		if last.IsZero() || now.Sub(last) <= d.timeout {
			continue
		}
		stale = append(stale, p.id)
		if !p.offer(job{kind: jobStale, wall: now}) {
			p.logger.Debug().Msg("Camera queue full, watchdog tick dropped")
		}
	}
	return stale
}

func (d *Watchdog) Stop() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}
