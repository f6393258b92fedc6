package metrics

import (
	"context"
	"runtime"
	"time"
)

// CollectSystem samples runtime statistics into the system gauges until ctx is done.
func CollectSystem(ctx context.Context) {
	interval := globalManager.RefreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sampleSystem()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleSystem()
		}
	}
}

func sampleSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	UpdateSystemMemoryUsage(ms.HeapAlloc)
	UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		RecordSystemGCPauseTime(float64(ms.PauseTotalNs) / float64(ms.NumGC) / float64(time.Millisecond))
	}
}
