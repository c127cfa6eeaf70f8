package rest

import (
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the node process.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryBytes   uint64  `json:"memory_bytes"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

const (
	metricCPUTotal   = "/cpu/classes/total:cpu-seconds"
	metricCPUIdle    = "/cpu/classes/idle:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

func resourceSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: metricCPUTotal},
		{Name: metricCPUIdle},
		{Name: metricHeapBytes},
		{Name: metricGoroutines},
	}
}

// resourceTracker reports busy CPU as the share of non-idle CPU time between
// two snapshots.
type resourceTracker struct {
	mu        sync.Mutex
	started   time.Time
	samples   []metrics.Sample
	lastTotal float64
	lastIdle  float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{started: time.Now(), samples: resourceSamples()}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = resourceSamples()
	}
	if r.started.IsZero() {
		r.started = time.Now()
	}
	metrics.Read(r.samples)

	var usage ResourceUsage
	total, idle := -1.0, -1.0
	for _, s := range r.samples {
		switch {
		case s.Name == metricCPUTotal && s.Value.Kind() == metrics.KindFloat64:
			total = s.Value.Float64()
		case s.Name == metricCPUIdle && s.Value.Kind() == metrics.KindFloat64:
			idle = s.Value.Float64()
		case s.Name == metricHeapBytes && s.Value.Kind() == metrics.KindUint64:
			usage.MemoryBytes = s.Value.Uint64()
		case s.Name == metricGoroutines && s.Value.Kind() == metrics.KindUint64:
			usage.Goroutines = int(s.Value.Uint64())
		}
	}

	if total >= 0 && idle >= 0 {
		if r.lastTotal > 0 {
			if dt := total - r.lastTotal; dt > 0 {
				usage.CPUPercent = (dt - (idle - r.lastIdle)) / dt * 100
			}
		}
		r.lastTotal, r.lastIdle = total, idle
	}
	usage.UptimeSeconds = time.Since(r.started).Seconds()
	return usage
}
