package ops

import (
	"runtime"
	"time"
)

// SystemStats contains overall process statistics
type SystemStats struct {
	Version   string
	Commit    string
	Uptime    time.Duration
	StartTime time.Time

	// Runtime stats
	GoVersion     string
	NumGoroutines int
	MemAllocMB    float64
	MemSysMB      float64
	NumGC         uint32
}

// StoreStats contains event store statistics
type StoreStats struct {
	TotalEvents  int
	EventsByKind map[int]int
}

// PoolStats contains relay pool statistics
type PoolStats struct {
	Relays    int
	Connected int
}

// CollectSystemStats gathers runtime statistics for diagnostics output
func CollectSystemStats(version, commit string, startTime time.Time) *SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemStats{
		Version:       version,
		Commit:        commit,
		Uptime:        time.Since(startTime),
		StartTime:     startTime,
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAllocMB:    float64(m.Alloc) / 1024 / 1024,
		MemSysMB:      float64(m.Sys) / 1024 / 1024,
		NumGC:         m.NumGC,
	}
}

// LogDiagnostics writes a diagnostics snapshot to the logger
func (l *Logger) LogDiagnostics(sys *SystemStats, store *StoreStats, pool *PoolStats) {
	l.Info("diagnostics",
		"uptime", sys.Uptime.Round(time.Second).String(),
		"goroutines", sys.NumGoroutines,
		"mem_alloc_mb", sys.MemAllocMB,
		"events", store.TotalEvents,
		"relays", pool.Relays,
		"connected", pool.Connected)
}
