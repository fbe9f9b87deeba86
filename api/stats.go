package api

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// selfProc is kept across calls so Percent(0) has a previous sample to
// measure against; the first call reports 0.
var (
	selfMu   sync.Mutex
	selfProc *process.Process
)

// processStats mirrors the teacher's serverStats: process-level CPU,
// memory, and goroutine figures folded into the statistics endpoint.
// Unlike the teacher's host-wide cpu.Percent(1*time.Second, false),
// this uses gopsutil's per-process Percent(0), which reports the usage
// since the previous call instead of blocking the request for a
// second.
type processStats struct {
	UptimeS       float64
	CPUPercent    float64
	MemoryRSSMB   float64
	NumGoroutines int
}

func (s *Server) collectProcessStats() processStats {
	stats := processStats{
		UptimeS:       time.Since(s.startTime).Seconds(),
		NumGoroutines: runtime.NumGoroutine(),
	}

	selfMu.Lock()
	defer selfMu.Unlock()
	if selfProc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return stats
		}
		selfProc = p
	}
	proc := selfProc
	if pct, err := proc.Percent(0); err == nil {
		stats.CPUPercent = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.MemoryRSSMB = float64(mem.RSS) / (1024 * 1024)
	}
	return stats
}
