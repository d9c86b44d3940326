package daemon

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// memoryPerWorkerGB is a rough allowance for one worker's chunk buffers and
// target connection.
const memoryPerWorkerGB = 0.5

// Resources is the resource line the scanner logs.
type Resources struct {
	WorkersActive int
	WorkersTotal  int
	MemoryUsedGB  float64
	MemoryTotalGB float64
	MemoryPercent float64
	ProcessRSSMB  float64
}

// Resources returns current worker and memory usage. Memory figures are
// zero when the platform does not report them.
func (d *Daemon) Resources() Resources {
	r := Resources{
		WorkersActive: d.Stats().Active,
		WorkersTotal:  d.cfg.Threads,
	}
	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		r.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		r.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		r.MemoryPercent = r.MemoryUsedGB / r.MemoryTotalGB * 100
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := p.MemoryInfo(); err == nil {
			r.ProcessRSSMB = float64(info.RSS) / 1024 / 1024
		}
	}
	return r
}

// checkMemory warns when the configured workers may not fit in available memory.
func (d *Daemon) checkMemory() string {
	v, err := mem.VirtualMemory()
	if err != nil || d.cfg.Threads == 0 {
		return ""
	}
	availableGB := float64(v.Available) / 1024 / 1024 / 1024
	if need := float64(d.cfg.Threads) * memoryPerWorkerGB; need > availableGB {
		return fmt.Sprintf("%d workers may need %.1fGB but only %.1fGB is available", d.cfg.Threads, need, availableGB)
	}
	return ""
}
