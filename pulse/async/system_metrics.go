package async

import (
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/divyamanohar-stripe/datahub/errors"
)

// MemoryStats is a host memory snapshot.
type MemoryStats struct {
	UsedGB  float64 `json:"used_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// SystemMetrics tracks resource usage for write pool monitoring
type SystemMetrics struct {
	WorkersTotal int         `json:"workers_total"` // Configured concurrency
	InFlight     int64       `json:"in_flight"`     // Writes currently running
	Memory       MemoryStats `json:"memory"`
}

// ReadMemory returns current host memory usage.
func ReadMemory() (MemoryStats, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStats{}, errors.Wrap(err, "failed to get memory stats")
	}
	if v.Total == 0 {
		return MemoryStats{}, nil
	}

	const gb = 1024 * 1024 * 1024
	total := float64(v.Total) / gb
	used := float64(v.Total-v.Available) / gb
	return MemoryStats{
		UsedGB:  used,
		TotalGB: total,
		Percent: used / total * 100,
	}, nil
}

// GetSystemMetrics returns current pool and host resource usage. Memory is
// left zero when it cannot be read.
func (p *WritePool) GetSystemMetrics() SystemMetrics {
	memory, _ := ReadMemory()
	return SystemMetrics{
		WorkersTotal: p.cfg.Workers,
		InFlight:     p.inFlight.Load(),
		Memory:       memory,
	}
}
