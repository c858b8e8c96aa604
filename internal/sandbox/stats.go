package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-units"
)

// Usage is a point-in-time resource snapshot of a sandbox.
type Usage struct {
	CPUPercent  float64   `json:"cpuPercent"`
	MemoryUsage int64     `json:"memoryUsage"`
	MemoryLimit int64     `json:"memoryLimit"`
	PIDs        uint64    `json:"pids"`
	ReadAt      time.Time `json:"readAt"`
}

// String formats the snapshot for operator output.
func (u Usage) String() string {
	return fmt.Sprintf("cpu %.2f%%, mem %s / %s, pids %d",
		u.CPUPercent, units.BytesSize(float64(u.MemoryUsage)), units.BytesSize(float64(u.MemoryLimit)), u.PIDs)
}

// Stats returns a usage snapshot, or false when the sandbox is gone or the
// engine cannot report one.
func (e *Engine) Stats(ctx context.Context, sandboxID string) (*Usage, bool) {
	body, err := e.api.Stats(ctx, sandboxID)
	if err != nil {
		e.log.Debug().Err(err).Str("sandbox", sandboxID).Msg("stats unavailable")
		return nil, false
	}
	defer body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(body).Decode(&stats); err != nil {
		e.log.Debug().Err(err).Str("sandbox", sandboxID).Msg("failed to decode stats")
		return nil, false
	}

	return &Usage{
		CPUPercent:  cpuPercent(stats.PreCPUStats, stats.CPUStats),
		MemoryUsage: int64(stats.MemoryStats.Usage),
		MemoryLimit: int64(stats.MemoryStats.Limit),
		PIDs:        stats.PidsStats.Current,
		ReadAt:      stats.Read,
	}, true
}

// cpuPercent is the share of host CPU used between two samples, scaled by
// the number of online CPUs as docker stats does.
func cpuPercent(prev, cur container.CPUStats) float64 {
	cpuDelta := float64(cur.CPUUsage.TotalUsage) - float64(prev.CPUUsage.TotalUsage)
	systemDelta := float64(cur.SystemUsage) - float64(prev.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * float64(cur.OnlineCPUs) * 100
}
