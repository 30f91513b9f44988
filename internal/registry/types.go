package registry

import (
	"time"

	"github.com/lavenderblue2/laundry-robot-sub001/internal/models"
)

// DefaultOfflineAfter is how long a robot may go without any heartbeat or
// telemetry before the registry derives it as offline. Two missed 10s
// heartbeats.
const DefaultOfflineAfter = 20 * time.Second

// CheckpointStore persists opportunistic robot recovery checkpoints. The
// registry is purely in-memory; checkpoints only seed best-effort context
// after a restart and are never required for correctness.
type CheckpointStore interface {
	UpsertRobotState(state *models.RobotState) error
}

// HeartbeatStats are optional host metrics a robot may piggyback on its
// heartbeat.
type HeartbeatStats struct {
	UptimeSeconds uint64  `json:"uptime_seconds"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	CPUPercent    float64 `json:"cpu_percent"`
}
