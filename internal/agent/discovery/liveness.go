package discovery

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/DanielAmmar/gprofiler/internal/sys/proc"
)

// Liveness reports whether a discovered process is still the same running process.
type Liveness interface {
	Alive(ctx context.Context, key Key) bool
}

// ProcLiveness checks liveness through procfs. A pid that now belongs to a
// process with another start time counts as dead.
type ProcLiveness struct{}

// Alive implements Liveness.
func (ProcLiveness) Alive(ctx context.Context, key Key) bool {
	if !proc.IsRunning(key.PID) {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(key.PID)) // #nosec G115 - pids fit in int32.
	if err != nil {
		return false
	}
	if key.CreateTime != 0 {
		created, err := p.CreateTimeWithContext(ctx)
		if err != nil || created != key.CreateTime {
			return false
		}
	}
	// Zombies keep their pid until reaped but are gone for profiling purposes.
	status, err := p.StatusWithContext(ctx)
	if err == nil {
		for _, s := range status {
			if s == process.Zombie {
				return false
			}
		}
	}
	return true
}
