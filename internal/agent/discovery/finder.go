package discovery

import (
	"context"
	"fmt"
	"os"
	"path"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/DanielAmmar/gprofiler/internal/sys/proc"
)

// DefaultNamePattern matches JVM launchers by process name.
const DefaultNamePattern = `^java$`

// Finder lists the processes to profile in one cycle.
type Finder interface {
	FindProcesses(ctx context.Context) ([]*Process, error)
}

// Inspector describes a single process.
type Inspector interface {
	Inspect(ctx context.Context, pid int) (*Process, error)
}

// Config selects target processes.
type Config struct {
	// PIDs restricts discovery to these pids when non-empty.
	PIDs []int
	// NamePattern matches the process name (comm) or executable base name.
	NamePattern string
}

// ProcFinder discovers processes through procfs.
type ProcFinder struct {
	pids    []int
	pattern *regexp.Regexp
	self    int
	logger  zerolog.Logger
}

// NewFinder creates a finder.
func NewFinder(cfg Config, logger zerolog.Logger) (*ProcFinder, error) {
	pattern := cfg.NamePattern
	if pattern == "" {
		pattern = DefaultNamePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid process name pattern %q: %w", pattern, err)
	}
	return &ProcFinder{
		pids:    lo.Uniq(cfg.PIDs),
		pattern: re,
		self:    os.Getpid(),
		logger:  logger.With().Str("component", "discovery").Logger(),
	}, nil
}

// FindProcesses returns every matching process. Processes that vanish while
// being inspected are skipped.
func (f *ProcFinder) FindProcesses(ctx context.Context) ([]*Process, error) {
	candidates, err := f.candidates(ctx)
	if err != nil {
		return nil, err
	}

	var found []*Process
	for _, p := range candidates {
		pid := int(p.Pid)
		if pid == f.self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		if !f.pattern.MatchString(name) && (exe == "" || !f.pattern.MatchString(path.Base(exe))) {
			continue
		}

		info, err := inspect(ctx, p)
		if err != nil {
			f.logger.Debug().Err(err).Int("pid", pid).Msg("Skipping process")
			continue
		}
		found = append(found, info)
	}

	f.logger.Debug().Int("count", len(found)).Msg("Discovered processes")
	return found, nil
}

func (f *ProcFinder) candidates(ctx context.Context) ([]*process.Process, error) {
	if len(f.pids) == 0 {
		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list processes: %w", err)
		}
		return procs, nil
	}

	out := make([]*process.Process, 0, len(f.pids))
	for _, pid := range f.pids {
		p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 - pids fit in int32.
		if err != nil {
			f.logger.Warn().Err(err).Int("pid", pid).Msg("Requested process not found")
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Inspect describes pid regardless of the name filter.
func (f *ProcFinder) Inspect(ctx context.Context, pid int) (*Process, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115 - pids fit in int32.
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	return inspect(ctx, p)
}

func inspect(ctx context.Context, p *process.Process) (*Process, error) {
	pid := int(p.Pid)
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil, err
	}
	createTime, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cmdline, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return nil, err
	}
	exe, _ := p.ExeWithContext(ctx)
	cwd, _ := p.CwdWithContext(ctx)

	nspid, err := proc.NsPID(pid)
	if err != nil {
		nspid = pid
	}

	// Maps of other users' processes need privileges; the rest is still usable.
	var modules []string
	if maps, err := p.MemoryMapsWithContext(ctx, false); err == nil && maps != nil {
		modules = lo.Uniq(lo.FilterMap(*maps, func(m process.MemoryMapsStat, _ int) (string, bool) {
			return m.Path, path.IsAbs(m.Path)
		}))
	}

	return &Process{
		PID:        pid,
		NsPID:      nspid,
		Comm:       name,
		Exe:        exe,
		Cmdline:    cmdline,
		Cwd:        cwd,
		CreateTime: createTime,
		Modules:    modules,
	}, nil
}
