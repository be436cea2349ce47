package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/DanielAmmar/gprofiler/internal/jvm"
	"github.com/DanielAmmar/gprofiler/internal/sys/proc"
)

// DefaultProbeTimeout bounds one "java -version" run.
const DefaultProbeTimeout = 10 * time.Second

// VersionProber reads the runtime version of a process.
type VersionProber interface {
	Probe(ctx context.Context, p *Process) (jvm.JVMVersion, error)
}

// CommandRunner runs a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 - the binary is the target's own executable.
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ExecProber runs the target's own java executable with -version inside the
// target's mount and pid namespaces, so containerized runtimes report correctly.
type ExecProber struct {
	// NsEnter is the nsenter binary. Empty runs /proc/<pid>/exe from the host.
	NsEnter string
	Timeout time.Duration
	Run     CommandRunner
	logger  zerolog.Logger
}

// NewExecProber creates a prober using nsenter at nsenterPath.
func NewExecProber(nsenterPath string, logger zerolog.Logger) *ExecProber {
	return &ExecProber{
		NsEnter: nsenterPath,
		Timeout: DefaultProbeTimeout,
		Run:     execRunner,
		logger:  logger.With().Str("component", "version_prober").Logger(),
	}
}

// Probe implements VersionProber.
func (e *ExecProber) Probe(ctx context.Context, p *Process) (jvm.JVMVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var (
		name string
		args []string
	)
	if e.NsEnter != "" && p.Exe != "" {
		name = e.NsEnter
		args = []string{"-t", strconv.Itoa(p.PID), "-m", "-p", "--", p.Exe, "-version"}
	} else {
		name = proc.ExePath(p.PID)
		args = []string{"-version"}
	}

	out, err := e.Run(ctx, name, args...)
	if err != nil {
		return jvm.JVMVersion{}, fmt.Errorf("failed to run java -version for pid %d: %w", p.PID, err)
	}
	v, err := jvm.ParseVersionOutput(string(out))
	if err != nil {
		return jvm.JVMVersion{}, err
	}
	e.logger.Debug().Int("pid", p.PID).Str("version", v.Version.FullString()).Str("vm", v.VMName).Msg("Probed java version")
	return v, nil
}

// CachedProber memoizes another prober per process identity. Failures are not cached.
type CachedProber struct {
	next  VersionProber
	cache *lru.Cache
}

// NewCachedProber wraps next with an LRU cache of size entries.
func NewCachedProber(next VersionProber, size int) (*CachedProber, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedProber{next: next, cache: cache}, nil
}

// Probe implements VersionProber.
func (c *CachedProber) Probe(ctx context.Context, p *Process) (jvm.JVMVersion, error) {
	if v, ok := c.cache.Get(p.Key()); ok {
		return v.(jvm.JVMVersion), nil
	}
	v, err := c.next.Probe(ctx, p)
	if err != nil {
		return jvm.JVMVersion{}, err
	}
	c.cache.Add(p.Key(), v)
	return v, nil
}
