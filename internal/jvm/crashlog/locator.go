package crashlog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielAmmar/gprofiler/internal/safe"
)

// DefaultMaxReportSize bounds how much of a report is read.
const DefaultMaxReportSize = 16 << 20

// startSlack absorbs the imprecision of process start times derived from the
// boot time, which has whole-second resolution.
const startSlack = 2 * time.Second

// Target describes the crashed process as seen from inside its own namespaces.
type Target struct {
	// PID is the host pid.
	PID int
	// NsPID is the pid inside the process' pid namespace; the JVM names the report after it.
	NsPID int
	// Cwd is the process' working directory at discovery time.
	Cwd string
	// Cmdline is the process' argv.
	Cmdline []string
	// Root is the process' root filesystem. It must stay readable after the process exited.
	Root fs.FS
	// Started is the process start time. Reports last modified before it belong
	// to an earlier process with the same pid and are ignored. Zero disables the check.
	Started time.Time
}

// SearchHints extends the default search.
type SearchHints struct {
	// ExtraDirs are additional directories searched for hs_err_pid<nspid>.log.
	ExtraDirs []string
	// MaxSize overrides DefaultMaxReportSize.
	MaxSize int64
}

// Locator finds and parses crash reports.
type Locator struct {
	logger zerolog.Logger
}

// NewLocator creates a Locator.
func NewLocator(logger zerolog.Logger) *Locator {
	return &Locator{logger: logger.With().Str("component", "crashlog").Logger()}
}

// FindAndParse looks for the report of target in the standard locations and parses
// the first recognizable one. It returns ErrNotFound when there is none.
func (l *Locator) FindAndParse(ctx context.Context, target Target, hints SearchHints) (*Report, error) {
	if target.Root == nil {
		return nil, fmt.Errorf("no root filesystem for pid %d: %w", target.PID, ErrNotFound)
	}
	maxSize := hints.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxReportSize
	}

	for _, candidate := range CandidatePaths(target, hints) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if stale, modified := l.stale(target, candidate); stale {
			l.logger.Debug().
				Int("pid", target.PID).
				Str("path", candidate).
				Time("modified", modified).
				Time("started", target.Started).
				Msg("Skipping hotspot error log older than the process")
			continue
		}

		data, err := safe.ReadFSFile(target.Root, fsName(candidate), maxSize)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				l.logger.Debug().Err(err).Int("pid", target.PID).Str("path", candidate).Msg("Skipping hotspot error log candidate")
			}
			continue
		}

		report, err := Parse(data, candidate)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", candidate, err)
		}
		report.PID = target.PID

		l.logger.Info().
			Int("pid", target.PID).
			Str("path", candidate).
			Str("signal", report.SignalName).
			Msg("Found Hotspot error log")
		return report, nil
	}

	return nil, ErrNotFound
}

func (l *Locator) stale(target Target, candidate string) (bool, time.Time) {
	if target.Started.IsZero() {
		return false, time.Time{}
	}
	info, err := fs.Stat(target.Root, fsName(candidate))
	if err != nil {
		return false, time.Time{}
	}
	return info.ModTime().Before(target.Started.Add(-startSlack)), info.ModTime()
}

// CandidatePaths returns the absolute paths, inside the process' root, where the JVM
// may have written its report, in search order.
func CandidatePaths(target Target, hints SearchHints) []string {
	nspid := target.NsPID
	if nspid == 0 {
		nspid = target.PID
	}
	cwd := target.Cwd
	if cwd == "" {
		cwd = "/"
	}
	fileName := "hs_err_pid" + strconv.Itoa(nspid) + ".log"

	var candidates []string
	if errorFile := errorFileArg(target.Cmdline); errorFile != "" {
		p := expandErrorFile(errorFile, nspid)
		if !path.IsAbs(p) {
			p = path.Join(cwd, p)
		}
		candidates = append(candidates, path.Clean(p))
	}
	candidates = append(candidates, path.Join(cwd, fileName), path.Join("/tmp", fileName))
	for _, dir := range hints.ExtraDirs {
		candidates = append(candidates, path.Join("/", dir, fileName))
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// errorFileArg returns the value of the last -XX:ErrorFile= argument.
func errorFileArg(cmdline []string) string {
	var value string
	for _, arg := range cmdline {
		if strings.HasPrefix(arg, "-XX:ErrorFile=") {
			value = strings.TrimPrefix(arg, "-XX:ErrorFile=")
		}
	}
	return value
}

// expandErrorFile substitutes %p with the pid and %% with a literal percent sign.
func expandErrorFile(pattern string, pid int) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '%' && i+1 < len(pattern) {
			switch pattern[i+1] {
			case 'p':
				b.WriteString(strconv.Itoa(pid))
				i++
				continue
			case '%':
				b.WriteByte('%')
				i++
				continue
			}
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

// fsName converts an absolute process path into an fs.FS name.
func fsName(p string) string {
	name := strings.TrimPrefix(path.Clean(p), "/")
	if name == "" {
		return "."
	}
	return name
}
