package profiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/DanielAmmar/gprofiler/internal/agent/collapsed"
	"github.com/DanielAmmar/gprofiler/internal/safe"
)

// Output formats of FileSink.
const (
	FormatCollapsed = "collapsed"
	FormatPprof     = "pprof"
)

const filePrefix = "profile_"

// FileSink stores each cycle as a file in a local directory: the merged folded
// stacks, or a gzipped pprof profile.
type FileSink struct {
	dir    string
	format string
	period time.Duration
	logger zerolog.Logger
}

// NewFileSink creates a sink writing into dir. period is the sampling interval
// recorded in pprof output.
func NewFileSink(dir, format string, period time.Duration, logger zerolog.Logger) (*FileSink, error) {
	switch format {
	case "":
		format = FormatCollapsed
	case FormatCollapsed, FormatPprof:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{
		dir:    dir,
		format: format,
		period: period,
		logger: logger.With().Str("component", "profile_storage").Logger(),
	}, nil
}

// Write implements Sink. Cycles without any profile write nothing.
func (s *FileSink) Write(_ context.Context, result *SnapshotResult) error {
	merged := result.Merged()
	if merged.Len() == 0 {
		s.logger.Debug().Msg("No profiles in cycle, nothing stored")
		return nil
	}

	name := filePrefix + result.Start.UTC().Format("20060102T150405.000Z")
	var path string
	var err error
	switch s.format {
	case FormatPprof:
		path = filepath.Join(s.dir, name+".pb.gz")
		err = s.writePprof(path, merged, result)
	default:
		path = filepath.Join(s.dir, name+".col")
		err = s.writeCollapsed(path, merged)
	}
	if err != nil {
		return err
	}

	s.logger.Debug().Str("path", path).Int64("samples", merged.Total()).Msg("Stored profile")
	return nil
}

func (s *FileSink) writeCollapsed(path string, p *collapsed.Profile) error {
	// #nosec G304 - path is built from the configured output directory.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := p.WriteTo(f); err != nil {
		safe.Close(f, s.logger, "Failed to close profile file")
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func (s *FileSink) writePprof(path string, p *collapsed.Profile, result *SnapshotResult) error {
	prof := p.ToPprof(s.period, result.Start, result.End.Sub(result.Start))
	// #nosec G304 - path is built from the configured output directory.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := prof.Write(f); err != nil {
		safe.Close(f, s.logger, "Failed to close profile file")
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// CleanupOldProfiles removes stored profiles older than retention.
func (s *FileSink) CleanupOldProfiles(retention time.Duration) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed++
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("Cleaned up old profiles")
	}
	return nil
}

// RunCleanupLoop removes old profiles every interval until ctx ends.
func (s *FileSink) RunCleanupLoop(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info().Dur("retention", retention).Msg("Starting profile cleanup loop")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Stopping profile cleanup loop")
			return
		case <-ticker.C:
			if err := s.CleanupOldProfiles(retention); err != nil {
				s.logger.Error().Err(err).Msg("Failed to cleanup old profiles")
			}
		}
	}
}
