package profile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/DanielAmmar/gprofiler/internal/agent/profiler"
	"github.com/DanielAmmar/gprofiler/internal/cli/helpers"
	"github.com/DanielAmmar/gprofiler/internal/privilege"
)

// Snapshot output formats beyond the helpers ones.
const (
	formatFolded helpers.OutputFormat = "folded"
	formatPprof  helpers.OutputFormat = "pprof"
)

var snapshotFormats = []helpers.OutputFormat{formatFolded, helpers.FormatJSON, helpers.FormatYAML, helpers.FormatTable, formatPprof}

type stackView struct {
	Frames []string `json:"frames" yaml:"frames"`
	Count  int64    `json:"count" yaml:"count"`
}

type crashView struct {
	Path             string `json:"path" yaml:"path"`
	Signal           string `json:"signal" yaml:"signal"`
	ProblematicFrame string `json:"problematic_frame,omitempty" yaml:"problematic_frame,omitempty"`
	Summary          string `json:"summary" yaml:"summary"`
}

type processView struct {
	PID     int         `header:"PID" json:"pid" yaml:"pid"`
	Comm    string      `header:"COMM" json:"comm" yaml:"comm"`
	Result  string      `header:"RESULT" json:"result" yaml:"result"`
	Samples int64       `header:"SAMPLES" json:"samples" yaml:"samples"`
	Reason  string      `header:"REASON" json:"reason,omitempty" yaml:"reason,omitempty"`
	Crash   *crashView  `json:"crash,omitempty" yaml:"crash,omitempty"`
	Stacks  []stackView `json:"stacks,omitempty" yaml:"stacks,omitempty"`
}

type snapshotView struct {
	Start     time.Time     `json:"start" yaml:"start"`
	End       time.Time     `json:"end" yaml:"end"`
	Processes []processView `json:"processes" yaml:"processes"`
}

func newSnapshotView(result *profiler.SnapshotResult, withStacks bool) snapshotView {
	view := snapshotView{Start: result.Start, End: result.End, Processes: []processView{}}
	for _, pid := range result.PIDs() {
		pr := result.Processes[pid]
		pv := processView{PID: pr.PID, Comm: pr.Comm, Result: "ok"}
		if pr.Failure != nil {
			pv.Result = string(pr.Failure.Kind)
			pv.Reason = pr.Failure.Reason
		}
		if pr.Crash != nil {
			pv.Crash = &crashView{
				Path:             pr.Crash.Path,
				Signal:           pr.Crash.SignalName,
				ProblematicFrame: pr.Crash.ProblematicFrame,
				Summary:          pr.Crash.Summary(),
			}
		}
		if pr.Profile != nil {
			pv.Samples = pr.Profile.Total()
			if withStacks {
				for _, s := range pr.Profile.Samples {
					pv.Stacks = append(pv.Stacks, stackView{Frames: s.Stack, Count: s.Count})
				}
			}
		}
		view.Processes = append(view.Processes, pv)
	}
	return view
}

// printSummary writes one line per process that produced no profile.
func printSummary(w io.Writer, result *profiler.SnapshotResult) {
	failures := result.Failures()
	_, _ = fmt.Fprintf(w, "Profiled %d of %d processes\n", len(result.Processes)-len(failures), len(result.Processes))
	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "  pid %d (%s): %s: %s\n", f.PID, f.Comm, f.Failure.Kind, f.Failure.Reason)
	}
}

// printFolded writes the merged folded stacks, ready for flamegraph.pl.
func printFolded(w io.Writer, result *profiler.SnapshotResult) error {
	_, err := result.Merged().WriteTo(w)
	return err
}

func printStructured(w io.Writer, result *profiler.SnapshotResult, format helpers.OutputFormat) error {
	formatter, err := helpers.NewFormatter(format)
	if err != nil {
		return err
	}
	view := newSnapshotView(result, format != helpers.FormatTable)
	if format == helpers.FormatTable {
		return formatter.Format(view.Processes, w)
	}
	return formatter.Format(view, w)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// writePprofFiles writes one gzipped pprof profile per profiled process and
// returns the paths.
func writePprofFiles(dir string, result *profiler.SnapshotResult, period time.Duration) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	profiles := result.Profiles()
	for _, pid := range result.PIDs() {
		p, ok := profiles[pid]
		if !ok {
			continue
		}
		comm := unsafeFileChars.ReplaceAllString(result.Processes[pid].Comm, "_")
		path := filepath.Join(dir, strconv.Itoa(pid)+"-"+comm+".pb.gz")

		// #nosec G304 - path is built from the output directory.
		f, err := os.Create(path)
		if err != nil {
			return paths, fmt.Errorf("failed to create %s: %w", path, err)
		}
		writeErr := p.ToPprof(period, result.Start, result.End.Sub(result.Start)).Write(f)
		if err := f.Close(); err != nil && writeErr == nil {
			writeErr = err
		}
		if writeErr != nil {
			return paths, fmt.Errorf("failed to write %s: %w", path, writeErr)
		}
		if err := privilege.FixFileOwnership(path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
