package profiler

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/DanielAmmar/gprofiler/internal/agent/collapsed"
	"github.com/DanielAmmar/gprofiler/internal/jvm/crashlog"
)

// FailureKind classifies why a process produced no profile.
type FailureKind string

const (
	// FailureSkipped means a safety check refused the process; no agent was loaded.
	FailureSkipped FailureKind = "skipped"
	// FailureAttach means an agent command failed.
	FailureAttach FailureKind = "attach_failure"
	// FailureCrashed means the process died while profiled and left a crash report.
	FailureCrashed FailureKind = "crashed"
	// FailureExited means the process exited while profiled without a crash report.
	FailureExited FailureKind = "exited"
	// FailureOutputMissing means the agent stopped but never wrote its output.
	FailureOutputMissing FailureKind = "output_missing"
	// FailureCorruptOutput means the output could not be parsed.
	FailureCorruptOutput FailureKind = "corrupt_output"
	// FailureCancelled means the snapshot was cancelled before the process finished.
	FailureCancelled FailureKind = "cancelled"
)

// Failure explains a missing profile.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Reason
}

func (f *Failure) Unwrap() error { return f.Err }

// ProcessResult is the outcome of one process in a snapshot. Exactly one of
// Profile and Failure is set; Crash is only set with a FailureCrashed.
type ProcessResult struct {
	PID     int
	Comm    string
	Profile *collapsed.Profile
	Failure *Failure
	Crash   *crashlog.Report
}

// OK reports whether the process produced a profile.
func (r *ProcessResult) OK() bool {
	return r.Failure == nil && r.Profile != nil
}

// SnapshotResult is the outcome of one profiling cycle.
type SnapshotResult struct {
	Start     time.Time
	End       time.Time
	Processes map[int]*ProcessResult
}

func newSnapshotResult(start time.Time) *SnapshotResult {
	return &SnapshotResult{Start: start, Processes: make(map[int]*ProcessResult)}
}

// PIDs returns the pids in the result, ascending.
func (r *SnapshotResult) PIDs() []int {
	pids := lo.Keys(r.Processes)
	sort.Ints(pids)
	return pids
}

// Profiles returns the successful results, by pid.
func (r *SnapshotResult) Profiles() map[int]*collapsed.Profile {
	ok := lo.PickBy(r.Processes, func(_ int, pr *ProcessResult) bool { return pr.OK() })
	return lo.MapValues(ok, func(pr *ProcessResult, _ int) *collapsed.Profile { return pr.Profile })
}

// Failures returns the failed results, ascending by pid.
func (r *SnapshotResult) Failures() []*ProcessResult {
	var out []*ProcessResult
	for _, pid := range r.PIDs() {
		if pr := r.Processes[pid]; pr.Failure != nil {
			out = append(out, pr)
		}
	}
	return out
}

// Crashes returns the crash reports found in this cycle, ascending by pid.
func (r *SnapshotResult) Crashes() []*crashlog.Report {
	var out []*crashlog.Report
	for _, pid := range r.PIDs() {
		if c := r.Processes[pid].Crash; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Merged combines every profile into one, each stack prefixed with its
// process name.
func (r *SnapshotResult) Merged() *collapsed.Profile {
	var profiles []*collapsed.Profile
	for _, pid := range r.PIDs() {
		pr := r.Processes[pid]
		if !pr.OK() {
			continue
		}
		comm := pr.Comm
		if comm == "" {
			comm = "java"
		}
		profiles = append(profiles, pr.Profile.WithPrefix(comm))
	}
	return collapsed.Merge(profiles...)
}
