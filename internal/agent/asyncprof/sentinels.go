package asyncprof

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SentinelTable holds the agent's answer strings for one agent release. The
// agent exposes no structured status, so the session recognizes these texts.
type SentinelTable struct {
	AgentVersion string
	// AlreadyStartedExitCode is the jattach exit code of a start refused because
	// a profiler is already running.
	AlreadyStartedExitCode int
	AlreadyStarted         string
	NotActive              string
	// RunningPrefix starts the status answer of an active profiler, followed by
	// the elapsed seconds.
	RunningPrefix string
}

// DefaultSentinels matches async-profiler 2.x.
var DefaultSentinels = SentinelTable{
	AgentVersion:           "2.9",
	AlreadyStartedExitCode: 200,
	AlreadyStarted:         "[ERROR] Profiler already started",
	NotActive:              "Profiler is not active",
	RunningPrefix:          "Profiling is running for ",
}

// IsAlreadyStarted reports whether a start attempt was refused because a profiler
// is already running in the process. log is the agent's log for that command.
func (t SentinelTable) IsAlreadyStarted(resp Response, log string) bool {
	if resp.ExitCode != t.AlreadyStartedExitCode {
		return false
	}
	return strings.Contains(log, t.AlreadyStarted) || strings.Contains(resp.Output, t.AlreadyStarted)
}

// IsNotActive reports whether the agent answered that no profiler is running.
func (t SentinelTable) IsNotActive(resp Response, log string) bool {
	return strings.Contains(log, t.NotActive) || strings.Contains(resp.Output, t.NotActive)
}

// StatusInfo is the parsed answer to a status command.
type StatusInfo struct {
	Running bool
	Elapsed time.Duration
	Raw     string
}

// ParseStatus parses the text the agent writes for a status command.
func (t SentinelTable) ParseStatus(out string) (StatusInfo, error) {
	raw := strings.TrimSpace(out)
	info := StatusInfo{Raw: raw}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, t.RunningPrefix):
			fields := strings.Fields(strings.TrimPrefix(line, t.RunningPrefix))
			if len(fields) == 0 {
				return info, fmt.Errorf("malformed status %q", line)
			}
			secs, err := strconv.Atoi(fields[0])
			if err != nil {
				return info, fmt.Errorf("malformed status %q: %w", line, err)
			}
			info.Running = true
			info.Elapsed = time.Duration(secs) * time.Second
			return info, nil
		case strings.Contains(line, t.NotActive):
			return info, nil
		}
	}
	return info, fmt.Errorf("unrecognized status answer %q", raw)
}
