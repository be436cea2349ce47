package crashlog

import (
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/DanielAmmar/gprofiler/internal/safe"
)

// ErrNotFound is returned when no recognizable crash report exists.
var ErrNotFound = errors.New("hotspot error log not found")

var (
	// "#  SIGBUS (0x7) at pc=0x00007f8b3c0d21e0, pid=1, tid=1"
	headerSignalRe = regexp.MustCompile(`^#\s+(SIG[A-Z0-9]+)\s+\((0x[0-9a-fA-F]+)\)\s+at pc=(0x[0-9a-fA-F]+)`)
	// "siginfo: si_signo: 7 (SIGBUS), si_code: ..."
	siginfoRe = regexp.MustCompile(`^siginfo:\s+si_signo:\s+(\d+)\s+\((SIG[A-Z0-9]+)\)`)
	// "7f8b3c0c1000-7f8b3c0c8000 r-xp 00000000 08:01 5678   /lib/x86_64-linux-gnu/libpthread-2.31.so"
	mapsLineRe = regexp.MustCompile(`^[0-9a-fA-F]+-[0-9a-fA-F]+\s+\S+\s+\S+\s+\S+\s+\d+\s+(/\S.*)$`)
	// "C  [libpthread.so.0+0x10fd0]  pthread_cond_timedwait+0x1c0"
	frameLineRe = regexp.MustCompile(`^[JAjVvC]\s+`)
)

// maxLineLength caps the part of a line that is matched. Longer lines, such as
// huge jvm_args, are truncated.
const maxLineLength = 64 << 10

type section int

const (
	sectionNone section = iota
	sectionProblematicFrame
	sectionNativeFrames
	sectionDynamicLibraries
)

// Parse parses the text of a fatal error report found at path. Fields missing
// from the text are left unset; ErrNotFound is returned only when nothing in
// data looks like a report.
func Parse(data []byte, path string) (*Report, error) {
	r := &Report{Path: path, Raw: string(data)}
	modules := make(map[string]struct{})
	recognized := false
	state := sectionNone

	for line := range strings.Lines(r.Raw) {
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineLength {
			line = line[:maxLineLength]
		}
		trimmed := strings.TrimSpace(line)

		switch state {
		case sectionProblematicFrame:
			state = sectionNone
			if frame := strings.TrimSpace(strings.TrimPrefix(line, "#")); frame != "" {
				r.ProblematicFrame = frame
				continue
			}
		case sectionNativeFrames:
			if frameLineRe.MatchString(line) {
				r.NativeFrames = append(r.NativeFrames, trimmed)
				continue
			}
			state = sectionNone
		case sectionDynamicLibraries:
			if m := mapsLineRe.FindStringSubmatch(line); m != nil {
				modules[strings.TrimSpace(m[1])] = struct{}{}
				continue
			}
			if trimmed == "" {
				state = sectionNone
			}
		}

		switch {
		case headerSignalRe.MatchString(line):
			m := headerSignalRe.FindStringSubmatch(line)
			r.SignalName, r.PC = m[1], m[3]
			if n, err := strconv.ParseInt(m[2], 0, 32); err == nil {
				r.SignalNumber = int(n)
			}
			recognized = true
		case strings.HasPrefix(line, "# JRE version:"):
			r.Vendor = strings.TrimSpace(strings.TrimPrefix(line, "# JRE version:"))
			recognized = true
		case strings.HasPrefix(line, "# Java VM:"):
			r.VM = strings.TrimSpace(strings.TrimPrefix(line, "# Java VM:"))
			recognized = true
		case strings.HasPrefix(line, "# Problematic frame:"):
			state = sectionProblematicFrame
		case strings.HasPrefix(line, "Native frames:"):
			state = sectionNativeFrames
		case strings.HasPrefix(trimmed, "Dynamic libraries:"):
			state = sectionDynamicLibraries
			recognized = true
		case strings.HasPrefix(line, "siginfo:"):
			if m := siginfoRe.FindStringSubmatch(line); m != nil && r.SignalName == "" {
				r.SignalName = m[2]
				r.SignalNumber, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(trimmed, "vm_info:"):
			r.VMInfo = strings.TrimSpace(strings.TrimPrefix(trimmed, "vm_info:"))
			recognized = true
		case strings.HasPrefix(trimmed, "container_type:"):
			r.ContainerType = strings.TrimSpace(strings.TrimPrefix(trimmed, "container_type:"))
		case strings.HasPrefix(trimmed, "memory_usage_in_bytes:"):
			r.MemoryUsageBytes, r.HasMemoryUsage = parseBytes(trimmed, "memory_usage_in_bytes:")
		case strings.HasPrefix(trimmed, "memory_limit_in_bytes:"):
			r.MemoryLimitBytes, r.HasMemoryLimit = parseBytes(trimmed, "memory_limit_in_bytes:")
		}
	}
	if !recognized && r.SignalName == "" {
		return nil, ErrNotFound
	}

	r.Modules = make([]string, 0, len(modules))
	for m := range modules {
		r.Modules = append(r.Modules, m)
	}
	sort.Strings(r.Modules)

	return r, nil
}

// parseBytes parses "key: N" where N may be followed by a unit comment,
// e.g. "memory_usage_in_bytes: 1190752 k". Values such as "unlimited" are absent.
func parseBytes(line, key string) (int64, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, key))
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false
	}
	if len(fields) > 1 && fields[1] == "k" {
		if n > math.MaxUint64/1024 {
			n = math.MaxUint64
		} else {
			n *= 1024
		}
	}
	// cgroup v2 reports "max" limits as the largest uint64.
	v, _ := safe.Uint64ToInt64(n)
	return v, true
}
