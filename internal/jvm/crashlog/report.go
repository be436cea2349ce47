// Package crashlog finds and parses the fatal error report ("hs_err" file) that a
// HotSpot JVM writes when it dies on a native fault.
package crashlog

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Report is a parsed fatal error report. Every field is optional.
type Report struct {
	// Path is where the report was found, as seen by the crashed process.
	Path string
	// PID is the pid of the crashed process in the host pid namespace.
	PID int

	SignalName   string
	SignalNumber int
	// PC is the faulting program counter as printed in the header.
	PC string

	// Vendor is the "JRE version" header line, e.g.
	// "OpenJDK Runtime Environment (11.0.8+10) (build 11.0.8+10)".
	Vendor string
	// VM is the "Java VM" header line.
	VM string
	// ProblematicFrame is the frame the VM blamed, e.g. "C  [libasyncProfiler.so+0x2d1e0]".
	ProblematicFrame string

	// Modules are the shared objects from the "Dynamic libraries" section,
	// deduplicated and sorted.
	Modules []string
	// NativeFrames is the "Native frames" stack, innermost first.
	NativeFrames []string

	MemoryUsageBytes int64
	HasMemoryUsage   bool
	MemoryLimitBytes int64
	HasMemoryLimit   bool
	// VMInfo is the "vm_info:" build banner from the system section.
	VMInfo string
	// ContainerType is set when the report has a container (cgroup) section.
	ContainerType string

	// Raw is the full report text.
	Raw string
}

// HasModule reports whether a loaded module's base name contains name.
func (r *Report) HasModule(name string) bool {
	for _, m := range r.Modules {
		if strings.Contains(baseName(m), name) {
			return true
		}
	}
	return false
}

// Signal returns the signal, resolving the number from the name when the
// header did not carry one.
func (r *Report) Signal() (string, int) {
	if r.SignalNumber == 0 && r.SignalName != "" {
		return r.SignalName, int(unix.SignalNum(r.SignalName))
	}
	return r.SignalName, r.SignalNumber
}

// Summary returns a one-line triage description of the crash.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid %d crashed", r.PID)
	if name, num := r.Signal(); name != "" {
		fmt.Fprintf(&b, " with %s (%d)", name, num)
	}
	if r.Vendor != "" {
		fmt.Fprintf(&b, "; %s", r.Vendor)
	}
	if r.ProblematicFrame != "" {
		fmt.Fprintf(&b, "; problematic frame: %s", r.ProblematicFrame)
	}
	fmt.Fprintf(&b, "; %d modules loaded", len(r.Modules))
	if r.HasMemoryUsage {
		fmt.Fprintf(&b, "; memory_usage_in_bytes: %d", r.MemoryUsageBytes)
	}
	if r.HasMemoryLimit {
		fmt.Fprintf(&b, "; memory_limit_in_bytes: %d", r.MemoryLimitBytes)
	}
	return b.String()
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
