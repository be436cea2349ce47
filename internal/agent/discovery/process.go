// Package discovery finds JVM processes to profile and inspects them: command
// line, working directory, mapped libraries, libc flavor, and runtime version.
package discovery

import (
	"path"
	"strings"
)

// LibC is the C library a process is linked against.
type LibC string

const (
	LibCGlibc LibC = "glibc"
	LibCMusl  LibC = "musl"
)

// Process is a snapshot of a target process taken at discovery.
type Process struct {
	PID int
	// NsPID is the pid inside the process' own pid namespace.
	NsPID int
	Comm  string
	// Exe is the executable path as seen by the process.
	Exe     string
	Cmdline []string
	Cwd     string
	// CreateTime is the process start time in milliseconds since the epoch; with
	// PID it identifies the process across pid reuse.
	CreateTime int64
	// Modules are the file-backed mappings of the process.
	Modules []string
}

// LibC reports which C library the process maps.
func (p *Process) LibC() LibC {
	for _, m := range p.Modules {
		if strings.HasPrefix(path.Base(m), "ld-musl") {
			return LibCMusl
		}
	}
	return LibCGlibc
}

// ModulesNamed returns the mapped modules whose base name starts with name.
func (p *Process) ModulesNamed(name string) []string {
	var out []string
	for _, m := range p.Modules {
		if strings.HasPrefix(path.Base(m), name) {
			out = append(out, m)
		}
	}
	return out
}

// Key identifies the process across pid reuse.
type Key struct {
	PID        int
	CreateTime int64
}

// Key returns the process identity.
func (p *Process) Key() Key {
	return Key{PID: p.PID, CreateTime: p.CreateTime}
}
