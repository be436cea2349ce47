// Package asyncproftest provides an in-memory async-profiler agent for tests.
//
// The fake answers commands the way the real agent does: it writes its log and
// output files into the process root (a temporary directory in tests) and
// reports the same exit codes.
package asyncproftest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/DanielAmmar/gprofiler/internal/agent/asyncprof"
)

// DefaultOutput is the collapsed output written on stop when no per-pid output is set.
const DefaultOutput = "java.lang.Thread.run;Fibonacci.main;Fibonacci.fib 10\nFibonacci.main;Fibonacci.fib 5\n"

// Agent is a fake async-profiler. Configure it before use; it is safe for
// concurrent use afterwards.
type Agent struct {
	// Roots maps a pid to the host directory standing in for its root filesystem.
	// Pids without an entry use Root.
	Roots map[int]string
	Root  string

	// Outputs overrides DefaultOutput per pid.
	Outputs map[int]string
	// NoOutput makes stop succeed without writing the output file.
	NoOutput map[int]bool
	// Errors makes every command for the pid fail at transport level.
	Errors map[int]error
	// StartExitCodes makes start fail with the given exit code and log line.
	StartExitCodes map[int]int
	// StickyForeign keeps a foreign profiler running across stops, so restarts
	// keep conflicting.
	StickyForeign map[int]bool
	// OnStart runs after a successful start, e.g. to simulate a crash.
	OnStart func(pid int)
	// Block makes commands for the pid wait for the context to end.
	Block map[int]bool

	mu       sync.Mutex
	running  map[int]bool
	foreign  map[int]bool
	requests []asyncprof.Request
}

// New creates a fake agent whose processes all live under root.
func New(root string) *Agent {
	return &Agent{Root: root}
}

// StartForeign marks pid as already being profiled by someone else.
func (a *Agent) StartForeign(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.init()
	a.foreign[pid] = true
}

// Running reports whether any profiler is active in pid.
func (a *Agent) Running(pid int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running[pid] || a.foreign[pid]
}

// Requests returns every request received so far.
func (a *Agent) Requests() []asyncprof.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]asyncprof.Request(nil), a.requests...)
}

// Actions returns the actions received for pid, in order.
func (a *Agent) Actions(pid int) []asyncprof.Action {
	var out []asyncprof.Action
	for _, r := range a.Requests() {
		if r.PID == pid {
			out = append(out, r.Command.Action)
		}
	}
	return out
}

func (a *Agent) init() {
	if a.running == nil {
		a.running = make(map[int]bool)
		a.foreign = make(map[int]bool)
	}
}

func (a *Agent) root(pid int) string {
	if r, ok := a.Roots[pid]; ok {
		return r
	}
	return a.Root
}

// Execute implements asyncprof.Agent.
func (a *Agent) Execute(ctx context.Context, req asyncprof.Request) (asyncprof.Response, error) {
	a.mu.Lock()
	a.init()
	a.requests = append(a.requests, req)
	block := a.Block[req.PID]
	a.mu.Unlock()

	if block {
		<-ctx.Done()
		return asyncprof.Response{}, ctx.Err()
	}
	if err := a.Errors[req.PID]; err != nil {
		return asyncprof.Response{}, err
	}

	switch req.Command.Action {
	case asyncprof.ActionStart:
		return a.start(req)
	case asyncprof.ActionStop:
		return a.stop(req)
	case asyncprof.ActionStatus:
		return a.status(req)
	}
	return asyncprof.Response{ExitCode: 1}, nil
}

func (a *Agent) start(req asyncprof.Request) (asyncprof.Response, error) {
	a.mu.Lock()
	if code, ok := a.StartExitCodes[req.PID]; ok {
		a.mu.Unlock()
		a.writeLog(req, "[ERROR] Could not start profiler\n")
		return asyncprof.Response{ExitCode: code}, nil
	}
	if a.running[req.PID] || a.foreign[req.PID] {
		a.mu.Unlock()
		a.writeLog(req, asyncprof.DefaultSentinels.AlreadyStarted+"\n")
		return asyncprof.Response{ExitCode: asyncprof.DefaultSentinels.AlreadyStartedExitCode}, nil
	}
	a.running[req.PID] = true
	onStart := a.OnStart
	a.mu.Unlock()

	a.writeLog(req, "Profiling started\n")
	if onStart != nil {
		onStart(req.PID)
	}
	return asyncprof.Response{}, nil
}

func (a *Agent) stop(req asyncprof.Request) (asyncprof.Response, error) {
	a.mu.Lock()
	active := a.running[req.PID] || a.foreign[req.PID]
	if !active {
		a.mu.Unlock()
		a.writeLog(req, "[ERROR] "+asyncprof.DefaultSentinels.NotActive+"\n")
		return asyncprof.Response{ExitCode: asyncprof.DefaultSentinels.AlreadyStartedExitCode}, nil
	}
	a.running[req.PID] = false
	if !a.StickyForeign[req.PID] {
		a.foreign[req.PID] = false
	}
	output, ok := a.Outputs[req.PID]
	if !ok {
		output = DefaultOutput
	}
	noOutput := a.NoOutput[req.PID]
	a.mu.Unlock()

	a.writeLog(req, "OK\n")
	if file, ok := req.Command.Get("file"); ok && !noOutput {
		if err := a.writeFile(req.PID, file, output); err != nil {
			return asyncprof.Response{}, err
		}
	}
	return asyncprof.Response{}, nil
}

func (a *Agent) status(req asyncprof.Request) (asyncprof.Response, error) {
	answer := asyncprof.DefaultSentinels.NotActive + "\n"
	if a.Running(req.PID) {
		answer = asyncprof.DefaultSentinels.RunningPrefix + "3 seconds\n"
	}
	if file, ok := req.Command.Get("file"); ok {
		if err := a.writeFile(req.PID, file, answer); err != nil {
			return asyncprof.Response{}, err
		}
	}
	return asyncprof.Response{}, nil
}

func (a *Agent) writeLog(req asyncprof.Request, line string) {
	if log, ok := req.Command.Get("log"); ok {
		_ = a.writeFile(req.PID, log, line)
	}
}

func (a *Agent) writeFile(pid int, processPath, content string) error {
	hostPath := filepath.Join(a.root(pid), filepath.FromSlash(processPath))
	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("fake agent: %w", err)
	}
	return nil
}
