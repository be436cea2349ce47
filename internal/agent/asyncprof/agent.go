package asyncprof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Request asks the agent inside process PID to run Command, loading the agent
// library from LibraryPath (a path inside the process' root) if needed.
type Request struct {
	PID         int
	LibraryPath string
	Command     *Command
}

// Response is the agent's answer. A non-zero ExitCode is not a transport error.
type Response struct {
	ExitCode int
	Output   string
}

// Agent delivers commands to the profiling agent of a process.
type Agent interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// JattachAgent runs commands through the jattach helper binary:
//
//	jattach <pid> load <library> true <command>
type JattachAgent struct {
	// Path is the jattach binary.
	Path   string
	logger zerolog.Logger
}

// NewJattachAgent creates an agent driver using the jattach binary at path.
func NewJattachAgent(path string, logger zerolog.Logger) *JattachAgent {
	return &JattachAgent{
		Path:   path,
		logger: logger.With().Str("component", "jattach").Logger(),
	}
}

// Execute runs one attach. It returns an error only when jattach could not be run
// to completion; the agent's own failures come back as a non-zero ExitCode.
func (a *JattachAgent) Execute(ctx context.Context, req Request) (Response, error) {
	if req.Command == nil {
		return Response{}, errors.New("no command")
	}
	args := []string{strconv.Itoa(req.PID), "load", req.LibraryPath, "true", req.Command.String()}

	// #nosec G204 - jattach path comes from configuration, arguments are built here.
	cmd := exec.CommandContext(ctx, a.Path, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	a.logger.Debug().Int("pid", req.PID).Strs("args", args).Msg("Running jattach")
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{Output: out.String()}, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return Response{Output: out.String()}, nil
	case errors.As(err, &exitErr):
		return Response{ExitCode: exitErr.ExitCode(), Output: out.String()}, nil
	default:
		return Response{}, fmt.Errorf("failed to run %s: %w", a.Path, err)
	}
}
