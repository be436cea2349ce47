// Package asyncprof drives the async-profiler agent inside a running JVM: it
// builds agent commands, runs them through an attach helper, and manages the
// lifecycle of one profiling session per process.
package asyncprof

import (
	"fmt"
	"strings"
)

// Action is the verb of an agent command.
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionStatus Action = "status"
)

// Arg is one comma-separated command argument. An empty Value is a bare flag.
type Arg struct {
	Key   string
	Value string
}

// Command is an agent command such as "start,event=cpu,file=/tmp/out,collapsed".
// Argument order is preserved.
type Command struct {
	Action Action
	Args   []Arg
}

// NewCommand creates a command with no arguments.
func NewCommand(action Action) *Command {
	return &Command{Action: action}
}

// With appends key=value.
func (c *Command) With(key, value string) *Command {
	c.Args = append(c.Args, Arg{Key: key, Value: value})
	return c
}

// Flag appends a bare flag.
func (c *Command) Flag(name string) *Command {
	c.Args = append(c.Args, Arg{Key: name})
	return c
}

// Get returns the value of the last key=value argument named key.
func (c *Command) Get(key string) (string, bool) {
	for i := len(c.Args) - 1; i >= 0; i-- {
		if c.Args[i].Key == key && c.Args[i].Value != "" {
			return c.Args[i].Value, true
		}
	}
	return "", false
}

// Has reports whether the bare flag name is present.
func (c *Command) Has(name string) bool {
	for _, a := range c.Args {
		if a.Key == name && a.Value == "" {
			return true
		}
	}
	return false
}

// String encodes the command in the agent's argument syntax.
func (c *Command) String() string {
	var b strings.Builder
	b.WriteString(string(c.Action))
	for _, a := range c.Args {
		b.WriteByte(',')
		b.WriteString(a.Key)
		if a.Value != "" {
			b.WriteByte('=')
			b.WriteString(a.Value)
		}
	}
	return b.String()
}

// ParseCommand decodes the agent's argument syntax.
func ParseCommand(s string) (*Command, error) {
	parts := strings.Split(s, ",")
	switch action := Action(parts[0]); action {
	case ActionStart, ActionStop, ActionStatus:
		cmd := NewCommand(action)
		for _, p := range parts[1:] {
			if p == "" {
				return nil, fmt.Errorf("empty argument in command %q", s)
			}
			key, value, _ := strings.Cut(p, "=")
			cmd.Args = append(cmd.Args, Arg{Key: key, Value: value})
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("unknown agent action %q", parts[0])
	}
}
