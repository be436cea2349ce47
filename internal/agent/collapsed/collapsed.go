// Package collapsed handles the folded-stack format produced by async-profiler:
// one line per unique stack, frames root-first separated by ';', then a space and
// the sample count.
//
//	java.lang.Thread.run;Fibonacci.main;Fibonacci.fib_[j] 10
package collapsed

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Sample is one unique stack and how often it was seen.
type Sample struct {
	// Stack lists frames from the root to the leaf.
	Stack []string
	Count int64
}

// Profile is a set of samples. Stacks are unique within a profile.
type Profile struct {
	Samples []Sample
}

// ParseError reports a malformed line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed collapsed stack at line %d (%q): %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses folded stacks. Empty input is an empty profile. Repeated stacks
// are merged.
func Parse(data []byte) (*Profile, error) {
	counts := make(map[string]int64)
	var order []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			return nil, &ParseError{Line: lineNo, Text: line, Err: fmt.Errorf("missing sample count")}
		}
		count, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil || count < 0 {
			if err == nil {
				err = fmt.Errorf("negative sample count")
			}
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}

		stack := line[:idx]
		if _, seen := counts[stack]; !seen {
			order = append(order, stack)
		}
		counts[stack] += count
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	p := &Profile{Samples: make([]Sample, 0, len(order))}
	for _, stack := range order {
		p.Samples = append(p.Samples, Sample{Stack: strings.Split(stack, ";"), Count: counts[stack]})
	}
	return p, nil
}

// Total returns the total number of samples.
func (p *Profile) Total() int64 {
	var total int64
	for _, s := range p.Samples {
		total += s.Count
	}
	return total
}

// Len returns the number of unique stacks.
func (p *Profile) Len() int { return len(p.Samples) }

// WithPrefix returns a copy with frames prepended to every stack, e.g. the
// process name so stacks of several processes stay apart once merged.
func (p *Profile) WithPrefix(frames ...string) *Profile {
	out := &Profile{Samples: make([]Sample, 0, len(p.Samples))}
	for _, s := range p.Samples {
		stack := make([]string, 0, len(frames)+len(s.Stack))
		stack = append(stack, frames...)
		stack = append(stack, s.Stack...)
		out.Samples = append(out.Samples, Sample{Stack: stack, Count: s.Count})
	}
	return out
}

// Merge combines profiles, adding the counts of identical stacks.
func Merge(profiles ...*Profile) *Profile {
	counts := make(map[string]int64)
	stacks := make(map[string][]string)
	var order []string
	for _, p := range profiles {
		if p == nil {
			continue
		}
		for _, s := range p.Samples {
			key := strings.Join(s.Stack, ";")
			if _, ok := counts[key]; !ok {
				order = append(order, key)
				stacks[key] = s.Stack
			}
			counts[key] += s.Count
		}
	}

	out := &Profile{Samples: make([]Sample, 0, len(order))}
	for _, key := range order {
		out.Samples = append(out.Samples, Sample{Stack: stacks[key], Count: counts[key]})
	}
	return out
}

// WriteTo writes the profile in folded format, stacks sorted.
func (p *Profile) WriteTo(w io.Writer) (int64, error) {
	lines := make([]string, 0, len(p.Samples))
	for _, s := range p.Samples {
		lines = append(lines, strings.Join(s.Stack, ";")+" "+strconv.FormatInt(s.Count, 10)+"\n")
	}
	sort.Strings(lines)

	var written int64
	for _, line := range lines {
		n, err := io.WriteString(w, line)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// String returns the folded text.
func (p *Profile) String() string {
	var b strings.Builder
	_, _ = p.WriteTo(&b)
	return b.String()
}

// FrameCount is a frame and its sample count.
type FrameCount struct {
	Frame string
	Count int64
	Pct   float64
}

// TopLeaves returns the n leaf frames with the most samples.
func (p *Profile) TopLeaves(n int) []FrameCount {
	total := p.Total()
	byFrame := make(map[string]int64)
	for _, s := range p.Samples {
		if len(s.Stack) == 0 {
			continue
		}
		byFrame[s.Stack[len(s.Stack)-1]] += s.Count
	}

	out := make([]FrameCount, 0, len(byFrame))
	for frame, count := range byFrame {
		pct := 0.0
		if total > 0 {
			pct = float64(count) / float64(total) * 100
		}
		out = append(out, FrameCount{Frame: frame, Count: count, Pct: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Frame < out[j].Frame
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
