package collapsed

import (
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// frameKinds maps async-profiler's frame annotations to a pprof filename hint.
var frameKinds = map[string]string{
	"_[j]": "jit",
	"_[i]": "inlined",
	"_[k]": "kernel",
	"_[0]": "interpreted",
	"_[1]": "c1",
}

// ToPprof converts the profile into a pprof profile with "samples/count" and
// "cpu/nanoseconds" values. period is the sampling interval.
func (p *Profile) ToPprof(period time.Duration, start time.Time, duration time.Duration) *profile.Profile {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
			{Type: "cpu", Unit: "nanoseconds"},
		},
		PeriodType:    &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:        period.Nanoseconds(),
		TimeNanos:     start.UnixNano(),
		DurationNanos: duration.Nanoseconds(),
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[string]*profile.Location)

	for _, s := range p.Samples {
		// pprof lists locations leaf first.
		locs := make([]*profile.Location, 0, len(s.Stack))
		for i := len(s.Stack) - 1; i >= 0; i-- {
			frame := s.Stack[i]
			loc, ok := locations[frame]
			if !ok {
				name, kind := splitAnnotation(frame)
				fn, ok := functions[frame]
				if !ok {
					fn = &profile.Function{
						ID:         uint64(len(prof.Function) + 1),
						Name:       name,
						SystemName: frame,
						Filename:   kind,
					}
					prof.Function = append(prof.Function, fn)
					functions[frame] = fn
				}
				loc = &profile.Location{
					ID:   uint64(len(prof.Location) + 1),
					Line: []profile.Line{{Function: fn}},
				}
				prof.Location = append(prof.Location, loc)
				locations[frame] = loc
			}
			locs = append(locs, loc)
		}
		prof.Sample = append(prof.Sample, &profile.Sample{
			Location: locs,
			Value:    []int64{s.Count, s.Count * period.Nanoseconds()},
		})
	}
	return prof
}

// splitAnnotation strips an async-profiler "_[x]" frame suffix.
func splitAnnotation(frame string) (string, string) {
	for suffix, kind := range frameKinds {
		if strings.HasSuffix(frame, suffix) {
			return strings.TrimSuffix(frame, suffix), kind
		}
	}
	return frame, ""
}
