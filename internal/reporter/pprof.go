package reporter

import (
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"lineprof/internal/stats"
)

// NativeNamer resolves the name of the native function a given source
// line calls into, or "" if the line performs no native call. The VM's
// interpreter satisfies it; EmitPprof tolerates nil.
type NativeNamer interface {
	NativeNameAtLine(file string, line int) string
}

// EmitPprof writes the CPU attribution tables as a pprof profile so the
// usual pprof tooling can inspect them alongside the textual report. Each
// traced line becomes one Sample carrying two values: interpreter
// nanoseconds and native nanoseconds.
func EmitPprof(store *stats.Store, w io.Writer, namer NativeNamer) error {
	prof := newProfile(store)
	fillProfile(store, prof, namer)
	return prof.Write(w)
}

// newProfile creates a pprof profile so it can be filled with per-line
// CPU attribution.
func newProfile(store *stats.Store) *profile.Profile {
	// Period is the number of events between sampled occurrences; the
	// sampler's nominal mean interval, expressed in nanoseconds.
	period := int64(store.MeanSignalIntervalS * 1e9)
	if period == 0 {
		period = int64(10 * time.Millisecond)
	}
	return &profile.Profile{
		// SampleType is a description of the samples associated with each
		// Sample.Value: interpreter time at index 0, native time at index 1.
		SampleType: []*profile.ValueType{
			{Type: "cpu-interpreter", Unit: "nanoseconds"},
			{Type: "cpu-native", Unit: "nanoseconds"},
		},
		// TimeNanos is a time of collection (UTC) represented as
		// nanoseconds past the epoch.
		TimeNanos: time.Now().UnixNano(),
		// DurationNanos is how long the target program ran under
		// observation.
		DurationNanos: int64(store.ElapsedTimeS * 1e9),
		// PeriodType is the kind of events between sampled occurrences.
		PeriodType: &profile.ValueType{
			Type: "cpu",
			Unit: "nanoseconds",
		},
		Period: period,
	}
}

// fillProfile fills the pprof profile with one sample per traced
// (file, line) found in the CPU tables. There are no real memory mappings
// here — the "binary" is an interpreted source file — so each file gets
// one synthetic Mapping standing in for the mapped segment a compiled
// profile would carry.
func fillProfile(store *stats.Store, prof *profile.Profile, namer NativeNamer) {
	// funcIndices maps a function name to an index in the
	// Profile.Function slice to look up a respective Function.
	funcIndices := make(map[string]int)

	for _, file := range store.TracedFiles() {
		lines := cpuLines(store, file)
		if len(lines) == 0 {
			continue
		}

		// Mappings in pprof must have IDs and need to start with 1.
		m := &profile.Mapping{
			ID:   uint64(len(prof.Mapping) + 1),
			File: file,
		}
		prof.Mapping = append(prof.Mapping, m)

		for _, line := range lines {
			interpNs := int64(store.InterpreterCPUAt(file, line) * 1e9)
			nativeNs := int64(store.NativeCPUAt(file, line) * 1e9)
			if nativeNs < 0 {
				nativeNs = 0
			}

			// Name a native-call line after the builtin it invokes, the
			// way a symbolized address would read; interpreted lines fall
			// back to their file.
			name := ""
			if namer != nil {
				name = namer.NativeNameAtLine(file, line)
			}
			if name == "" || name == "?" {
				name = file
			}

			fnIndex, found := funcIndices[name]
			if !found {
				fnIndex = len(prof.Function)
				prof.Function = append(prof.Function, &profile.Function{
					ID:       uint64(fnIndex + 1),
					Name:     name,
					Filename: file,
				})
				funcIndices[name] = fnIndex
			}

			// Each Location describes function and line table debug
			// information; ID is a unique nonzero id for the location.
			loc := &profile.Location{
				ID:      uint64(len(prof.Location) + 1),
				Mapping: m,
				Line: []profile.Line{{
					Function: prof.Function[fnIndex],
					Line:     int64(line),
				}},
			}
			prof.Location = append(prof.Location, loc)

			prof.Sample = append(prof.Sample, &profile.Sample{
				Value:    []int64{interpNs, nativeNs},
				Location: []*profile.Location{loc},
			})
		}
	}
}

// cpuLines returns the sorted union of line numbers present in either CPU
// table for file.
func cpuLines(store *stats.Store, file string) []int {
	seen := make(map[int]struct{})
	for line := range store.InterpreterCPU[file] {
		seen[line] = struct{}{}
	}
	for line := range store.NativeCPU[file] {
		seen[line] = struct{}{}
	}
	lines := make([]int, 0, len(seen))
	for line := range seen {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}
