// Package stats holds the profiler's accumulators: per-(file,line,offset)
// CPU, malloc, free, and footprint statistics, plus the run-wide scalars.
// It is pure data with no locking, because every mutation is confined to
// the single goroutine that serializes the sampler and allocation
// handlers (see internal/profiler).
package stats

import (
	"math"

	"lineprof/internal/reservoir"
)

// GlobalReservoirCapacity and PerLineReservoirCapacity are the fixed
// capacities of the global and per-line footprint reservoirs.
const (
	GlobalReservoirCapacity  = 47
	PerLineReservoirCapacity = 10
)

// FootprintSample is one (timestamp, current_footprint_mb) point offered
// to the global reservoir.
type FootprintSample struct {
	TimeS     float64
	Footprint float64
}

// LineFootprintSample is one (tick_index, delta_mb) point offered to a
// per-line reservoir, where delta_mb = malloc_samples[site] -
// free_samples[site] at the time of the tick.
type LineFootprintSample struct {
	TickIndex float64
	DeltaMB   float64
}

// lineKey is the (line, offset) map key of the allocation tables.
type lineKey struct {
	Line   int
	Offset int
}

// allocSite is the (MB, count) accumulator for a single
// (file, line, offset) allocation/free site.
type allocSite struct {
	MB    float64
	Count int
}

// fileAlloc holds malloc/free sites for one file, indexed by (line, offset).
type fileAlloc map[lineKey]*allocSite

// Store is the process-wide accumulator singleton. Construct it with New:
// the zero value has no top-level maps and no global reservoir, so writes
// to it panic. The per-file and per-line inner maps are created lazily on
// first write via the accessor methods below.
type Store struct {
	// CPU attribution tables: file -> line -> seconds.
	InterpreterCPU map[string]map[int]float64
	NativeCPU      map[string]map[int]float64

	// Allocation tables: file -> (line, offset) -> (MB, count).
	Malloc map[string]fileAlloc
	Free   map[string]fileAlloc

	// KnownOffsets: file -> line -> set of offsets ever seen allocating.
	KnownOffsets map[string]map[int]map[int]struct{}

	// GlobalFootprint is the capacity-47 reservoir over (time, footprint).
	GlobalFootprint *reservoir.Reservoir[FootprintSample]

	// PerLineFootprint: file -> line -> capacity-10 reservoir over
	// (tick_index, delta_mb).
	PerLineFootprint map[string]map[int]*reservoir.Reservoir[LineFootprintSample]

	// Run-wide scalars.
	TotalCPUSamples     float64
	TotalMallocMB       float64
	TotalFreeMB         float64
	CurrentFootprintMB  float64
	MaxFootprintMB      float64
	ElapsedTimeS        float64
	MeanSignalIntervalS float64
	LastSignalIntervalS float64
	LastSignalTimeS     float64
	NextOutputTimeS     float64
	OutputIntervalS     float64
}

// New returns a Store with its global reservoir pre-allocated and no
// periodic output scheduled until configured otherwise.
func New() *Store {
	return &Store{
		InterpreterCPU:   make(map[string]map[int]float64),
		NativeCPU:        make(map[string]map[int]float64),
		Malloc:           make(map[string]fileAlloc),
		Free:             make(map[string]fileAlloc),
		KnownOffsets:     make(map[string]map[int]map[int]struct{}),
		GlobalFootprint:  reservoir.New[FootprintSample](GlobalReservoirCapacity),
		PerLineFootprint: make(map[string]map[int]*reservoir.Reservoir[LineFootprintSample]),
		NextOutputTimeS:  math.Inf(1),
		OutputIntervalS:  math.Inf(1),
	}
}

// AddInterpreterCPU adds seconds to the interpreter-time counter at
// (file, line). Reading a never-seen location never happens here — this
// is a write path, so the map is created lazily.
func (s *Store) AddInterpreterCPU(file string, line int, seconds float64) {
	m, ok := s.InterpreterCPU[file]
	if !ok {
		m = make(map[int]float64)
		s.InterpreterCPU[file] = m
	}
	m[line] += seconds
}

// AddNativeCPU adds seconds to the native-time counter at (file, line).
func (s *Store) AddNativeCPU(file string, line int, seconds float64) {
	m, ok := s.NativeCPU[file]
	if !ok {
		m = make(map[int]float64)
		s.NativeCPU[file] = m
	}
	m[line] += seconds
}

// InterpreterCPUAt returns the interpreter-time counter at (file, line)
// without inserting anything if it has never been written.
func (s *Store) InterpreterCPUAt(file string, line int) float64 {
	if m, ok := s.InterpreterCPU[file]; ok {
		return m[line]
	}
	return 0
}

// NativeCPUAt returns the native-time counter at (file, line) without
// inserting anything if it has never been written.
func (s *Store) NativeCPUAt(file string, line int) float64 {
	if m, ok := s.NativeCPU[file]; ok {
		return m[line]
	}
	return 0
}

// MarkOffsetKnown records that offset at (file, line) has been observed
// performing an allocation or free.
func (s *Store) MarkOffsetKnown(file string, line, offset int) {
	byLine, ok := s.KnownOffsets[file]
	if !ok {
		byLine = make(map[int]map[int]struct{})
		s.KnownOffsets[file] = byLine
	}
	offsets, ok := byLine[line]
	if !ok {
		offsets = make(map[int]struct{})
		byLine[line] = offsets
	}
	offsets[offset] = struct{}{}
}

// KnownOffsetsAt returns the set of offsets ever observed allocating at
// (file, line), as a sorted slice for deterministic report rendering.
func (s *Store) KnownOffsetsAt(file string, line int) []int {
	byLine, ok := s.KnownOffsets[file]
	if !ok {
		return nil
	}
	offsets, ok := byLine[line]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(offsets))
	for off := range offsets {
		out = append(out, off)
	}
	sortInts(out)
	return out
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func (s *Store) allocTable(isMalloc bool) map[string]fileAlloc {
	if isMalloc {
		return s.Malloc
	}
	return s.Free
}

// AddAllocSample adds mb to the malloc or free accumulator at
// (file, line, offset) and, if bumpCount is true, increments its sample
// count by one. A signal delivery that drains several coalesced bridge
// lines bumps the count only once.
func (s *Store) AddAllocSample(isMalloc bool, file string, line, offset int, mb float64, bumpCount bool) {
	table := s.allocTable(isMalloc)
	byFile, ok := table[file]
	if !ok {
		byFile = make(fileAlloc)
		table[file] = byFile
	}
	key := lineKey{Line: line, Offset: offset}
	site, ok := byFile[key]
	if !ok {
		site = &allocSite{}
		byFile[key] = site
	}
	site.MB += mb
	if bumpCount {
		site.Count++
	}
}

// AllocSiteAt returns the (MB, count) accumulator at (file, line, offset)
// without inserting anything if it has never been written.
func (s *Store) AllocSiteAt(isMalloc bool, file string, line, offset int) (mb float64, count int) {
	table := s.allocTable(isMalloc)
	byFile, ok := table[file]
	if !ok {
		return 0, 0
	}
	site, ok := byFile[lineKey{Line: line, Offset: offset}]
	if !ok {
		return 0, 0
	}
	return site.MB, site.Count
}

// PerLineReservoir returns (creating if necessary) the per-line footprint
// reservoir for (file, line).
func (s *Store) PerLineReservoir(file string, line int) *reservoir.Reservoir[LineFootprintSample] {
	byLine, ok := s.PerLineFootprint[file]
	if !ok {
		byLine = make(map[int]*reservoir.Reservoir[LineFootprintSample])
		s.PerLineFootprint[file] = byLine
	}
	r, ok := byLine[line]
	if !ok {
		r = reservoir.New[LineFootprintSample](PerLineReservoirCapacity)
		byLine[line] = r
	}
	return r
}

// TracedFiles returns the union of every file key that appears across the
// CPU and allocation tables, for the Reporter to iterate.
func (s *Store) TracedFiles() []string {
	seen := make(map[string]struct{})
	for f := range s.InterpreterCPU {
		seen[f] = struct{}{}
	}
	for f := range s.NativeCPU {
		seen[f] = struct{}{}
	}
	for f := range s.Malloc {
		seen[f] = struct{}{}
	}
	for f := range s.Free {
		seen[f] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sortStrings(out)
	return out
}

func sortStrings(xs []string) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// RecordMalloc applies one malloc sample of mb megabytes to the global
// scalars: total, current footprint, and the running peak.
func (s *Store) RecordMalloc(mb float64) {
	s.TotalMallocMB += mb
	s.CurrentFootprintMB += mb
	if s.CurrentFootprintMB > s.MaxFootprintMB {
		s.MaxFootprintMB = s.CurrentFootprintMB
	}
}

// RecordFree applies one free sample of mb megabytes to the global
// scalars.
func (s *Store) RecordFree(mb float64) {
	s.TotalFreeMB += mb
	s.CurrentFootprintMB -= mb
}
