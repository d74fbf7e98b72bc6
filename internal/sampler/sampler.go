// Package sampler implements the periodic CPU-tick handler: it splits
// elapsed process time between interpreter and native execution and
// attributes the result to the current line of every live thread.
// Asynchronous signals are only delivered at the interpreter's dispatch
// boundary, so delivery latency measures time spent outside it.
package sampler

import (
	"math"

	"lineprof/internal/filefilter"
	"lineprof/internal/stats"
	"lineprof/internal/vm"
)

// Thread is the subset of vm.Thread the sampler needs: enough to read a
// live thread's current source location.
type Thread interface {
	ID() int
	CurrentFrame() vm.Frame
}

// Interpreter is the capability surface the sampler needs from the
// embedding: enumerate the live threads and ask whether a given frame's
// instruction is a native call.
type Interpreter interface {
	MainThread() Thread
	OtherThreads() []Thread
	IsNativeCall(f vm.Frame) bool
}

// Sampler drives one profiled process's CPU-tick accounting.
type Sampler struct {
	Store  *stats.Store
	Interp Interpreter
	Filter *filefilter.Filter

	// OnOutputDue is invoked when a tick crosses the next scheduled
	// report time. The caller (internal/profiler) is responsible for
	// masking signals around the call and for actually rendering the
	// report; Sampler only decides when.
	OnOutputDue func()
}

type taggedFrame struct {
	frame  vm.Frame
	isMain bool
}

// Tick performs one CPU-timer-signal delivery's worth of work: splitting
// elapsed time into interpreter/native shares, attributing it to every
// live traced thread, folding footprint deltas into the per-line
// reservoirs, replicating the global footprint sample, and triggering a
// report if due. now is the current reading of the profiling clock in
// seconds, process CPU time by default or wall time in wall-clock mode.
func (s *Sampler) Tick(now float64) {
	store := s.Store

	if store.LastSignalTimeS == 0 {
		store.LastSignalTimeS = now
	}
	if store.LastSignalIntervalS == 0 {
		store.LastSignalIntervalS = store.MeanSignalIntervalS
	}

	elapsed := now - store.LastSignalTimeS
	pythonTime := store.LastSignalIntervalS
	cTime := elapsed - pythonTime
	if cTime < 0 {
		cTime = 0
	}
	totalTime := pythonTime + cTime

	frames := s.collectFrames()
	n := len(frames)

	if n > 0 {
		share := totalTime / float64(n)
		pythonShare := pythonTime / float64(n)
		cShare := cTime / float64(n)

		for _, tf := range frames {
			file, line := tf.frame.File, tf.frame.Line

			if tf.isMain {
				store.AddInterpreterCPU(file, line, pythonShare)
				store.AddNativeCPU(file, line, cShare)
			} else if s.Interp.IsNativeCall(tf.frame) {
				store.AddNativeCPU(file, line, share)
			} else {
				store.AddInterpreterCPU(file, line, share)
			}

			for _, offset := range store.KnownOffsetsAt(file, line) {
				mallocMB, _ := store.AllocSiteAt(true, file, line, offset)
				freeMB, _ := store.AllocSiteAt(false, file, line, offset)
				store.PerLineReservoir(file, line).Offer(stats.LineFootprintSample{
					TickIndex: store.TotalCPUSamples,
					DeltaMB:   mallocMB - freeMB,
				})
			}
		}
	}

	store.TotalCPUSamples += totalTime

	replicateCount := 1
	if store.LastSignalIntervalS > 0 {
		// Long pauses replicate the footprint sample so they are not
		// under-represented in the reservoir; every tick still contributes
		// at least one point.
		replicateCount = int(math.Round(elapsed / store.LastSignalIntervalS))
		if replicateCount < 1 {
			replicateCount = 1
		}
	}
	sample := stats.FootprintSample{TimeS: now, Footprint: store.CurrentFootprintMB}
	for i := 0; i < replicateCount; i++ {
		store.GlobalFootprint.Offer(sample)
	}

	if !math.IsInf(store.NextOutputTimeS, 1) && now >= store.NextOutputTimeS {
		if s.OnOutputDue != nil {
			s.OnOutputDue()
		}
		store.NextOutputTimeS += store.OutputIntervalS
	}

	store.LastSignalTimeS = now
}

// collectFrames gathers the main thread's frame and every other live
// thread's frame, dropping anything FileFilter rejects. This embedding's
// VM threads always carry a non-empty File in their current Frame; there
// is no nested call-frame concept whose caller would need inspecting
// when a synthetic frame reports an empty path.
func (s *Sampler) collectFrames() []taggedFrame {
	var frames []taggedFrame

	if main := s.Interp.MainThread(); main != nil {
		f := main.CurrentFrame()
		if f.File != "" && s.Filter.ShouldTrace(f.File) {
			frames = append(frames, taggedFrame{frame: f, isMain: true})
		}
	}
	for _, th := range s.Interp.OtherThreads() {
		f := th.CurrentFrame()
		if f.File == "" || !s.Filter.ShouldTrace(f.File) {
			continue
		}
		frames = append(frames, taggedFrame{frame: f, isMain: false})
	}
	return frames
}
