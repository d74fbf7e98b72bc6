package sampler

import (
	"testing"

	"lineprof/internal/filefilter"
	"lineprof/internal/stats"
	"lineprof/internal/vm"
)

type fakeThread struct {
	id    int
	frame vm.Frame
}

func (f fakeThread) ID() int                { return f.id }
func (f fakeThread) CurrentFrame() vm.Frame { return f.frame }

type fakeInterp struct {
	main          *fakeThread
	others        []Thread
	nativeOffsets map[int]bool
}

func (f *fakeInterp) MainThread() Thread {
	if f.main == nil {
		return nil
	}
	return *f.main
}
func (f *fakeInterp) OtherThreads() []Thread { return f.others }
func (f *fakeInterp) IsNativeCall(fr vm.Frame) bool {
	return f.nativeOffsets[fr.Offset]
}

func newTestFilter(t *testing.T) *filefilter.Filter {
	t.Helper()
	return filefilter.New("/prog", "/self/sampler.go")
}

func TestTickPureInterpreterWorkload(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01

	interp := &fakeInterp{
		main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 5, Offset: 3}},
	}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}

	now := 0.0
	for i := 0; i < 200; i++ {
		now += 0.01
		s.Tick(now)
	}

	interpTime := store.InterpreterCPUAt("/prog/main.vm", 5)
	nativeTime := store.NativeCPUAt("/prog/main.vm", 5)
	total := interpTime + nativeTime
	if total == 0 {
		t.Fatal("expected some CPU time to be attributed")
	}
	nativePct := 100 * nativeTime / total
	if nativePct > 5 {
		t.Errorf("native percent = %.2f, want <= 5 for a workload with no elapsed-time excess", nativePct)
	}
}

func TestTickNativeHeavyWorkload(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	store.LastSignalIntervalS = 0.01

	interp := &fakeInterp{
		main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 7, Offset: 1}},
	}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}

	// Simulate a native call that blocks well past the programmed interval:
	// each tick's elapsed time is 10x the interval, so c_time dominates.
	now := 0.0
	for i := 0; i < 50; i++ {
		now += 0.1
		s.Tick(now)
	}

	interpTime := store.InterpreterCPUAt("/prog/main.vm", 7)
	nativeTime := store.NativeCPUAt("/prog/main.vm", 7)
	total := interpTime + nativeTime
	nativePct := 100 * nativeTime / total
	if nativePct < 80 {
		t.Errorf("native percent = %.2f, want >= 80 for a native-heavy workload", nativePct)
	}
}

func TestTickNoLiveThreadsOnlyAdvancesGlobals(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	interp := &fakeInterp{}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}

	s.Tick(0.01)
	if store.TotalCPUSamples <= 0 {
		t.Fatal("expected total_cpu_samples to advance even with zero live frames")
	}
	if store.GlobalFootprint.Offers() == 0 {
		t.Fatal("expected the global footprint reservoir to still be offered to")
	}
}

func TestTickSplitsTimeAcrossMultipleThreads(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	interp := &fakeInterp{
		main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 1, Offset: 0}},
		others: []Thread{
			fakeThread{id: 1, frame: vm.Frame{File: "/prog/worker.vm", Line: 9, Offset: 2}},
		},
		nativeOffsets: map[int]bool{2: false},
	}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}
	s.Tick(0.01)

	if store.InterpreterCPUAt("/prog/main.vm", 1) <= 0 {
		t.Error("expected main thread's line to receive interpreter time")
	}
	if store.InterpreterCPUAt("/prog/worker.vm", 9) <= 0 {
		t.Error("expected the worker thread's non-call line to receive interpreter time")
	}
}

func TestTickAttributesWorkerCallOpcodeToNative(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	interp := &fakeInterp{
		main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 1, Offset: 0}},
		others: []Thread{
			fakeThread{id: 1, frame: vm.Frame{File: "/prog/worker.vm", Line: 9, Offset: 2}},
		},
		nativeOffsets: map[int]bool{2: true},
	}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}
	s.Tick(0.01)

	if store.NativeCPUAt("/prog/worker.vm", 9) <= 0 {
		t.Error("expected the worker thread's call-opcode line to receive native time")
	}
	if store.InterpreterCPUAt("/prog/worker.vm", 9) != 0 {
		t.Error("a call-opcode line should not also receive interpreter time")
	}
}

func TestTickTriggersOutputAtThreshold(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	store.OutputIntervalS = 0.02
	store.NextOutputTimeS = 0.02

	fired := 0
	interp := &fakeInterp{main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 1}}}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t), OnOutputDue: func() { fired++ }}

	s.Tick(0.01)
	if fired != 0 {
		t.Fatalf("output fired early: %d", fired)
	}
	s.Tick(0.02)
	if fired != 1 {
		t.Fatalf("expected output to fire once at threshold, fired %d times", fired)
	}
}

func TestTickFoldsFootprintDeltaIntoPerLineReservoir(t *testing.T) {
	store := stats.New()
	store.MeanSignalIntervalS = 0.01
	store.MarkOffsetKnown("/prog/main.vm", 1, 0)
	store.AddAllocSample(true, "/prog/main.vm", 1, 0, 10, true)
	store.AddAllocSample(false, "/prog/main.vm", 1, 0, 4, true)

	interp := &fakeInterp{main: &fakeThread{id: 0, frame: vm.Frame{File: "/prog/main.vm", Line: 1, Offset: 0}}}
	s := &Sampler{Store: store, Interp: interp, Filter: newTestFilter(t)}
	s.Tick(0.01)

	snap := store.PerLineReservoir("/prog/main.vm", 1).Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one offer to the per-line reservoir, got %d", len(snap))
	}
	if snap[0].DeltaMB != 6 {
		t.Errorf("DeltaMB = %v, want 6 (10 malloc - 4 free)", snap[0].DeltaMB)
	}
}
