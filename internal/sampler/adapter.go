package sampler

import "lineprof/internal/vm"

// VMInterpreter adapts a concrete *vm.Interpreter to the Interpreter
// interface declared in sampler.go. Go's interface satisfaction is structural but not
// covariant on return types, so *vm.Interpreter's MainThread() *vm.Thread
// and OtherThreads() []*vm.Thread need this thin wrapper before they can
// stand in for MainThread() Thread / OtherThreads() []Thread.
type VMInterpreter struct {
	In *vm.Interpreter
}

func (a VMInterpreter) MainThread() Thread {
	th := a.In.MainThread()
	if th == nil {
		return nil
	}
	return th
}

func (a VMInterpreter) OtherThreads() []Thread {
	vts := a.In.OtherThreads()
	out := make([]Thread, len(vts))
	for i, th := range vts {
		out[i] = th
	}
	return out
}

func (a VMInterpreter) IsNativeCall(f vm.Frame) bool {
	return a.In.IsNativeCall(f)
}
