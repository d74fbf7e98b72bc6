package vm

import "sync"

// Interpreter owns the set of live threads for one profiled program and
// the programs they are running, giving the profiler the capability to
// enumerate live threads and inspect each one's current frame.
type Interpreter struct {
	mu       sync.Mutex
	main     *Thread
	others   []*Thread
	programs map[string]*Program // by File, for IsNativeCall lookups
	syms     map[string]*Symbolizer
	nextID   int
}

// symbolizerBase is the synthetic address assigned to the first native
// function of every program, the usual virtual address of a small
// non-PIE binary's first loadable segment.
const symbolizerBase = 0x401000

// NewInterpreter returns an empty Interpreter, ready to run a main program
// via Start and spawn additional threads via Spawn.
func NewInterpreter() *Interpreter {
	return &Interpreter{
		programs: make(map[string]*Program),
		syms:     make(map[string]*Symbolizer),
	}
}

func (in *Interpreter) register(prog *Program) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.programs[prog.File] = prog
	in.syms[prog.File] = NewSymbolizer(prog, symbolizerBase)
}

func (in *Interpreter) newThread() *Thread {
	in.mu.Lock()
	id := in.nextID
	in.nextID++
	in.mu.Unlock()
	return &Thread{id: id, done: make(chan struct{})}
}

// Start begins running prog as the interpreter's main thread,
// conceptually the thread an asynchronous CPU-tick signal lands on. It
// returns immediately; the program runs on its own goroutine.
func (in *Interpreter) Start(prog *Program) *Thread {
	in.register(prog)
	th := in.newThread()
	in.mu.Lock()
	in.main = th
	in.mu.Unlock()
	go th.run(prog)
	return th
}

// Spawn starts prog as an additional live thread, the embedding's
// analogue of the profiled program creating a new thread of its own.
func (in *Interpreter) Spawn(prog *Program) *Thread {
	in.register(prog)
	th := in.newThread()
	in.mu.Lock()
	in.others = append(in.others, th)
	in.mu.Unlock()
	go th.run(prog)
	return th
}

// MainThread returns the interpreter's main thread, or nil if Start has
// not been called yet.
func (in *Interpreter) MainThread() *Thread {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.main
}

// OtherThreads returns every spawned thread that is still alive. Unlike
// real OS threads, a toy VM thread that has already finished contributes
// nothing to a sample, so Sampler only needs the live ones.
func (in *Interpreter) OtherThreads() []*Thread {
	in.mu.Lock()
	defer in.mu.Unlock()
	live := make([]*Thread, 0, len(in.others))
	for _, th := range in.others {
		if th.Alive() {
			live = append(live, th)
		}
	}
	return live
}

// IsNativeCall reports whether the instruction at f's (File, Offset) is a
// call into a native function.
func (in *Interpreter) IsNativeCall(f Frame) bool {
	in.mu.Lock()
	prog, ok := in.programs[f.File]
	in.mu.Unlock()
	if !ok {
		return false
	}
	return prog.IsCallOffset(f.Offset)
}

// NativeNameAtLine resolves the name of the native function invoked at
// (file, line), or "" if no instruction on that line is a native call.
// The lookup goes through the program's symbol table rather than indexing
// the native slice directly, so a caller holding only a sampled address
// could resolve it the same way.
func (in *Interpreter) NativeNameAtLine(file string, line int) string {
	in.mu.Lock()
	prog, ok := in.programs[file]
	sym := in.syms[file]
	in.mu.Unlock()
	if !ok || sym == nil {
		return ""
	}
	for _, instr := range prog.Code {
		if instr.Line == line && instr.Op == OpCallNative {
			return sym.Addr2FuncName(sym.NativeAddr(instr.Arg))
		}
	}
	return ""
}
