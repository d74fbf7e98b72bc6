/*
Program lineprof runs a toy-VM program under statistical line profiling.
It attributes CPU time per source line, split into interpreter time and
native (builtin) time, and attributes sampled allocations and frees to
the line executing when the cooperating allocator reported them.

By default the report is printed to standard output when the program
exits; --outfile redirects it to a file and --profile-interval flushes it
periodically while the program is still running.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"lineprof/internal/profiler"
	"lineprof/internal/reporter"
	"lineprof/internal/vm"
)

func main() {
	// By default an exit code is set to indicate a failure since
	// there are more failure scenarios to begin with.
	exitCode := 1
	defer func() { os.Exit(exitCode) }()

	outfile := flag.String("outfile", "", "write the report to this file instead of standard output")
	profileInterval := flag.Float64("profile-interval", 0, "flush a report every S seconds of profiled time (default: only at exit)")
	wallclock := flag.Bool("wallclock", false, "use wall-clock timing instead of CPU-virtual timing")
	pprofPath := flag.String("pprof", "", "additionally save a pprof CPU profile to this file at exit")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: lineprof [flags] prog [args...]")
		flag.PrintDefaults()
		return
	}
	progFile := flag.Arg(0)

	src, err := os.ReadFile(progFile)
	if err != nil {
		fmt.Println("lineprof: could not find input file.")
		exitCode = 0
		return
	}

	absProg, err := filepath.Abs(progFile)
	if err != nil {
		log.Printf("failed to resolve %s: %v", progFile, err)
		return
	}
	// The profiler's own binary is excluded from tracing so it stays out
	// of its own reports.
	selfPath, err := os.Executable()
	if err != nil {
		selfPath = os.Args[0]
	}

	args, err := targetArgs(flag.Args()[1:])
	if err != nil {
		log.Printf("bad target argument: %v", err)
		return
	}

	interp := vm.NewInterpreter()
	p, err := profiler.New(profiler.Config{
		ProgramPath:    filepath.Dir(absProg),
		SelfPath:       selfPath,
		Interp:         interp,
		OutputInterval: *profileInterval,
		WallClock:      *wallclock,
		OpenOutput:     outputOpener(*outfile),
		Source:         fileSource{},
	})
	if err != nil {
		if errors.Is(err, profiler.ErrUnsupportedPlatform) {
			log.Printf("lineprof: %v", err)
			exitCode = -1
			return
		}
		log.Printf("failed to set up the profiler: %v", err)
		return
	}

	target := &targetState{}
	prog, err := vm.Assemble(absProg, string(src), builtinNatives(p, target))
	if err != nil {
		log.Printf("failed to assemble %s: %v", progFile, err)
		return
	}
	prog.Args = args

	if err := p.Start(); err != nil {
		log.Printf("failed to start the profiler: %v", err)
		return
	}

	th := interp.Start(prog)
	th.Join(0)

	emitted, err := p.Stop()
	if err != nil {
		log.Printf("failed to write the report: %v", err)
		return
	}
	if !emitted {
		fmt.Println("Program did not run for long enough to profile.")
	}

	if *pprofPath != "" {
		if err := savePprof(p, interp, *pprofPath); err != nil {
			log.Printf("failed to save pprof profile: %v", err)
			return
		}
	}

	// A target-program failure is treated as end of run: the report above
	// has already been emitted either way.
	if terr := th.Err(); terr != nil {
		log.Printf("target program failed: %v", terr)
		return
	}
	exitCode = target.exitCode
}

// targetArgs parses the command-line arguments forwarded to the target
// program. The toy VM's only value type is an integer, so that is what
// an argument must be; each one is pushed onto the program's stack before
// it starts.
func targetArgs(raw []string) ([]int64, error) {
	args := make([]int64, len(raw))
	for i, s := range raw {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", s)
		}
		args[i] = n
	}
	return args, nil
}

func savePprof(p *profiler.Profiler, interp *vm.Interpreter, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = reporter.EmitPprof(p.Store(), f, interp)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// targetState carries what the target program communicates back to the
// driver, currently just the code its exit builtin was called with.
type targetState struct {
	exitCode int
}

// fileSource reads traced files back for the final report. It is the
// "source file reading" collaborator the reporter declares an interface
// for.
type fileSource struct{}

func (fileSource) Open(file string) (io.Reader, func(), error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// outputOpener returns an opener for the report destination. An empty
// path keeps the profiler's standard-output default. A file destination
// is written to a temporary sibling and renamed into place on close, so
// each flush replaces the prior report atomically; a flush that wrote
// nothing leaves any prior report untouched.
func outputOpener(path string) func() (io.WriteCloser, error) {
	if path == "" {
		return nil
	}
	return func() (io.WriteCloser, error) {
		tmp, err := os.CreateTemp(filepath.Dir(path), ".lineprof-*")
		if err != nil {
			return nil, err
		}
		return &atomicFile{f: tmp, dst: path}, nil
	}
}

type atomicFile struct {
	f       *os.File
	dst     string
	written int64
}

func (a *atomicFile) Write(p []byte) (int, error) {
	n, err := a.f.Write(p)
	a.written += int64(n)
	return n, err
}

func (a *atomicFile) Close() error {
	if err := a.f.Close(); err != nil {
		os.Remove(a.f.Name())
		return err
	}
	if a.written == 0 {
		return os.Remove(a.f.Name())
	}
	return os.Rename(a.f.Name(), a.dst)
}
