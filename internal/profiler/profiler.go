// Package profiler wires the sampling engine together: it owns the stats
// store, installs the CPU interval timer and the two allocation signals,
// serializes every handler onto one goroutine, and flushes the report on
// schedule and at exit.
package profiler

import (
	"errors"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"lineprof/internal/allocattr"
	"lineprof/internal/bridge"
	"lineprof/internal/filefilter"
	"lineprof/internal/reporter"
	"lineprof/internal/sampler"
	"lineprof/internal/stats"
	"lineprof/internal/vm"
)

// ErrUnsupportedPlatform is returned by New on platforms without the
// POSIX-like interval timers and signal delivery the sampler needs.
var ErrUnsupportedPlatform = errors.New("profiler: interval-timer signals are not supported on this platform")

// BridgePrefix names the two allocation bridge files under the system
// temporary directory: <prefix>-malloc-signal-<pid> and
// <prefix>-free-signal-<pid>.
const BridgePrefix = "lineprof"

// DefaultInterval is the nominal mean CPU-tick interval.
const DefaultInterval = 10 * time.Millisecond

// Config carries everything New needs to assemble a Profiler.
type Config struct {
	// ProgramPath is the directory containing the program under
	// observation; only files under it are traced.
	ProgramPath string
	// SelfPath is the profiler's own source or binary path, never traced.
	SelfPath string
	// Interp is the embedding whose threads get sampled.
	Interp *vm.Interpreter
	// MeanInterval is the nominal mean tick interval; zero means
	// DefaultInterval.
	MeanInterval time.Duration
	// OutputInterval, if positive, flushes a report every so many seconds
	// of profiling clock. Zero emits only at exit.
	OutputInterval float64
	// WallClock switches the tick timer and the sampling clock from
	// CPU-virtual time to real time.
	WallClock bool
	// OpenOutput opens the report destination for one flush. The writer
	// is closed after each flush, so a file-backed implementation can
	// replace prior content atomically on close.
	OpenOutput func() (io.WriteCloser, error)
	// Source reads traced files' text back for the final report.
	Source reporter.SourceReader
	Logger *log.Logger
}

// Profiler is the process-wide observer: one per profiled program run.
type Profiler struct {
	cfg    Config
	logger *log.Logger

	store   *stats.Store
	bridge  *bridge.Bridge
	filter  *filefilter.Filter
	sampler *sampler.Sampler
	handler *allocattr.Handler

	sigs sigset
	rng  *rand.Rand

	sigc    chan os.Signal
	quit    chan struct{}
	stopped chan struct{}

	startedWall time.Time
	savedWD     string
	flushErr    error

	stopOnce sync.Once
}

type sigset struct {
	tick   os.Signal
	malloc os.Signal
	free   os.Signal
}

// New assembles a Profiler from cfg. It fails with ErrUnsupportedPlatform
// where interval timers cannot be programmed.
func New(cfg Config) (*Profiler, error) {
	tick, malloc, free, err := platformSignals(cfg.WallClock)
	if err != nil {
		return nil, err
	}
	if cfg.MeanInterval <= 0 {
		cfg.MeanInterval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.OpenOutput == nil {
		cfg.OpenOutput = func() (io.WriteCloser, error) { return nopCloser{os.Stdout}, nil }
	}

	store := stats.New()
	b := bridge.New(os.TempDir(), BridgePrefix, os.Getpid(), logger)
	filter := filefilter.New(cfg.ProgramPath, cfg.SelfPath)

	p := &Profiler{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		bridge:  b,
		filter:  filter,
		handler: &allocattr.Handler{Store: store, Bridge: b, Filter: filter, Logger: logger},
		sigs:    sigset{tick: tick, malloc: malloc, free: free},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sigc:    make(chan os.Signal, 128),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.sampler = &sampler.Sampler{
		Store:       store,
		Interp:      sampler.VMInterpreter{In: cfg.Interp},
		Filter:      filter,
		OnOutputDue: p.periodicFlush,
	}
	return p, nil
}

// Store exposes the accumulators, e.g. for an additional pprof sink.
func (p *Profiler) Store() *stats.Store { return p.store }

// BridgePath returns where the cooperating allocator must append its size
// samples for kind.
func (p *Profiler) BridgePath(kind bridge.Kind) string { return p.bridge.Path(kind) }

// MallocSignal and FreeSignal are the signals the cooperating allocator
// raises after flushing a write to the corresponding bridge file.
func (p *Profiler) MallocSignal() os.Signal { return p.sigs.malloc }
func (p *Profiler) FreeSignal() os.Signal   { return p.sigs.free }

// Start switches into the profiled program's directory, installs the
// three signals, arms the tick timer, and begins handling deliveries on a
// dedicated goroutine. That single goroutine is what stands in for
// POSIX signal masking: tick and allocation deliveries queue on one
// channel and are consumed strictly one at a time, so each handler runs
// in mutual exclusion with the others.
func (p *Profiler) Start() error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	p.savedWD = wd
	if p.cfg.ProgramPath != "" {
		if err := os.Chdir(p.cfg.ProgramPath); err != nil {
			return err
		}
	}

	p.startedWall = time.Now()
	first := p.nextInterval()
	p.store.MeanSignalIntervalS = p.cfg.MeanInterval.Seconds()
	p.store.LastSignalIntervalS = first.Seconds()
	if p.cfg.OutputInterval > 0 {
		p.store.OutputIntervalS = p.cfg.OutputInterval
		p.store.NextOutputTimeS = p.cfg.OutputInterval
	}

	signal.Notify(p.sigc, p.sigs.tick, p.sigs.malloc, p.sigs.free)
	go p.run()

	if err := armTimer(p.cfg.WallClock, first); err != nil {
		p.teardownSignals()
		return err
	}
	return nil
}

// Stop is the exit hook: it disarms the timer, detaches and ignores the
// allocation signals, waits for the handler goroutine to return
// (deliveries still queued at that point are not handled), restores the
// working directory, and flushes the report one final time. It
// reports whether anything was emitted (false means the run was too short
// to profile) and the first flush error encountered, if any.
func (p *Profiler) Stop() (emitted bool, err error) {
	p.stopOnce.Do(func() {
		if derr := disarmTimer(p.cfg.WallClock); derr != nil {
			p.logger.Printf("profiler: failed to disarm the tick timer: %v", derr)
		}
		p.teardownSignals()
		close(p.quit)
		<-p.stopped

		if p.savedWD != "" {
			if cerr := os.Chdir(p.savedWD); cerr != nil {
				p.logger.Printf("profiler: failed to restore working directory: %v", cerr)
			}
		}

		p.store.ElapsedTimeS = time.Since(p.startedWall).Seconds()
		emitted, err = p.flush()
		if err == nil {
			err = p.flushErr
		}
	})
	return emitted, err
}

func (p *Profiler) teardownSignals() {
	signal.Stop(p.sigc)
	// A late allocator notification after shutdown must not kill the
	// process with an unhandled signal.
	signal.Ignore(p.sigs.malloc, p.sigs.free)
}

// run consumes signal deliveries until Stop. Handler dispatch order is
// arrival order; within one delivery, mutations commit in program order.
func (p *Profiler) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.quit:
			return
		case sig := <-p.sigc:
			switch sig {
			case p.sigs.tick:
				p.tick()
			case p.sigs.malloc:
				p.handleAlloc(bridge.Malloc)
			case p.sigs.free:
				p.handleAlloc(bridge.Free)
			}
		}
	}
}

// tick performs one CPU-timer delivery: read the profiling clock, run the
// sampler, then re-arm the one-shot timer with a fresh jittered interval.
func (p *Profiler) tick() {
	now, err := p.now()
	if err != nil {
		p.logger.Printf("profiler: failed to read the profiling clock: %v", err)
		return
	}
	p.store.ElapsedTimeS = time.Since(p.startedWall).Seconds()
	p.sampler.Tick(now)

	next := p.nextInterval()
	p.store.LastSignalIntervalS = next.Seconds()
	if err := armTimer(p.cfg.WallClock, next); err != nil {
		p.logger.Printf("profiler: failed to re-arm the tick timer: %v", err)
	}
}

// nextInterval draws the next one-shot timer interval uniformly from
// [mean/2, 3*mean/2). Jittering the period keeps the sampler from
// phase-locking with periodic behavior in the target program.
func (p *Profiler) nextInterval() time.Duration {
	mean := p.cfg.MeanInterval
	return mean/2 + time.Duration(p.rng.Int63n(int64(mean)))
}

// now returns the profiling clock in seconds: process CPU time by
// default, wall time since Start in wall-clock mode.
func (p *Profiler) now() (float64, error) {
	if p.cfg.WallClock {
		return time.Since(p.startedWall).Seconds(), nil
	}
	return cpuSeconds()
}

func (p *Profiler) handleAlloc(kind bridge.Kind) {
	th := p.cfg.Interp.MainThread()
	if th == nil {
		return
	}
	p.handler.Handle(kind, th.CurrentFrame())
}

// periodicFlush runs when a tick crosses the output threshold. The tick
// timer is disarmed while the report renders so deliveries cannot pile up
// behind a slow write; the caller's tick() re-arms it right after. Any
// allocation signal arriving meanwhile just queues on the channel.
func (p *Profiler) periodicFlush() {
	if err := disarmTimer(p.cfg.WallClock); err != nil {
		p.logger.Printf("profiler: failed to pause the tick timer: %v", err)
	}
	if _, err := p.flush(); err != nil {
		p.logger.Printf("profiler: periodic report flush failed: %v", err)
		if p.flushErr == nil {
			p.flushErr = err
		}
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (p *Profiler) flush() (bool, error) {
	w, err := p.cfg.OpenOutput()
	if err != nil {
		return false, err
	}
	emitted, err := reporter.Emit(p.store, w, p.cfg.Source)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return emitted, err
}
