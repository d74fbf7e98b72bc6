//go:build linux

package main

import (
	"fmt"
	"log"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"lineprof/internal/bridge"
	"lineprof/internal/profiler"
	"lineprof/internal/vm"
)

// builtinNatives is the native-function table every profiled program can
// CALL into. The compute and sleep builtins exist so a toy program can
// exercise the interpreter/native time split; alloc_mb and free_mb stand
// in for the cooperating sampling allocator, appending size samples to
// the bridge files and raising the matching signal exactly the way the
// real preloaded allocator library would.
func builtinNatives(p *profiler.Profiler, target *targetState) []vm.NativeFunc {
	return []vm.NativeFunc{
		{Name: "busy", Fn: func(th *vm.Thread) {
			// Burn CPU in native code for roughly n milliseconds. The
			// interval timer cannot interrupt this loop's Go code at a
			// bytecode boundary, so the elapsed excess shows up as native
			// time on the calling line.
			n := th.Pop()
			deadline := time.Now().Add(time.Duration(n) * time.Millisecond)
			x := uint64(1)
			for time.Now().Before(deadline) {
				x = x*2862933555777941757 + 3037000493
			}
			_ = x
		}},
		{Name: "sleepms", Fn: func(th *vm.Thread) {
			time.Sleep(time.Duration(th.Pop()) * time.Millisecond)
		}},
		{Name: "println", Fn: func(th *vm.Thread) {
			fmt.Println(th.Pop())
		}},
		{Name: "alloc_mb", Fn: func(th *vm.Thread) {
			reportAllocation(p, bridge.Malloc, th.Pop())
		}},
		{Name: "free_mb", Fn: func(th *vm.Thread) {
			reportAllocation(p, bridge.Free, th.Pop())
		}},
		{Name: "exit", Fn: func(th *vm.Thread) {
			target.exitCode = int(th.Pop())
			th.Halt()
		}},
	}
}

// reportAllocation plays the allocator's side of the bridge protocol:
// append one decimal byte count to the bridge file for kind, flush it,
// and only then raise kind's signal at our own process.
func reportAllocation(p *profiler.Profiler, kind bridge.Kind, mb int64) {
	if mb <= 0 {
		return
	}
	path := p.BridgePath(kind)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("failed to open bridge file %s: %v", path, err)
		return
	}
	_, err = fmt.Fprintf(f, "%d\n", mb*1024*1024)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Printf("failed to append a %s sample: %v", kind, err)
		return
	}

	sig := p.MallocSignal()
	if kind == bridge.Free {
		sig = p.FreeSignal()
	}
	if err := unix.Kill(unix.Getpid(), sig.(syscall.Signal)); err != nil {
		log.Printf("failed to raise the %s signal: %v", kind, err)
	}
}
