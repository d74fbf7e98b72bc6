//go:build !linux

package main

import (
	"lineprof/internal/profiler"
	"lineprof/internal/vm"
)

// builtinNatives is never reached on platforms where profiler.New fails
// with ErrUnsupportedPlatform; main exits with -1 before assembling.
func builtinNatives(*profiler.Profiler, *targetState) []vm.NativeFunc {
	return nil
}
