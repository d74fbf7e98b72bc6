//go:build !linux

package profiler

import (
	"os"
	"time"
)

// Signal-driven sampling assumes a POSIX-like delivery model with
// per-process interval timers; without one there is nothing to profile
// with, so construction fails up front and the driver exits with -1.

func platformSignals(bool) (tick, malloc, free os.Signal, err error) {
	return nil, nil, nil, ErrUnsupportedPlatform
}

func armTimer(bool, time.Duration) error { return ErrUnsupportedPlatform }

func disarmTimer(bool) error { return ErrUnsupportedPlatform }

func cpuSeconds() (float64, error) { return 0, ErrUnsupportedPlatform }
