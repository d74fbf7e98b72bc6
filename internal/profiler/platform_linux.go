//go:build linux

package profiler

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// platformSignals returns the three distinct signals the profiler
// recognizes. The CPU tick must match the interval-timer kind: SIGVTALRM
// for ITIMER_VIRTUAL, SIGALRM for ITIMER_REAL. The allocator repurposes
// SIGXCPU for malloc reports and SIGXFSZ for free reports, two signals
// the process otherwise has no use for. SIGPROF is not usable here: the
// Go runtime consumes it for its own CPU profiler and never forwards it
// to signal.Notify.
func platformSignals(wallclock bool) (tick, malloc, free os.Signal, err error) {
	tick = unix.SIGVTALRM
	if wallclock {
		tick = unix.SIGALRM
	}
	return tick, unix.SIGXCPU, unix.SIGXFSZ, nil
}

func itimerWhich(wallclock bool) unix.ItimerWhich {
	if wallclock {
		return unix.ItimerReal
	}
	return unix.ItimerVirtual
}

// armTimer programs a one-shot interval timer to fire once after d. The
// profiler re-arms it with a freshly jittered interval after every tick
// rather than letting the kernel repeat a fixed period.
func armTimer(wallclock bool, d time.Duration) error {
	_, err := unix.Setitimer(itimerWhich(wallclock), unix.Itimerval{
		Value: unix.NsecToTimeval(d.Nanoseconds()),
	})
	return err
}

// disarmTimer cancels any pending tick delivery.
func disarmTimer(wallclock bool) error {
	_, err := unix.Setitimer(itimerWhich(wallclock), unix.Itimerval{})
	return err
}

// cpuSeconds returns the process's consumed CPU time, user plus system,
// in seconds.
func cpuSeconds() (float64, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	ns := unix.TimevalToNsec(ru.Utime) + unix.TimevalToNsec(ru.Stime)
	return float64(ns) / 1e9, nil
}
