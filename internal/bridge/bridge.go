// Package bridge reads and drains the out-of-band size-sample files the
// cooperating sampling allocator writes between signal deliveries.
package bridge

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
)

// Kind distinguishes the two bridge files a process maintains.
type Kind int

const (
	// Malloc identifies the allocation-report bridge file.
	Malloc Kind = iota
	// Free identifies the deallocation-report bridge file.
	Free
)

func (k Kind) String() string {
	if k == Malloc {
		return "malloc"
	}
	return "free"
}

const bytesPerMB = 1024 * 1024

// Bridge locates and drains the two bridge files for one PID.
type Bridge struct {
	mallocPath string
	freePath   string
	logger     *log.Logger
}

// New returns a Bridge for the given process, using prefix and pid to
// derive the well-known file paths the allocator writes to:
// <dir>/<prefix>-malloc-signal-<pid> and <dir>/<prefix>-free-signal-<pid>.
func New(dir, prefix string, pid int, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		mallocPath: fmt.Sprintf("%s/%s-malloc-signal-%d", dir, prefix, pid),
		freePath:   fmt.Sprintf("%s/%s-free-signal-%d", dir, prefix, pid),
		logger:     logger,
	}
}

// Path returns the bridge file for kind. The cooperating allocator (or a
// test standing in for it) appends its size samples there.
func (b *Bridge) Path(kind Kind) string {
	if kind == Malloc {
		return b.mallocPath
	}
	return b.freePath
}

// Drain opens the bridge file for kind, reads every line as a decimal
// byte count, converts it to megabytes, and unlinks the file. A missing
// file is not an error: it simply means the allocator has not written
// anything since the last drain. A malformed line is logged once and
// skipped; it never aborts the drain.
func (b *Bridge) Drain(kind Kind) ([]float64, error) {
	path := b.Path(kind)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var samples []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		bytesCount, perr := strconv.ParseFloat(line, 64)
		if perr != nil {
			b.logger.Printf("bridge: skipping malformed %s sample %q: %v", kind, line, perr)
			continue
		}
		samples = append(samples, bytesCount/bytesPerMB)
	}
	scanErr := scanner.Err()
	closeErr := f.Close()

	if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
		b.logger.Printf("bridge: failed to unlink %s: %v", path, removeErr)
	}

	if scanErr != nil {
		return samples, scanErr
	}
	return samples, closeErr
}
