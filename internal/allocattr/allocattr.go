// Package allocattr implements the allocation/free signal handler: on
// each notification from the cooperating sampling allocator, it drains
// the allocation bridge and folds the reported sizes into whatever
// interpreter line happened to be executing at the moment of the signal.
package allocattr

import (
	"log"

	"lineprof/internal/bridge"
	"lineprof/internal/filefilter"
	"lineprof/internal/stats"
	"lineprof/internal/vm"
)

// Handler serves both the malloc and free signals; the caller identifies
// which one fired via the Kind argument to Handle.
type Handler struct {
	Store  *stats.Store
	Bridge *bridge.Bridge
	Filter *filefilter.Filter
	Logger *log.Logger
}

// Handle processes one allocation or free notification. frame is the
// interpreter's location at the moment the signal was delivered. Handle
// never returns an error to its caller: a failure escaping a handler
// would surface as a spurious error inside the profiled program, so any
// I/O problem draining the bridge is logged and treated as "no samples
// this time".
func (h *Handler) Handle(kind bridge.Kind, frame vm.Frame) {
	if !h.Filter.ShouldTrace(frame.File) {
		return
	}
	h.Store.MarkOffsetKnown(frame.File, frame.Line, frame.Offset)

	samples, err := h.Bridge.Drain(kind)
	if err != nil {
		logger := h.Logger
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("allocattr: failed to drain %s bridge: %v", kind, err)
	}

	isMalloc := kind == bridge.Malloc
	for _, mb := range samples {
		h.Store.AddAllocSample(isMalloc, frame.File, frame.Line, frame.Offset, mb, false)
		if isMalloc {
			h.Store.RecordMalloc(mb)
		} else {
			h.Store.RecordFree(mb)
		}
	}
	if len(samples) > 0 {
		// Bump the sample count exactly once for this delivery, no matter
		// how many bridge lines it coalesced, so the average per-event
		// size stays meaningful.
		h.Store.AddAllocSample(isMalloc, frame.File, frame.Line, frame.Offset, 0, true)
	}
}
