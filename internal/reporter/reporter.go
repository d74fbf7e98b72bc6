// Package reporter renders a Store's accumulated statistics as a
// per-file, per-line table with memory sparklines.
package reporter

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"lineprof/internal/sparkline"
	"lineprof/internal/stats"
)

// SourceReader reads a traced file's text back for report rendering.
// Reporter depends only on this interface; cmd/lineprof supplies the real
// os.Open-backed implementation.
type SourceReader interface {
	// Open returns a reader over file's source text, and a function to
	// release any associated resource (may be a no-op).
	Open(file string) (io.Reader, func(), error)
}

// Emit writes a textual report of store's current statistics to dest. It
// returns false (and writes nothing) if no CPU or memory samples have
// been collected at all, i.e. the run was too short for sampling.
func Emit(store *stats.Store, dest io.Writer, src SourceReader) (bool, error) {
	if store.TotalCPUSamples == 0 && store.TotalMallocMB == 0 && store.TotalFreeMB == 0 {
		return false, nil
	}

	memoryMode := (store.TotalMallocMB + store.TotalFreeMB) > 0

	if memoryMode {
		if err := emitMemorySummary(store, dest); err != nil {
			return true, err
		}
	}

	for _, file := range store.TracedFiles() {
		if err := emitFile(store, dest, src, file, memoryMode); err != nil {
			return true, err
		}
	}

	return true, nil
}

func emitMemorySummary(store *stats.Store, dest io.Writer) error {
	snap := store.GlobalFootprint.Snapshot()
	if len(snap) == 0 {
		return nil
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].TimeS < snap[j].TimeS })

	xs := make([]float64, len(snap))
	for i, p := range snap {
		v := p.Footprint
		if v < 0 {
			v = 0
		}
		xs[i] = v
	}
	_, mx, spark := sparkline.Render(xs, 0, store.MaxFootprintMB)
	_, err := fmt.Fprintf(dest, "Memory usage: %s (max: %6.2fMB)\n", spark, mx)
	return err
}

func emitFile(store *stats.Store, dest io.Writer, src SourceReader, file string, memoryMode bool) error {
	fileCPU := sumCPU(store.InterpreterCPU, file) + sumCPU(store.NativeCPU, file)
	percent := 0.0
	if store.TotalCPUSamples != 0 {
		percent = 100 * fileCPU / store.TotalCPUSamples
	}

	if _, err := fmt.Fprintf(dest, "%s: %% of CPU time = %6.2f%% out of %6.2fs.\n", file, percent, store.ElapsedTimeS); err != nil {
		return err
	}

	if memoryMode {
		fmt.Fprintf(dest, "  \t | %9s | %9s | %11s | %-11s |\n", "CPU %", "CPU %", "Avg memory", "Memory")
		fmt.Fprintf(dest, "  Line\t | %9s | %9s | %11s | %-11s | [%s]\n", "(interp)", "(native)", "growth (MB)", "usage", file)
	} else {
		fmt.Fprintf(dest, "  \t | %9s | %9s |\n", "CPU %", "CPU %")
		fmt.Fprintf(dest, "  Line\t | %9s | %9s | [%s]\n", "(interp)", "(native)", file)
	}
	fmt.Fprintln(dest, "--------------------------------------------------------------------------------")

	r, release, err := src.Open(file)
	if err != nil {
		return err
	}
	defer release()

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := emitLine(store, dest, file, lineNo, scanner.Text(), memoryMode); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(dest)
	return err
}

func emitLine(store *stats.Store, dest io.Writer, file string, lineNo int, text string, memoryMode bool) error {
	interpSamples := store.InterpreterCPUAt(file, lineNo)
	nativeSamples := store.NativeCPUAt(file, lineNo)
	if nativeSamples < 0 {
		nativeSamples = 0
	}

	var interpPct, nativePct float64
	if store.TotalCPUSamples != 0 {
		interpPct = 100 * interpSamples / store.TotalCPUSamples
		nativePct = 100 * nativeSamples / store.TotalCPUSamples
	}

	interpStr := ""
	if interpPct != 0 {
		interpStr = fmt.Sprintf("%6.2f%%", interpPct)
	}
	nativeStr := ""
	if nativePct != 0 {
		nativeStr = fmt.Sprintf("%6.2f%%", nativePct)
	}

	if !memoryMode {
		_, err := fmt.Fprintf(dest, "%6d\t | %9s | %9s | %s\n", lineNo, interpStr, nativeStr, text)
		return err
	}

	var mallocMBTotal, freeMBTotal, avgMallocMB, avgFreeMB float64
	for _, offset := range store.KnownOffsetsAt(file, lineNo) {
		mb, count := store.AllocSiteAt(true, file, lineNo, offset)
		mallocMBTotal += mb
		if count > 0 {
			avgMallocMB += mb / float64(count)
		}
		mb, count = store.AllocSiteAt(false, file, lineNo, offset)
		freeMBTotal += mb
		if count > 0 {
			avgFreeMB += mb / float64(count)
		}
	}

	growthMB := avgMallocMB - avgFreeMB
	if growthMB < 0 && growthMB > -1 {
		// Avoid ever rendering "-0".
		growthMB = 0
	}

	usagePct := 0.0
	if store.TotalMallocMB != 0 {
		usagePct = 100 * mallocMBTotal / store.TotalMallocMB
	}

	growthStr := ""
	if growthMB != 0 || usagePct != 0 {
		growthStr = fmt.Sprintf("%11.0f", growthMB)
	}

	sparkStr := ""
	snap := store.PerLineReservoir(file, lineNo).Snapshot()
	if len(snap) > 0 {
		sort.Slice(snap, func(i, j int) bool { return snap[i].TickIndex < snap[j].TickIndex })
		xs := make([]float64, len(snap))
		for i, p := range snap {
			v := p.DeltaMB
			if v < 0 {
				v = 0
			}
			xs[i] = v
		}
		_, _, sparkStr = sparkline.Render(xs, 0, store.MaxFootprintMB)
	}

	_, err := fmt.Fprintf(dest, "%6d\t | %9s | %9s | %11s | %-11s | %s\n", lineNo, interpStr, nativeStr, growthStr, sparkStr, text)
	return err
}

func sumCPU(table map[string]map[int]float64, file string) float64 {
	total := 0.0
	for _, v := range table[file] {
		total += v
	}
	return total
}
