// Package filefilter decides whether a source location belongs to the
// program under observation or to the runtime/profiler itself.
package filefilter

import (
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize bounds how many distinct paths the filter remembers. The filter
// is consulted on every sample, so repeated lookups for hot lines must stay
// cheap; 128 entries is generous for a typical sampled stack depth.
const cacheSize = 128

// stdlibPrefix is the path prefix reserved for the embedded interpreter's
// "standard library" frames, which are never user code.
const stdlibPrefix = "internal/vm/stdlib"

// Filter decides whether paths belong to the profiled program. Its zero
// value is not usable; construct one with New.
type Filter struct {
	programPath string // absolute directory of the program being profiled
	selfPath    string // path to the profiler's own source or binary, never traced
	cache       *lru.Cache[string, bool]
}

// New returns a Filter scoped to programPath, the directory containing the
// program under observation, and selfPath, the profiler's own source file
// or binary, which is never traced so the profiler stays out of its own reports.
func New(programPath, selfPath string) *Filter {
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(err)
	}
	return &Filter{
		programPath: programPath,
		selfPath:    selfPath,
		cache:       cache,
	}
}

// ShouldTrace reports whether path belongs to the program being profiled.
// Results are cached; the cache is stable across repeated calls for the
// same path.
func (f *Filter) ShouldTrace(path string) bool {
	if v, ok := f.cache.Get(path); ok {
		return v
	}
	result := f.shouldTrace(path)
	f.cache.Add(path, result)
	return result
}

func (f *Filter) shouldTrace(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "<") {
		// Synthetic frames, e.g. "<string>" from a compile/eval builtin.
		return false
	}
	if strings.Contains(path, "site-packages") {
		return false
	}
	if strings.HasPrefix(path, stdlibPrefix) {
		return false
	}
	if path == f.selfPath || filepath.Clean(path) == filepath.Clean(f.selfPath) {
		return false
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)

	program := filepath.Clean(f.programPath)
	if abs == program {
		return true
	}
	rel, err := filepath.Rel(program, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
