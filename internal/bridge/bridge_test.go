package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeBridgeFile(t *testing.T, dir, prefix string, pid int, kind Kind, lines []string) {
	t.Helper()
	name := fmt.Sprintf("%s-malloc-signal-%d", prefix, pid)
	if kind == Free {
		name = fmt.Sprintf("%s-free-signal-%d", prefix, pid)
	}
	path := filepath.Join(dir, name)
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDrainParsesAndConverts(t *testing.T) {
	dir := t.TempDir()
	writeBridgeFile(t, dir, "lineprof", 1234, Malloc, []string{
		"1048576",  // 1 MB
		"10485760", // 10 MB
	})

	b := New(dir, "lineprof", 1234, nil)
	got, err := b.Drain(Malloc)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 10}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDrainUnlinksFile(t *testing.T) {
	dir := t.TempDir()
	writeBridgeFile(t, dir, "lineprof", 1234, Malloc, []string{"1024"})

	b := New(dir, "lineprof", 1234, nil)
	if _, err := b.Drain(Malloc); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "lineprof-malloc-signal-1234")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected %s to be removed after drain, stat err = %v", path, err)
	}
}

func TestDrainMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, "lineprof", 9999, nil)
	got, err := b.Drain(Malloc)
	if err != nil {
		t.Fatalf("Drain() on missing file returned error: %v", err)
	}
	if got != nil {
		t.Fatalf("Drain() on missing file = %v, want nil", got)
	}
}

func TestDrainEmptyFileLeavesNoSamples(t *testing.T) {
	dir := t.TempDir()
	writeBridgeFile(t, dir, "lineprof", 42, Free, nil)

	b := New(dir, "lineprof", 42, nil)
	got, err := b.Drain(Free)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("Drain() of empty file = %v, want no samples", got)
	}
}

func TestDrainSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeBridgeFile(t, dir, "lineprof", 7, Malloc, []string{
		"1048576",
		"not-a-number",
		"2097152",
	})

	b := New(dir, "lineprof", 7, nil)
	got, err := b.Drain(Malloc)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}
