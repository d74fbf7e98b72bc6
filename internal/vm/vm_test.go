package vm

import (
	"testing"
	"time"
)

const loopProgram = `
; counts down from 3 to 0 in a tight loop, no native calls
LOADK 3
top:
DUP
JMPZ done
LOADK 1
SUB
JMP top
done:
POP
HALT
`

func TestAssembleAndRunLoop(t *testing.T) {
	prog, err := Assemble("loop.vm", loopProgram, nil)
	if err != nil {
		t.Fatal(err)
	}
	in := NewInterpreter()
	th := in.Start(prog)
	if !th.Join(2 * time.Second) {
		t.Fatal("program did not finish within timeout")
	}
}

func TestAssembleNativeCall(t *testing.T) {
	called := false
	natives := []NativeFunc{
		{Name: "touch", Fn: func(th *Thread) { called = true; th.Push(1) }},
	}
	src := `
CALL touch
HALT
`
	prog, err := Assemble("native.vm", src, natives)
	if err != nil {
		t.Fatal(err)
	}
	in := NewInterpreter()
	th := in.Start(prog)
	if !th.Join(time.Second) {
		t.Fatal("program did not finish")
	}
	if !called {
		t.Error("expected native function to be called")
	}
}

func TestIsNativeCall(t *testing.T) {
	natives := []NativeFunc{{Name: "sleep", Fn: func(th *Thread) {}}}
	src := `
CALL sleep
HALT
`
	prog, err := Assemble("calls.vm", src, natives)
	if err != nil {
		t.Fatal(err)
	}
	in := NewInterpreter()
	in.register(prog)

	if !in.IsNativeCall(Frame{File: "calls.vm", Offset: 0}) {
		t.Error("offset 0 should be a native call")
	}
	if in.IsNativeCall(Frame{File: "calls.vm", Offset: 1}) {
		t.Error("offset 1 (HALT) should not be a native call")
	}
}

func TestAssembleRejectsUnknownInstruction(t *testing.T) {
	_, err := Assemble("bad.vm", "BOGUS\n", nil)
	if err == nil {
		t.Fatal("expected an error for an unknown instruction")
	}
}

func TestAssembleIgnoresProfileDecorator(t *testing.T) {
	src := `
@profile
top:
LOADK 1
HALT
`
	prog, err := Assemble("decorated.vm", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Code) != 2 {
		t.Fatalf("expected 2 instructions, got %d", len(prog.Code))
	}
}

func TestThreadJoinTimesOut(t *testing.T) {
	natives := []NativeFunc{
		{Name: "block", Fn: func(th *Thread) { time.Sleep(200 * time.Millisecond) }},
	}
	src := `
CALL block
HALT
`
	prog, err := Assemble("blocker.vm", src, natives)
	if err != nil {
		t.Fatal(err)
	}
	in := NewInterpreter()
	th := in.Start(prog)
	if th.Join(10 * time.Millisecond) {
		t.Fatal("expected Join to time out before the blocking native returns")
	}
	if !th.Join(time.Second) {
		t.Fatal("expected Join to eventually succeed")
	}
}

func TestSpawnTracksOtherThreads(t *testing.T) {
	src := "LOADK 1\nHALT\n"
	mainProg, err := Assemble("main.vm", src, nil)
	if err != nil {
		t.Fatal(err)
	}
	workerSrc := `
top:
LOADK 1
POP
JMP top
`
	workerProg, err := Assemble("worker.vm", workerSrc, nil)
	if err != nil {
		t.Fatal(err)
	}

	in := NewInterpreter()
	in.Start(mainProg)
	worker := in.Spawn(workerProg)

	time.Sleep(5 * time.Millisecond)
	others := in.OtherThreads()
	if len(others) != 1 || others[0] != worker {
		t.Fatalf("expected the spawned worker to be the only other thread, got %v", others)
	}
}
