package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Assemble compiles the toy assembly-like source text into a runnable
// Program: the profiled program is read once, as text, and turned into
// something the interpreter can step through one instruction at a time.
//
// Syntax, one instruction (or directive) per source line:
//
//	; a comment
//	@profile             ; decorator, recognized and ignored
//	label:                label definition, does not emit an instruction
//	LOADK <int>
//	ADD | SUB | MUL | POP | DUP | NOP | HALT
//	JMP <label>
//	JMPZ <label>
//	CALL <native-name>
//
// Line numbers in the resulting Program are 1-based source line numbers;
// bytecode offsets are indices into Program.Code.
func Assemble(file, src string, natives []NativeFunc) (*Program, error) {
	lines := strings.Split(src, "\n")

	labels := make(map[string]int)
	type pending struct {
		op       Op
		labelArg string
		line     int
	}
	var raw []pending

	// First pass: record label offsets and the raw (unresolved) instruction
	// stream; comments, blank lines, and decorators emit nothing.
	for lineNo, text := range lines {
		line := strings.TrimSpace(text)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "@") {
			continue
		}
		if strings.HasSuffix(line, ":") {
			name := strings.TrimSuffix(line, ":")
			labels[name] = len(raw)
			continue
		}

		fields := strings.Fields(line)
		mnemonic := strings.ToUpper(fields[0])
		switch mnemonic {
		case "NOP":
			raw = append(raw, pending{op: OpNop, line: lineNo + 1})
		case "ADD":
			raw = append(raw, pending{op: OpAdd, line: lineNo + 1})
		case "SUB":
			raw = append(raw, pending{op: OpSub, line: lineNo + 1})
		case "MUL":
			raw = append(raw, pending{op: OpMul, line: lineNo + 1})
		case "POP":
			raw = append(raw, pending{op: OpPop, line: lineNo + 1})
		case "DUP":
			raw = append(raw, pending{op: OpDup, line: lineNo + 1})
		case "HALT":
			raw = append(raw, pending{op: OpHalt, line: lineNo + 1})
		case "LOADK", "JMP", "JMPZ", "CALL":
			if len(fields) < 2 {
				return nil, fmt.Errorf("vm: %s:%d: %s requires an argument", file, lineNo+1, mnemonic)
			}
			op := map[string]Op{"LOADK": OpLoadConst, "JMP": OpJmp, "JMPZ": OpJmpZero, "CALL": OpCallNative}[mnemonic]
			raw = append(raw, pending{op: op, labelArg: fields[1], line: lineNo + 1})
		default:
			return nil, fmt.Errorf("vm: %s:%d: unknown instruction %q", file, lineNo+1, fields[0])
		}
	}

	prog := &Program{File: file, Natives: natives}
	nativeIdx := make(map[string]int, len(natives))
	for i, n := range natives {
		nativeIdx[n.Name] = i
	}
	constIdx := make(map[int64]int)

	for _, p := range raw {
		instr := Instr{Op: p.op, Line: p.line}
		switch p.op {
		case OpLoadConst:
			n, err := strconv.ParseInt(p.labelArg, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("vm: %s:%d: LOADK argument %q is not an integer", file, p.line, p.labelArg)
			}
			idx, ok := constIdx[n]
			if !ok {
				idx = len(prog.Consts)
				prog.Consts = append(prog.Consts, n)
				constIdx[n] = idx
			}
			instr.Arg = idx
		case OpJmp, OpJmpZero:
			target, ok := labels[p.labelArg]
			if !ok {
				return nil, fmt.Errorf("vm: %s:%d: undefined label %q", file, p.line, p.labelArg)
			}
			instr.Arg = target
		case OpCallNative:
			idx, ok := nativeIdx[p.labelArg]
			if !ok {
				return nil, fmt.Errorf("vm: %s:%d: undefined native function %q", file, p.line, p.labelArg)
			}
			instr.Arg = idx
		}
		prog.Code = append(prog.Code, instr)
	}

	return prog, nil
}
