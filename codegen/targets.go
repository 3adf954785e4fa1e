// Package codegen turns the IR of package ir into target assembly. Each
// backend is a pure function from Program to text; assembling and linking
// the result is the driver's job.
package codegen

import (
	"fmt"

	"github.com/bext-lang/b/ir"
)

// Target selects a code generation backend.
type Target int

const (
	TargetFasmX8664Windows Target = iota
	TargetFasmX8664Linux
	TargetGasX8664Linux
	TargetGasAArch64Linux
	TargetIR
)

type targetName struct {
	name   string
	target Target
}

var targetNames = []targetName{
	{"fasm-x86_64-windows", TargetFasmX8664Windows},
	{"fasm-x86_64-linux", TargetFasmX8664Linux},
	{"gas-x86_64-linux", TargetGasX8664Linux},
	{"gas-aarch64-linux", TargetGasAArch64Linux},
	{"ir", TargetIR},
}

// Name returns the name the target is selected by on the command line.
func (t Target) Name() string {
	for _, tn := range targetNames {
		if tn.target == t {
			return tn.name
		}
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// TargetByName resolves a command-line target name.
func TargetByName(name string) (Target, bool) {
	for _, tn := range targetNames {
		if tn.name == name {
			return tn.target, true
		}
	}
	return 0, false
}

// TargetNameList returns all selectable target names, in listing order.
func TargetNameList() []string {
	names := make([]string, 0, len(targetNames))
	for _, tn := range targetNames {
		names = append(names, tn.name)
	}
	return names
}

// WordSize is the pointer stride of the target, which the front end uses
// to scale vector indexing. The IR dump uses 1 so indices stay raw.
func (t Target) WordSize() uint64 {
	switch t {
	case TargetFasmX8664Windows, TargetFasmX8664Linux, TargetGasX8664Linux, TargetGasAArch64Linux:
		return 8
	case TargetIR:
		return 1
	}
	panic(fmt.Sprintf("word size of unknown target %d", int(t)))
}

// OutputExt is the extension of the generated text file.
func (t Target) OutputExt() string {
	switch t {
	case TargetFasmX8664Windows, TargetFasmX8664Linux:
		return ".asm"
	case TargetGasX8664Linux, TargetGasAArch64Linux:
		return ".s"
	case TargetIR:
		return ".ir"
	}
	panic(fmt.Sprintf("output extension of unknown target %d", int(t)))
}

// Generate emits target text for the program.
func Generate(t Target, p *ir.Program) (string, error) {
	switch t {
	case TargetFasmX8664Windows:
		return generateFasmX8664(p, osWindows)
	case TargetFasmX8664Linux:
		return generateFasmX8664(p, osLinux)
	case TargetGasX8664Linux:
		return generateGasX8664(p)
	case TargetGasAArch64Linux:
		return generateGasAArch64(p)
	case TargetIR:
		return generateIRDump(p), nil
	}
	return "", fmt.Errorf("unknown target %d", int(t))
}

// targetOS distinguishes the calling conventions of the x86_64 backends.
type targetOS int

const (
	osLinux targetOS = iota
	osWindows
)

// errorAt formats a backend diagnostic in the same shape as front-end ones.
func errorAt(loc ir.Loc, format string, args ...any) error {
	return fmt.Errorf("%s: ERROR: %s", loc, fmt.Sprintf(format, args...))
}

// alignBytes rounds bytes up to a multiple of alignment.
func alignBytes(bytes, alignment int) int {
	rem := bytes % alignment
	if rem > 0 {
		return bytes + alignment - rem
	}
	return bytes
}

// isDefinedInUnit reports whether name is a function or global of the unit.
// Extern declarations naming unit-local definitions produce no external
// references.
func isDefinedInUnit(p *ir.Program, name string) bool {
	for _, f := range p.Funcs {
		if f.Name == name {
			return true
		}
	}
	for _, g := range p.Globals {
		if g.Name == name {
			return true
		}
	}
	return false
}
