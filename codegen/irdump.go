package codegen

import (
	"fmt"
	"strings"

	"github.com/bext-lang/b/ir"
)

// The IR target pretty-prints the compilation unit instead of lowering it.
// It exists for debugging the front end and for tests that assert on the
// exact shape of the generated IR.

func dumpArg(sb *strings.Builder, arg ir.Arg) {
	switch arg.Kind {
	case ir.ArgExternal:
		sb.WriteString(arg.Name)
	case ir.ArgDeref:
		fmt.Fprintf(sb, "deref[%d]", arg.Index)
	case ir.ArgRefAutoVar:
		fmt.Fprintf(sb, "ref auto[%d]", arg.Index)
	case ir.ArgRefExternal:
		fmt.Fprintf(sb, "ref %s", arg.Name)
	case ir.ArgLiteral:
		fmt.Fprintf(sb, "%d", arg.Value)
	case ir.ArgAutoVar:
		fmt.Fprintf(sb, "auto[%d]", arg.Index)
	case ir.ArgDataOffset:
		fmt.Fprintf(sb, "data[%d]", arg.Offset)
	}
}

func dumpFunction(sb *strings.Builder, f *ir.Func) {
	fmt.Fprintf(sb, "%s(%d, %d):\n", f.Name, f.ParamsCount, f.AutoVarsCount)
	for i, op := range f.Body {
		fmt.Fprintf(sb, "%8d:", i)
		switch op.Op.Kind {
		case ir.OpReturn:
			sb.WriteString("    return ")
			if op.Op.HasArg {
				dumpArg(sb, op.Op.Arg)
			}
			sb.WriteString("\n")
		case ir.OpStore:
			fmt.Fprintf(sb, "    store deref[%d], ", op.Op.Index)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpExternalAssign:
			fmt.Fprintf(sb, "    %s = ", op.Op.Name)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpAutoAssign:
			fmt.Fprintf(sb, "    auto[%d] = ", op.Op.Index)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpNegate:
			fmt.Fprintf(sb, "    auto[%d] = -", op.Op.Index)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpUnaryNot:
			fmt.Fprintf(sb, "    auto[%d] = !", op.Op.Index)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpBinop:
			fmt.Fprintf(sb, "    auto[%d] = ", op.Op.Index)
			dumpArg(sb, op.Op.Lhs)
			fmt.Fprintf(sb, " %s ", op.Op.Binop)
			dumpArg(sb, op.Op.Rhs)
			sb.WriteString("\n")
		case ir.OpFuncall:
			fmt.Fprintf(sb, "    auto[%d] = call(", op.Op.Index)
			dumpArg(sb, op.Op.Fun)
			for _, arg := range op.Op.Args {
				sb.WriteString(", ")
				dumpArg(sb, arg)
			}
			sb.WriteString(")\n")
		case ir.OpAsm:
			sb.WriteString("    __asm__(\n")
			for _, line := range op.Op.Lines {
				fmt.Fprintf(sb, "    %s\n", line)
			}
			sb.WriteString(")\n")
		case ir.OpJmpIfNot:
			fmt.Fprintf(sb, "    jmp_if_not %d:, ", op.Op.Addr)
			dumpArg(sb, op.Op.Arg)
			sb.WriteString("\n")
		case ir.OpJmp:
			fmt.Fprintf(sb, "    jmp %d:\n", op.Op.Addr)
		}
	}
}

func dumpGlobal(sb *strings.Builder, g *ir.Global) {
	fmt.Fprintf(sb, "    %s", g.Name)
	if g.IsVec {
		fmt.Fprintf(sb, "[%d]", g.MinimumSize)
	}
	for i, v := range g.Values {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(" ")
		switch v.Kind {
		case ir.ImmName:
			sb.WriteString(v.Name)
		case ir.ImmLiteral:
			fmt.Fprintf(sb, "%d", v.Value)
		case ir.ImmDataOffset:
			fmt.Fprintf(sb, "data[%d]", v.Offset)
		}
	}
	sb.WriteString("\n")
}

const dumpRowSize = 12

func dumpDataSection(sb *strings.Builder, data []byte) {
	if len(data) == 0 {
		return
	}
	sb.WriteString("\n-- Data Section --\n\n")

	for i := 0; i < len(data); i += dumpRowSize {
		fmt.Fprintf(sb, "%04X:", i)
		for j := i; j < i+dumpRowSize; j++ {
			if j < len(data) {
				fmt.Fprintf(sb, " %02X", data[j])
			} else {
				sb.WriteString("   ")
			}
		}

		sb.WriteString(" | ")
		for j := i; j < i+dumpRowSize && j < len(data); j++ {
			ch := data[j]
			switch {
			case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\v' || ch == '\f' || ch == '\r':
				// Whitespace prints as a plain space so tabs and newlines
				// cannot break the row layout.
				sb.WriteByte(' ')
			case ch > ' ' && ch < 0x7F:
				sb.WriteByte(ch)
			default:
				sb.WriteByte('.')
			}
		}

		sb.WriteString("\n")
	}
}

// DumpFunc renders one function the way the ir target does. The
// interactive viewer uses it for its per-function listing.
func DumpFunc(f *ir.Func) string {
	var sb strings.Builder
	dumpFunction(&sb, f)
	return sb.String()
}

// DumpData renders the data section hexdump on its own.
func DumpData(data []byte) string {
	var sb strings.Builder
	dumpDataSection(&sb, data)
	return sb.String()
}

func generateIRDump(p *ir.Program) string {
	var sb strings.Builder

	sb.WriteString("-- Functions --\n\n")
	for i := range p.Funcs {
		dumpFunction(&sb, &p.Funcs[i])
	}

	sb.WriteString("\n-- External Symbols --\n\n")
	for _, name := range p.Extrns {
		fmt.Fprintf(&sb, "    %s\n", name)
	}

	sb.WriteString("\n-- Global Variables --\n\n")
	for i := range p.Globals {
		dumpGlobal(&sb, &p.Globals[i])
	}

	dumpDataSection(&sb, p.Data)

	return sb.String()
}
