package codegen

import (
	"fmt"
	"strings"

	"github.com/bext-lang/b/ir"
)

// The FASM backend symbols every B name as _name exported under its plain
// name, so B code can link against libc while the assembly stays free of
// name clashes with FASM keywords.

func fasmLoadArgToReg(sb *strings.Builder, arg ir.Arg, reg string) {
	switch arg.Kind {
	case ir.ArgDeref:
		fmt.Fprintf(sb, "    mov %s, [rbp-%d]\n", reg, arg.Index*8)
		fmt.Fprintf(sb, "    mov %s, [%s]\n", reg, reg)
	case ir.ArgRefAutoVar:
		fmt.Fprintf(sb, "    lea %s, [rbp-%d]\n", reg, arg.Index*8)
	case ir.ArgRefExternal:
		fmt.Fprintf(sb, "    lea %s, [_%s]\n", reg, arg.Name)
	case ir.ArgExternal:
		fmt.Fprintf(sb, "    mov %s, [_%s]\n", reg, arg.Name)
	case ir.ArgAutoVar:
		fmt.Fprintf(sb, "    mov %s, [rbp-%d]\n", reg, arg.Index*8)
	case ir.ArgLiteral:
		fmt.Fprintf(sb, "    mov %s, %d\n", reg, arg.Value)
	case ir.ArgDataOffset:
		fmt.Fprintf(sb, "    mov %s, dat+%d\n", reg, arg.Offset)
	}
}

// fasmCallArg emits the call itself: direct for external names, indirect
// through rax for everything else.
func fasmCallArg(sb *strings.Builder, fun ir.Arg) {
	switch fun.Kind {
	case ir.ArgExternal, ir.ArgRefExternal:
		fmt.Fprintf(sb, "    call _%s\n", fun.Name)
	default:
		fasmLoadArgToReg(sb, fun, "rax")
		fmt.Fprintf(sb, "    call rax\n")
	}
}

func fasmGenerateFunction(sb *strings.Builder, f *ir.Func, os targetOS) error {
	stackSize := alignBytes(f.AutoVarsCount*8, 16)
	fmt.Fprintf(sb, "public _%s as '%s'\n", f.Name, f.Name)
	fmt.Fprintf(sb, "_%s:\n", f.Name)
	fmt.Fprintf(sb, "    push rbp\n")
	fmt.Fprintf(sb, "    mov rbp, rsp\n")
	if stackSize > 0 {
		fmt.Fprintf(sb, "    sub rsp, %d\n", stackSize)
	}

	var registers []string
	switch os {
	case osLinux:
		registers = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
	case osWindows:
		// https://en.wikipedia.org/wiki/X86_calling_conventions#Microsoft_x64_calling_convention
		registers = []string{"rcx", "rdx", "r8", "r9"}
	}

	if f.ParamsCount > len(registers) {
		return errorAt(f.NameLoc, "too many parameters in function definition, only %d are supported", len(registers))
	}
	for i := 0; i < f.ParamsCount; i++ {
		fmt.Fprintf(sb, "    mov QWORD [rbp-%d], %s\n", (i+1)*8, registers[i])
	}

	for i, op := range f.Body {
		fmt.Fprintf(sb, ".op_%d:\n", i)
		switch op.Op.Kind {
		case ir.OpReturn:
			if op.Op.HasArg {
				fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			}
			fmt.Fprintf(sb, "    mov rsp, rbp\n")
			fmt.Fprintf(sb, "    pop rbp\n")
			fmt.Fprintf(sb, "    ret\n")

		case ir.OpStore:
			fmt.Fprintf(sb, "    mov rax, [rbp-%d]\n", op.Op.Index*8)
			fasmLoadArgToReg(sb, op.Op.Arg, "rbx")
			fmt.Fprintf(sb, "    mov [rax], rbx\n")

		case ir.OpExternalAssign:
			fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			fmt.Fprintf(sb, "    mov [_%s], rax\n", op.Op.Name)

		case ir.OpAutoAssign:
			fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			fmt.Fprintf(sb, "    mov QWORD [rbp-%d], rax\n", op.Op.Index*8)

		case ir.OpNegate:
			fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			fmt.Fprintf(sb, "    neg rax\n")
			fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", op.Op.Index*8)

		case ir.OpUnaryNot:
			fmt.Fprintf(sb, "    xor rbx, rbx\n")
			fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			fmt.Fprintf(sb, "    test rax, rax\n")
			fmt.Fprintf(sb, "    setz bl\n")
			fmt.Fprintf(sb, "    mov [rbp-%d], rbx\n", op.Op.Index*8)

		case ir.OpBinop:
			fasmGenerateBinop(sb, op.Op)

		case ir.OpFuncall:
			if len(op.Op.Args) > len(registers) {
				return errorAt(op.Loc, "too many arguments in function call, only %d are supported", len(registers))
			}
			for i, arg := range op.Op.Args {
				fasmLoadArgToReg(sb, arg, registers[i])
			}
			switch os {
			case osLinux:
				// The SysV ABI passes the number of vector registers used
				// by a variadic call in al. B does not distinguish regular
				// and variadic functions, so al is zeroed for every call.
				fmt.Fprintf(sb, "    mov al, 0\n")
				fasmCallArg(sb, op.Op.Fun)
			case osWindows:
				// Shadow space must sit at the top of the stack at the
				// call, so it cannot be folded into the prologue.
				fmt.Fprintf(sb, "    sub rsp, 32\n")
				fasmCallArg(sb, op.Op.Fun)
				fmt.Fprintf(sb, "    add rsp, 32\n")
			}
			fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", op.Op.Index*8)

		case ir.OpAsm:
			for _, line := range op.Op.Lines {
				fmt.Fprintf(sb, "    %s\n", line)
			}

		case ir.OpJmpIfNot:
			fasmLoadArgToReg(sb, op.Op.Arg, "rax")
			fmt.Fprintf(sb, "    test rax, rax\n")
			fmt.Fprintf(sb, "    jz .op_%d\n", op.Op.Addr)

		case ir.OpJmp:
			fmt.Fprintf(sb, "    jmp .op_%d\n", op.Op.Addr)
		}
	}

	// Falling off the end of a B function returns 0.
	fmt.Fprintf(sb, ".op_%d:\n", len(f.Body))
	fmt.Fprintf(sb, "    mov rax, 0\n")
	fmt.Fprintf(sb, "    mov rsp, rbp\n")
	fmt.Fprintf(sb, "    pop rbp\n")
	fmt.Fprintf(sb, "    ret\n")
	return nil
}

func fasmGenerateBinop(sb *strings.Builder, op ir.Op) {
	index := op.Index * 8
	switch op.Binop {
	case ir.BinopBitOr, ir.BinopBitAnd, ir.BinopPlus, ir.BinopMinus:
		instr := map[ir.Binop]string{
			ir.BinopBitOr:  "or",
			ir.BinopBitAnd: "and",
			ir.BinopPlus:   "add",
			ir.BinopMinus:  "sub",
		}[op.Binop]
		fasmLoadArgToReg(sb, op.Lhs, "rax")
		fasmLoadArgToReg(sb, op.Rhs, "rbx")
		fmt.Fprintf(sb, "    %s rax, rbx\n", instr)
		fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", index)

	case ir.BinopBitShl, ir.BinopBitShr:
		instr := "shl"
		if op.Binop == ir.BinopBitShr {
			instr = "shr"
		}
		fasmLoadArgToReg(sb, op.Lhs, "rax")
		fasmLoadArgToReg(sb, op.Rhs, "rcx")
		fmt.Fprintf(sb, "    %s rax, cl\n", instr)
		fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", index)

	case ir.BinopMod, ir.BinopDiv:
		fasmLoadArgToReg(sb, op.Lhs, "rax")
		fasmLoadArgToReg(sb, op.Rhs, "rbx")
		fmt.Fprintf(sb, "    cqo\n")
		fmt.Fprintf(sb, "    idiv rbx\n")
		if op.Binop == ir.BinopMod {
			fmt.Fprintf(sb, "    mov [rbp-%d], rdx\n", index)
		} else {
			fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", index)
		}

	case ir.BinopMult:
		fasmLoadArgToReg(sb, op.Lhs, "rax")
		fasmLoadArgToReg(sb, op.Rhs, "rbx")
		fmt.Fprintf(sb, "    xor rdx, rdx\n")
		fmt.Fprintf(sb, "    imul rbx\n")
		fmt.Fprintf(sb, "    mov [rbp-%d], rax\n", index)

	default: // comparisons
		setcc := map[ir.Binop]string{
			ir.BinopLess:         "setl",
			ir.BinopGreater:      "setg",
			ir.BinopEqual:        "sete",
			ir.BinopNotEqual:     "setne",
			ir.BinopGreaterEqual: "setge",
			ir.BinopLessEqual:    "setle",
		}[op.Binop]
		fasmLoadArgToReg(sb, op.Lhs, "rax")
		fasmLoadArgToReg(sb, op.Rhs, "rbx")
		fmt.Fprintf(sb, "    xor rdx, rdx\n")
		fmt.Fprintf(sb, "    cmp rax, rbx\n")
		fmt.Fprintf(sb, "    %s dl\n", setcc)
		fmt.Fprintf(sb, "    mov [rbp-%d], rdx\n", index)
	}
}

func fasmImmediateValue(v ir.ImmediateValue) string {
	switch v.Kind {
	case ir.ImmLiteral:
		return fmt.Sprintf("0x%X", v.Value)
	case ir.ImmName:
		return "_" + v.Name
	case ir.ImmDataOffset:
		return fmt.Sprintf("dat+%d", v.Offset)
	}
	panic("unknown immediate value kind")
}

func generateFasmX8664(p *ir.Program, os targetOS) (string, error) {
	var sb strings.Builder

	switch os {
	case osLinux:
		sb.WriteString("format ELF64\n")
	case osWindows:
		sb.WriteString("format MS64 COFF\n")
	}

	sb.WriteString("section \".text\" executable\n")
	for i := range p.Funcs {
		if err := fasmGenerateFunction(&sb, &p.Funcs[i], os); err != nil {
			return "", err
		}
	}

	for _, name := range p.Extrns {
		if !isDefinedInUnit(p, name) {
			fmt.Fprintf(&sb, "extrn '%s' as _%s\n", name, name)
		}
	}

	if len(p.Data) > 0 || len(p.Globals) > 0 {
		sb.WriteString("section \".data\"\n")
	}

	if len(p.Data) > 0 {
		sb.WriteString("dat: db ")
		for i, b := range p.Data {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "0x%02X", b)
		}
		sb.WriteString("\n")
	}

	for _, g := range p.Globals {
		fmt.Fprintf(&sb, "public _%s as '%s'\n", g.Name, g.Name)
		fmt.Fprintf(&sb, "_%s:\n", g.Name)
		if g.IsVec {
			// A B vector name holds the address of its first element,
			// which sits in the word right after the name itself.
			fmt.Fprintf(&sb, "    dq _%s+8\n", g.Name)
		}
		if len(g.Values) > 0 {
			sb.WriteString("    dq ")
			for i, v := range g.Values {
				if i > 0 {
					sb.WriteString(",")
				}
				sb.WriteString(fasmImmediateValue(v))
			}
			sb.WriteString("\n")
		}
		if reserved := g.MinimumSize - len(g.Values); reserved > 0 {
			fmt.Fprintf(&sb, "    rq %d\n", reserved)
		}
	}

	return sb.String(), nil
}
