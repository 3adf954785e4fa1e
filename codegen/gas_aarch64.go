package codegen

import (
	"fmt"
	"strings"

	"github.com/bext-lang/b/ir"
)

// The GAS AArch64 backend targets the GNU assembler on Linux. Autovar
// slots sit below the frame pointer; slot addresses are always formed in
// x16 so the offset is not limited to the signed 9-bit range of ldur/stur.
// x9-x11 are the scratch registers for operands, x0-x7 carry arguments.

var gasAArch64Registers = []string{"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7"}

func gasAArch64LoadSlot(sb *strings.Builder, reg string, index int) {
	fmt.Fprintf(sb, "    sub x16, x29, #%d\n", index*8)
	fmt.Fprintf(sb, "    ldr %s, [x16]\n", reg)
}

func gasAArch64StoreSlot(sb *strings.Builder, reg string, index int) {
	fmt.Fprintf(sb, "    sub x16, x29, #%d\n", index*8)
	fmt.Fprintf(sb, "    str %s, [x16]\n", reg)
}

func gasAArch64LoadArgToReg(sb *strings.Builder, arg ir.Arg, reg string) {
	switch arg.Kind {
	case ir.ArgDeref:
		gasAArch64LoadSlot(sb, reg, arg.Index)
		fmt.Fprintf(sb, "    ldr %s, [%s]\n", reg, reg)
	case ir.ArgRefAutoVar:
		fmt.Fprintf(sb, "    sub %s, x29, #%d\n", reg, arg.Index*8)
	case ir.ArgRefExternal:
		fmt.Fprintf(sb, "    ldr %s, =%s\n", reg, arg.Name)
	case ir.ArgExternal:
		fmt.Fprintf(sb, "    ldr %s, =%s\n", reg, arg.Name)
		fmt.Fprintf(sb, "    ldr %s, [%s]\n", reg, reg)
	case ir.ArgAutoVar:
		gasAArch64LoadSlot(sb, reg, arg.Index)
	case ir.ArgLiteral:
		fmt.Fprintf(sb, "    ldr %s, =%d\n", reg, arg.Value)
	case ir.ArgDataOffset:
		fmt.Fprintf(sb, "    ldr %s, =dat+%d\n", reg, arg.Offset)
	}
}

func gasAArch64OpLabel(funcName string, addr int) string {
	return fmt.Sprintf(".L%s_op_%d", funcName, addr)
}

func gasAArch64GenerateFunction(sb *strings.Builder, f *ir.Func) {
	stackSize := alignBytes(f.AutoVarsCount*8, 16)
	fmt.Fprintf(sb, ".global %s\n", f.Name)
	fmt.Fprintf(sb, ".p2align 2\n")
	fmt.Fprintf(sb, "%s:\n", f.Name)
	fmt.Fprintf(sb, "    stp x29, x30, [sp, #-16]!\n")
	fmt.Fprintf(sb, "    mov x29, sp\n")
	if stackSize > 0 {
		fmt.Fprintf(sb, "    sub sp, sp, #%d\n", stackSize)
	}

	regParams := min(f.ParamsCount, len(gasAArch64Registers))
	for i := 0; i < regParams; i++ {
		gasAArch64StoreSlot(sb, gasAArch64Registers[i], i+1)
	}
	// Params past x7 arrive on the stack above the saved frame record.
	for j := regParams; j < f.ParamsCount; j++ {
		fmt.Fprintf(sb, "    ldr x9, [x29, #%d]\n", 16+(j-regParams)*8)
		gasAArch64StoreSlot(sb, "x9", j+1)
	}

	for i, op := range f.Body {
		fmt.Fprintf(sb, "%s:\n", gasAArch64OpLabel(f.Name, i))
		switch op.Op.Kind {
		case ir.OpReturn:
			if op.Op.HasArg {
				gasAArch64LoadArgToReg(sb, op.Op.Arg, "x0")
			}
			fmt.Fprintf(sb, "    mov sp, x29\n")
			fmt.Fprintf(sb, "    ldp x29, x30, [sp], #16\n")
			fmt.Fprintf(sb, "    ret\n")

		case ir.OpStore:
			gasAArch64LoadSlot(sb, "x9", op.Op.Index)
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x10")
			fmt.Fprintf(sb, "    str x10, [x9]\n")

		case ir.OpExternalAssign:
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x9")
			fmt.Fprintf(sb, "    ldr x10, =%s\n", op.Op.Name)
			fmt.Fprintf(sb, "    str x9, [x10]\n")

		case ir.OpAutoAssign:
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x9")
			gasAArch64StoreSlot(sb, "x9", op.Op.Index)

		case ir.OpNegate:
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x9")
			fmt.Fprintf(sb, "    neg x9, x9\n")
			gasAArch64StoreSlot(sb, "x9", op.Op.Index)

		case ir.OpUnaryNot:
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x9")
			fmt.Fprintf(sb, "    cmp x9, #0\n")
			fmt.Fprintf(sb, "    cset x9, eq\n")
			gasAArch64StoreSlot(sb, "x9", op.Op.Index)

		case ir.OpBinop:
			gasAArch64GenerateBinop(sb, op.Op)

		case ir.OpFuncall:
			regArgs := min(len(op.Op.Args), len(gasAArch64Registers))
			for i := 0; i < regArgs; i++ {
				gasAArch64LoadArgToReg(sb, op.Op.Args[i], gasAArch64Registers[i])
			}
			stackArgs := len(op.Op.Args) - regArgs
			stackArgsSize := alignBytes(stackArgs*8, 16)
			if stackArgs > 0 {
				fmt.Fprintf(sb, "    sub sp, sp, #%d\n", stackArgsSize)
				for i := 0; i < stackArgs; i++ {
					gasAArch64LoadArgToReg(sb, op.Op.Args[regArgs+i], "x9")
					fmt.Fprintf(sb, "    str x9, [sp, #%d]\n", i*8)
				}
			}
			switch op.Op.Fun.Kind {
			case ir.ArgExternal, ir.ArgRefExternal:
				fmt.Fprintf(sb, "    bl %s\n", op.Op.Fun.Name)
			default:
				gasAArch64LoadArgToReg(sb, op.Op.Fun, "x11")
				fmt.Fprintf(sb, "    blr x11\n")
			}
			if stackArgs > 0 {
				fmt.Fprintf(sb, "    add sp, sp, #%d\n", stackArgsSize)
			}
			gasAArch64StoreSlot(sb, "x0", op.Op.Index)

		case ir.OpAsm:
			for _, line := range op.Op.Lines {
				fmt.Fprintf(sb, "    %s\n", line)
			}

		case ir.OpJmpIfNot:
			gasAArch64LoadArgToReg(sb, op.Op.Arg, "x9")
			fmt.Fprintf(sb, "    cbz x9, %s\n", gasAArch64OpLabel(f.Name, op.Op.Addr))

		case ir.OpJmp:
			fmt.Fprintf(sb, "    b %s\n", gasAArch64OpLabel(f.Name, op.Op.Addr))
		}
	}

	fmt.Fprintf(sb, "%s:\n", gasAArch64OpLabel(f.Name, len(f.Body)))
	fmt.Fprintf(sb, "    mov x0, #0\n")
	fmt.Fprintf(sb, "    mov sp, x29\n")
	fmt.Fprintf(sb, "    ldp x29, x30, [sp], #16\n")
	fmt.Fprintf(sb, "    ret\n")
}

func gasAArch64GenerateBinop(sb *strings.Builder, op ir.Op) {
	gasAArch64LoadArgToReg(sb, op.Lhs, "x9")
	gasAArch64LoadArgToReg(sb, op.Rhs, "x10")
	switch op.Binop {
	case ir.BinopBitOr:
		fmt.Fprintf(sb, "    orr x9, x9, x10\n")
	case ir.BinopBitAnd:
		fmt.Fprintf(sb, "    and x9, x9, x10\n")
	case ir.BinopBitShl:
		fmt.Fprintf(sb, "    lsl x9, x9, x10\n")
	case ir.BinopBitShr:
		fmt.Fprintf(sb, "    lsr x9, x9, x10\n")
	case ir.BinopPlus:
		fmt.Fprintf(sb, "    add x9, x9, x10\n")
	case ir.BinopMinus:
		fmt.Fprintf(sb, "    sub x9, x9, x10\n")
	case ir.BinopMult:
		fmt.Fprintf(sb, "    mul x9, x9, x10\n")
	case ir.BinopDiv:
		fmt.Fprintf(sb, "    sdiv x9, x9, x10\n")
	case ir.BinopMod:
		fmt.Fprintf(sb, "    sdiv x11, x9, x10\n")
		fmt.Fprintf(sb, "    msub x9, x11, x10, x9\n")
	default: // comparisons
		cond := map[ir.Binop]string{
			ir.BinopLess:         "lt",
			ir.BinopGreater:      "gt",
			ir.BinopEqual:        "eq",
			ir.BinopNotEqual:     "ne",
			ir.BinopGreaterEqual: "ge",
			ir.BinopLessEqual:    "le",
		}[op.Binop]
		fmt.Fprintf(sb, "    cmp x9, x10\n")
		fmt.Fprintf(sb, "    cset x9, %s\n", cond)
	}
	gasAArch64StoreSlot(sb, "x9", op.Index)
}

func generateGasAArch64(p *ir.Program) (string, error) {
	var sb strings.Builder
	sb.WriteString(".section .text\n")
	for i := range p.Funcs {
		gasAArch64GenerateFunction(&sb, &p.Funcs[i])
	}
	sb.WriteString(".section .data\n")
	gasGenerateData(&sb, p.Data)
	gasGenerateGlobals(&sb, p.Globals)
	return sb.String(), nil
}
