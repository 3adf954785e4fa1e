package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bext-lang/b/ir"
)

func compileUnit(t *testing.T, src string) *ir.Program {
	t.Helper()
	c := NewCompiler(8)
	require.NoError(t, c.CompileFile("test.b", src))
	return c.Program()
}

func compileFail(t *testing.T, src string) error {
	t.Helper()
	c := NewCompiler(8)
	err := c.CompileFile("test.b", src)
	require.Error(t, err)
	return err
}

// bodyOps strips locations so op sequences can be compared structurally.
func bodyOps(f ir.Func) []ir.Op {
	ops := make([]ir.Op, len(f.Body))
	for i, op := range f.Body {
		ops[i] = op.Op
	}
	return ops
}

func TestCompile_ArithmeticPrecedence(t *testing.T) {
	p := compileUnit(t, "main() { return(1+2*3); }")
	require.Len(t, p.Funcs, 1)

	f := p.Funcs[0]
	assert.Equal(t, "main", f.Name)
	assert.Equal(t, 0, f.ParamsCount)
	assert.Equal(t, 2, f.AutoVarsCount)

	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopMult, Index: 1, Lhs: ir.Literal(2), Rhs: ir.Literal(3)},
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 2, Lhs: ir.Literal(1), Rhs: ir.AutoVar(1)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(2), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_PrecedenceRoundTrip(t *testing.T) {
	implicit := compileUnit(t, "f(a, b, c) { return(a + b * c); }")
	explicit := compileUnit(t, "f(a, b, c) { return(a + (b * c)); }")
	regrouped := compileUnit(t, "f(a, b, c) { return((a + b) * c); }")

	assert.Equal(t, bodyOps(implicit.Funcs[0]), bodyOps(explicit.Funcs[0]),
		"redundant parens must not change the IR")
	assert.NotEqual(t, bodyOps(implicit.Funcs[0]), bodyOps(regrouped.Funcs[0]),
		"regrouping parens must change the IR")
}

func TestCompile_AutoAssignReturn(t *testing.T) {
	p := compileUnit(t, "main() { auto x; x = 5; return(x); }")
	f := p.Funcs[0]
	assert.Equal(t, 0, f.ParamsCount)
	assert.Equal(t, 1, f.AutoVarsCount)

	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(5)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(1), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_Ternary(t *testing.T) {
	p := compileUnit(t, "main() { auto x; x = 1?2:3; return(x); }")
	f := p.Funcs[0]

	expected := []ir.Op{
		{Kind: ir.OpJmpIfNot, Addr: 3, Arg: ir.Literal(1)},
		{Kind: ir.OpAutoAssign, Index: 2, Arg: ir.Literal(2)},
		{Kind: ir.OpJmp, Addr: 4},
		{Kind: ir.OpAutoAssign, Index: 2, Arg: ir.Literal(3)},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.AutoVar(2)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(1), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_GotoLabel(t *testing.T) {
	p := compileUnit(t, "f() { goto L; L: return; }")
	f := p.Funcs[0]

	expected := []ir.Op{
		{Kind: ir.OpJmp, Addr: 1},
		{Kind: ir.OpReturn},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_GotoBackwards(t *testing.T) {
	p := compileUnit(t, "f() { L: goto L; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpJmp, Addr: 0},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_GotoUndefinedLabel(t *testing.T) {
	err := compileFail(t, "f() { goto nowhere; }")
	assert.Contains(t, err.Error(), "label `nowhere` used but not defined")
}

func TestCompile_DuplicateLabel(t *testing.T) {
	err := compileFail(t, "f() { L: L: return; }")
	assert.Contains(t, err.Error(), "duplicate label `L`")
}

func TestCompile_SwitchChain(t *testing.T) {
	p := compileUnit(t, "f(x) { switch x { case 1: return(10); case 2: return(20); } }")
	f := p.Funcs[0]

	expected := []ir.Op{
		// table head, patched to the first comparison
		{Kind: ir.OpJmp, Addr: 2},
		// case 1: fallthrough skip, comparison, patched dispatch
		{Kind: ir.OpJmp, Addr: 4},
		{Kind: ir.OpBinop, Binop: ir.BinopEqual, Index: 2, Lhs: ir.AutoVar(1), Rhs: ir.Literal(1)},
		{Kind: ir.OpJmpIfNot, Addr: 6, Arg: ir.AutoVar(2)},
		{Kind: ir.OpReturn, Arg: ir.Literal(10), HasArg: true},
		// case 2
		{Kind: ir.OpJmp, Addr: 8},
		{Kind: ir.OpBinop, Binop: ir.BinopEqual, Index: 2, Lhs: ir.AutoVar(1), Rhs: ir.Literal(2)},
		{Kind: ir.OpJmpIfNot, Addr: 9, Arg: ir.AutoVar(2)},
		{Kind: ir.OpReturn, Arg: ir.Literal(20), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_NestedSwitch(t *testing.T) {
	p := compileUnit(t, `
f(x, y) {
    switch x {
    case 1:
        switch y {
        case 2: return(12);
        }
        return(1);
    }
    return(0);
}`)
	f := p.Funcs[0]
	assertJumpsResolved(t, f)
}

func TestCompile_CaseOutsideSwitch(t *testing.T) {
	err := compileFail(t, "f() { case 1: return; }")
	assert.Contains(t, err.Error(), "case label outside of switch")
}

func TestCompile_DerefAddressCollapses(t *testing.T) {
	p := compileUnit(t, "main() { auto x; *&x = 7; return(x); }")
	f := p.Funcs[0]

	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(7)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(1), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_AddressDerefIdentity(t *testing.T) {
	viaPair := compileUnit(t, "f() { auto x; return(&*x); }")
	direct := compileUnit(t, "f() { auto x; return(x); }")
	assert.Equal(t, bodyOps(direct.Funcs[0]), bodyOps(viaPair.Funcs[0]),
		"&*x must compile to the same IR as x")
}

func TestCompile_AddressOfRvalue(t *testing.T) {
	err := compileFail(t, "f() { return(&5); }")
	assert.Contains(t, err.Error(), "cannot take the address of an rvalue")
}

func TestCompile_AssignToRvalue(t *testing.T) {
	err := compileFail(t, "f() { 1 = 2; }")
	assert.Contains(t, err.Error(), "cannot assign to rvalue")
}

func TestCompile_IncrementRvalue(t *testing.T) {
	err := compileFail(t, "f() { ++5; }")
	assert.Contains(t, err.Error(), "cannot increment an rvalue")

	err = compileFail(t, "f() { auto x; (x + 1)--; }")
	assert.Contains(t, err.Error(), "cannot decrement an rvalue")
}

func TestCompile_PostfixIncrement(t *testing.T) {
	p := compileUnit(t, "f() { auto x; x++; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 2, Arg: ir.AutoVar(1)},
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 1, Lhs: ir.AutoVar(1), Rhs: ir.Literal(1)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_PrefixDecrement(t *testing.T) {
	p := compileUnit(t, "f() { auto x; --x; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopMinus, Index: 1, Lhs: ir.AutoVar(1), Rhs: ir.Literal(1)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_CompoundAssign(t *testing.T) {
	p := compileUnit(t, "f() { auto x; x += 3; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 1, Lhs: ir.AutoVar(1), Rhs: ir.Literal(3)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_CompoundAssignThroughPointer(t *testing.T) {
	p := compileUnit(t, "f(p) { *p <<= 1; }")
	f := p.Funcs[0]
	// p is slot 1 and already holds the pointer, so the deref reads
	// through it directly; the shifted value goes back via a store.
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopBitShl, Index: 2, Lhs: ir.Deref(1), Rhs: ir.Literal(1)},
		{Kind: ir.OpStore, Index: 1, Arg: ir.AutoVar(2)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_ExternalAssign(t *testing.T) {
	p := compileUnit(t, "counter 0; bump() { counter = counter + 1; }")
	require.Len(t, p.Funcs, 1)
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 1, Lhs: ir.External("counter"), Rhs: ir.Literal(1)},
		{Kind: ir.OpExternalAssign, Name: "counter", Arg: ir.AutoVar(1)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_Indexing(t *testing.T) {
	p := compileUnit(t, "f(a, i) { return(a[i]); }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopMult, Index: 3, Lhs: ir.AutoVar(2), Rhs: ir.Literal(8)},
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 3, Lhs: ir.AutoVar(1), Rhs: ir.AutoVar(3)},
		{Kind: ir.OpReturn, Arg: ir.Deref(3), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_IndexingWordSize(t *testing.T) {
	c := NewCompiler(1)
	require.NoError(t, c.CompileFile("test.b", "f(a, i) { return(a[i]); }"))
	f := c.Program().Funcs[0]
	assert.Equal(t, ir.Literal(1), f.Body[0].Op.Rhs, "index scaling follows the target word size")
}

func TestCompile_IndexedAssignment(t *testing.T) {
	p := compileUnit(t, "f(a) { a[2] = 9; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpBinop, Binop: ir.BinopMult, Index: 2, Lhs: ir.Literal(2), Rhs: ir.Literal(8)},
		{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: 2, Lhs: ir.AutoVar(1), Rhs: ir.AutoVar(2)},
		{Kind: ir.OpStore, Index: 2, Arg: ir.Literal(9)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_FunctionCall(t *testing.T) {
	p := compileUnit(t, `main() { extrn printf; printf("hi*n", 42); }`)
	f := p.Funcs[0]

	require.Len(t, f.Body, 1)
	op := f.Body[0].Op
	assert.Equal(t, ir.OpFuncall, op.Kind)
	assert.Equal(t, ir.External("printf"), op.Fun)
	assert.Equal(t, []ir.Arg{ir.DataOffset(0), ir.Literal(42)}, op.Args)

	assert.Equal(t, []string{"printf"}, p.Extrns)
	assert.Equal(t, []byte("hi\n\x00"), p.Data)
}

func TestCompile_ExternDedup(t *testing.T) {
	p := compileUnit(t, `
f() { extrn printf, putchar; printf(""); }
g() { extrn printf; printf(""); }
`)
	assert.Equal(t, []string{"printf", "putchar"}, p.Extrns)
}

func TestCompile_CallThroughVariable(t *testing.T) {
	p := compileUnit(t, "f(handler) { return(handler(1)); }")
	op := p.Funcs[0].Body[0].Op
	assert.Equal(t, ir.OpFuncall, op.Kind)
	assert.Equal(t, ir.AutoVar(1), op.Fun)
}

func TestCompile_IfElse(t *testing.T) {
	p := compileUnit(t, "f() { auto x; if (x) x = 1; else x = 2; return(x); }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpJmpIfNot, Addr: 3, Arg: ir.AutoVar(1)},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(1)},
		{Kind: ir.OpJmp, Addr: 4},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(2)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(1), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_While(t *testing.T) {
	p := compileUnit(t, "f() { auto x; while (x) x = x - 1; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpJmpIfNot, Addr: 4, Arg: ir.AutoVar(1)},
		{Kind: ir.OpBinop, Binop: ir.BinopMinus, Index: 2, Lhs: ir.AutoVar(1), Rhs: ir.Literal(1)},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.AutoVar(2)},
		{Kind: ir.OpJmp, Addr: 0},
	}
	assert.Equal(t, expected, bodyOps(f))
}

// assertJumpsResolved checks the universal jump property: every emitted
// jump lands inside [0, len(body)].
func assertJumpsResolved(t *testing.T, f ir.Func) {
	t.Helper()
	for i, op := range f.Body {
		if op.Op.Kind == ir.OpJmp || op.Op.Kind == ir.OpJmpIfNot {
			assert.GreaterOrEqual(t, op.Op.Addr, 0, "op %d of %s", i, f.Name)
			assert.LessOrEqual(t, op.Op.Addr, len(f.Body), "op %d of %s", i, f.Name)
		}
	}
}

func TestCompile_JumpResolution(t *testing.T) {
	p := compileUnit(t, `
collatz(n) {
    auto steps;
    steps = 0;
    while (n != 1) {
        if (n % 2) n = 3 * n + 1;
        else n = n / 2;
        steps++;
    }
    return(steps);
}
pick(x) {
    switch x {
    case 0: return(100);
    case 1: goto out;
    }
    out: return(x > 0 ? x : -x);
}
`)
	require.Len(t, p.Funcs, 2)
	for _, f := range p.Funcs {
		assertJumpsResolved(t, f)
	}
}

func TestCompile_ScratchReuseAcrossStatements(t *testing.T) {
	p := compileUnit(t, `
f() {
    auto x;
    x = 1 + 2;
    x = 3 + 4;
    return(x);
}`)
	f := p.Funcs[0]
	// Both statements reuse the same scratch slot; the frame holds x plus
	// one temporary.
	assert.Equal(t, 2, f.AutoVarsCount)
}

func TestCompile_BlockScopeReclaimsSlots(t *testing.T) {
	p := compileUnit(t, `
f() {
    { auto a; a = 1; }
    { auto b; b = 2; }
}`)
	assert.Equal(t, 1, p.Funcs[0].AutoVarsCount)
}

func TestCompile_VariableShadowing(t *testing.T) {
	p := compileUnit(t, `
f() {
    auto x;
    x = 1;
    {
        auto x;
        x = 2;
    }
    x = 3;
}`)
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(1)},
		{Kind: ir.OpAutoAssign, Index: 2, Arg: ir.Literal(2)},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.Literal(3)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_RedefinitionInSameScope(t *testing.T) {
	err := compileFail(t, "f() { auto x, x; }")
	assert.Contains(t, err.Error(), "redefinition of variable `x`")
	assert.Contains(t, err.Error(), "NOTE: the first declaration is located here")
}

func TestCompile_UndeclaredName(t *testing.T) {
	err := compileFail(t, "f() { return(ghost); }")
	assert.Contains(t, err.Error(), "could not find name `ghost`")
}

func TestCompile_AutoVector(t *testing.T) {
	p := compileUnit(t, "f() { auto v 3; return(v); }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.RefAutoVar(4)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(1), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
	assert.Equal(t, 4, f.AutoVarsCount)
}

func TestCompile_AutoVectorSizeZero(t *testing.T) {
	err := compileFail(t, "f() { auto v 0; }")
	assert.Contains(t, err.Error(), "automatic vector of size 0")
}

func TestCompile_Asm(t *testing.T) {
	p := compileUnit(t, `f() { asm("nop", "ret"); }`)
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpAsm, Lines: []string{"nop", "ret"}},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_AsmRejectsNonStrings(t *testing.T) {
	err := compileFail(t, "f() { asm(42); }")
	assert.Contains(t, err.Error(), "`asm` only takes string arguments")
}

func TestCompile_GlobalScalar(t *testing.T) {
	p := compileUnit(t, "x;")
	require.Len(t, p.Globals, 1)
	g := p.Globals[0]
	assert.Equal(t, "x", g.Name)
	assert.False(t, g.IsVec)
	assert.Equal(t, []ir.ImmediateValue{{Kind: ir.ImmLiteral, Value: 0}}, g.Values,
		"uninitialized scalar defaults to a single zero")
}

func TestCompile_GlobalInitializers(t *testing.T) {
	p := compileUnit(t, `
msg "hello";
limit 100;
alias limit;
table[4] 1, 2, 3;
empty[];
`)
	require.Len(t, p.Globals, 5)

	msg := p.Globals[0]
	assert.Equal(t, []ir.ImmediateValue{{Kind: ir.ImmDataOffset, Offset: 0}}, msg.Values)
	assert.Equal(t, []byte("hello\x00"), p.Data)

	limit := p.Globals[1]
	assert.Equal(t, []ir.ImmediateValue{{Kind: ir.ImmLiteral, Value: 100}}, limit.Values)

	alias := p.Globals[2]
	assert.Equal(t, []ir.ImmediateValue{{Kind: ir.ImmName, Name: "limit"}}, alias.Values)

	table := p.Globals[3]
	assert.True(t, table.IsVec)
	assert.Equal(t, 4, table.MinimumSize)
	assert.Len(t, table.Values, 3)

	empty := p.Globals[4]
	assert.True(t, empty.IsVec)
	assert.Equal(t, 0, empty.MinimumSize)
	assert.Empty(t, empty.Values)
}

func TestCompile_GlobalInitializerUnknownName(t *testing.T) {
	err := compileFail(t, "alias missing;")
	assert.Contains(t, err.Error(), "could not find name `missing`")
}

func TestCompile_GlobalRedefinition(t *testing.T) {
	err := compileFail(t, "x 1; x 2;")
	assert.Contains(t, err.Error(), "redefinition of variable `x`")
}

func TestCompile_MultipleFilesShareGlobals(t *testing.T) {
	c := NewCompiler(8)
	require.NoError(t, c.CompileFile("one.b", "answer 42;"))
	require.NoError(t, c.CompileFile("two.b", "main() { return(answer); }"))
	p := c.Program()

	require.Len(t, p.Funcs, 1)
	assert.Equal(t, ir.Op{Kind: ir.OpReturn, Arg: ir.External("answer"), HasArg: true}, p.Funcs[0].Body[0].Op)
}

func TestCompile_ExpectedTokenDiagnostics(t *testing.T) {
	err := compileFail(t, "f() { return(1) }")
	assert.Contains(t, err.Error(), "expected `;`, but got `}`")

	err = compileFail(t, "1;")
	assert.Contains(t, err.Error(), "expected identifier, but got integer literal")
}

func TestCompile_ExpectedTokenListDiagnostic(t *testing.T) {
	err := compileFail(t, "f() { return 1; }")
	assert.Contains(t, err.Error(), "expected `;`, or `(`, but got integer literal")
}

func TestCompile_UnaryOperators(t *testing.T) {
	p := compileUnit(t, "f(x) { return(!-x); }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpNegate, Index: 2, Arg: ir.AutoVar(1)},
		{Kind: ir.OpUnaryNot, Index: 3, Arg: ir.AutoVar(2)},
		{Kind: ir.OpReturn, Arg: ir.AutoVar(3), HasArg: true},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_AssignmentRightAssociative(t *testing.T) {
	p := compileUnit(t, "f() { auto a, b; a = b = 7; }")
	f := p.Funcs[0]
	expected := []ir.Op{
		{Kind: ir.OpAutoAssign, Index: 2, Arg: ir.Literal(7)},
		{Kind: ir.OpAutoAssign, Index: 1, Arg: ir.AutoVar(2)},
	}
	assert.Equal(t, expected, bodyOps(f))
}

func TestCompile_ParamsCount(t *testing.T) {
	p := compileUnit(t, "f(a, b, c) { return(c); }")
	f := p.Funcs[0]
	assert.Equal(t, 3, f.ParamsCount)
	assert.Equal(t, 3, f.AutoVarsCount)
	assert.Equal(t, ir.AutoVar(3), f.Body[0].Op.Arg)
}
