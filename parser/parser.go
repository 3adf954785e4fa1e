package parser

import (
	"strings"

	"github.com/bext-lang/b/ir"
)

// switchFrame tracks the comparison chain of one switch statement. jmpAddr
// is the opcode index of the jump waiting to be patched to the next case
// comparison (initially the table-head jump emitted by `switch` itself);
// value is the switched-on expression and cond the autovar slot the case
// comparisons write into. Nested switches stack their frames.
type switchFrame struct {
	jmpAddr int
	value   ir.Arg
	cond    int
}

// Compiler holds all compilation state for one unit and lowers B source
// into the linear IR. Several source files may be compiled into the same
// Compiler; they share the global scope, the extern list, the global table
// and the data section.
type Compiler struct {
	lex *Lexer

	vars     ScopeStack
	autoVars AutoVarsAtor

	funcs          []ir.Func
	funcBody       []ir.OpWithLoc
	funcLabels     []Label
	funcLabelsUsed []Label
	switchStack    []switchFrame

	data    []byte
	extrns  []string
	globals []ir.Global

	// wordSize is the pointer stride of the selected target, used to scale
	// vector indexing.
	wordSize uint64
}

// NewCompiler creates a compiler for a target with the given word size. The
// global scope is open for the compiler's whole lifetime.
func NewCompiler(wordSize uint64) *Compiler {
	c := &Compiler{wordSize: wordSize}
	c.vars.Push() // global scope
	return c
}

// CompileFile lowers one source file into the unit.
func (c *Compiler) CompileFile(path, src string) error {
	c.lex = NewLexer(path, src)
	return c.compileProgram()
}

// Program returns the IR of everything compiled so far.
func (c *Compiler) Program() *ir.Program {
	return &ir.Program{
		Funcs:   c.funcs,
		Extrns:  c.extrns,
		Globals: c.globals,
		Data:    c.data,
	}
}

func (c *Compiler) pushOp(op ir.Op, loc ir.Loc) {
	c.funcBody = append(c.funcBody, ir.OpWithLoc{Op: op, Loc: loc})
}

// expectTokens checks the current token against the accepted set and
// produces an "expected X, or Y, but got Z" diagnostic on mismatch.
func (c *Compiler) expectTokens(tokens ...TokenType) error {
	for _, t := range tokens {
		if c.lex.Token == t {
			return nil
		}
	}

	var sb strings.Builder
	for i, t := range tokens {
		if i > 0 {
			if i+1 >= len(tokens) {
				sb.WriteString(", or ")
			} else {
				sb.WriteString(", ")
			}
		}
		sb.WriteString(t.String())
	}

	return NewError(c.lex.Loc, "expected %s, but got %s", sb.String(), c.lex.Token)
}

func (c *Compiler) getAndExpectTokens(tokens ...TokenType) error {
	if err := c.lex.Next(); err != nil {
		return err
	}
	return c.expectTokens(tokens...)
}

// binopFromToken maps an operator token to its binop, if it has one.
func binopFromToken(t TokenType) (ir.Binop, bool) {
	switch t {
	case TokenPlus:
		return ir.BinopPlus, true
	case TokenMinus:
		return ir.BinopMinus, true
	case TokenMul:
		return ir.BinopMult, true
	case TokenDiv:
		return ir.BinopDiv, true
	case TokenMod:
		return ir.BinopMod, true
	case TokenLess:
		return ir.BinopLess, true
	case TokenGreater:
		return ir.BinopGreater, true
	case TokenLessEq:
		return ir.BinopLessEqual, true
	case TokenGreaterEq:
		return ir.BinopGreaterEqual, true
	case TokenEqEq:
		return ir.BinopEqual, true
	case TokenNotEq:
		return ir.BinopNotEqual, true
	case TokenOr:
		return ir.BinopBitOr, true
	case TokenAnd:
		return ir.BinopBitAnd, true
	case TokenShl:
		return ir.BinopBitShl, true
	case TokenShr:
		return ir.BinopBitShr, true
	}
	return 0, false
}

// assignBinop maps an assignment token to the binop it compounds with.
// compound is false for plain `=`; ok is false for non-assignment tokens.
func assignBinop(t TokenType) (binop ir.Binop, compound, ok bool) {
	switch t {
	case TokenEq:
		return 0, false, true
	case TokenPlusEq:
		return ir.BinopPlus, true, true
	case TokenMinusEq:
		return ir.BinopMinus, true, true
	case TokenMulEq:
		return ir.BinopMult, true, true
	case TokenDivEq:
		return ir.BinopDiv, true, true
	case TokenModEq:
		return ir.BinopMod, true, true
	case TokenShlEq:
		return ir.BinopBitShl, true, true
	case TokenShrEq:
		return ir.BinopBitShr, true, true
	case TokenOrEq:
		return ir.BinopBitOr, true, true
	case TokenAndEq:
		return ir.BinopBitAnd, true, true
	}
	return 0, false, false
}

// compileString appends the current string literal to the data section and
// returns its offset. Strings are terminated with a zero byte: B's own
// `*e` end-of-string marker has no documented byte value, and a zero
// terminator keeps the produced data usable with libc.
func (c *Compiler) compileString() int {
	offset := len(c.data)
	c.data = append(c.data, c.lex.String...)
	c.data = append(c.data, 0)
	return offset
}

// compilePrimaryExpression parses a primary expression together with its
// postfix operators. It returns the resulting operand and whether that
// operand designates storage (is an lvalue).
func (c *Compiler) compilePrimaryExpression() (ir.Arg, bool, error) {
	if err := c.lex.Next(); err != nil {
		return ir.Arg{}, false, err
	}

	var arg ir.Arg
	var isLvalue bool

	switch c.lex.Token {
	case TokenOParen:
		var err error
		arg, isLvalue, err = c.compileExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		if err := c.getAndExpectTokens(TokenCParen); err != nil {
			return ir.Arg{}, false, err
		}

	case TokenNot:
		inner, _, err := c.compilePrimaryExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		result := c.autoVars.Allocate()
		c.pushOp(ir.Op{Kind: ir.OpUnaryNot, Index: result, Arg: inner}, c.lex.Loc)
		arg, isLvalue = ir.AutoVar(result), false

	case TokenMul:
		inner, _, err := c.compilePrimaryExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		switch inner.Kind {
		case ir.ArgRefAutoVar:
			// *&x is identically x.
			arg, isLvalue = ir.AutoVar(inner.Index), true
		case ir.ArgRefExternal:
			arg, isLvalue = ir.External(inner.Name), true
		case ir.ArgAutoVar:
			// The slot already holds the pointer, no copy needed.
			arg, isLvalue = ir.Deref(inner.Index), true
		default:
			index := c.autoVars.Allocate()
			c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: index, Arg: inner}, c.lex.Loc)
			arg, isLvalue = ir.Deref(index), true
		}

	case TokenMinus:
		inner, _, err := c.compilePrimaryExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		index := c.autoVars.Allocate()
		c.pushOp(ir.Op{Kind: ir.OpNegate, Index: index, Arg: inner}, c.lex.Loc)
		arg, isLvalue = ir.AutoVar(index), false

	case TokenAnd:
		loc := c.lex.Loc
		inner, innerLvalue, err := c.compilePrimaryExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		if !innerLvalue {
			return ir.Arg{}, false, NewError(loc, "cannot take the address of an rvalue")
		}
		switch inner.Kind {
		case ir.ArgDeref:
			// &*x is identically x.
			arg = ir.AutoVar(inner.Index)
		case ir.ArgExternal:
			arg = ir.RefExternal(inner.Name)
		case ir.ArgAutoVar:
			arg = ir.RefAutoVar(inner.Index)
		default:
			panic("address of non-lvalue operand survived the lvalue check")
		}
		isLvalue = false

	case TokenPlusPlus, TokenMinusMinus:
		binop := ir.BinopPlus
		verb := "increment"
		if c.lex.Token == TokenMinusMinus {
			binop = ir.BinopMinus
			verb = "decrement"
		}
		loc := c.lex.Loc
		inner, innerLvalue, err := c.compilePrimaryExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		if !innerLvalue {
			return ir.Arg{}, false, NewError(loc, "cannot %s an rvalue", verb)
		}
		c.compileBinop(inner, ir.Literal(1), binop, loc)
		arg, isLvalue = inner, false

	case TokenIntLit, TokenCharLit:
		arg, isLvalue = ir.Literal(c.lex.IntNumber), false

	case TokenString:
		arg, isLvalue = ir.DataOffset(c.compileString()), false

	case TokenID:
		name := c.lex.String
		varDef := c.vars.FindDeep(name)
		if varDef == nil {
			return ir.Arg{}, false, NewError(c.lex.Loc, "could not find name `%s`", name)
		}
		switch varDef.Storage {
		case StorageAuto:
			arg, isLvalue = ir.AutoVar(varDef.Index), true
		case StorageExternal:
			arg, isLvalue = ir.External(varDef.Name), true
		}

	default:
		return ir.Arg{}, false, NewError(c.lex.Loc, "expected start of a primary expression, but got %s", c.lex.Token)
	}

	for {
		saved := c.lex.ParsePoint()
		if err := c.lex.Next(); err != nil {
			return ir.Arg{}, false, err
		}

		switch c.lex.Token {
		case TokenOParen:
			result, err := c.compileFunctionCall(arg)
			if err != nil {
				return ir.Arg{}, false, err
			}
			arg, isLvalue = result, false

		case TokenOBracket:
			offset, _, err := c.compileExpression()
			if err != nil {
				return ir.Arg{}, false, err
			}
			if err := c.getAndExpectTokens(TokenCBracket); err != nil {
				return ir.Arg{}, false, err
			}
			result := c.autoVars.Allocate()
			wordSize := ir.Literal(c.wordSize)
			c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: ir.BinopMult, Index: result, Lhs: offset, Rhs: wordSize}, c.lex.Loc)
			c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: ir.BinopPlus, Index: result, Lhs: arg, Rhs: ir.AutoVar(result)}, c.lex.Loc)
			arg, isLvalue = ir.Deref(result), true

		case TokenPlusPlus, TokenMinusMinus:
			binop := ir.BinopPlus
			verb := "increment"
			if c.lex.Token == TokenMinusMinus {
				binop = ir.BinopMinus
				verb = "decrement"
			}
			loc := c.lex.Loc
			if !isLvalue {
				return ir.Arg{}, false, NewError(loc, "cannot %s an rvalue", verb)
			}
			pre := c.autoVars.Allocate()
			c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: pre, Arg: arg}, loc)
			c.compileBinop(arg, ir.Literal(1), binop, loc)
			arg, isLvalue = ir.AutoVar(pre), false

		default:
			c.lex.Restore(saved)
			return arg, isLvalue, nil
		}
	}
}

// compileBinop computes lhs <binop> rhs and writes the result back into
// lhs, which must be an lvalue-carrying operand.
func (c *Compiler) compileBinop(lhs, rhs ir.Arg, binop ir.Binop, loc ir.Loc) {
	switch lhs.Kind {
	case ir.ArgDeref:
		tmp := c.autoVars.Allocate()
		c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: binop, Index: tmp, Lhs: lhs, Rhs: rhs}, loc)
		c.pushOp(ir.Op{Kind: ir.OpStore, Index: lhs.Index, Arg: ir.AutoVar(tmp)}, loc)
	case ir.ArgExternal:
		tmp := c.autoVars.Allocate()
		c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: binop, Index: tmp, Lhs: lhs, Rhs: rhs}, loc)
		c.pushOp(ir.Op{Kind: ir.OpExternalAssign, Name: lhs.Name, Arg: ir.AutoVar(tmp)}, loc)
	case ir.ArgAutoVar:
		c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: binop, Index: lhs.Index, Lhs: lhs, Rhs: rhs}, loc)
	default:
		panic("compileBinop on an operand that cannot be written back")
	}
}

// compileBinopExpression climbs the precedence table: each recursion level
// handles one tier and left-folds the operators of that tier.
func (c *Compiler) compileBinopExpression(precedence int) (ir.Arg, bool, error) {
	if precedence >= ir.MaxPrecedence {
		return c.compilePrimaryExpression()
	}

	lhs, lvalue, err := c.compileBinopExpression(precedence + 1)
	if err != nil {
		return ir.Arg{}, false, err
	}

	saved := c.lex.ParsePoint()
	if err := c.lex.Next(); err != nil {
		return ir.Arg{}, false, err
	}

	if binop, ok := binopFromToken(c.lex.Token); ok && binop.Precedence() == precedence {
		for {
			binop, ok := binopFromToken(c.lex.Token)
			if !ok || binop.Precedence() != precedence {
				break
			}

			rhs, _, err := c.compileBinopExpression(precedence + 1)
			if err != nil {
				return ir.Arg{}, false, err
			}

			index := c.autoVars.Allocate()
			c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: binop, Index: index, Lhs: lhs, Rhs: rhs}, c.lex.Loc)
			lhs = ir.AutoVar(index)
			lvalue = false

			saved = c.lex.ParsePoint()
			if err := c.lex.Next(); err != nil {
				return ir.Arg{}, false, err
			}
		}
	}

	c.lex.Restore(saved)
	return lhs, lvalue, nil
}

// compileAssignExpression handles the right-associative assignment family
// and the ternary, both of which sit below the binop table.
func (c *Compiler) compileAssignExpression() (ir.Arg, bool, error) {
	lhs, lvalue, err := c.compileBinopExpression(0)
	if err != nil {
		return ir.Arg{}, false, err
	}

	saved := c.lex.ParsePoint()
	if err := c.lex.Next(); err != nil {
		return ir.Arg{}, false, err
	}

	for {
		binop, compound, ok := assignBinop(c.lex.Token)
		if !ok {
			break
		}
		binopLoc := c.lex.Loc

		rhs, _, err := c.compileAssignExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}

		if !lvalue {
			return ir.Arg{}, false, NewError(binopLoc, "cannot assign to rvalue")
		}

		if compound {
			c.compileBinop(lhs, rhs, binop, binopLoc)
		} else {
			switch lhs.Kind {
			case ir.ArgDeref:
				c.pushOp(ir.Op{Kind: ir.OpStore, Index: lhs.Index, Arg: rhs}, binopLoc)
			case ir.ArgExternal:
				c.pushOp(ir.Op{Kind: ir.OpExternalAssign, Name: lhs.Name, Arg: rhs}, binopLoc)
			case ir.ArgAutoVar:
				c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: lhs.Index, Arg: rhs}, binopLoc)
			default:
				panic("assignment target survived the lvalue check without storage")
			}
		}

		lvalue = false

		saved = c.lex.ParsePoint()
		if err := c.lex.Next(); err != nil {
			return ir.Arg{}, false, err
		}
	}

	if c.lex.Token == TokenQuestion {
		result := c.autoVars.Allocate()

		addrCondition := len(c.funcBody)
		c.pushOp(ir.Op{Kind: ir.OpJmpIfNot, Addr: 0, Arg: lhs}, c.lex.Loc)

		ifTrue, _, err := c.compileExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: result, Arg: ifTrue}, c.lex.Loc)

		addrSkipsTrue := len(c.funcBody)
		c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: 0}, c.lex.Loc)

		addrFalse := len(c.funcBody)
		if err := c.getAndExpectTokens(TokenColon); err != nil {
			return ir.Arg{}, false, err
		}

		ifFalse, _, err := c.compileExpression()
		if err != nil {
			return ir.Arg{}, false, err
		}
		c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: result, Arg: ifFalse}, c.lex.Loc)

		addrAfterFalse := len(c.funcBody)
		c.funcBody[addrCondition].Op.Addr = addrFalse
		c.funcBody[addrSkipsTrue].Op.Addr = addrAfterFalse

		return ir.AutoVar(result), false, nil
	}

	c.lex.Restore(saved)
	return lhs, lvalue, nil
}

func (c *Compiler) compileExpression() (ir.Arg, bool, error) {
	return c.compileAssignExpression()
}

// compileFunctionCall parses the argument list after an already consumed
// `(` and emits the call. The result lands in a fresh autovar.
func (c *Compiler) compileFunctionCall(fun ir.Arg) (ir.Arg, error) {
	var args []ir.Arg

	saved := c.lex.ParsePoint()
	if err := c.lex.Next(); err != nil {
		return ir.Arg{}, err
	}
	if c.lex.Token != TokenCParen {
		c.lex.Restore(saved)
		for {
			expr, _, err := c.compileExpression()
			if err != nil {
				return ir.Arg{}, err
			}
			args = append(args, expr)
			if err := c.getAndExpectTokens(TokenCParen, TokenComma); err != nil {
				return ir.Arg{}, err
			}
			if c.lex.Token == TokenCParen {
				break
			}
		}
	}

	result := c.autoVars.Allocate()
	c.pushOp(ir.Op{Kind: ir.OpFuncall, Index: result, Fun: fun, Args: args}, c.lex.Loc)
	return ir.AutoVar(result), nil
}

func (c *Compiler) compileBlock() error {
	for {
		saved := c.lex.ParsePoint()
		if err := c.lex.Next(); err != nil {
			return err
		}
		if c.lex.Token == TokenCCurly {
			return nil
		}
		c.lex.Restore(saved)

		if err := c.compileStatement(); err != nil {
			return err
		}
	}
}

func (c *Compiler) compileStatement() error {
	saved := c.lex.ParsePoint()
	if err := c.lex.Next(); err != nil {
		return err
	}

	switch c.lex.Token {
	case TokenOCurly:
		c.vars.Push()
		savedAutoVarsCount := c.autoVars.Count
		if err := c.compileBlock(); err != nil {
			return err
		}
		c.autoVars.Count = savedAutoVarsCount
		c.vars.Pop()
		return nil

	case TokenExtrn:
		for c.lex.Token != TokenSemiColon {
			if err := c.getAndExpectTokens(TokenID); err != nil {
				return err
			}
			name := c.lex.String
			nameDeclareIfNotExists(&c.extrns, name)
			if err := c.vars.Declare(Var{Name: name, Loc: c.lex.Loc, Storage: StorageExternal}); err != nil {
				return err
			}
			if err := c.getAndExpectTokens(TokenSemiColon, TokenComma); err != nil {
				return err
			}
		}
		return nil

	case TokenAuto:
		for c.lex.Token != TokenSemiColon {
			if err := c.getAndExpectTokens(TokenID); err != nil {
				return err
			}
			name := c.lex.String
			index := c.autoVars.Allocate()
			if err := c.vars.Declare(Var{Name: name, Loc: c.lex.Loc, Storage: StorageAuto, Index: index}); err != nil {
				return err
			}
			if err := c.getAndExpectTokens(TokenSemiColon, TokenComma, TokenIntLit, TokenCharLit); err != nil {
				return err
			}
			if c.lex.Token == TokenIntLit || c.lex.Token == TokenCharLit {
				size := int(c.lex.IntNumber)
				if size == 0 {
					return NewError(c.lex.Loc, "automatic vector of size 0 is not supported")
				}
				for i := 0; i < size; i++ {
					c.autoVars.Allocate()
				}
				// The stack grows down, so the vector body sits in the
				// slots above the name slot and the name points at its
				// first element.
				arg := ir.RefAutoVar(index + size)
				c.pushOp(ir.Op{Kind: ir.OpAutoAssign, Index: index, Arg: arg}, c.lex.Loc)
				if err := c.getAndExpectTokens(TokenSemiColon, TokenComma); err != nil {
					return err
				}
			}
		}
		return nil

	case TokenIf:
		if err := c.getAndExpectTokens(TokenOParen); err != nil {
			return err
		}
		savedAutoVarsCount := c.autoVars.Count
		cond, _, err := c.compileExpression()
		if err != nil {
			return err
		}
		if err := c.getAndExpectTokens(TokenCParen); err != nil {
			return err
		}

		addrCondition := len(c.funcBody)
		c.pushOp(ir.Op{Kind: ir.OpJmpIfNot, Addr: 0, Arg: cond}, c.lex.Loc)
		c.autoVars.Count = savedAutoVarsCount

		if err := c.compileStatement(); err != nil {
			return err
		}

		saved := c.lex.ParsePoint()
		if err := c.lex.Next(); err != nil {
			return err
		}

		if c.lex.Token == TokenElse {
			addrSkipsElse := len(c.funcBody)
			c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: 0}, c.lex.Loc)
			addrElse := len(c.funcBody)
			if err := c.compileStatement(); err != nil {
				return err
			}
			addrAfterElse := len(c.funcBody)
			c.funcBody[addrCondition].Op.Addr = addrElse
			c.funcBody[addrSkipsElse].Op.Addr = addrAfterElse
		} else {
			c.lex.Restore(saved)
			c.funcBody[addrCondition].Op.Addr = len(c.funcBody)
		}
		return nil

	case TokenWhile:
		begin := len(c.funcBody)
		if err := c.getAndExpectTokens(TokenOParen); err != nil {
			return err
		}
		savedAutoVarsCount := c.autoVars.Count
		cond, _, err := c.compileExpression()
		if err != nil {
			return err
		}
		if err := c.getAndExpectTokens(TokenCParen); err != nil {
			return err
		}

		conditionJump := len(c.funcBody)
		c.pushOp(ir.Op{Kind: ir.OpJmpIfNot, Addr: 0, Arg: cond}, c.lex.Loc)
		c.autoVars.Count = savedAutoVarsCount

		if err := c.compileStatement(); err != nil {
			return err
		}
		c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: begin}, c.lex.Loc)
		c.funcBody[conditionJump].Op.Addr = len(c.funcBody)
		return nil

	case TokenReturn:
		if err := c.getAndExpectTokens(TokenSemiColon, TokenOParen); err != nil {
			return err
		}
		if c.lex.Token == TokenSemiColon {
			c.pushOp(ir.Op{Kind: ir.OpReturn}, c.lex.Loc)
			return nil
		}
		arg, _, err := c.compileExpression()
		if err != nil {
			return err
		}
		if err := c.getAndExpectTokens(TokenCParen); err != nil {
			return err
		}
		if err := c.getAndExpectTokens(TokenSemiColon); err != nil {
			return err
		}
		c.pushOp(ir.Op{Kind: ir.OpReturn, Arg: arg, HasArg: true}, c.lex.Loc)
		return nil

	case TokenGoto:
		if err := c.getAndExpectTokens(TokenID); err != nil {
			return err
		}
		name := c.lex.String
		loc := c.lex.Loc
		addr := len(c.funcBody)
		c.funcLabelsUsed = append(c.funcLabelsUsed, Label{Name: name, Loc: loc, Addr: addr})
		if err := c.getAndExpectTokens(TokenSemiColon); err != nil {
			return err
		}
		c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: 0}, loc)
		return nil

	case TokenAsm:
		if err := c.getAndExpectTokens(TokenOParen); err != nil {
			return err
		}
		var lines []string
		for c.lex.Token != TokenCParen {
			if err := c.lex.Next(); err != nil {
				return err
			}
			if c.lex.Token == TokenCParen && len(lines) == 0 {
				break
			}
			if c.lex.Token != TokenString {
				return NewError(c.lex.Loc, "`asm` only takes string arguments")
			}
			lines = append(lines, c.lex.String)
			if err := c.getAndExpectTokens(TokenComma, TokenCParen); err != nil {
				return err
			}
		}
		if err := c.getAndExpectTokens(TokenSemiColon); err != nil {
			return err
		}
		c.pushOp(ir.Op{Kind: ir.OpAsm, Lines: lines}, c.lex.Loc)
		return nil

	case TokenCase:
		if len(c.switchStack) == 0 {
			return NewError(c.lex.Loc, "case label outside of switch")
		}
		frame := &c.switchStack[len(c.switchStack)-1]

		caseLoc := c.lex.Loc
		if err := c.getAndExpectTokens(TokenIntLit, TokenCharLit); err != nil {
			return err
		}
		caseValue := c.lex.IntNumber
		if err := c.getAndExpectTokens(TokenColon); err != nil {
			return err
		}

		// On fallthrough from the previous case, skip over the comparison
		// trio that guards this one.
		addr := len(c.funcBody)
		c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: addr + 3}, caseLoc)
		c.pushOp(ir.Op{Kind: ir.OpBinop, Binop: ir.BinopEqual, Index: frame.cond, Lhs: frame.value, Rhs: ir.Literal(caseValue)}, caseLoc)
		c.pushOp(ir.Op{Kind: ir.OpJmpIfNot, Addr: 0, Arg: ir.AutoVar(frame.cond)}, caseLoc)

		c.funcBody[frame.jmpAddr].Op.Addr = addr + 1
		frame.jmpAddr = addr + 2
		return nil

	case TokenSwitch:
		savedAutoVarsCount := c.autoVars.Count

		switchLoc := c.lex.Loc
		value, _, err := c.compileExpression()
		if err != nil {
			return err
		}
		cond := c.autoVars.Allocate()
		jmpAddr := len(c.funcBody)
		c.switchStack = append(c.switchStack, switchFrame{jmpAddr: jmpAddr, value: value, cond: cond})
		c.pushOp(ir.Op{Kind: ir.OpJmp, Addr: 0}, switchLoc)
		if err := c.compileStatement(); err != nil {
			return err
		}

		frame := c.switchStack[len(c.switchStack)-1]
		c.funcBody[frame.jmpAddr].Op.Addr = len(c.funcBody)
		c.switchStack = c.switchStack[:len(c.switchStack)-1]

		c.autoVars.Count = savedAutoVarsCount
		return nil
	}

	// A lone identifier followed by `:` defines a label; anything else is
	// an expression statement.
	if c.lex.Token == TokenID {
		name := c.lex.String
		nameLoc := c.lex.Loc
		addr := len(c.funcBody)
		if err := c.lex.Next(); err != nil {
			return err
		}
		if c.lex.Token == TokenColon {
			return defineLabel(&c.funcLabels, name, nameLoc, addr)
		}
	}

	c.lex.Restore(saved)
	savedAutoVarsCount := c.autoVars.Count
	if _, _, err := c.compileExpression(); err != nil {
		return err
	}
	c.autoVars.Count = savedAutoVarsCount
	return c.getAndExpectTokens(TokenSemiColon)
}

// compileProgram parses top-level definitions until end of file.
func (c *Compiler) compileProgram() error {
	for {
		if err := c.lex.Next(); err != nil {
			return err
		}
		if c.lex.Token == TokenEOF {
			return nil
		}
		if err := c.expectTokens(TokenID); err != nil {
			return err
		}

		name := c.lex.String
		nameLoc := c.lex.Loc

		saved := c.lex.ParsePoint()
		if err := c.lex.Next(); err != nil {
			return err
		}

		if c.lex.Token == TokenOParen {
			if err := c.compileFunction(name, nameLoc); err != nil {
				return err
			}
		} else {
			c.lex.Restore(saved)
			if err := c.compileGlobal(name, nameLoc); err != nil {
				return err
			}
		}
	}
}

// compileFunction parses a function definition after its name and the
// opening `(` have been consumed.
func (c *Compiler) compileFunction(name string, nameLoc ir.Loc) error {
	if err := c.vars.Declare(Var{Name: name, Loc: nameLoc, Storage: StorageExternal}); err != nil {
		return err
	}
	c.vars.Push() // function scope

	paramsCount := 0
	saved := c.lex.ParsePoint()
	if err := c.lex.Next(); err != nil {
		return err
	}
	if c.lex.Token != TokenCParen {
		c.lex.Restore(saved)
		for {
			if err := c.getAndExpectTokens(TokenID); err != nil {
				return err
			}
			index := c.autoVars.Allocate()
			if err := c.vars.Declare(Var{Name: c.lex.String, Loc: c.lex.Loc, Storage: StorageAuto, Index: index}); err != nil {
				return err
			}
			paramsCount++
			if err := c.getAndExpectTokens(TokenCParen, TokenComma); err != nil {
				return err
			}
			if c.lex.Token == TokenCParen {
				break
			}
		}
	}

	if err := c.compileStatement(); err != nil {
		return err
	}
	c.vars.Pop() // end function scope

	for _, used := range c.funcLabelsUsed {
		existing := findLabel(c.funcLabels, used.Name)
		if existing == nil {
			return NewError(used.Loc, "label `%s` used but not defined", used.Name)
		}
		c.funcBody[used.Addr].Op = ir.Op{Kind: ir.OpJmp, Addr: existing.Addr}
	}

	c.funcs = append(c.funcs, ir.Func{
		Name:          name,
		NameLoc:       nameLoc,
		Body:          c.funcBody,
		ParamsCount:   paramsCount,
		AutoVarsCount: c.autoVars.Max,
	})
	c.funcBody = nil
	c.funcLabels = c.funcLabels[:0]
	c.funcLabelsUsed = c.funcLabelsUsed[:0]
	c.autoVars = AutoVarsAtor{}
	return nil
}

// compileGlobal parses a top-level variable definition after its name has
// been consumed.
func (c *Compiler) compileGlobal(name string, nameLoc ir.Loc) error {
	if err := c.vars.Declare(Var{Name: name, Loc: nameLoc, Storage: StorageExternal}); err != nil {
		return err
	}

	global := ir.Global{Name: name}

	if err := c.getAndExpectTokens(TokenIntLit, TokenCharLit, TokenString, TokenID, TokenSemiColon, TokenOBracket); err != nil {
		return err
	}

	if c.lex.Token == TokenOBracket {
		global.IsVec = true
		if err := c.getAndExpectTokens(TokenIntLit, TokenCBracket); err != nil {
			return err
		}
		if c.lex.Token == TokenIntLit {
			global.MinimumSize = int(c.lex.IntNumber)
			if err := c.getAndExpectTokens(TokenCBracket); err != nil {
				return err
			}
		}
		if err := c.getAndExpectTokens(TokenIntLit, TokenCharLit, TokenString, TokenID, TokenSemiColon); err != nil {
			return err
		}
	}

	for c.lex.Token != TokenSemiColon {
		var value ir.ImmediateValue
		switch c.lex.Token {
		case TokenIntLit, TokenCharLit:
			value = ir.ImmediateValue{Kind: ir.ImmLiteral, Value: c.lex.IntNumber}
		case TokenString:
			value = ir.ImmediateValue{Kind: ir.ImmDataOffset, Offset: c.compileString()}
		case TokenID:
			// Names in initializers must already be declared at the top
			// level by the time they are used.
			if c.vars.FindNear(c.lex.String) == nil {
				return NewError(c.lex.Loc, "could not find name `%s`", c.lex.String)
			}
			value = ir.ImmediateValue{Kind: ir.ImmName, Name: c.lex.String}
		}
		global.Values = append(global.Values, value)

		if err := c.getAndExpectTokens(TokenSemiColon, TokenComma); err != nil {
			return err
		}
		if c.lex.Token == TokenComma {
			if err := c.getAndExpectTokens(TokenIntLit, TokenCharLit, TokenString, TokenID); err != nil {
				return err
			}
		}
	}

	if !global.IsVec && len(global.Values) == 0 {
		global.Values = append(global.Values, ir.ImmediateValue{Kind: ir.ImmLiteral, Value: 0})
	}
	c.globals = append(c.globals, global)
	return nil
}
