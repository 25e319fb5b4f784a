// Package compiler implements the single-pass Pratt parser/emitter: it
// drives the lexer, maintains parser and local-scope state, and writes
// bytecode directly into a Chunk while parsing. There is no separate AST;
// every production either emits bytes immediately or defers a forward
// jump to be patched once its target is known.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/estevaofon/noxy-vm/internal/chunk"
	"github.com/estevaofon/noxy-vm/internal/lexer"
	"github.com/estevaofon/noxy-vm/internal/token"
	"github.com/estevaofon/noxy-vm/internal/value"
)

// CompileError is a scan or compile-time diagnostic, reported the way the
// book-style spec demands: "[line L] Error at 'lexeme': MSG", or
// "... Error at end: MSG" when the offending token is Eof.
type CompileError struct {
	Message string
	Line    int
	Lexeme  string
	AtEnd   bool
}

func (e *CompileError) Error() string {
	if e.AtEnd {
		return fmt.Sprintf("[line %d] Error at end: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("[line %d] Error at '%s': %s", e.Line, e.Lexeme, e.Message)
}

// Parser holds the token stream and error-recovery state. It is shared,
// by pointer, across every nested Compiler a function declaration spawns:
// only the locals/scope bookkeeping is per-function, token I/O and error
// reporting are global to the compile.
type Parser struct {
	lex      *lexer.Lexer
	source   string
	current  token.Token
	previous token.Token

	hadError  bool
	panicMode bool
	errors    []*CompileError
}

func (p *Parser) advance() {
	p.previous = p.current
	for {
		tok, err := p.lex.NextToken()
		if err == nil {
			p.current = tok
			return
		}
		p.reportScanError(err)
	}
}

func (p *Parser) check(kind token.Kind) bool {
	return p.current.Kind == kind
}

func (p *Parser) matchToken(kind token.Kind) bool {
	if !p.check(kind) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(kind token.Kind, msg string) {
	if p.current.Kind == kind {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

func (p *Parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }
func (p *Parser) error(msg string)          { p.errorAt(p.previous, msg) }

// errorAt records a diagnostic, unless panicMode is already suppressing
// cascades. Synchronize() clears panicMode at the next safe point.
func (p *Parser) errorAt(tok token.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	ce := &CompileError{Message: msg, Line: tok.Line}
	if tok.Kind == token.Eof {
		ce.AtEnd = true
	} else {
		ce.Lexeme = tok.Lexeme(p.source)
	}
	p.errors = append(p.errors, ce)
}

func (p *Parser) reportScanError(e *lexer.ScanError) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	lexeme := ""
	if e.Start >= 0 && e.End <= len(p.source) && e.Start <= e.End {
		lexeme = p.source[e.Start:e.End]
	}
	p.errors = append(p.errors, &CompileError{Message: e.Message, Line: e.Line, Lexeme: lexeme})
}

// synchronize advances past the next ';' or to a token that plausibly
// starts a new declaration/statement, ending panic mode.
func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Kind != token.Eof {
		if p.previous.Kind == token.Semicolon {
			return
		}
		switch p.current.Kind {
		case token.Class, token.Fun, token.Var, token.For, token.If, token.While, token.Print, token.Return:
			return
		}
		p.advance()
	}
}

// FunctionType distinguishes the implicit top-level script function from
// user-declared functions; only the latter may contain a return.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeScript
)

// Local is the compile-time bookkeeping for a variable living on the
// operand stack. Depth -1 means "declared but not yet initialized" (its
// initializer is still being compiled); any other value is the scope
// depth at declaration.
type Local struct {
	Name  token.Token
	Depth int
}

// Compiler holds the per-function compile state: its locals, scope
// depth, and the chunk it is writing into. Nested function bodies push a
// new Compiler that shares the Parser but owns its own locals/scopeDepth.
type Compiler struct {
	enclosing    *Compiler
	p            *Parser
	function     *value.ObjFunction
	functionType FunctionType
	locals       []Local
	scopeDepth   int
}

// newCompiler starts compiling a function body (or, for TypeScript, the
// top-level script). Slot 0 of locals is always a reserved, nameless
// placeholder standing in for the callee itself on the operand stack.
func newCompiler(p *Parser, enclosing *Compiler, ftype FunctionType, name string) *Compiler {
	c := &Compiler{
		p:            p,
		enclosing:    enclosing,
		functionType: ftype,
		function:     &value.ObjFunction{Name: name, Chunk: chunk.New()},
	}
	c.locals = append(c.locals, Local{Depth: 0})
	return c
}

func (c *Compiler) currentChunk() *chunk.Chunk {
	return c.function.Chunk.(*chunk.Chunk)
}

// Compile compiles source to a top-level FunctionObject. It returns nil
// if any scan or compile error was recorded; the errors are always
// returned (empty on success) so callers can report partial diagnostics.
func Compile(source string) (*value.ObjFunction, []*CompileError) {
	p := &Parser{lex: lexer.New(source), source: source}
	p.advance()

	c := newCompiler(p, nil, TypeScript, "")
	for !p.check(token.Eof) {
		c.declaration()
	}
	fn := c.endCompiler()

	if p.hadError {
		return nil, p.errors
	}
	return fn, p.errors
}

func (c *Compiler) endCompiler() *value.ObjFunction {
	c.emitReturn()
	return c.function
}

// --- byte emission -------------------------------------------------------

func (c *Compiler) emitByte(b byte) {
	c.emitByteAt(b, c.p.previous.Line)
}

func (c *Compiler) emitByteAt(b byte, line int) {
	c.currentChunk().Write(b, line)
}

func (c *Compiler) emitBytes(b1, b2 byte) {
	c.emitByte(b1)
	c.emitByte(b2)
}

func (c *Compiler) emitReturn() {
	c.emitByte(byte(chunk.OpNil))
	c.emitByte(byte(chunk.OpReturn))
}

// emitConstant adds v to the constant pool and emits whichever of
// Constant/LongConstant its index fits in.
func (c *Compiler) emitConstant(v value.Value) {
	c.emitConstantIndex(c.currentChunk().AddConstant(v))
}

func (c *Compiler) emitConstantIndex(idx int) {
	switch {
	case idx <= 0xff:
		c.emitBytes(byte(chunk.OpConstant), byte(idx))
	case idx <= 0xffffff:
		c.emitByte(byte(chunk.OpLongConstant))
		c.emitByte(byte(idx))
		c.emitByte(byte(idx >> 8))
		c.emitByte(byte(idx >> 16))
	default:
		c.p.error("Too many constants in one chunk.")
	}
}

// identifierConstant adds name to the constant pool as a string for use
// with the u8-operand global opcodes (DefineGlobal/GetGlobal/SetGlobal);
// unlike emitConstant it cannot fall back to LongConstant, so it is a
// compile error once the pool already holds 256 constants. Every constant
// in the chunk counts, and each use of a name adds a new entry, since
// nothing is de-duplicated.
func (c *Compiler) identifierConstant(name token.Token) int {
	idx := c.currentChunk().AddConstant(value.NewString(name.Lexeme(c.p.source)))
	if idx > 0xff {
		c.p.error("Too many constants in one chunk.")
	}
	return idx
}

// emitJump emits op followed by a two-byte placeholder and returns the
// placeholder's offset, to be patched once the jump target is known.
func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitByte(byte(op))
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > 0xffff {
		c.p.error("Too much code to jump over.")
		return
	}
	c.currentChunk().Patch(offset, uint16(jump))
}

// emitLoop emits a backward Loop branch to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitByte(byte(chunk.OpLoop))
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > 0xffff {
		c.p.error("Loop body too large.")
		offset = 0
	}
	c.emitByte(byte(offset))
	c.emitByte(byte(offset >> 8))
}

// --- scopes and variables -------------------------------------------------

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].Depth > c.scopeDepth {
		c.emitByte(byte(chunk.OpPop))
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// parseVariable consumes an identifier and, for a local, declares it;
// for a global it interns the name and returns the constant index to
// later pair with DefineGlobal.
func (c *Compiler) parseVariable(msg string) int {
	c.p.consume(token.Identifier, msg)
	c.declareVariable()
	if c.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.p.previous)
}

func (c *Compiler) declareVariable() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.p.previous
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if local.Depth != -1 && local.Depth < c.scopeDepth {
			break
		}
		if name.Lexeme(c.p.source) == local.Name.Lexeme(c.p.source) {
			c.p.error("Variable with this name already exists in the current scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name token.Token) {
	if len(c.locals) >= 256 {
		c.p.error("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, Local{Name: name, Depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].Depth = c.scopeDepth
}

func (c *Compiler) defineVariable(idx int) {
	if c.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitBytes(byte(chunk.OpDefineGlobal), byte(idx))
}

// resolveLocal scans locals back-to-front so that shadowing in a nested
// block resolves to the innermost declaration.
func (c *Compiler) resolveLocal(name token.Token) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if name.Lexeme(c.p.source) == local.Name.Lexeme(c.p.source) {
			if local.Depth == -1 {
				c.p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) namedVariable(name token.Token, canAssign bool) {
	var getOp, setOp chunk.OpCode
	arg := c.resolveLocal(name)
	if arg != -1 {
		getOp, setOp = chunk.OpGetLocal, chunk.OpSetLocal
	} else {
		arg = c.identifierConstant(name)
		getOp, setOp = chunk.OpGetGlobal, chunk.OpSetGlobal
	}

	if canAssign && c.p.matchToken(token.Equal) {
		c.expression()
		c.emitBytes(byte(setOp), byte(arg))
	} else {
		c.emitBytes(byte(getOp), byte(arg))
	}
}

// --- declarations and statements ------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.p.matchToken(token.Var):
		c.varDeclaration()
	case c.p.matchToken(token.Fun):
		c.funDeclaration()
	default:
		c.statement()
	}
	if c.p.panicMode {
		c.p.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expected variable name.")
	if c.p.matchToken(token.Equal) {
		c.expression()
	} else {
		c.emitByte(byte(chunk.OpNil))
	}
	c.p.consume(token.Semicolon, "Expected ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expected function name.")
	c.markInitialized() // so the body can call itself by name
	c.functionBody(TypeFunction)
	c.defineVariable(global)
}

// functionBody compiles a nested function's parameter list and block in
// a fresh Compiler, then emits a Constant in the *enclosing* compiler
// holding the finished FunctionObject.
func (c *Compiler) functionBody(ftype FunctionType) {
	name := c.p.previous.Lexeme(c.p.source)
	inner := newCompiler(c.p, c, ftype, name)
	inner.beginScope()

	inner.p.consume(token.LeftParen, "Expected '(' after function name.")
	if !inner.p.check(token.RightParen) {
		for {
			inner.function.Arity++
			if inner.function.Arity > 255 {
				inner.p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConstant := inner.parseVariable("Expected parameter name.")
			inner.defineVariable(paramConstant)
			if !inner.p.matchToken(token.Comma) {
				break
			}
		}
	}
	inner.p.consume(token.RightParen, "Expected ')' after parameters.")
	inner.p.consume(token.LeftBrace, "Expected '{' before function body.")
	inner.block()

	fn := inner.endCompiler()
	c.emitConstant(value.NewFunction(fn))
}

func (c *Compiler) block() {
	for !c.p.check(token.RightBrace) && !c.p.check(token.Eof) {
		c.declaration()
	}
	c.p.consume(token.RightBrace, "Expected '}' after block.")
}

func (c *Compiler) statement() {
	switch {
	case c.p.matchToken(token.Print):
		c.printStatement()
	case c.p.matchToken(token.If):
		c.ifStatement()
	case c.p.matchToken(token.While):
		c.whileStatement()
	case c.p.matchToken(token.For):
		c.forStatement()
	case c.p.matchToken(token.Return):
		c.returnStatement()
	case c.p.matchToken(token.LeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.p.consume(token.Semicolon, "Expected ';' after value.")
	c.emitByte(byte(chunk.OpPrint))
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.p.consume(token.Semicolon, "Expected ';' after expression.")
	c.emitByte(byte(chunk.OpPop))
}

func (c *Compiler) returnStatement() {
	if c.functionType == TypeScript {
		c.p.error("Cannot return from top-level code.")
	}
	if c.p.matchToken(token.Semicolon) {
		c.emitReturn()
		return
	}
	c.expression()
	c.p.consume(token.Semicolon, "Expected ';' after return value.")
	c.emitByte(byte(chunk.OpReturn))
}

func (c *Compiler) ifStatement() {
	c.p.consume(token.LeftParen, "Expected '(' after 'if'.")
	c.expression()
	c.p.consume(token.RightParen, "Expected ')' after condition.")

	thenJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitByte(byte(chunk.OpPop))
	c.statement()

	elseJump := c.emitJump(chunk.OpJump)
	c.patchJump(thenJump)
	c.emitByte(byte(chunk.OpPop))

	if c.p.matchToken(token.Else) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.p.consume(token.LeftParen, "Expected '(' after 'while'.")
	c.expression()
	c.p.consume(token.RightParen, "Expected ')' after condition.")

	exitJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitByte(byte(chunk.OpPop))
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitByte(byte(chunk.OpPop))
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.p.consume(token.LeftParen, "Expected '(' after 'for'.")

	switch {
	case c.p.matchToken(token.Semicolon):
		// no initializer
	case c.p.matchToken(token.Var):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.p.matchToken(token.Semicolon) {
		c.expression()
		c.p.consume(token.Semicolon, "Expected ';' after loop condition.")
		exitJump = c.emitJump(chunk.OpJumpIfFalse)
		c.emitByte(byte(chunk.OpPop))
	}

	if !c.p.matchToken(token.RightParen) {
		bodyJump := c.emitJump(chunk.OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitByte(byte(chunk.OpPop))
		c.p.consume(token.RightParen, "Expected ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitByte(byte(chunk.OpPop))
	}
	c.endScope()
}

// --- Pratt expression parsing ----------------------------------------------

// Precedence orders binding strength from loosest to tightest.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// rules is the static table driving parsePrecedence: every token kind
// declares at most a prefix rule, an infix rule, and a precedence.
// Entries absent here default to the zero value (no rules, PrecNone),
// which is exactly right for delimiters and for the reserved-but-unused
// class/super/this keywords — they simply fail to parse as expressions.
// The table is filled in init because the parse functions it holds reach
// getRule, which reads it: a package-level initializer would be a cycle.
var rules map[token.Kind]parseRule

func init() {
	rules = map[token.Kind]parseRule{
		token.LeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: PrecCall},
		token.Minus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: PrecTerm},
		token.Plus:         {infix: (*Compiler).binary, precedence: PrecTerm},
		token.Slash:        {infix: (*Compiler).binary, precedence: PrecFactor},
		token.Star:         {infix: (*Compiler).binary, precedence: PrecFactor},
		token.Bang:         {prefix: (*Compiler).unary},
		token.BangEqual:    {infix: (*Compiler).binary, precedence: PrecEquality},
		token.EqualEqual:   {infix: (*Compiler).binary, precedence: PrecEquality},
		token.Greater:      {infix: (*Compiler).binary, precedence: PrecComparison},
		token.GreaterEqual: {infix: (*Compiler).binary, precedence: PrecComparison},
		token.Less:         {infix: (*Compiler).binary, precedence: PrecComparison},
		token.LessEqual:    {infix: (*Compiler).binary, precedence: PrecComparison},
		token.Identifier:   {prefix: (*Compiler).variable},
		token.String:       {prefix: (*Compiler).stringLiteral},
		token.Number:       {prefix: (*Compiler).number},
		token.And:          {infix: (*Compiler).and_, precedence: PrecAnd},
		token.Or:           {infix: (*Compiler).or_, precedence: PrecOr},
		token.False:        {prefix: (*Compiler).literal},
		token.Nil:          {prefix: (*Compiler).literal},
		token.True:         {prefix: (*Compiler).literal},
	}
}

func getRule(kind token.Kind) parseRule {
	return rules[kind] // zero value for anything not listed
}

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the Pratt engine: it runs the prefix rule for the
// token just consumed, then keeps folding in infix rules as long as
// their precedence is at least prec. Binary operators re-enter one
// precedence level higher than their own, making them left-associative.
func (c *Compiler) parsePrecedence(prec Precedence) {
	c.p.advance()
	prefixRule := getRule(c.p.previous.Kind).prefix
	if prefixRule == nil {
		c.p.error("Expected expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefixRule(c, canAssign)

	for prec <= getRule(c.p.current.Kind).precedence {
		c.p.advance()
		infixRule := getRule(c.p.previous.Kind).infix
		infixRule(c, canAssign)
	}

	if canAssign && c.p.matchToken(token.Equal) {
		c.p.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(_ bool) {
	n, _ := strconv.ParseFloat(c.p.previous.Lexeme(c.p.source), 64)
	c.emitConstant(value.NewNumber(n))
}

func (c *Compiler) stringLiteral(_ bool) {
	lexeme := c.p.previous.Lexeme(c.p.source)
	c.emitConstant(value.NewString(lexeme[1 : len(lexeme)-1])) // strip quotes
}

func (c *Compiler) literal(_ bool) {
	switch c.p.previous.Kind {
	case token.False:
		c.emitByte(byte(chunk.OpFalse))
	case token.Nil:
		c.emitByte(byte(chunk.OpNil))
	case token.True:
		c.emitByte(byte(chunk.OpTrue))
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.p.consume(token.RightParen, "Expected ')' after expression.")
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.p.previous, canAssign)
}

func (c *Compiler) unary(_ bool) {
	opKind := c.p.previous.Kind
	line := c.p.previous.Line
	c.parsePrecedence(PrecUnary)
	switch opKind {
	case token.Minus:
		c.emitByteAt(byte(chunk.OpNegate), line)
	case token.Bang:
		c.emitByteAt(byte(chunk.OpNot), line)
	}
}

func (c *Compiler) binary(_ bool) {
	opKind := c.p.previous.Kind
	line := c.p.previous.Line
	rule := getRule(opKind)
	c.parsePrecedence(rule.precedence + 1)

	switch opKind {
	case token.Plus:
		c.emitByteAt(byte(chunk.OpAdd), line)
	case token.Minus:
		c.emitByteAt(byte(chunk.OpSubtract), line)
	case token.Star:
		c.emitByteAt(byte(chunk.OpMultiply), line)
	case token.Slash:
		c.emitByteAt(byte(chunk.OpDivide), line)
	case token.EqualEqual:
		c.emitByteAt(byte(chunk.OpEqual), line)
	case token.BangEqual:
		c.emitByteAt(byte(chunk.OpEqual), line)
		c.emitByteAt(byte(chunk.OpNot), line)
	case token.Greater:
		c.emitByteAt(byte(chunk.OpGreater), line)
	case token.GreaterEqual:
		c.emitByteAt(byte(chunk.OpLess), line)
		c.emitByteAt(byte(chunk.OpNot), line)
	case token.Less:
		c.emitByteAt(byte(chunk.OpLess), line)
	case token.LessEqual:
		c.emitByteAt(byte(chunk.OpGreater), line)
		c.emitByteAt(byte(chunk.OpNot), line)
	}
}

func (c *Compiler) and_(_ bool) {
	endJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitByte(byte(chunk.OpPop))
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(_ bool) {
	elseJump := c.emitJump(chunk.OpJumpIfFalse)
	endJump := c.emitJump(chunk.OpJump)
	c.patchJump(elseJump)
	c.emitByte(byte(chunk.OpPop))
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(_ bool) {
	argCount := c.argumentList()
	c.emitBytes(byte(chunk.OpCall), byte(argCount))
}

func (c *Compiler) argumentList() int {
	argCount := 0
	if !c.p.check(token.RightParen) {
		for {
			c.expression()
			if argCount == 255 {
				c.p.error("Can't have more than 255 arguments.")
			}
			argCount++
			if !c.p.matchToken(token.Comma) {
				break
			}
		}
	}
	c.p.consume(token.RightParen, "Expected ')' after arguments.")
	return argCount
}
