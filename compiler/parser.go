package compiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: line-oriented recursive descent parser
// ---------------------------------------------------------------------------

// SyntaxError reports a malformed construct. Incomplete is set when the
// source ended inside a block, heredoc or comment, so an interactive reader
// can ask for more input.
type SyntaxError struct {
	Line       int
	Reason     string
	Incomplete bool
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Parser parses script source into a command sequence.
type Parser struct {
	lines []sourceLine
	idx   int // next line to read

	line      sourceLine // line being parsed
	lexer     *Lexer
	curToken  Token
	peekToken Token

	errors []*SyntaxError

	matching   *regexp.Regexp // pattern of the last ADDRESS MATCHING parsed
	patterns   []*regexp.Regexp
	depth      int            // block nesting depth
	singleLine bool           // parsing a MATCHING fallback; blocks are not allowed
	noBlank    bool           // CALL arguments: blank concatenation disabled
}

// NewParser creates a new parser for the given source.
func NewParser(input string) *Parser {
	p := &Parser{}
	lines, err := splitLines(input)
	if err != nil {
		p.errors = append(p.errors, err)
		return p
	}
	p.lines = lines
	p.scanPatterns()
	return p
}

// scanPatterns collects every valid MATCHING pattern in the source. Which
// one applies to a line is only known at run time, since a subroutine may
// be called after an ADDRESS further down the script.
func (p *Parser) scanPatterns() {
	for _, ln := range p.lines {
		if firstWord(ln.Text) != "ADDRESS" {
			continue
		}
		q := &Parser{}
		q.loadLine(ln)
		q.parseAddress()
		if q.matching != nil {
			p.patterns = append(p.patterns, q.matching)
		}
	}
}

// Parse parses a complete script. The first syntax error is returned.
func Parse(source string) ([]Command, error) {
	p := NewParser(source)
	cmds := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	return cmds, nil
}

// ParseExpression parses a single expression.
func ParseExpression(source string) (Expr, error) {
	p := &Parser{}
	p.loadLine(sourceLine{Num: 1, Text: source})
	expr := p.parseExpr()
	if expr != nil && !p.curTokenIs(TokenEOL) {
		p.errorf("unexpected %s after expression", p.curToken)
	}
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return expr, nil
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []*SyntaxError {
	return p.errors
}

// loadLine makes ln the current line and primes the token window.
func (p *Parser) loadLine(ln sourceLine) {
	p.line = ln
	p.lexer = newLineLexer(ln.Text, ln.Num, ln.Heredocs)
	p.nextToken()
	p.nextToken()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// curKeyword reports whether the current token is the keyword kw.
func (p *Parser) curKeyword(kw string) bool {
	return p.curToken.IsKeyword(kw)
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// expectKeyword advances past kw or records an error.
func (p *Parser) expectKeyword(kw string) bool {
	if p.curKeyword(kw) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", kw, p.curToken)
	return false
}

// errorf records a parse error. Only the first error per line is kept.
func (p *Parser) errorf(format string, args ...interface{}) {
	p.errorAt(p.line.Num, false, format, args...)
}

func (p *Parser) errorAt(line int, incomplete bool, format string, args ...interface{}) {
	if n := len(p.errors); n > 0 && p.errors[n-1].Line == line {
		return
	}
	p.errors = append(p.errors, &SyntaxError{
		Line:       line,
		Reason:     fmt.Sprintf(format, args...),
		Incomplete: incomplete,
	})
}

// base returns the location record for a command starting at tok.
func (p *Parser) base(tok Token) cmdBase {
	return cmdBase{
		SpanVal: MakeSpan(tok.Pos, p.curToken.Pos),
		Text:    strings.TrimSpace(p.line.Text),
	}
}

// restOfLine returns the raw text from the current token to the end of
// the line.
func (p *Parser) restOfLine() string {
	if p.curTokenIs(TokenEOL) {
		return ""
	}
	return p.line.Text[p.curToken.Pos.Offset:]
}

// skipLine discards the remaining tokens of the current line.
func (p *Parser) skipLine() {
	p.curToken = Token{Type: TokenEOL, Pos: Position{Line: p.line.Num, Offset: len(p.line.Text)}}
	p.peekToken = p.curToken
}

// ---------------------------------------------------------------------------
// Lines and blocks
// ---------------------------------------------------------------------------

// firstWord returns the leading symbol of a line in upper case.
func firstWord(text string) string {
	text = strings.TrimLeft(text, " \t")
	end := 0
	for end < len(text) && isSymbolChar(rune(text[end])) {
		end++
	}
	return strings.ToUpper(text[:end])
}

// ParseProgram parses every line of the source.
func (p *Parser) ParseProgram() []Command {
	cmds, _ := p.parseBlock(0)
	return cmds
}

// parseBlock parses lines until one starts with an ender keyword. The
// ender line is left unconsumed. With no enders the block runs to the end
// of input; otherwise reaching the end of input is an incomplete-input
// error reported against openLine.
func (p *Parser) parseBlock(openLine int, enders ...string) ([]Command, string) {
	var cmds []Command
	for p.idx < len(p.lines) {
		ln := p.lines[p.idx]
		if strings.TrimSpace(ln.Text) == "" {
			p.idx++
			continue
		}
		word := firstWord(ln.Text)
		for _, e := range enders {
			if word == e {
				return cmds, e
			}
		}
		cmds = append(cmds, p.parseLine()...)
	}
	if len(enders) > 0 {
		p.errorAt(openLine, true, "missing %s", strings.Join(enders, " or "))
	}
	return cmds, ""
}

// consumeEnder reads the line holding a block ender such as END or ENDIF.
// END may name the loop it closes.
func (p *Parser) consumeEnder(kw string) {
	ln := p.lines[p.idx]
	p.idx++
	p.loadLine(ln)
	p.expectKeyword(kw)
	if kw == "END" && p.curTokenIs(TokenIdentifier) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOL) {
		p.errorf("unexpected %s after %s", p.curToken, kw)
	}
}

// nextLine returns the index of the next non-blank line, or -1.
func (p *Parser) nextLine() int {
	for i := p.idx; i < len(p.lines); i++ {
		if strings.TrimSpace(p.lines[i].Text) != "" {
			return i
		}
	}
	return -1
}

// parseLine parses the next source line into zero, one or two commands
// (a label may share its line with a statement).
func (p *Parser) parseLine() []Command {
	ln := p.lines[p.idx]
	p.idx++

	if p.isMatchCandidate(ln) {
		return p.parseMatchedLine(ln)
	}

	p.loadLine(ln)
	return p.parseLineBody()
}

// isMatchCandidate reports whether a line could be routed by some MATCHING
// pattern in the source. ADDRESS lines, bare labels, block enders and lines
// that open a block never are.
func (p *Parser) isMatchCandidate(ln sourceLine) bool {
	if len(p.patterns) == 0 {
		return false
	}
	word := firstWord(ln.Text)
	if word == "ADDRESS" || blockEnders[word] || blockOpeners[word] {
		return false
	}
	if text := strings.TrimSpace(ln.Text); word != "" && strings.EqualFold(text, word+":") {
		return false
	}
	for _, re := range p.patterns {
		if re.MatchString(ln.Raw) {
			return true
		}
	}
	return false
}

// parseMatchedLine records a MATCHING candidate along with its ordinary
// parse, which is used when no pattern applies at run time. A leading label
// is kept as its own command.
func (p *Parser) parseMatchedLine(ln sourceLine) []Command {
	m := &MatchedLine{
		cmdBase: cmdBase{
			SpanVal: MakeSpan(Position{Line: ln.Num, Column: 1}, Position{Line: ln.Num, Column: len(ln.Raw) + 1}),
			Text:    strings.TrimSpace(ln.Text),
		},
		Raw: ln.Raw,
	}

	var cmds []Command
	saved := len(p.errors)
	p.singleLine = true
	p.loadLine(ln)
	for _, cmd := range p.parseLineBody() {
		if _, isLabel := cmd.(*Label); isLabel {
			cmds = append(cmds, cmd)
		} else {
			m.Fallback = cmd
		}
	}
	p.singleLine = false

	if len(p.errors) > saved {
		m.FallbackErr = p.errors[saved]
		m.Fallback = nil
		p.errors = p.errors[:saved]
	}
	return append(cmds, m)
}

// parseLineBody parses the tokens of the current line.
func (p *Parser) parseLineBody() []Command {
	var cmds []Command

	if p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenColon) {
		start := p.curToken
		name := p.curToken.Literal
		p.nextToken()
		p.nextToken()
		if p.depth > 0 {
			p.errorf("label %s inside a block", name)
			return nil
		}
		cmds = append(cmds, &Label{cmdBase: p.base(start), Name: name})
		if p.curTokenIs(TokenEOL) {
			return cmds
		}
	}

	stmt := p.ParseStatement()
	if stmt == nil {
		return cmds
	}
	if !p.curTokenIs(TokenEOL) {
		p.errorf("unexpected %s", p.curToken)
		return cmds
	}
	return append(cmds, stmt)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseStatement parses a single statement starting at the current token.
func (p *Parser) ParseStatement() Command {
	if p.curTokenIs(TokenError) {
		p.errorf("%s", p.curToken.Literal)
		return nil
	}

	if p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenEq) {
		return p.parseAssignment(p.curToken)
	}

	if !p.curTokenIs(TokenIdentifier) {
		return p.parseExprStmt()
	}

	kw := strings.ToUpper(p.curToken.Literal)
	switch kw {
	case "LET":
		return p.parseLet()
	case "SAY":
		return p.parseSay()
	case "CALL":
		return p.parseCall()
	case "RETURN":
		start := p.curToken
		p.nextToken()
		return &Return{cmdBase: p.base(start), Value: p.parseOptionalExpr()}
	case "EXIT":
		start := p.curToken
		p.nextToken()
		return &Exit{cmdBase: p.base(start), Value: p.parseOptionalExpr()}
	case "ADDRESS":
		return p.parseAddress()
	case "PARSE":
		return p.parseParse()
	case "TRACE":
		return p.parseTrace()
	case "RETRY_ON_STALE":
		return p.parseRetry()
	case "IF":
		return p.parseIf()
	case "DO":
		return p.parseDo()
	case "SELECT":
		return p.parseSelect()
	case "LEAVE":
		start := p.curToken
		p.nextToken()
		p.skipOptionalName()
		return &Leave{cmdBase: p.base(start)}
	case "ITERATE":
		start := p.curToken
		p.nextToken()
		p.skipOptionalName()
		return &Iterate{cmdBase: p.base(start)}
	case "INTERPRET":
		start := p.curToken
		p.nextToken()
		code := p.parseExpr()
		if code == nil {
			return nil
		}
		return &Interpret{cmdBase: p.base(start), Code: code}
	case "NOP":
		start := p.curToken
		p.nextToken()
		return &Nop{cmdBase: p.base(start)}
	case "DROP":
		return p.parseDrop()
	case "END", "ENDIF", "ELSE", "END_RETRY", "WHEN", "OTHERWISE", "THEN":
		p.errorf("unexpected %s", kw)
		return nil
	}

	return p.parseExprStmt()
}

func (p *Parser) skipOptionalName() {
	if p.curTokenIs(TokenIdentifier) && !stopWords[strings.ToUpper(p.curToken.Literal)] {
		p.nextToken()
	}
}

func (p *Parser) parseOptionalExpr() Expr {
	if p.curTokenIs(TokenEOL) || p.curKeyword("ELSE") {
		return nil
	}
	return p.parseExpr()
}

// parseAssignment parses name = expr with the current token at name.
func (p *Parser) parseAssignment(start Token) Command {
	name := p.curToken.Literal
	p.nextToken() // name
	p.nextToken() // =
	value := p.parseExpr()
	if value == nil {
		return nil
	}
	return &Assign{cmdBase: p.base(start), Name: name, Value: value}
}

// parseLet parses LET name = expr.
func (p *Parser) parseLet() Command {
	start := p.curToken
	p.nextToken() // LET
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected variable name after LET, got %s", p.curToken)
		return nil
	}
	if !p.peekTokenIs(TokenEq) {
		p.errorf("expected = after LET %s", p.curToken.Literal)
		return nil
	}
	return p.parseAssignment(start)
}

// parseSay parses SAY [expr].
func (p *Parser) parseSay() Command {
	start := p.curToken
	p.nextToken()
	return &Say{cmdBase: p.base(start), Value: p.parseOptionalExpr()}
}

// parseExprStmt parses an expression used as a statement.
func (p *Parser) parseExprStmt() Command {
	start := p.curToken
	expr := p.parseExpr()
	if expr == nil {
		return nil
	}
	return &ExprStmt{cmdBase: p.base(start), Expr: expr}
}

// parseCall parses CALL name args, CALL (var) args and CALL "path" args.
// Arguments are separated by blanks or commas.
func (p *Parser) parseCall() Command {
	start := p.curToken
	p.nextToken() // CALL

	call := &Call{}
	switch {
	case p.curTokenIs(TokenLParen):
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected variable name in CALL (...), got %s", p.curToken)
			return nil
		}
		call.Ref = p.curToken.Literal
		p.nextToken()
		if !p.expect(TokenRParen) {
			return nil
		}
	case p.curTokenIs(TokenIdentifier), p.curTokenIs(TokenString):
		call.Name = p.curToken.Literal
		p.nextToken()
	default:
		p.errorf("expected subroutine name after CALL, got %s", p.curToken)
		return nil
	}

	p.noBlank = true
	defer func() { p.noBlank = false }()
	for !p.curTokenIs(TokenEOL) && !p.curKeyword("ELSE") {
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		arg := p.parseExpr()
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)
	}

	call.cmdBase = p.base(start)
	return call
}

// parseAddress parses the ADDRESS forms:
//
//	ADDRESS                      reset
//	ADDRESS DEFAULT              reset
//	ADDRESS name                 switch
//	ADDRESS name MATCHING("re")  switch with pattern
//	ADDRESS name "text"          one-shot send
//	ADDRESS name <<MARK          one-shot heredoc send
func (p *Parser) parseAddress() Command {
	start := p.curToken
	p.nextToken() // ADDRESS

	if p.curTokenIs(TokenEOL) {
		p.matching = nil
		return &AddressSwitch{cmdBase: p.base(start)}
	}

	if !p.curTokenIs(TokenIdentifier) && !p.curTokenIs(TokenString) {
		p.errorf("expected address target, got %s", p.curToken)
		return nil
	}
	target := p.curToken.Literal
	targetTok := p.curToken
	p.nextToken()

	if targetTok.Type == TokenIdentifier && strings.EqualFold(target, "DEFAULT") && p.curTokenIs(TokenEOL) {
		p.matching = nil
		return &AddressSwitch{cmdBase: p.base(start)}
	}

	switch {
	case p.curTokenIs(TokenEOL):
		p.matching = nil
		return &AddressSwitch{cmdBase: p.base(start), Target: target}

	case p.curKeyword("MATCHING"):
		p.nextToken()
		paren := p.curTokenIs(TokenLParen)
		if paren {
			p.nextToken()
		}
		if !p.curTokenIs(TokenString) {
			p.errorf("expected pattern string after MATCHING, got %s", p.curToken)
			return nil
		}
		pattern := p.curToken.Literal
		p.nextToken()
		if paren && !p.expect(TokenRParen) {
			return nil
		}
		// An invalid pattern is not a syntax error; lines are parsed
		// as ordinary statements instead.
		if re, err := regexp.Compile(pattern); err == nil {
			p.matching = re
		} else {
			p.matching = nil
		}
		return &AddressSwitch{cmdBase: p.base(start), Target: target, Matching: pattern}

	case p.curTokenIs(TokenString):
		text := p.curToken.Literal
		p.nextToken()
		return &AddressSend{cmdBase: p.base(start), Target: target, Kind: TextQuoted, Literal: text}

	case p.curTokenIs(TokenHeredoc):
		text := p.curToken.Literal
		p.nextToken()
		return &AddressSend{cmdBase: p.base(start), Target: target, Kind: TextHeredoc, Literal: text}
	}

	p.errorf("unexpected %s in ADDRESS", p.curToken)
	return nil
}

// parseParse parses PARSE [UPPER] VAR name | VALUE expr WITH | ARG, followed
// by a template taken from the raw text of the rest of the line.
func (p *Parser) parseParse() Command {
	start := p.curToken
	p.nextToken() // PARSE

	cmd := &ParseStmt{}
	if p.curKeyword("UPPER") {
		cmd.Upper = true
		p.nextToken()
	}

	switch {
	case p.curKeyword("VAR"):
		cmd.From = ParseVar
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected variable name after PARSE VAR, got %s", p.curToken)
			return nil
		}
		cmd.Var = p.curToken.Literal
		p.nextToken()
	case p.curKeyword("VALUE"):
		cmd.From = ParseValue
		p.nextToken()
		if p.curKeyword("WITH") {
			cmd.Input = &StringLiteral{SpanVal: MakeSpan(p.curToken.Pos, p.curToken.Pos)}
		} else {
			cmd.Input = p.parseExpr()
			if cmd.Input == nil {
				return nil
			}
		}
		if !p.curKeyword("WITH") {
			p.errorf("expected WITH in PARSE VALUE, got %s", p.curToken)
			return nil
		}
		// The template starts after WITH; peekToken is its first token.
		p.nextToken()
	case p.curKeyword("ARG"):
		cmd.From = ParseArg
		p.nextToken()
	default:
		p.errorf("expected VAR, VALUE or ARG after PARSE, got %s", p.curToken)
		return nil
	}

	tmpl, err := CompileTemplate(p.restOfLine())
	if err != nil {
		p.errorf("%v", err)
		return nil
	}
	cmd.Template = tmpl
	cmd.cmdBase = p.base(start)
	p.skipLine()
	return cmd
}

// NormalizeTraceMode maps the accepted spellings of a trace mode to OFF,
// N, I, R or A.
func NormalizeTraceMode(mode string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "OFF", "O":
		return "OFF", true
	case "N", "NORMAL":
		return "N", true
	case "I", "INTERMEDIATES":
		return "I", true
	case "R", "RESULTS":
		return "R", true
	case "A", "ALL":
		return "A", true
	}
	return "", false
}

// parseTrace parses TRACE mode.
func (p *Parser) parseTrace() Command {
	start := p.curToken
	p.nextToken()

	if !p.curTokenIs(TokenIdentifier) && !p.curTokenIs(TokenString) {
		p.errorf("expected trace mode, got %s", p.curToken)
		return nil
	}
	mode, ok := NormalizeTraceMode(p.curToken.Literal)
	if !ok {
		p.errorf("unknown trace mode %q", p.curToken.Literal)
		return nil
	}
	p.nextToken()
	return &Trace{cmdBase: p.base(start), Mode: mode}
}

// parseRetry parses RETRY_ON_STALE [TIMEOUT ms] [PRESERVE a, b] ... END_RETRY.
// The option keywords also accept the key=value spelling.
func (p *Parser) parseRetry() Command {
	start := p.curToken
	p.nextToken()
	if p.singleLine {
		p.errorf("RETRY_ON_STALE block not allowed here")
		return nil
	}

	cmd := &RetryBlock{}
	for !p.curTokenIs(TokenEOL) {
		switch {
		case p.curKeyword("TIMEOUT"):
			p.nextToken()
			if p.curTokenIs(TokenEq) {
				p.nextToken()
			}
			if !p.curTokenIs(TokenNumber) {
				p.errorf("expected milliseconds after TIMEOUT, got %s", p.curToken)
				return nil
			}
			ms, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
			if err != nil || ms < 0 {
				p.errorf("invalid TIMEOUT %s", p.curToken.Literal)
				return nil
			}
			cmd.TimeoutMS = ms
			p.nextToken()
		case p.curKeyword("PRESERVE"):
			p.nextToken()
			if p.curTokenIs(TokenEq) {
				p.nextToken()
			}
			for p.curTokenIs(TokenIdentifier) || p.curTokenIs(TokenComma) {
				if p.curKeyword("TIMEOUT") {
					break
				}
				if p.curTokenIs(TokenIdentifier) {
					cmd.Preserve = append(cmd.Preserve, p.curToken.Literal)
				}
				p.nextToken()
			}
		default:
			p.errorf("unexpected %s in RETRY_ON_STALE", p.curToken)
			return nil
		}
	}
	cmd.cmdBase = p.base(start)

	p.depth++
	body, ender := p.parseBlock(start.Pos.Line, "END_RETRY")
	p.depth--
	cmd.Body = body
	if ender != "" {
		p.consumeEnder("END_RETRY")
	}
	return cmd
}

// parseIf parses both IF forms:
//
//	IF cond THEN stmt [ELSE stmt]
//	IF cond THEN
//	  ...
//	[ELSE
//	  ...]
//	ENDIF
//
// In the single-line form the ELSE may also start the next line, provided
// a statement follows it on that line. In the block form ELSE IF chains
// share the final ENDIF.
func (p *Parser) parseIf() Command {
	start := p.curToken
	p.nextToken() // IF

	cond := p.parseExpr()
	if cond == nil {
		return nil
	}
	if !p.expectKeyword("THEN") {
		return nil
	}
	cmd := &If{cmdBase: p.base(start), Cond: cond}

	if p.curTokenIs(TokenEOL) {
		if p.singleLine {
			p.errorf("IF block not allowed here")
			return nil
		}
		return p.parseIfBlock(cmd, start.Pos.Line)
	}

	then := p.ParseStatement()
	if then == nil {
		return nil
	}
	cmd.Then = []Command{then}

	if p.curKeyword("ELSE") {
		p.nextToken()
		els := p.ParseStatement()
		if els == nil {
			return nil
		}
		cmd.Else = []Command{els}
		return cmd
	}

	if !p.curTokenIs(TokenEOL) || p.singleLine {
		return cmd
	}
	if i := p.nextLine(); i >= 0 {
		text := strings.TrimSpace(p.lines[i].Text)
		if firstWord(text) == "ELSE" && strings.TrimSpace(text[len("ELSE"):]) != "" {
			p.idx = i + 1
			p.loadLine(p.lines[i])
			p.nextToken() // ELSE
			els := p.ParseStatement()
			if els == nil {
				return nil
			}
			cmd.Else = []Command{els}
		}
	}
	return cmd
}

func (p *Parser) parseIfBlock(cmd *If, openLine int) Command {
	p.depth++
	defer func() { p.depth-- }()

	then, ender := p.parseBlock(openLine, "ELSE", "ENDIF")
	cmd.Then = then
	switch ender {
	case "ENDIF":
		p.consumeEnder("ENDIF")
	case "ELSE":
		ln := p.lines[p.idx]
		p.idx++
		p.loadLine(ln)
		p.nextToken() // ELSE

		if p.curKeyword("IF") {
			nested := p.parseIf()
			if nested == nil {
				return nil
			}
			cmd.Else = []Command{nested}
			return cmd
		}

		var els []Command
		if !p.curTokenIs(TokenEOL) {
			stmt := p.ParseStatement()
			if stmt == nil {
				return nil
			}
			els = append(els, stmt)
		}
		rest, end := p.parseBlock(openLine, "ENDIF")
		cmd.Else = append(els, rest...)
		if end != "" {
			p.consumeEnder("ENDIF")
		}
	}
	return cmd
}

// parseDo parses the DO forms and their body up to END.
func (p *Parser) parseDo() Command {
	start := p.curToken
	p.nextToken() // DO
	if p.singleLine {
		p.errorf("DO block not allowed here")
		return nil
	}

	cmd := &Do{}
	switch {
	case p.curTokenIs(TokenEOL):
		cmd.Kind = LoopSimple
	case p.curKeyword("FOREVER"):
		cmd.Kind = LoopForever
		p.nextToken()
	case p.curKeyword("WHILE"):
		cmd.Kind = LoopWhile
		p.nextToken()
		cmd.Cond = p.parseExpr()
	case p.curKeyword("UNTIL"):
		cmd.Kind = LoopUntil
		p.nextToken()
		cmd.Cond = p.parseExpr()
	case p.curTokenIs(TokenIdentifier) && p.peekTokenIs(TokenEq):
		cmd.Kind = LoopCounted
		cmd.Control = p.curToken.Literal
		p.nextToken()
		p.nextToken()
		cmd.From = p.parseExpr()
		for cmd.From != nil && !p.curTokenIs(TokenEOL) {
			switch {
			case p.curKeyword("TO"):
				p.nextToken()
				cmd.To = p.parseExpr()
			case p.curKeyword("BY"):
				p.nextToken()
				cmd.By = p.parseExpr()
			case p.curKeyword("FOR"):
				p.nextToken()
				cmd.For = p.parseExpr()
			default:
				p.errorf("unexpected %s in DO", p.curToken)
				return nil
			}
		}
	default:
		cmd.Kind = LoopRepeat
		cmd.Cond = p.parseExpr()
	}
	if len(p.errors) > 0 && p.errors[len(p.errors)-1].Line == p.line.Num {
		return nil
	}
	if !p.curTokenIs(TokenEOL) {
		p.errorf("unexpected %s in DO", p.curToken)
		return nil
	}
	cmd.cmdBase = p.base(start)

	p.depth++
	body, ender := p.parseBlock(start.Pos.Line, "END")
	p.depth--
	cmd.Body = body
	if ender != "" {
		p.consumeEnder("END")
	}
	return cmd
}

// parseSelect parses SELECT / WHEN cond THEN ... / OTHERWISE ... / END.
func (p *Parser) parseSelect() Command {
	start := p.curToken
	p.nextToken()
	if p.singleLine {
		p.errorf("SELECT block not allowed here")
		return nil
	}
	if !p.curTokenIs(TokenEOL) {
		p.errorf("unexpected %s after SELECT", p.curToken)
		return nil
	}
	cmd := &Select{cmdBase: p.base(start)}

	p.depth++
	defer func() { p.depth-- }()

	for {
		i := p.nextLine()
		if i < 0 {
			p.errorAt(start.Pos.Line, true, "missing END for SELECT")
			return cmd
		}
		p.idx = i
		switch firstWord(p.lines[i].Text) {
		case "END":
			p.consumeEnder("END")
			return cmd

		case "WHEN":
			p.idx++
			p.loadLine(p.lines[i])
			whenTok := p.curToken
			p.nextToken()
			cond := p.parseExpr()
			if cond == nil || !p.expectKeyword("THEN") {
				continue
			}
			when := &When{SpanVal: MakeSpan(whenTok.Pos, p.curToken.Pos), Cond: cond}
			if !p.curTokenIs(TokenEOL) {
				if stmt := p.ParseStatement(); stmt != nil {
					when.Body = []Command{stmt}
				}
				if !p.curTokenIs(TokenEOL) {
					p.errorf("unexpected %s", p.curToken)
				}
			} else {
				when.Body, _ = p.parseBlock(whenTok.Pos.Line, "WHEN", "OTHERWISE", "END")
			}
			cmd.Whens = append(cmd.Whens, when)

		case "OTHERWISE":
			p.idx++
			p.loadLine(p.lines[i])
			p.nextToken()
			cmd.HasOther = true
			if !p.curTokenIs(TokenEOL) {
				if stmt := p.ParseStatement(); stmt != nil {
					cmd.Otherwise = append(cmd.Otherwise, stmt)
				}
			}
			rest, _ := p.parseBlock(start.Pos.Line, "END")
			cmd.Otherwise = append(cmd.Otherwise, rest...)

		default:
			p.idx++
			p.loadLine(p.lines[i])
			p.errorf("expected WHEN, OTHERWISE or END in SELECT")
		}
	}
}

// parseDrop parses DROP name [name ...].
func (p *Parser) parseDrop() Command {
	start := p.curToken
	p.nextToken()
	var names []string
	for p.curTokenIs(TokenIdentifier) {
		names = append(names, p.curToken.Literal)
		p.nextToken()
	}
	if len(names) == 0 {
		p.errorf("expected variable names after DROP")
		return nil
	}
	return &Drop{cmdBase: p.base(start), Names: names}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// parseExpr parses an expression. Precedence from loosest to tightest:
// | ; & ; comparisons ; || and blank concatenation ; + - ; * / % ; ** ;
// prefix operators.
func (p *Parser) parseExpr() Expr {
	return p.parseOr()
}

func (p *Parser) parseOr() Expr {
	left := p.parseAnd()
	for left != nil && p.curTokenIs(TokenOr) {
		op := p.curToken
		p.nextToken()
		right := p.parseAnd()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, op.Pos), Op: "|", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() Expr {
	left := p.parseComparison()
	for left != nil && p.curTokenIs(TokenAnd) {
		op := p.curToken
		p.nextToken()
		right := p.parseComparison()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, op.Pos), Op: "&", Left: left, Right: right}
	}
	return left
}

var comparisonOps = map[TokenType]string{
	TokenEq:       "=",
	TokenStrictEq: "==",
	TokenNe:       "\\=",
	TokenLt:       "<",
	TokenGt:       ">",
	TokenLe:       "<=",
	TokenGe:       ">=",
}

func (p *Parser) parseComparison() Expr {
	left := p.parseConcat()
	for left != nil {
		op, ok := comparisonOps[p.curToken.Type]
		if !ok {
			break
		}
		opTok := p.curToken
		p.nextToken()
		right := p.parseConcat()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, opTok.Pos), Op: op, Left: left, Right: right}
	}
	return left
}

// startsTerm reports whether the current token can begin an operand, which
// is what triggers blank or abuttal concatenation.
func (p *Parser) startsTerm() bool {
	switch p.curToken.Type {
	case TokenNumber, TokenString, TokenHeredoc, TokenLParen:
		return true
	case TokenIdentifier:
		return !stopWords[strings.ToUpper(p.curToken.Literal)]
	}
	return false
}

func (p *Parser) parseConcat() Expr {
	left := p.parseAdditive()
	for left != nil {
		var op string
		switch {
		case p.curTokenIs(TokenConcat):
			op = "||"
			p.nextToken()
		case p.startsTerm() && !p.curToken.SpaceBefore:
			op = "||" // abuttal
		case p.startsTerm() && !p.noBlank:
			op = OpBlankConcat
		default:
			return left
		}
		opPos := p.curToken.Pos
		right := p.parseAdditive()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, opPos), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() Expr {
	left := p.parseMultiplicative()
	for left != nil && (p.curTokenIs(TokenPlus) || p.curTokenIs(TokenMinus)) {
		op := p.curToken
		p.nextToken()
		right := p.parseMultiplicative()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, op.Pos), Op: op.Literal, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() Expr {
	left := p.parsePower()
	for left != nil && (p.curTokenIs(TokenStar) || p.curTokenIs(TokenSlash) || p.curTokenIs(TokenPercent)) {
		op := p.curToken
		p.nextToken()
		right := p.parsePower()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, op.Pos), Op: op.Literal, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parsePower() Expr {
	left := p.parsePrefix()
	for left != nil && p.curTokenIs(TokenPower) {
		op := p.curToken
		p.nextToken()
		right := p.parsePrefix()
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: MakeSpan(left.Span().Start, op.Pos), Op: "**", Left: left, Right: right}
	}
	return left
}

func (p *Parser) parsePrefix() Expr {
	switch p.curToken.Type {
	case TokenMinus, TokenPlus, TokenNot:
		op := p.curToken
		p.nextToken()
		operand := p.parsePrefix()
		if operand == nil {
			return nil
		}
		return &UnaryExpr{SpanVal: MakeSpan(op.Pos, operand.Span().End), Op: op.Type, Operand: operand}
	}
	return p.parsePrimary()
}

// parsePrimary parses literals, variables, function calls and
// parenthesized expressions.
func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenNumber:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf("invalid number %q", tok.Literal)
			return nil
		}
		return &NumberLiteral{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Value: v, Text: tok.Literal}

	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Value: tok.Literal}

	case TokenHeredoc:
		p.nextToken()
		return &StringLiteral{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Value: tok.Literal, Heredoc: true}

	case TokenIdentifier:
		if p.peekTokenIs(TokenLParen) && !p.peekToken.SpaceBefore {
			return p.parseFunctionCall()
		}
		p.nextToken()
		return &Variable{SpanVal: MakeSpan(tok.Pos, p.curToken.Pos), Name: tok.Literal}

	case TokenLParen:
		p.nextToken()
		saved := p.noBlank
		p.noBlank = false
		inner := p.parseExpr()
		p.noBlank = saved
		if inner == nil {
			return nil
		}
		if !p.expect(TokenRParen) {
			return nil
		}
		return inner

	case TokenError:
		p.errorf("%s", tok.Literal)
		return nil

	case TokenEOL:
		p.errorf("unexpected end of line")
		return nil
	}

	p.errorf("unexpected %s", tok)
	return nil
}

// parseFunctionCall parses name(arg, ...).
func (p *Parser) parseFunctionCall() Expr {
	tok := p.curToken
	p.nextToken() // name
	p.nextToken() // (

	saved := p.noBlank
	p.noBlank = false
	defer func() { p.noBlank = saved }()

	call := &FunctionCall{Name: tok.Literal}
	for !p.curTokenIs(TokenRParen) {
		arg := p.parseExpr()
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		if !p.curTokenIs(TokenRParen) {
			p.errorf("expected , or ) in call to %s, got %s", tok.Literal, p.curToken)
			return nil
		}
	}
	p.nextToken() // )
	call.SpanVal = MakeSpan(tok.Pos, p.curToken.Pos)
	return call
}
