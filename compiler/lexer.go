package compiler

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Source lines: comment stripping and heredoc collection
// ---------------------------------------------------------------------------

// sourceLine is one logical line of a script after comments are removed.
// Heredoc bodies that follow the line are attached to it.
type sourceLine struct {
	Num      int    // 1-based line number in the original source
	Text     string // comment-free text, trailing whitespace trimmed
	Raw      string // physical line as written, trailing whitespace trimmed
	Heredocs map[string]string
}

var heredocStart = regexp.MustCompile(`<<([A-Za-z_][A-Za-z0-9_]*)\s*$`)

// splitLines breaks source into logical lines. Block comments may span
// lines; strings may not. A heredoc marker at the end of a line consumes the
// following raw lines up to a line holding only the marker.
func splitLines(source string) ([]sourceLine, *SyntaxError) {
	raw := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")

	var lines []sourceLine
	inBlock := false
	blockStart := 0

	for i := 0; i < len(raw); i++ {
		wasInBlock := inBlock
		text, stillInBlock := stripComments(raw[i], inBlock)
		if stillInBlock && !wasInBlock {
			blockStart = i + 1
		}
		inBlock = stillInBlock
		text = strings.TrimRight(text, " \t")

		line := sourceLine{Num: i + 1, Text: text, Raw: strings.TrimRight(raw[i], " \t\r")}

		if m := heredocStart.FindStringSubmatch(text); m != nil && !inBlock {
			marker := m[1]
			var body []string
			closed := false
			j := i + 1
			for ; j < len(raw); j++ {
				if strings.TrimSpace(raw[j]) == marker {
					closed = true
					break
				}
				body = append(body, strings.TrimRight(raw[j], "\r"))
			}
			if !closed {
				return nil, &SyntaxError{
					Line:       i + 1,
					Reason:     fmt.Sprintf("unterminated heredoc <<%s", marker),
					Incomplete: true,
				}
			}
			line.Heredocs = map[string]string{marker: strings.Join(body, "\n")}
			i = j
		}

		lines = append(lines, line)
	}

	if inBlock {
		return nil, &SyntaxError{Line: blockStart, Reason: "unterminated block comment", Incomplete: true}
	}
	return lines, nil
}

// stripComments removes --, // and /* */ comments from one physical line.
// inBlock reports whether the line starts inside a block comment; the
// second result reports whether it ends inside one.
func stripComments(line string, inBlock bool) (string, bool) {
	var sb strings.Builder
	var quote byte

	for i := 0; i < len(line); i++ {
		c := line[i]

		if inBlock {
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inBlock = false
				i++
				sb.WriteByte(' ')
			}
			continue
		}

		if quote != 0 {
			sb.WriteByte(c)
			if c == quote {
				if i+1 < len(line) && line[i+1] == quote {
					sb.WriteByte(line[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			inBlock = true
			i++
			continue
		case c == '-' && i+1 < len(line) && line[i+1] == '-':
			return sb.String(), false
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return sb.String(), false
		}
		sb.WriteByte(c)
	}

	return sb.String(), inBlock
}

// ---------------------------------------------------------------------------
// Lexer: tokenizer for a single logical line
// ---------------------------------------------------------------------------

// Lexer tokenizes one logical line.
type Lexer struct {
	input    string
	pos      int  // current position in input
	readPos  int  // reading position (after current char)
	ch       rune // current character
	line     int  // line number reported in positions
	col      int  // current column (1-based)
	heredocs map[string]string
	space    bool // whitespace skipped before the current token
}

// NewLexer creates a new lexer for a single line of input.
func NewLexer(input string) *Lexer {
	return newLineLexer(input, 1, nil)
}

func newLineLexer(input string, line int, heredocs map[string]string) *Lexer {
	l := &Lexer{
		input:    input,
		line:     line,
		heredocs: heredocs,
	}
	l.readChar()
	return l
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

func (l *Lexer) token(t TokenType, lit string, pos Position) Token {
	return Token{Type: t, Literal: lit, Pos: pos, SpaceBefore: l.space}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.space = false
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
		l.space = true
		l.readChar()
	}

	pos := l.position()

	switch {
	case l.ch == 0 && l.pos >= len(l.input):
		return l.token(TokenEOL, "", pos)

	case IsQuote(l.ch):
		return l.readString(pos)

	case l.ch == '<' && l.peekChar() == '<':
		return l.readHeredoc(pos)

	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber(pos)

	case isSymbolStart(l.ch):
		return l.readIdentifier(pos)

	case l.ch == '.':
		l.readChar()
		return l.token(TokenPeriod, ".", pos)
	}

	return l.readOperator(pos)
}

// readOperator reads punctuation and operators.
func (l *Lexer) readOperator(pos Position) Token {
	ch := l.ch
	l.readChar()

	two := func(next rune, t2 TokenType, lit2 string, t1 TokenType, lit1 string) Token {
		if l.ch == next {
			l.readChar()
			return l.token(t2, lit2, pos)
		}
		return l.token(t1, lit1, pos)
	}

	switch ch {
	case '(':
		return l.token(TokenLParen, "(", pos)
	case ')':
		return l.token(TokenRParen, ")", pos)
	case ',':
		return l.token(TokenComma, ",", pos)
	case ':':
		return l.token(TokenColon, ":", pos)
	case '+':
		return l.token(TokenPlus, "+", pos)
	case '-':
		return l.token(TokenMinus, "-", pos)
	case '/':
		return l.token(TokenSlash, "/", pos)
	case '%':
		return l.token(TokenPercent, "%", pos)
	case '*':
		return two('*', TokenPower, "**", TokenStar, "*")
	case '|':
		return two('|', TokenConcat, "||", TokenOr, "|")
	case '&':
		return two('&', TokenAnd, "&&", TokenAnd, "&")
	case '=':
		return two('=', TokenStrictEq, "==", TokenEq, "=")
	case '\\', '!':
		if l.ch == '=' {
			l.readChar()
			if l.ch == '=' {
				l.readChar()
			}
			return l.token(TokenNe, "\\=", pos)
		}
		return l.token(TokenNot, string(ch), pos)
	case '<':
		switch l.ch {
		case '=':
			l.readChar()
			return l.token(TokenLe, "<=", pos)
		case '>':
			l.readChar()
			return l.token(TokenNe, "<>", pos)
		}
		return l.token(TokenLt, "<", pos)
	case '>':
		return two('=', TokenGe, ">=", TokenGt, ">")
	}

	return l.token(TokenError, fmt.Sprintf("unexpected character: %c", ch), pos)
}

// readString reads a string literal in any of the three quote styles.
// The other two quote characters are literal inside; doubling the
// delimiting quote embeds it.
func (l *Lexer) readString(pos Position) Token {
	quote := l.ch
	l.readChar() // consume opening quote

	var sb strings.Builder
	for !(l.ch == 0 && l.pos >= len(l.input)) {
		if l.ch == quote {
			if l.peekChar() == quote {
				sb.WriteRune(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // consume closing quote
			return l.token(TokenString, sb.String(), pos)
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}

	return l.token(TokenError, "unterminated string", pos)
}

// readHeredoc reads <<NAME and substitutes the body collected for the line.
func (l *Lexer) readHeredoc(pos Position) Token {
	l.readChar() // first <
	l.readChar() // second <

	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	marker := l.input[start:l.pos]
	if marker == "" {
		return l.token(TokenError, "heredoc marker expected after <<", pos)
	}

	body, ok := l.heredocs[marker]
	if !ok {
		return l.token(TokenError, fmt.Sprintf("heredoc <<%s has no body", marker), pos)
	}
	return l.token(TokenHeredoc, body, pos)
}

// readNumber reads an integer or decimal literal with optional exponent.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	// A number glued to symbol characters is a symbol (1st, 2nd).
	if isSymbolStart(l.ch) {
		for isSymbolChar(l.ch) {
			l.readChar()
		}
		return l.token(TokenIdentifier, l.input[start:l.pos], pos)
	}

	return l.token(TokenNumber, l.input[start:l.pos], pos)
}

// readIdentifier reads a symbol. Dots are part of the symbol so compound
// names such as ARG.1 and stem.i are single tokens.
func (l *Lexer) readIdentifier(pos Position) Token {
	start := l.pos
	for isSymbolChar(l.ch) {
		l.readChar()
	}
	return l.token(TokenIdentifier, l.input[start:l.pos], pos)
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isSymbolStart(r rune) bool {
	return isLetter(r) || r == '_' || r == '$' || r == '@' || r == '#'
}

// isSymbolChar accepts combining marks so decomposed letters such as
// e + U+0301 stay inside one symbol.
func isSymbolChar(r rune) bool {
	return isSymbolStart(r) || isDigit(r) || r == '.' || unicode.IsMark(r)
}

// Tokenize returns all tokens from a single line of input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOL || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
