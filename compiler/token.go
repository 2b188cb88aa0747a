package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Token types for the line lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOL TokenType = iota // end of the logical line
	TokenError

	// Literals
	TokenNumber     // 42, 3.14, 1e6
	TokenString     // "hello", 'hello', `hello`
	TokenHeredoc    // <<NAME ... NAME
	TokenIdentifier // foo, ARG.1, stem.i

	// Operators
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenPercent  // %
	TokenPower    // **
	TokenConcat   // ||
	TokenOr       // |
	TokenAnd      // & or &&
	TokenNot      // \ or !
	TokenEq       // =
	TokenStrictEq // ==
	TokenNe       // \= != <>
	TokenLt       // <
	TokenGt       // >
	TokenLe       // <=
	TokenGe       // >=

	// Delimiters
	TokenLParen // (
	TokenRParen // )
	TokenComma  // ,
	TokenColon  // :
	TokenPeriod // . standing alone
)

var tokenNames = map[TokenType]string{
	TokenEOL:        "EOL",
	TokenError:      "ERROR",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenHeredoc:    "HEREDOC",
	TokenIdentifier: "IDENTIFIER",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenPercent:    "%",
	TokenPower:      "**",
	TokenConcat:     "||",
	TokenOr:         "|",
	TokenAnd:        "&",
	TokenNot:        "\\",
	TokenEq:         "=",
	TokenStrictEq:   "==",
	TokenNe:         "\\=",
	TokenLt:         "<",
	TokenGt:         ">",
	TokenLe:         "<=",
	TokenGe:         ">=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenPeriod:     ".",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text, or the decoded value for strings and heredocs
	Pos     Position // start position
	// SpaceBefore is set when whitespace separates this token from the
	// previous one. Blank concatenation and CALL argument splitting use it.
	SpaceBefore bool
}

func (t Token) String() string {
	if t.Type == TokenEOL {
		return "EOL"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// IsKeyword reports whether the token is the identifier kw, ignoring case.
func (t Token) IsKeyword(kw string) bool {
	return t.Type == TokenIdentifier && strings.EqualFold(t.Literal, kw)
}

// stopWords end an expression when they appear where blank concatenation
// would otherwise continue it.
var stopWords = map[string]bool{
	"THEN":  true,
	"ELSE":  true,
	"WITH":  true,
	"TO":    true,
	"BY":    true,
	"FOR":   true,
	"WHILE": true,
	"UNTIL": true,
}

// blockEnders are keywords that close or divide a block. A line beginning
// with one of them is never treated as an ADDRESS MATCHING candidate.
var blockEnders = map[string]bool{
	"END":       true,
	"ENDIF":     true,
	"ELSE":      true,
	"END_RETRY": true,
	"WHEN":      true,
	"OTHERWISE": true,
}

// blockOpeners start a construct that spans lines, so a line beginning with
// one is always parsed as a statement.
var blockOpeners = map[string]bool{
	"DO":             true,
	"IF":             true,
	"SELECT":         true,
	"RETRY_ON_STALE": true,
}

// IsQuote reports whether r opens a string literal.
func IsQuote(r rune) bool {
	return r == '"' || r == '\'' || r == '`'
}
