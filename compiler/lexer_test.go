package compiler

import (
	"testing"
)

func TestLexerOperators(t *testing.T) {
	input := `( ) , : + - * / % ** || | & && \ ! = == \= != <> < > <= >= .`
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenComma, ","},
		{TokenColon, ":"},
		{TokenPlus, "+"},
		{TokenMinus, "-"},
		{TokenStar, "*"},
		{TokenSlash, "/"},
		{TokenPercent, "%"},
		{TokenPower, "**"},
		{TokenConcat, "||"},
		{TokenOr, "|"},
		{TokenAnd, "&"},
		{TokenAnd, "&&"},
		{TokenNot, "\\"},
		{TokenNot, "!"},
		{TokenEq, "="},
		{TokenStrictEq, "=="},
		{TokenNe, "\\="},
		{TokenNe, "\\="},
		{TokenNe, "<>"},
		{TokenLt, "<"},
		{TokenGt, ">"},
		{TokenLe, "<="},
		{TokenGe, ">="},
		{TokenPeriod, "."},
		{TokenEOL, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenNumber, "42"},
		{"3.14", TokenNumber, "3.14"},
		{".5", TokenNumber, ".5"},
		{"1e6", TokenNumber, "1e6"},
		{"2.5E-3", TokenNumber, "2.5E-3"},
		{"1st", TokenIdentifier, "1st"},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != tc.typ || tok.Literal != tc.want {
			t.Errorf("Lexer(%q) = %v, want %v(%q)", tc.input, tok, tc.typ, tc.want)
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`'hello'`, "hello"},
		{"`hello`", "hello"},
		{`'it''s'`, "it's"},
		{`"say ""hi"""`, `say "hi"`},
		{`"it's"`, "it's"},
		{`''`, ""},
		{`"no \n escapes"`, `no \n escapes`},
	}

	for _, tc := range tests {
		tok := NewLexer(tc.input).NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%q): type = %v, want STRING", tc.input, tok.Type)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}

	if tok := NewLexer(`"open`).NextToken(); tok.Type != TokenError {
		t.Errorf("unterminated string: got %v", tok)
	}
}

func TestLexerIdentifiers(t *testing.T) {
	tests := []string{"foo", "ARG.1", "stem.i.j", "_private", "$sys", "snake_case", "Caf\u00e9", "Cafe\u0301"}
	for _, input := range tests {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenIdentifier || tok.Literal != input {
			t.Errorf("Lexer(%q) = %v", input, tok)
		}
	}
}

func TestLexerSpaceBefore(t *testing.T) {
	toks := Tokenize(`a "b"'c' d(1)`)
	want := []struct {
		lit   string
		space bool
	}{
		{"a", false},
		{"b", true},
		{"c", false},
		{"d", true},
		{"(", false},
		{"1", false},
		{")", false},
	}
	for i, w := range want {
		if toks[i].Literal != w.lit || toks[i].SpaceBefore != w.space {
			t.Errorf("token[%d] = %v space=%v, want %q space=%v", i, toks[i], toks[i].SpaceBefore, w.lit, w.space)
		}
	}
}

func TestLexerPositions(t *testing.T) {
	toks := Tokenize("x = 10")
	if toks[2].Pos.Column != 5 || toks[2].Pos.Offset != 4 {
		t.Errorf("position of 10 = %+v", toks[2].Pos)
	}
}

func TestLexerUnexpectedCharacter(t *testing.T) {
	toks := Tokenize("x ; y")
	last := toks[len(toks)-1]
	if last.Type != TokenError {
		t.Errorf("expected ERROR token, got %v", last)
	}
}

// ---- Source lines ----

func TestSplitLinesComments(t *testing.T) {
	src := "a = 1 -- trailing\nb = '--not a comment' // gone\n/* start\nstill comment\nend */ c = 3\nd = \"/* kept */\""
	lines, err := splitLines(src)
	if err != nil {
		t.Fatalf("splitLines: %v", err)
	}
	want := []string{"a = 1", "b = '--not a comment'", "", "", "  c = 3", `d = "/* kept */"`}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines", len(lines))
	}
	for i, w := range want {
		if lines[i].Text != w {
			t.Errorf("line %d = %q, want %q", i+1, lines[i].Text, w)
		}
		if lines[i].Num != i+1 {
			t.Errorf("line %d numbered %d", i+1, lines[i].Num)
		}
	}
}

func TestSplitLinesHeredoc(t *testing.T) {
	src := "x = <<EOT\n  first\nsecond -- not a comment\n  EOT\ny = 1"
	lines, err := splitLines(src)
	if err != nil {
		t.Fatalf("splitLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 logical lines, got %d", len(lines))
	}
	if body := lines[0].Heredocs["EOT"]; body != "  first\nsecond -- not a comment" {
		t.Errorf("heredoc body = %q", body)
	}
	if lines[1].Num != 5 {
		t.Errorf("line after heredoc numbered %d", lines[1].Num)
	}
}

func TestSplitLinesIncomplete(t *testing.T) {
	for _, src := range []string{"x = <<EOT\nbody", "/* never closed\nx = 1"} {
		_, err := splitLines(src)
		if err == nil || !err.Incomplete {
			t.Errorf("%q: expected incomplete error, got %v", src, err)
		}
	}
}
