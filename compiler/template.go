package compiler

import (
	"fmt"
	"strings"
)

// TemplateTokenKind identifies the parts of a PARSE template.
type TemplateTokenKind int

const (
	TemplateVar         TemplateTokenKind = iota // target variable
	TemplateLiteral                              // quoted delimiter
	TemplatePlaceholder                          // . discards a word
	TemplateVarPattern                           // (name) delimiter read from a variable
)

// TemplateToken is one element of a compiled template.
type TemplateToken struct {
	Kind TemplateTokenKind
	Text string // variable name or literal text
}

// Template is a compiled PARSE template.
type Template struct {
	Source string
	Tokens []TemplateToken
}

// Targets returns the variable and placeholder tokens in order. PARSE ARG
// binds these positionally.
func (t *Template) Targets() []TemplateToken {
	var out []TemplateToken
	for _, tok := range t.Tokens {
		if tok.Kind == TemplateVar || tok.Kind == TemplatePlaceholder {
			out = append(out, tok)
		}
	}
	return out
}

// Vars returns the names of the variables the template assigns.
func (t *Template) Vars() []string {
	var names []string
	for _, tok := range t.Tokens {
		if tok.Kind == TemplateVar {
			names = append(names, tok.Text)
		}
	}
	return names
}

// CompileTemplate tokenizes a PARSE template into variables and delimiters.
// Delimiters are quoted in any of the three quote styles; commas separate
// argument templates and are otherwise ignored.
func CompileTemplate(src string) (*Template, error) {
	t := &Template{Source: src}
	rs := []rune(src)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == ' ' || r == '\t' || r == ',':
			i++

		case IsQuote(r):
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(rs) {
				if rs[j] == r {
					if j+1 < len(rs) && rs[j+1] == r {
						sb.WriteRune(r)
						j += 2
						continue
					}
					closed = true
					break
				}
				sb.WriteRune(rs[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated delimiter in template %q", src)
			}
			t.Tokens = append(t.Tokens, TemplateToken{Kind: TemplateLiteral, Text: sb.String()})
			i = j + 1

		case r == '(':
			j := i + 1
			for j < len(rs) && rs[j] != ')' {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("missing ) in template %q", src)
			}
			name := strings.TrimSpace(string(rs[i+1 : j]))
			if !validName(name) {
				return nil, fmt.Errorf("invalid variable pattern (%s) in template", name)
			}
			t.Tokens = append(t.Tokens, TemplateToken{Kind: TemplateVarPattern, Text: name})
			i = j + 1

		case r == '.' && (i+1 >= len(rs) || rs[i+1] == ' ' || rs[i+1] == '\t' || rs[i+1] == ',' || IsQuote(rs[i+1])):
			t.Tokens = append(t.Tokens, TemplateToken{Kind: TemplatePlaceholder, Text: "."})
			i++

		case isSymbolStart(r):
			j := i
			for j < len(rs) && isSymbolChar(rs[j]) {
				j++
			}
			t.Tokens = append(t.Tokens, TemplateToken{Kind: TemplateVar, Text: string(rs[i:j])})
			i = j

		default:
			return nil, fmt.Errorf("unexpected %q in template %q", r, src)
		}
	}

	return t, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 && !isSymbolStart(r) {
			return false
		}
		if !isSymbolChar(r) {
			return false
		}
	}
	return true
}
