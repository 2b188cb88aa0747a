package vm

import (
	"context"
	"strings"
	"unicode"

	"github.com/chazu/rexx/compiler"
)

// ---------------------------------------------------------------------------
// PARSE template engine
// ---------------------------------------------------------------------------

// binding is one template target and the text it received.
type binding struct {
	Name        string
	Value       string
	Placeholder bool
}

// ParseTemplate splits input according to template and returns the text
// each template variable receives. (var) patterns match the empty string
// here since no variables are in scope; the interpreter resolves them
// against the live environment.
func ParseTemplate(input, template string) (map[string]string, error) {
	t, err := compiler.CompileTemplate(template)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, b := range matchTemplate(input, t.Tokens, func(string) string { return "" }) {
		if !b.Placeholder {
			out[b.Name] = b.Value
		}
	}
	return out, nil
}

// matchTemplate walks the template left to right. Targets accumulate until
// a delimiter is reached; the text between the cursor and the delimiter is
// then shared among them. A delimiter that does not occur hands the rest of
// the input to the pending targets.
func matchTemplate(input string, toks []compiler.TemplateToken, patternValue func(name string) string) []binding {
	var (
		out     []binding
		pending []compiler.TemplateToken
		cursor  int
	)

	for _, tok := range toks {
		switch tok.Kind {
		case compiler.TemplateVar, compiler.TemplatePlaceholder:
			pending = append(pending, tok)
			continue
		}

		delim := tok.Text
		if tok.Kind == compiler.TemplateVarPattern {
			delim = patternValue(tok.Text)
		}

		var segment string
		idx := -1
		if delim != "" {
			idx = strings.Index(input[cursor:], delim)
		}
		if idx < 0 {
			segment = input[cursor:]
			cursor = len(input)
		} else {
			segment = input[cursor : cursor+idx]
			cursor += idx + len(delim)
		}
		out = append(out, splitSegment(pending, segment)...)
		pending = nil
	}

	if len(pending) > 0 {
		out = append(out, splitSegment(pending, input[cursor:])...)
	}
	return out
}

// splitSegment assigns a segment to targets. A lone target takes the whole
// segment; otherwise each target but the last takes one blank-delimited
// word and the last takes what remains.
func splitSegment(targets []compiler.TemplateToken, segment string) []binding {
	out := make([]binding, 0, len(targets))
	rest := segment
	for k, t := range targets {
		b := binding{Name: t.Text, Placeholder: t.Kind == compiler.TemplatePlaceholder}
		if k == len(targets)-1 {
			b.Value = rest
			if len(targets) > 1 {
				b.Value = strings.TrimLeftFunc(rest, unicode.IsSpace)
			}
		} else {
			rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
			end := strings.IndexFunc(rest, unicode.IsSpace)
			if end < 0 {
				b.Value, rest = rest, ""
			} else {
				b.Value = rest[:end]
				rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)
			}
		}
		out = append(out, b)
	}
	return out
}

// execParse runs a PARSE command.
func (i *Interpreter) execParse(ctx context.Context, c *compiler.ParseStmt) error {
	line := c.Span().Start.Line

	if c.From == compiler.ParseArg {
		for k, t := range c.Template.Targets() {
			if t.Kind != compiler.TemplateVar {
				continue
			}
			s := ""
			if v, ok := i.vars.Get(ArgName(k + 1)); ok {
				s = v.String()
			}
			if c.Upper {
				s = strings.ToUpper(s)
			}
			i.assign(t.Text, Str(s), line)
		}
		return nil
	}

	var input Value
	var err error
	if c.From == compiler.ParseVar {
		input, err = i.lookup(c.Var)
	} else {
		input, err = i.eval(ctx, c.Input)
	}
	if err != nil {
		return err
	}

	text := input.String()
	if c.Upper {
		text = strings.ToUpper(text)
	}

	pattern := func(name string) string {
		if v, ok := i.vars.Lookup(name); ok {
			return v.String()
		}
		return ""
	}
	for _, b := range matchTemplate(text, c.Template.Tokens, pattern) {
		if !b.Placeholder {
			i.assign(b.Name, Str(b.Value), line)
		}
	}
	return nil
}
