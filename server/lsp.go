package server

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/rexx/compiler"
	"github.com/chazu/rexx/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "rexx-lsp"

// LspServer provides editor features for scripts: syntax diagnostics,
// label definitions and references, completion and hover.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	builtins []string

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. builtins lists the function names
// offered by completion; nil means the default set.
func NewLSP(builtins []string) *LspServer {
	if builtins == nil {
		builtins = vm.BuiltinNames()
	}
	s := &LspServer{
		docs:     make(map[string]string),
		builtins: builtins,
		version:  "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "rexx LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}
	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := definition(uri, text, word)
	if len(locs) == 0 {
		return nil, nil
	}
	return locs, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	locs := references(uri, text, word)
	if params.Context.IncludeDeclaration {
		locs = append(definition(uri, text, word), locs...)
	}
	return locs, nil
}

// --- Document analysis ---

// keywordDocs describes each statement keyword for hover and completion.
var keywordDocs = map[string]string{
	"ADDRESS":        "`ADDRESS target [MATCHING(pattern)]` routes commands to a host target; `ADDRESS target \"msg\"` sends one message; `ADDRESS` alone returns to default.",
	"CALL":           "`CALL name [args]` runs a built-in, a subroutine or an external script. `CALL (var)` calls the routine named by var.",
	"DO":             "`DO [i = a TO b BY c FOR n] [WHILE c] [UNTIL c] ... END` loops.",
	"DROP":           "`DROP name...` unbinds variables.",
	"EXIT":           "`EXIT [expr]` ends the script.",
	"IF":             "`IF cond THEN stmt [ELSE stmt]`, or the block form ending in `ENDIF`.",
	"INTERPRET":      "`INTERPRET expr` runs a string as script code.",
	"ITERATE":        "`ITERATE` continues with the next loop pass.",
	"LEAVE":          "`LEAVE` exits the innermost loop.",
	"LET":            "`LET name = expr` assigns a variable.",
	"NOP":            "`NOP` does nothing.",
	"PARSE":          "`PARSE [UPPER] ARG|VAR name|VALUE expr WITH template` splits a string into variables.",
	"RETRY_ON_STALE": "`RETRY_ON_STALE [TIMEOUT ms] [PRESERVE v, ...] ... END_RETRY` repeats the block while a target reports a transient invalidation.",
	"RETURN":         "`RETURN [expr]` leaves a subroutine, setting RESULT.",
	"SAY":            "`SAY expr` prints a line.",
	"SELECT":         "`SELECT WHEN cond THEN stmt ... [OTHERWISE stmt] END` picks the first true branch.",
	"TRACE":          "`TRACE OFF|NORMAL|INTERMEDIATES|RESULTS|ALL` sets the trace mode.",
}

type labelInfo struct {
	Name string
	Line int // 1-based
}

// scanLabels returns the top-level labels of prog in source order.
func scanLabels(prog []compiler.Command) []labelInfo {
	var labels []labelInfo
	for _, cmd := range prog {
		if l, ok := cmd.(*compiler.Label); ok {
			labels = append(labels, labelInfo{Name: l.Name, Line: l.Line()})
		}
	}
	return labels
}

// documentLabels parses text and returns its labels. A document that does
// not parse has none.
func documentLabels(text string) []labelInfo {
	prog, err := compiler.Parse(text)
	if err != nil {
		return nil
	}
	return scanLabels(prog)
}

func (s *LspServer) complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	upper := strings.ToUpper(prefix)

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(strings.ToUpper(label), upper) {
			return
		}
		labelCopy := label
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &labelCopy,
		})
	}

	for _, l := range documentLabels(text) {
		add(l.Name, protocol.CompletionItemKindFunction, fmt.Sprintf("subroutine (line %d)", l.Line))
	}
	for _, name := range s.builtins {
		add(name, protocol.CompletionItemKindFunction, "built-in")
	}
	keywords := make([]string, 0, len(keywordDocs))
	for kw := range keywordDocs {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	for _, kw := range keywords {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	upper := strings.ToUpper(word)
	var value string

	for _, l := range documentLabels(text) {
		if strings.EqualFold(l.Name, word) {
			value = fmt.Sprintf("**%s** subroutine, defined at line %d", l.Name, l.Line)
			break
		}
	}
	if value == "" {
		if doc, ok := keywordDocs[upper]; ok {
			value = doc
		}
	}
	if value == "" {
		for _, name := range s.builtins {
			if name == upper {
				value = fmt.Sprintf("**%s** built-in function", name)
				break
			}
		}
	}
	if value == "" {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// definition locates the label named word.
func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	for _, l := range documentLabels(text) {
		if strings.EqualFold(l.Name, word) {
			return []protocol.Location{lineLocation(uri, text, l.Line)}
		}
	}
	return nil
}

// references finds the CALL statements naming word.
func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	re, err := regexp.Compile(`(?i)\bCALL\s+['"]?` + regexp.QuoteMeta(word) + `\b`)
	if err != nil {
		return nil
	}
	var locs []protocol.Location
	for i, line := range strings.Split(text, "\n") {
		if re.MatchString(line) {
			locs = append(locs, lineLocation(uri, text, i+1))
		}
	}
	return locs
}

// lineLocation spans the whole of the 1-based line n.
func lineLocation(uri protocol.DocumentUri, text string, n int) protocol.Location {
	lines := strings.Split(text, "\n")
	width := 0
	if n-1 < len(lines) && n >= 1 {
		width = len(lines[n-1])
	}
	line := protocol.UInteger(0)
	if n > 0 {
		line = protocol.UInteger(n - 1)
	}
	return protocol.Location{
		URI: uri,
		Range: protocol.Range{
			Start: protocol.Position{Line: line, Character: 0},
			End:   protocol.Position{Line: line, Character: protocol.UInteger(width)},
		},
	}
}

// --- Diagnostics ---

// diagnose parses text and reports the syntax error, if any.
func diagnose(text string) []protocol.Diagnostic {
	_, err := compiler.Parse(text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	line := 1
	msg := err.Error()
	if syn, ok := err.(*compiler.SyntaxError); ok {
		line = syn.Line
		msg = syn.Reason
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	loc := lineLocation("", text, line)
	return []protocol.Diagnostic{{
		Range:    loc.Range,
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}}
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '!' || ch == '?' || ch == '@' || ch == '#' || ch == '$'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	if start == end {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
