package vm

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Target registration
// ---------------------------------------------------------------------------

// Meta kinds.
const (
	MetaMessage = "message" // free text: ADDRESS literal, matched line, bare string
	MetaCommand = "command" // a function-call statement routed to the target
)

// Meta describes one dispatch to an ADDRESS target.
type Meta struct {
	Target   string
	Kind     string // MetaMessage or MetaCommand
	Method   string // command name for MetaCommand
	Params   []Value
	Pattern  string // active MATCHING pattern for matched lines
	Line     int
	Source   string
	Filename string
	Metadata map[string]string // registration metadata
}

// Result is what a target reports back. RC becomes the RC variable and a
// defined Value becomes RESULT.
type Result struct {
	RC      int
	Value   Value
	Message string
}

// Target handles messages routed to a registered ADDRESS name. vars is a
// snapshot of every bound variable, taken by value; message is passed
// exactly as written in the script.
type Target interface {
	Handle(ctx context.Context, message string, vars map[string]Value, meta Meta) (Result, error)
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, message string, vars map[string]Value, meta Meta) (Result, error)

// Handle calls f.
func (f TargetFunc) Handle(ctx context.Context, message string, vars map[string]Value, meta Meta) (Result, error) {
	return f(ctx, message, vars, meta)
}

// Registration is a registered ADDRESS target. Methods and Metadata are
// not interpreted; they are kept for discovery by host tooling.
type Registration struct {
	Name     string
	Handler  Target
	Methods  []string
	Metadata map[string]string
}

// TargetRegistry holds the ADDRESS targets registered by the host. Names
// are matched without regard to case. It is safe for concurrent use.
type TargetRegistry struct {
	mu      sync.RWMutex
	targets map[string]*Registration
}

// NewTargetRegistry returns an empty registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[string]*Registration)}
}

// Register adds or replaces a target.
func (r *TargetRegistry) Register(name string, handler Target, methods []string, metadata map[string]string) *Registration {
	reg := &Registration{
		Name:     name,
		Handler:  handler,
		Methods:  append([]string(nil), methods...),
		Metadata: metadata,
	}
	r.mu.Lock()
	r.targets[strings.ToLower(name)] = reg
	r.mu.Unlock()
	log.Debugf("registered address target %s", name)
	return reg
}

// Unregister removes a target.
func (r *TargetRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.targets, strings.ToLower(name))
	r.mu.Unlock()
}

// Lookup returns the registration for name.
func (r *TargetRegistry) Lookup(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.targets[strings.ToLower(name)]
	return reg, ok
}

// Registrations returns every registration sorted by name.
func (r *TargetRegistry) Registrations() []*Registration {
	r.mu.RLock()
	out := make([]*Registration, 0, len(r.targets))
	for _, reg := range r.targets {
		out = append(out, reg)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// ---------------------------------------------------------------------------
// Router
// ---------------------------------------------------------------------------

// Router holds the ADDRESS state: Default, or Routed to a target with an
// optional MATCHING pattern. Each ADDRESS command replaces the state
// wholesale.
type Router struct {
	registry   *TargetRegistry
	target     string
	pattern    *regexp.Regexp
	patternSrc string
}

// NewRouter returns a router in the Default state.
func NewRouter(registry *TargetRegistry) *Router {
	return &Router{registry: registry}
}

// Routed reports whether a target is active.
func (r *Router) Routed() bool { return r.target != "" }

// Target returns the active target name, or "" in the Default state.
func (r *Router) Target() string { return r.target }

// Pattern returns the active MATCHING pattern source. It is empty when no
// pattern is set or the pattern failed to compile.
func (r *Router) Pattern() string { return r.patternSrc }

// Switch routes to target. An invalid pattern leaves the router routed
// without a pattern.
func (r *Router) Switch(target, matching string) {
	r.target = target
	r.pattern = nil
	r.patternSrc = ""
	if matching == "" {
		return
	}
	re, err := regexp.Compile(matching)
	if err != nil {
		log.Warningf("invalid MATCHING pattern for %s, lines run as statements: %v", target, err)
		return
	}
	r.pattern = re
	r.patternSrc = matching
}

// Reset returns the router to the Default state.
func (r *Router) Reset() {
	r.target = ""
	r.pattern = nil
	r.patternSrc = ""
}

// Match applies the active pattern to a raw line. The message is the first
// capture group, or the remainder after the match when the pattern has no
// groups.
func (r *Router) Match(raw string) (string, bool) {
	if r.pattern == nil {
		return "", false
	}
	loc := r.pattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return "", false
	}
	if len(loc) >= 4 && loc[2] >= 0 {
		return raw[loc[2]:loc[3]], true
	}
	return strings.TrimLeft(raw[loc[1]:], " \t"), true
}

// Dispatch hands message to the named target. Handler errors are returned
// unchanged.
func (r *Router) Dispatch(ctx context.Context, target, message string, vars map[string]Value, meta Meta) (Result, error) {
	reg, ok := r.registry.Lookup(target)
	if !ok {
		return Result{}, &NotFoundError{Kind: "address target", Name: target}
	}
	meta.Target = reg.Name
	meta.Metadata = reg.Metadata
	return reg.Handler.Handle(ctx, message, vars, meta)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_@#$][A-Za-z0-9_@#$.]*)\}`)

// Interpolate replaces {name} placeholders with the values of bound
// variables. Unbound placeholders are left as written. The router never
// calls it; handlers that want substitution do.
func Interpolate(message string, vars map[string]Value) string {
	return ExpandPlaceholders(message, func(name string) (string, bool) {
		if v, ok := vars[name]; ok {
			return v.String(), true
		}
		return "", false
	})
}

// ExpandPlaceholders replaces each {name} placeholder with repl(name).
// Placeholders for which repl reports false are kept as written.
func ExpandPlaceholders(message string, repl func(name string) (string, bool)) string {
	return placeholder.ReplaceAllStringFunc(message, func(m string) string {
		if s, ok := repl(m[1 : len(m)-1]); ok {
			return s
		}
		return m
	})
}
