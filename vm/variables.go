package vm

import (
	"sort"
	"strconv"
	"strings"
)

// Reserved variable names.
const (
	VarResult = "RESULT"
	VarRC     = "RC"
	VarArg    = "ARG"
)

// ArgName returns the name of the n-th positional argument variable.
func ArgName(n int) string {
	return VarArg + "." + strconv.Itoa(n)
}

// Variables is the single flat variable environment shared by main code and
// every subroutine it calls. Names are case-sensitive.
type Variables struct {
	m map[string]Value
}

// NewVariables returns an empty environment.
func NewVariables() *Variables {
	return &Variables{m: make(map[string]Value)}
}

// Get returns the value bound to name exactly as written.
func (vs *Variables) Get(name string) (Value, bool) {
	v, ok := vs.m[name]
	return v, ok
}

// Set binds name. Binding the undefined value removes the name.
func (vs *Variables) Set(name string, v Value) {
	if v.IsUndefined() {
		delete(vs.m, name)
		return
	}
	vs.m[name] = v
}

// Delete unbinds name.
func (vs *Variables) Delete(name string) {
	delete(vs.m, name)
}

// Len returns the number of bound names.
func (vs *Variables) Len() int {
	return len(vs.m)
}

// Names returns the bound names in sorted order.
func (vs *Variables) Names() []string {
	names := make([]string, 0, len(vs.m))
	for k := range vs.m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a deep copy of every binding.
func (vs *Variables) Snapshot() map[string]Value {
	out := make(map[string]Value, len(vs.m))
	for k, v := range vs.m {
		out[k] = v.Copy()
	}
	return out
}

// Load binds every entry of m.
func (vs *Variables) Load(m map[string]Value) {
	for k, v := range m {
		vs.Set(k, v)
	}
}

// Resolve applies tail substitution to a compound name: every segment after
// the stem that names a bound variable is replaced by that variable's value.
// stem.i with i = 3 resolves to stem.3.
func (vs *Variables) Resolve(name string) string {
	dot := strings.IndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return name
	}
	parts := strings.Split(name[dot+1:], ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if v, ok := vs.m[p]; ok {
			parts[i] = v.String()
		}
	}
	return name[:dot+1] + strings.Join(parts, ".")
}

// Lookup finds the value of a possibly compound name. The resolved compound
// name is tried first; failing that, a record or array bound to the stem is
// walked segment by segment, so cfg.host reads the host field of cfg.
func (vs *Variables) Lookup(name string) (Value, bool) {
	if v, ok := vs.m[name]; ok {
		return v, true
	}
	resolved := vs.Resolve(name)
	if v, ok := vs.m[resolved]; ok {
		return v, true
	}

	dot := strings.IndexByte(resolved, '.')
	if dot <= 0 {
		return Undefined, false
	}
	cur, ok := vs.m[resolved[:dot]]
	if !ok {
		return Undefined, false
	}
	for _, seg := range strings.Split(resolved[dot+1:], ".") {
		switch cur.Kind() {
		case KindRecord:
			cur, ok = cur.Field(seg)
		case KindArray:
			n, err := strconv.Atoi(seg)
			if err != nil {
				return Undefined, false
			}
			cur, ok = cur.Index(n)
		default:
			ok = false
		}
		if !ok {
			return Undefined, false
		}
	}
	return cur, true
}

// Assign binds a possibly compound name after tail substitution.
func (vs *Variables) Assign(name string, v Value) {
	vs.Set(vs.Resolve(name), v)
}

// DropArgs removes every ARG.n binding.
func (vs *Variables) DropArgs() {
	prefix := VarArg + "."
	for k := range vs.m {
		if strings.HasPrefix(k, prefix) {
			delete(vs.m, k)
		}
	}
}

// BindArgs replaces the positional arguments with args and sets ARG.0.
func (vs *Variables) BindArgs(args []Value) {
	vs.DropArgs()
	for n, a := range args {
		vs.m[ArgName(n+1)] = a
	}
	vs.m[ArgName(0)] = Num(float64(len(args)))
}
