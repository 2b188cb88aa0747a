package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/rexx/compiler"
)

// scriptExtensions mark a CALL target as an external script.
var scriptExtensions = []string{".rexx", ".rex", ".rx"}

// IsExternalName reports whether a CALL target names an external script:
// it contains a path separator or ends in a script extension.
func IsExternalName(name string) bool {
	if strings.ContainsAny(name, `/\`) {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range scriptExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ScriptRunner runs external scripts on behalf of CALL. The returned value
// becomes the call result.
type ScriptRunner interface {
	RunScript(ctx context.Context, name string, args []Value, parent *Interpreter) (Value, error)
}

// FileScriptRunner loads scripts from the file system. Relative names are
// tried against the directory of the calling script, then each of Dirs.
// The script runs in a child interpreter that shares targets, built-ins
// and the trace buffer with its parent but has its own variables.
type FileScriptRunner struct {
	Dirs []string
}

// RunScript implements ScriptRunner.
func (r *FileScriptRunner) RunScript(ctx context.Context, name string, args []Value, parent *Interpreter) (Value, error) {
	path, err := r.Resolve(name, parent.Filename())
	if err != nil {
		return Undefined, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Undefined, fmt.Errorf("loading script %s: %w", name, err)
	}
	log.Debugf("running external script %s", path)

	prog, err := compiler.Parse(string(src))
	if err != nil {
		return Undefined, fmt.Errorf("%s: %w", path, err)
	}

	child := parent.Child(WithFilename(path))
	child.vars.BindArgs(args)
	return child.Run(ctx, prog)
}

// Resolve finds the file for name.
func (r *FileScriptRunner) Resolve(name, caller string) (string, error) {
	var candidates []string
	if filepath.IsAbs(name) {
		candidates = append(candidates, name)
	} else {
		if caller != "" {
			candidates = append(candidates, filepath.Join(filepath.Dir(caller), name))
		}
		for _, dir := range r.Dirs {
			candidates = append(candidates, filepath.Join(dir, name))
		}
		candidates = append(candidates, name)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", &NotFoundError{Kind: "script", Name: name}
}
