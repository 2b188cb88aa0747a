package targets

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
)

func init() {
	RegisterKind("echo", func(_ context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
		return &EchoTarget{Out: os.Stdout, Prefix: def.Metadata["prefix"]}, nil, nil
	})
}

// EchoTarget prints each message with its {name} placeholders filled in.
// RESULT is the printed text.
type EchoTarget struct {
	Out    io.Writer
	Prefix string

	mu sync.Mutex
}

// Handle implements vm.Target.
func (e *EchoTarget) Handle(_ context.Context, message string, vars map[string]vm.Value, meta vm.Meta) (vm.Result, error) {
	text := vm.Interpolate(message, vars)
	if meta.Kind == vm.MetaCommand {
		text = meta.Method
		for _, p := range meta.Params {
			text += " " + p.String()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.Out, "%s%s\n", e.Prefix, text); err != nil {
		return vm.Result{}, err
	}
	return vm.Result{Value: vm.Str(text)}, nil
}
