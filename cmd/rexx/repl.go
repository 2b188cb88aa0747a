package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/rexx/compiler"
	"github.com/chazu/rexx/vm"
)

// runREPL reads statements until EOF. Input that opens a block keeps
// reading with a continuation prompt until the block is closed. Variables
// persist between inputs.
func runREPL(ctx context.Context, in *vm.Interpreter, out io.Writer) {
	fmt.Fprintln(out, "rexx REPL (type 'exit' to quit, ':help' for commands)")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	history := historyPath()
	if history != "" {
		if f, err := os.Open(history); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	var pending strings.Builder
	for {
		prompt := ">> "
		if pending.Len() > 0 {
			prompt = ".. "
		}
		text, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			pending.Reset()
			continue
		}
		if err != nil {
			break
		}

		if pending.Len() == 0 {
			trimmed := strings.TrimSpace(text)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
			if strings.HasPrefix(trimmed, ":") {
				handleREPLCommand(in, out, trimmed)
				continue
			}
		}

		if pending.Len() > 0 {
			pending.WriteString("\n")
		}
		pending.WriteString(text)

		prog, more, err := parseInput(pending.String())
		if more {
			continue
		}
		line.AppendHistory(pending.String())
		pending.Reset()
		if err != nil {
			reportError(out, err)
			continue
		}

		result, err := in.Run(ctx, prog)
		if err != nil {
			reportError(out, err)
			in.Resume()
			continue
		}
		if !result.IsUndefined() {
			fmt.Fprintf(out, "=> %s\n", result.String())
		}
	}

	if history != "" {
		if f, err := os.Create(history); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	fmt.Fprintln(out)
}

// parseInput parses accumulated REPL input. more reports that the input
// ends inside an open block.
func parseInput(src string) (prog []compiler.Command, more bool, err error) {
	prog, err = compiler.Parse(src)
	var syn *compiler.SyntaxError
	if errors.As(err, &syn) && syn.Incomplete {
		return nil, true, nil
	}
	return prog, false, err
}

// handleREPLCommand handles REPL meta-commands.
func handleREPLCommand(in *vm.Interpreter, out io.Writer, cmd string) {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "REPL Commands:")
		fmt.Fprintln(out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(out, "  :vars             Show bound variables")
		fmt.Fprintln(out, "  :targets          Show registered ADDRESS targets")
		fmt.Fprintln(out, "  :trace            Show the trace buffer")
		fmt.Fprintln(out, "  exit, quit        Exit REPL")
	case ":vars":
		vars := in.Vars().Snapshot()
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %s = %q\n", name, vars[name].String())
		}
	case ":targets":
		for _, r := range in.Targets().Registrations() {
			fmt.Fprintf(out, "  %s %v\n", r.Name, r.Methods)
		}
		if t := in.Router().Target(); t != "" {
			fmt.Fprintf(out, "routed to %s\n", t)
		}
	case ":trace":
		for _, e := range in.Tracer().Entries() {
			fmt.Fprintf(out, "  %4d %-12s %s\n", e.Line, e.Type, e.Message)
		}
	default:
		fmt.Fprintf(out, "Unknown command: %s (type :help)\n", cmd)
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rexx_history")
}
