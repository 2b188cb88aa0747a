// rexx CLI - runs scripts, a REPL, the Connect server or the LSP
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/rexx/compiler"
	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/server"
	"github.com/chazu/rexx/targets"
	"github.com/chazu/rexx/vm"
	"github.com/chazu/rexx/vm/dist"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0-5)")
	interactive := flag.Bool("i", false, "Start interactive REPL")
	code := flag.String("e", "", "Run the given source instead of a file")
	trace := flag.String("trace", "", "Initial trace mode: OFF, N, I, R or A")
	traceOut := flag.String("trace-out", "", "Write a CBOR snapshot (variables and trace) to this file after the run")
	address := flag.String("address", "", "Start routed to this ADDRESS target")
	serveMode := flag.Bool("serve", false, "Start the Connect server")
	servePort := flag.Int("port", 4567, "Server port (used with -serve)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	noColor := flag.Bool("no-color", false, "Disable coloured error output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rexx [options] [script [args...]]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a script. Settings and ADDRESS targets come from the nearest rexx.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rexx                        # Run the manifest entry, or start the REPL\n")
		fmt.Fprintf(os.Stderr, "  rexx report.rexx 2024 Q1    # Run a script with ARG.1 and ARG.2\n")
		fmt.Fprintf(os.Stderr, "  rexx -e \"SAY 6 * 7\"         # Run inline source\n")
		fmt.Fprintf(os.Stderr, "  rexx -trace R -trace-out t.cbor job.rexx\n")
		fmt.Fprintf(os.Stderr, "  rexx -serve -port 8080      # Serve Run/CheckSyntax/Send/List\n")
		fmt.Fprintf(os.Stderr, "  rexx -lsp                   # Language server for editors\n")
	}
	flag.Parse()

	color.NoColor = *noColor || !isatty.IsTerminal(os.Stderr.Fd())

	if *lspMode {
		if err := server.NewLSP(nil).Run(); err != nil {
			fail("LSP error: %v", err)
		}
		os.Exit(0)
	}

	cwd, err := os.Getwd()
	if err != nil {
		fail("%v", err)
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		fail("%v", err)
	}
	configureLogging(m, *verbosity)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	registry := vm.NewTargetRegistry()
	var opts []vm.Option
	if m != nil {
		set, err := targets.RegisterAll(ctx, registry, m.Address)
		if err != nil {
			fail("%v", err)
		}
		defer set.Close()
		opts = append(opts, m.InterpreterOptions()...)
	}
	if *trace != "" {
		mode, ok := compiler.NormalizeTraceMode(*trace)
		if !ok {
			fail("unknown trace mode %q", *trace)
		}
		opts = append(opts, vm.WithTrace(mode, 0))
	}
	if *address != "" {
		opts = append(opts, vm.WithDefaultAddress(*address))
	}

	if *serveMode {
		srv := server.New(registry, opts...)
		defer srv.Stop()
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", *servePort)); err != nil {
			fail("Server error: %v", err)
		}
		return
	}

	opts = append(opts, vm.WithTargets(registry))

	args := flag.Args()
	var (
		filename string
		source   string
	)
	switch {
	case *code != "":
		filename, source = "<command line>", *code
	case len(args) > 0:
		filename, args = args[0], args[1:]
		data, err := os.ReadFile(filename)
		if err != nil {
			fail("%v", err)
		}
		source = string(data)
	case m != nil && m.EntryPath() != "" && !*interactive:
		filename = m.EntryPath()
		data, err := os.ReadFile(filename)
		if err != nil {
			fail("%v", err)
		}
		source = string(data)
	default:
		runREPL(ctx, vm.New(opts...), os.Stdout)
		return
	}

	if filename != "<command line>" {
		// External CALLs resolve relative to the script's own directory first.
		opts = append(opts, vm.WithSearchDirs(searchDirs(m, filename)...))
	}
	in := vm.New(opts...)
	in.Vars().BindArgs(argValues(args))

	result, runErr := in.RunSource(ctx, filename, source)
	if *traceOut != "" {
		if err := writeSnapshot(*traceOut, dist.Capture(in, result, runErr)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	if runErr != nil {
		reportError(os.Stderr, runErr)
		os.Exit(1)
	}

	if *interactive {
		runREPL(ctx, in, os.Stdout)
		return
	}
	os.Exit(exitCode(result))
}

// configureLogging applies the [log] section, letting -v raise verbosity.
func configureLogging(m *manifest.Manifest, verbosity int) {
	var path *string
	if m != nil {
		if m.Log.Verbosity > verbosity {
			verbosity = m.Log.Verbosity
		}
		if m.Log.Path != "" {
			path = &m.Log.Path
		}
	}
	commonlog.Configure(verbosity, path)
}

// searchDirs lists the script's directory followed by the manifest's
// source dirs.
func searchDirs(m *manifest.Manifest, script string) []string {
	dirs := []string{filepath.Dir(script)}
	if m != nil {
		dirs = append(dirs, m.SourceDirPaths()...)
	}
	return dirs
}

func argValues(args []string) []vm.Value {
	vals := make([]vm.Value, len(args))
	for i, a := range args {
		vals[i] = vm.Str(a)
	}
	return vals
}

// exitCode maps a script result to a process exit status. Whole numbers
// in range are used as-is; anything else exits 0.
func exitCode(result vm.Value) int {
	n, ok := result.Number()
	if !ok || result.Kind() != vm.KindNumber || n != math.Trunc(n) || n < 0 || n > 255 {
		return 0
	}
	return int(n)
}

func writeSnapshot(path string, s *dist.Snapshot) error {
	data, err := dist.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// reportError prints the context frame chain of a failed run.
func reportError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	var ex *vm.ExecutionError
	if errors.As(err, &ex) {
		text := ex.Render()
		if i := strings.LastIndexByte(text, '\n'); i >= 0 {
			color.New(color.Faint).Fprint(w, text[:i+1])
			text = text[i+1:]
		}
		red.Fprintln(w, text)
		return
	}
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

func fail(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
