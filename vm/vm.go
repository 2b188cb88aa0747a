package vm

import (
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rexx.vm")

// Defaults for interpreter configuration.
const (
	DefaultMaxCallDepth = 256
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultRetryTimeout = 5 * time.Second
)

// Config holds interpreter settings. Options fill it in; New applies the
// defaults for anything left unset.
type Config struct {
	Output         io.Writer
	Targets        *TargetRegistry
	Builtins       *Builtins
	Runner         ScriptRunner
	Tracer         *Tracer
	TraceMode      string
	TraceCapacity  int
	RetryBackoff   time.Duration
	RetryTimeout   time.Duration
	MaxCallDepth   int
	Strict         bool
	DefaultAddress string
	Filename       string
	SearchDirs     []string
}

// Option configures an Interpreter.
type Option func(*Config)

// WithOutput sets the writer SAY prints to. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Config) { c.Output = w }
}

// WithTargets shares a target registry with the interpreter.
func WithTargets(r *TargetRegistry) Option {
	return func(c *Config) { c.Targets = r }
}

// WithBuiltins replaces the built-in function registry.
func WithBuiltins(b *Builtins) Option {
	return func(c *Config) { c.Builtins = b }
}

// WithScriptRunner sets the host hook that runs external scripts.
func WithScriptRunner(r ScriptRunner) Option {
	return func(c *Config) { c.Runner = r }
}

// WithTrace sets the initial trace mode and buffer capacity.
func WithTrace(mode string, capacity int) Option {
	return func(c *Config) {
		c.TraceMode = mode
		c.TraceCapacity = capacity
	}
}

// WithTracer shares an existing tracer.
func WithTracer(t *Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}

// WithRetryBackoff sets the wait between retry attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *Config) { c.RetryBackoff = d }
}

// WithRetryTimeout sets the deadline for retry blocks without TIMEOUT.
func WithRetryTimeout(d time.Duration) Option {
	return func(c *Config) { c.RetryTimeout = d }
}

// WithMaxCallDepth limits subroutine nesting.
func WithMaxCallDepth(n int) Option {
	return func(c *Config) { c.MaxCallDepth = n }
}

// WithStrictVariables makes reading an unbound variable an error instead
// of yielding the variable's name.
func WithStrictVariables(strict bool) Option {
	return func(c *Config) { c.Strict = strict }
}

// WithDefaultAddress starts the interpreter routed to target.
func WithDefaultAddress(target string) Option {
	return func(c *Config) { c.DefaultAddress = target }
}

// WithFilename names the script for error rendering and relative external
// script lookup.
func WithFilename(name string) Option {
	return func(c *Config) { c.Filename = name }
}

// WithSearchDirs sets the directories searched for external scripts by the
// default script runner.
func WithSearchDirs(dirs ...string) Option {
	return func(c *Config) { c.SearchDirs = append([]string(nil), dirs...) }
}

func (c *Config) applyDefaults() {
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Targets == nil {
		c.Targets = NewTargetRegistry()
	}
	if c.Builtins == nil {
		c.Builtins = DefaultBuiltins()
	}
	if c.Runner == nil {
		c.Runner = &FileScriptRunner{Dirs: c.SearchDirs}
	}
	if c.TraceMode == "" {
		c.TraceMode = "OFF"
	}
	if c.Tracer == nil {
		c.Tracer = NewTracer(c.TraceMode, c.TraceCapacity)
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = DefaultMaxCallDepth
	}
}
