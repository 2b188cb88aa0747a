// Package manifest handles rexx.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/rexx/compiler"
	"github.com/chazu/rexx/vm"
)

// FileName is the manifest file looked for in a project directory.
const FileName = "rexx.toml"

// Manifest represents a rexx.toml project configuration.
type Manifest struct {
	Project     Project      `toml:"project"`
	Source      Source       `toml:"source"`
	Interpreter Interpreter  `toml:"interpreter"`
	Log         Log          `toml:"log"`
	Address     []AddressDef `toml:"address"`

	// Dir is the directory containing the rexx.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures script locations. Dirs is the search path for
// external CALLs.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Interpreter holds interpreter defaults. Zero values leave the
// interpreter's own defaults in place.
type Interpreter struct {
	Trace           string `toml:"trace"`
	TraceCapacity   int    `toml:"trace-capacity"`
	RetryBackoffMS  int    `toml:"retry-backoff-ms"`
	RetryTimeoutMS  int    `toml:"retry-timeout-ms"`
	MaxCallDepth    int    `toml:"max-call-depth"`
	StrictVariables bool   `toml:"strict-variables"`
	DefaultAddress  string `toml:"default-address"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// AddressDef declares an ADDRESS target the host should register.
type AddressDef struct {
	Name     string            `toml:"name"`
	Kind     string            `toml:"kind"`
	DSN      string            `toml:"dsn"`
	URL      string            `toml:"url"`
	Methods  []string          `toml:"methods"`
	Metadata map[string]string `toml:"metadata"`
}

// Load parses and validates the rexx.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]interface{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}

	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	// Defaults
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a rexx.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// EntryPath returns the absolute path of the entry script, or "" when none
// is configured.
func (m *Manifest) EntryPath() string {
	if m.Source.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Source.Entry) {
		return m.Source.Entry
	}
	return filepath.Join(m.Dir, m.Source.Entry)
}

// InterpreterOptions converts the [interpreter] and [source] sections into
// interpreter options.
func (m *Manifest) InterpreterOptions() []vm.Option {
	cfg := m.Interpreter
	opts := []vm.Option{vm.WithSearchDirs(m.SourceDirPaths()...)}

	if cfg.Trace != "" || cfg.TraceCapacity > 0 {
		mode := "OFF"
		if norm, ok := compiler.NormalizeTraceMode(cfg.Trace); ok {
			mode = norm
		}
		opts = append(opts, vm.WithTrace(mode, cfg.TraceCapacity))
	}
	if cfg.RetryBackoffMS > 0 {
		opts = append(opts, vm.WithRetryBackoff(time.Duration(cfg.RetryBackoffMS)*time.Millisecond))
	}
	if cfg.RetryTimeoutMS > 0 {
		opts = append(opts, vm.WithRetryTimeout(time.Duration(cfg.RetryTimeoutMS)*time.Millisecond))
	}
	if cfg.MaxCallDepth > 0 {
		opts = append(opts, vm.WithMaxCallDepth(cfg.MaxCallDepth))
	}
	if cfg.StrictVariables {
		opts = append(opts, vm.WithStrictVariables(true))
	}
	if cfg.DefaultAddress != "" {
		opts = append(opts, vm.WithDefaultAddress(cfg.DefaultAddress))
	}
	return opts
}

// FindAddress returns the address definition with the given name.
func (m *Manifest) FindAddress(name string) *AddressDef {
	for i := range m.Address {
		if m.Address[i].Name == name {
			return &m.Address[i]
		}
	}
	return nil
}
