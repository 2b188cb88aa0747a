// Package targets provides ADDRESS target implementations and builds them
// from rexx.toml address definitions.
package targets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/rexx/manifest"
	"github.com/chazu/rexx/vm"
)

var log = commonlog.GetLogger("rexx.targets")

// Opener builds a target from its definition. The returned closer, if
// any, releases the target's connections.
type Opener func(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// RegisterKind makes an address kind available to Open. Kinds backed by
// optional drivers register themselves from init.
func RegisterKind(kind string, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[kind] = open
}

// Kinds returns the registered address kinds.
func Kinds() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	kinds := make([]string, 0, len(openers))
	for k := range openers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Open builds the target described by def.
func Open(ctx context.Context, def manifest.AddressDef) (vm.Target, io.Closer, error) {
	openersMu.RLock()
	open, ok := openers[def.Kind]
	openersMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("address %s: unsupported kind %q (this build supports %v)", def.Name, def.Kind, Kinds())
	}
	t, c, err := open(ctx, def)
	if err != nil {
		return nil, nil, fmt.Errorf("address %s: %w", def.Name, err)
	}
	return t, c, nil
}

// Set is a group of opened targets registered with one registry.
type Set struct {
	registry *vm.TargetRegistry
	names    []string
	closers  []io.Closer
}

// RegisterAll opens every definition and registers it with reg. On error
// the targets opened so far are closed and unregistered.
func RegisterAll(ctx context.Context, reg *vm.TargetRegistry, defs []manifest.AddressDef) (*Set, error) {
	s := &Set{registry: reg}
	for _, def := range defs {
		t, c, err := Open(ctx, def)
		if err != nil {
			s.Close()
			return nil, err
		}
		reg.Register(def.Name, t, def.Methods, def.Metadata)
		s.names = append(s.names, def.Name)
		if c != nil {
			s.closers = append(s.closers, c)
		}
		log.Debugf("opened %s target %s", def.Kind, def.Name)
	}
	return s, nil
}

// Names returns the registered target names in definition order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Close unregisters the targets and releases their connections.
func (s *Set) Close() error {
	for _, name := range s.names {
		s.registry.Unregister(name)
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.names, s.closers = nil, nil
	return errors.Join(errs...)
}
