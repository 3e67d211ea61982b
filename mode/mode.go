// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mode defines the compilation modes: the choice of graph rewrites and of the linker used
// to compile functions, trading compilation time, execution speed and checks.
//
// The predefined modes are:
//
//   - FAST_COMPILE: only merges common sub-expressions, and runs with the VM linker without compiled kernels.
//   - FAST_RUN: all the fast_run rewrites, and the VM linker with compiled kernels and garbage collection.
//   - DEBUG_MODE: the fast_run rewrites, with the DebugLinker checking every op.
//   - PROFILE_MODE: FAST_RUN, collecting per-op profiles.
package mode

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/linker"
	"github.com/gomlx/symbolic/optimizer"
	"github.com/gomlx/symbolic/types/xslices"
	"github.com/pkg/errors"
)

// Names of the predefined modes.
const (
	FastCompile = "FAST_COMPILE"
	FastRun     = "FAST_RUN"
	DebugMode   = "DEBUG_MODE"
	ProfileMode = "PROFILE_MODE"
)

// ErrUnknownMode is returned when a mode name is not registered.
var ErrUnknownMode = errors.New("unknown mode")

// Mode selects how functions are compiled.
//
// Modes are values: the methods return modified copies.
type Mode struct {
	// Name of the mode, for printing.
	Name string

	// Query selects the rewrites of the optimizer.Default database to apply.
	Query optimizer.Query

	// Linker used to link the optimized graphs.
	Linker linker.Linker

	// Profile enables the collection of a Profile for each compiled function.
	Profile bool
}

// String implements fmt.Stringer.
func (m *Mode) String() string {
	return fmt.Sprintf("Mode{%s, %s, linker=%s, profile=%v}", m.Name, m.Query, m.Linker.Name(), m.Profile)
}

func (m *Mode) clone() *Mode {
	c := *m
	c.Query.Include = slices.Clone(m.Query.Include)
	c.Query.Exclude = slices.Clone(m.Query.Exclude)
	c.Query.Require = slices.Clone(m.Query.Require)
	return &c
}

// Including returns a copy of the mode that also applies the rewrites with the given tags.
func (m *Mode) Including(tags ...string) *Mode {
	c := m.clone()
	c.Query = c.Query.Including(tags...)
	return c
}

// Excluding returns a copy of the mode that skips the rewrites with the given tags (or names).
func (m *Mode) Excluding(tags ...string) *Mode {
	c := m.clone()
	c.Query = c.Query.Excluding(tags...)
	return c
}

// Requiring returns a copy of the mode that only applies the rewrites with all the given tags.
func (m *Mode) Requiring(tags ...string) *Mode {
	c := m.clone()
	c.Query = c.Query.Requiring(tags...)
	return c
}

// WithLinker returns a copy of the mode using the given linker.
func (m *Mode) WithLinker(l linker.Linker) *Mode {
	c := m.clone()
	c.Linker = l
	return c
}

// WithProfile returns a copy of the mode with profiling enabled or disabled.
func (m *Mode) WithProfile(profile bool) *Mode {
	c := m.clone()
	c.Profile = profile
	return c
}

// Optimizer returns the rewrites selected by the mode.
func (m *Mode) Optimizer() *optimizer.SequenceOptimizer {
	return optimizer.Default().Query(m.Query)
}

// LinkerWithCallback returns a copy of the mode's linker that calls callback after each thunk.
// If callback is nil, or the linker type is unknown, the mode's linker is returned.
func (m *Mode) LinkerWithCallback(callback linker.Callback) linker.Linker {
	if callback == nil {
		return m.Linker
	}
	switch l := m.Linker.(type) {
	case *linker.PerformLinker:
		c := *l
		c.Callback = callback
		return &c
	case *linker.VMLinker:
		c := *l
		c.Callback = callback
		return &c
	case *linker.DebugLinker:
		c := *l
		c.Callback = callback
		return &c
	}
	return m.Linker
}

// NewLinker returns the linker for the given name, as used by config.Config.Linker:
// "vm", "vm_lazy", "vm_nogc", "perform" or "debug".
func NewLinker(name string, cfg config.Config) (linker.Linker, error) {
	switch name {
	case "vm":
		return &linker.VMLinker{AllowGC: true, LazyIfNeeded: true, UseCompiled: true, Parallelism: cfg.Parallelism}, nil
	case "vm_lazy":
		return &linker.VMLinker{AllowGC: true, Lazy: true, UseCompiled: true}, nil
	case "vm_nogc":
		return &linker.VMLinker{UseCompiled: true, Parallelism: cfg.Parallelism}, nil
	case "perform":
		return &linker.PerformLinker{AllowGC: true}, nil
	case "debug":
		return &linker.DebugLinker{Tolerance: cfg.DebugTolerance}, nil
	}
	return nil, errors.Errorf("unknown linker %q", name)
}

// NewFastCompile returns the FAST_COMPILE mode.
func NewFastCompile() *Mode {
	return &Mode{
		Name:   FastCompile,
		Query:  optimizer.Query{Include: []string{optimizer.TagFastCompile}},
		Linker: &linker.VMLinker{AllowGC: true, LazyIfNeeded: true},
	}
}

// NewFastRun returns the FAST_RUN mode. The parallelism of the VM is taken from the configuration.
func NewFastRun() *Mode {
	return &Mode{
		Name:   FastRun,
		Query:  optimizer.Query{Include: []string{optimizer.TagFastRun}},
		Linker: &linker.VMLinker{AllowGC: true, LazyIfNeeded: true, UseCompiled: true, Parallelism: config.Get().Parallelism},
	}
}

// NewDebugMode returns the DEBUG_MODE mode.
func NewDebugMode() *Mode {
	return &Mode{
		Name:   DebugMode,
		Query:  optimizer.Query{Include: []string{optimizer.TagFastRun}},
		Linker: &linker.DebugLinker{Tolerance: config.Get().DebugTolerance},
	}
}

// NewProfileMode returns the PROFILE_MODE mode.
func NewProfileMode() *Mode {
	m := NewFastRun()
	m.Name = ProfileMode
	m.Profile = true
	return m
}

var (
	muRegistry sync.Mutex
	registry   = map[string]func() *Mode{
		FastCompile: NewFastCompile,
		FastRun:     NewFastRun,
		DebugMode:   NewDebugMode,
		ProfileMode: NewProfileMode,
	}
)

// Register a mode constructor under the given name. It returns an error if the name is taken.
func Register(name string, constructor func() *Mode) error {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if _, found := registry[name]; found {
		return errors.Errorf("mode %q already registered", name)
	}
	registry[name] = constructor
	return nil
}

// Get returns a new instance of the mode registered with the name.
func Get(name string) (*Mode, error) {
	muRegistry.Lock()
	constructor, found := registry[name]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Wrapf(ErrUnknownMode, "mode %q, registered modes are %s", name, strings.Join(Names(), ", "))
	}
	return constructor(), nil
}

// Names returns the names of the registered modes, sorted.
func Names() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	return xslices.SortedKeys(registry)
}

// Default returns the mode selected by the configuration (config.Get): Config.Mode, excluding
// the rewrites in Config.OptimizerExcluding, and with Config.Linker, if set.
func Default() (*Mode, error) {
	cfg := config.Get()
	m, err := Get(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if len(cfg.OptimizerExcluding) > 0 {
		m = m.Excluding(cfg.OptimizerExcluding...)
	}
	if cfg.Linker != "" {
		l, err := NewLinker(cfg.Linker, cfg)
		if err != nil {
			return nil, err
		}
		m = m.WithLinker(l)
	}
	return m, nil
}
