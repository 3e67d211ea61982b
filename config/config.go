// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the global configuration flags: default compilation mode, device,
// default float dtype, test value policy, parallelism and debug tolerance.
//
// Flags are read from, in increasing priority:
//
//  1. The defaults (see Default).
//  2. A per-user YAML file: the file named by the SYMBOLICRC environment variable, or
//     `~/.symbolicrc.yaml` if it exists.
//  3. The SYMBOLIC_FLAGS environment variable, formatted as "key=value,key=value". E.g.:
//     `SYMBOLIC_FLAGS="mode=DEBUG_MODE,floatX=float32"`.
//
// Keys are the same in the YAML file and in SYMBOLIC_FLAGS. List values (optimizer_excluding)
// are separated by ":" in SYMBOLIC_FLAGS.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// SYMBOLIC_FLAGS is the environment variable with the "key=value,key=value" flags.
const SYMBOLIC_FLAGS = "SYMBOLIC_FLAGS"

// SYMBOLICRC is the environment variable with the path of the YAML configuration file.
const SYMBOLICRC = "SYMBOLICRC"

// DefaultRCFile is the name of the YAML configuration file searched in the user's home directory.
const DefaultRCFile = ".symbolicrc.yaml"

// TestValueMode is the policy for computing test values while the graph is built.
type TestValueMode string

const (
	// TestValueOff disables test values.
	TestValueOff TestValueMode = "off"

	// TestValueIgnore computes test values when available, and silently skips nodes whose inputs miss them.
	TestValueIgnore TestValueMode = "ignore"

	// TestValueWarn is like TestValueIgnore, but logs a warning for nodes whose inputs miss them.
	TestValueWarn TestValueMode = "warn"

	// TestValueRaise panics when a node input misses its test value.
	TestValueRaise TestValueMode = "raise"
)

// Config holds all the configuration flags.
type Config struct {
	// Mode is the name of the default compilation mode, e.g. "FAST_RUN".
	Mode string `yaml:"mode"`

	// Device where computations run: only "cpu" is available.
	Device string `yaml:"device"`

	// FloatX is the default float dtype: "float16", "float32" or "float64".
	FloatX string `yaml:"floatX"`

	// ComputeTestValue is the policy for eager evaluation of test values during graph construction.
	ComputeTestValue TestValueMode `yaml:"compute_test_value"`

	// Parallelism of the virtual machine linker: 0 or 1 runs thunks sequentially, -1 uses
	// as many workers as there are CPUs.
	Parallelism int `yaml:"parallelism"`

	// DebugTolerance is the tolerance used by the debug linker when comparing float results.
	DebugTolerance float64 `yaml:"debug_tolerance"`

	// OptimizerExcluding lists rewrite tags or names excluded from every mode.
	OptimizerExcluding []string `yaml:"optimizer_excluding"`

	// Linker overrides the linker of the default mode if not empty: "vm", "vm_lazy", "vm_nogc",
	// "perform" or "debug".
	Linker string `yaml:"linker"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Mode:             "FAST_RUN",
		Device:           "cpu",
		FloatX:           "float64",
		ComputeTestValue: TestValueOff,
		Parallelism:      0,
		DebugTolerance:   1e-4,
	}
}

// ValidLinkers lists the accepted values for Config.Linker.
var ValidLinkers = []string{"", "vm", "vm_lazy", "vm_nogc", "perform", "debug"}

// Validate the configuration values.
func (c Config) Validate() error {
	if c.Mode == "" {
		return errors.New("config: mode cannot be empty")
	}
	if c.Device != "cpu" {
		return errors.Errorf("config: device %q not available, only \"cpu\" is supported", c.Device)
	}
	switch c.FloatX {
	case "float16", "float32", "float64":
	default:
		return errors.Errorf("config: invalid floatX %q, it must be float16, float32 or float64", c.FloatX)
	}
	switch c.ComputeTestValue {
	case TestValueOff, TestValueIgnore, TestValueWarn, TestValueRaise:
	default:
		return errors.Errorf("config: invalid compute_test_value %q, valid values are off, ignore, warn and raise", c.ComputeTestValue)
	}
	if c.Parallelism < -1 {
		return errors.Errorf("config: invalid parallelism %d", c.Parallelism)
	}
	if c.DebugTolerance < 0 {
		return errors.Errorf("config: invalid negative debug_tolerance %g", c.DebugTolerance)
	}
	if !slices.Contains(ValidLinkers, c.Linker) {
		return errors.Errorf("config: invalid linker %q, valid values are %q", c.Linker, ValidLinkers[1:])
	}
	return nil
}

// FloatXDType returns the dtype corresponding to FloatX.
func (c Config) FloatXDType() dtypes.DType {
	switch c.FloatX {
	case "float16":
		return dtypes.Float16
	case "float32":
		return dtypes.Float32
	}
	return dtypes.Float64
}

// Clone returns a deep copy of the configuration.
func (c Config) Clone() Config {
	c.OptimizerExcluding = slices.Clone(c.OptimizerExcluding)
	return c
}

// String returns the configuration formatted as YAML.
func (c Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

// ParseYAML parses the YAML configuration on top of the base configuration.
// Unknown keys are reported as errors.
func ParseYAML(data []byte, base Config) (Config, error) {
	c := base.Clone()
	if len(bytes.TrimSpace(data)) == 0 {
		return c, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return base, errors.Wrapf(err, "config: failed to parse YAML configuration")
	}
	return c, c.Validate()
}

// ParseFlags parses flags formatted as "key=value,key=value" on top of the base configuration.
func ParseFlags(flags string, base Config) (Config, error) {
	c := base.Clone()
	for _, part := range strings.Split(flags, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return base, errors.Errorf("config: invalid flag %q, expected \"key=value\"", part)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		var err error
		switch key {
		case "mode":
			c.Mode = value
		case "device":
			c.Device = value
		case "floatX":
			c.FloatX = value
		case "compute_test_value":
			c.ComputeTestValue = TestValueMode(value)
		case "parallelism":
			c.Parallelism, err = strconv.Atoi(value)
		case "debug_tolerance":
			c.DebugTolerance, err = strconv.ParseFloat(value, 64)
		case "optimizer_excluding":
			c.OptimizerExcluding = nil
			for _, tag := range strings.Split(value, ":") {
				if tag != "" {
					c.OptimizerExcluding = append(c.OptimizerExcluding, tag)
				}
			}
		case "linker":
			c.Linker = value
		default:
			return base, errors.Errorf("config: unknown flag %q", key)
		}
		if err != nil {
			return base, errors.Wrapf(err, "config: invalid value for flag %q", key)
		}
	}
	return c, c.Validate()
}

// rcFilePath returns the path to the YAML configuration file, and whether it was explicitly set.
func rcFilePath() (path string, explicit bool) {
	if path, found := os.LookupEnv(SYMBOLICRC); found {
		return path, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(home, DefaultRCFile), false
}

// Load reads the configuration from its sources: defaults, the YAML file and the SYMBOLIC_FLAGS environment variable.
func Load() (Config, error) {
	c := Default()
	if path, explicit := rcFilePath(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			c, err = ParseYAML(data, c)
			if err != nil {
				return c, errors.WithMessagef(err, "reading %q", path)
			}
			klog.V(1).Infof("configuration read from %q", path)
		case os.IsNotExist(err) && !explicit:
			// No per-user file, that's fine.
		default:
			return c, errors.Wrapf(err, "config: failed to read %q", path)
		}
	}
	if flags, found := os.LookupEnv(SYMBOLIC_FLAGS); found {
		var err error
		c, err = ParseFlags(flags, c)
		if err != nil {
			return c, errors.WithMessagef(err, "parsing $%s", SYMBOLIC_FLAGS)
		}
	}
	return c, nil
}

var (
	muCurrent sync.Mutex
	current   *Config
)

// Get returns the current configuration. The first call loads it (see Load).
//
// It panics if the configuration sources are invalid.
func Get() Config {
	muCurrent.Lock()
	defer muCurrent.Unlock()
	if current == nil {
		c, err := Load()
		if err != nil {
			exceptions.Panicf("failed to load configuration: %+v", err)
		}
		current = &c
	}
	return current.Clone()
}

// Set replaces the current configuration, after validating it.
func Set(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c = c.Clone()
	muCurrent.Lock()
	defer muCurrent.Unlock()
	current = &c
	return nil
}

// Override changes the current configuration with editFn, and returns a function that restores the
// previous one. Mostly used by tests:
//
//	defer config.Override(func(c *config.Config) { c.ComputeTestValue = config.TestValueRaise })()
//
// It panics if the edited configuration is invalid.
func Override(editFn func(c *Config)) (restore func()) {
	previous := Get()
	c := previous.Clone()
	editFn(&c)
	if err := Set(c); err != nil {
		panic(err)
	}
	return func() {
		muCurrent.Lock()
		defer muCurrent.Unlock()
		current = &previous
	}
}
