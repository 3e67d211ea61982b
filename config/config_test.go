package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	c, err := ParseFlags("mode=DEBUG_MODE, floatX=float32,parallelism=4,optimizer_excluding=fusion:inplace", Default())
	require.NoError(t, err)
	assert.Equal(t, "DEBUG_MODE", c.Mode)
	assert.Equal(t, dtypes.Float32, c.FloatXDType())
	assert.Equal(t, 4, c.Parallelism)
	assert.Equal(t, []string{"fusion", "inplace"}, c.OptimizerExcluding)

	_, err = ParseFlags("unknown=1", Default())
	require.ErrorContains(t, err, "unknown flag")
	_, err = ParseFlags("device=gpu", Default())
	require.ErrorContains(t, err, "not available")
	_, err = ParseFlags("parallelism=abc", Default())
	require.Error(t, err)
	_, err = ParseFlags("compute_test_value=sometimes", Default())
	require.Error(t, err)
	_, err = ParseFlags("mode", Default())
	require.Error(t, err)

	c, err = ParseFlags("linker=vm_lazy", Default())
	require.NoError(t, err)
	assert.Equal(t, "vm_lazy", c.Linker)
	_, err = ParseFlags("linker=jit", Default())
	require.ErrorContains(t, err, "invalid linker")
}

func TestParseYAML(t *testing.T) {
	c, err := ParseYAML([]byte("mode: FAST_COMPILE\ncompute_test_value: raise\ndebug_tolerance: 0.01\n"), Default())
	require.NoError(t, err)
	assert.Equal(t, "FAST_COMPILE", c.Mode)
	assert.Equal(t, TestValueRaise, c.ComputeTestValue)
	assert.Equal(t, 0.01, c.DebugTolerance)

	_, err = ParseYAML([]byte("not_a_flag: 1\n"), Default())
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	rcPath := filepath.Join(dir, "rc.yaml")
	require.NoError(t, os.WriteFile(rcPath, []byte("mode: FAST_COMPILE\nfloatX: float32\n"), 0o600))
	t.Setenv(SYMBOLICRC, rcPath)
	t.Setenv(SYMBOLIC_FLAGS, "floatX=float64")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "FAST_COMPILE", c.Mode)
	assert.Equal(t, "float64", c.FloatX, "environment flags have priority over the file")

	t.Setenv(SYMBOLICRC, filepath.Join(dir, "missing.yaml"))
	_, err = Load()
	require.Error(t, err, "an explicitly configured file must exist")
}

func TestOverride(t *testing.T) {
	before := Get()
	restore := Override(func(c *Config) { c.ComputeTestValue = TestValueWarn })
	assert.Equal(t, TestValueWarn, Get().ComputeTestValue)
	restore()
	assert.Equal(t, before.ComputeTestValue, Get().ComputeTestValue)
	assert.Error(t, Set(Config{}))
	assert.Panics(t, func() { Override(func(c *Config) { c.Device = "cuda" }) })
}
