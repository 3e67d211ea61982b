// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/sharedstore"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), "symc %v failed, stderr:\n%s", args, stderr.String())
	return stdout.String()
}

func TestConfigCmd(t *testing.T) {
	t.Setenv("SYMBOLIC_FLAGS", "mode=DEBUG_MODE")
	output := run(t, "config")
	assert.Contains(t, output, "mode: DEBUG_MODE")
	assert.Contains(t, output, "device: cpu")
}

func TestModesCmd(t *testing.T) {
	output := run(t, "modes")
	for _, name := range []string{"FAST_RUN", "FAST_COMPILE", "DEBUG_MODE", "PROFILE_MODE", "canonicalize", "inplace"} {
		assert.Contains(t, output, name)
	}
}

func TestDebugPrintCmd(t *testing.T) {
	output := run(t, "debugprint", "--mode=FAST_RUN", "--before")
	assert.Contains(t, output, "Before optimization:")
	assert.Contains(t, output, `"cost"`)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"debugprint", "--mode=NO_SUCH_MODE"})
	assert.Error(t, cmd.Execute())
}

func TestTrainCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.db")
	output := run(t, "train", "--steps=50", "--examples=64", "--quiet", "--save="+path)
	assert.Contains(t, output, "Final loss")
	assert.Contains(t, output, "train_step")
	assert.Contains(t, output, "Weights saved")

	w := graph.NewShared(tensors.FromValue([]float64{0, 0}), "w")
	b := graph.NewShared(tensors.FromScalar(0.0), "b")
	require.NoError(t, sharedstore.Load(path, w, b))
	weights := w.GetValue(false).AsFloat64s()
	assert.Greater(t, weights[0], 0.0, "the labels grow with the first coordinate")
	assert.Less(t, weights[1], 0.0, "the labels decrease with the second coordinate")

	output = run(t, "train", "--steps=1", "--examples=64", "--quiet", "--mode=FAST_RUN", "--load="+path)
	assert.Contains(t, output, "Final loss")
}

func TestTrainFloatX(t *testing.T) {
	defer config.Override(func(c *config.Config) { c.FloatX = "float32" })()
	path := filepath.Join(t.TempDir(), "weights.db")
	output := run(t, "train", "--steps=20", "--examples=32", "--quiet", "--mode=FAST_RUN", "--save="+path)
	assert.Contains(t, output, "(Float32)")

	w := graph.NewShared(tensors.Zeros(dtypes.Float32, 2), "w")
	b := graph.NewShared(tensors.Zeros(dtypes.Float32), "b")
	require.NoError(t, sharedstore.Load(path, w, b))
	wFloat64 := graph.NewShared(tensors.Zeros(dtypes.Float64, 2), "w")
	require.ErrorIs(t, sharedstore.Load(path, wFloat64), graph.ErrTypeMismatch)
}
