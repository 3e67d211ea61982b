// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorTypeFilter(t *testing.T) {
	row := Row(dtypes.Float32)
	assert.Equal(t, "Float32[1 ?]", row.String())

	value := tensors.FromValue([][]float32{{1, 2, 3}})
	got, err := row.Filter(value, true, false)
	require.NoError(t, err)
	assert.Same(t, value, got)

	// Broadcastable axis with dimension != 1.
	_, err = row.Filter(tensors.FromValue([][]float32{{1}, {2}}), false, false)
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Upcast allowed when not strict, downcast only if allowed.
	f64 := Matrix(dtypes.Float64)
	got, err = f64.Filter(value, false, false)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, got.DType())
	_, err = f64.Filter(value, true, false)
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = row.Filter(tensors.FromValue([][]float64{{1, 2}}), false, false)
	require.ErrorIs(t, err, ErrTypeMismatch)
	got, err = row.Filter(tensors.FromValue([][]float64{{1, 2}}), false, true)
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, got.DType())
}

func TestConstantsAndShared(t *testing.T) {
	value := tensors.FromValue([]float64{1, 2})
	c := NewConstant(value, "c")
	tensors.Flat[float64](value)[0] = 10
	assert.Equal(t, []float64{1, 2}, c.ConstantValue().Value())
	tensors.Flat[float64](c.ConstantValue())[0] = 10
	assert.Equal(t, []float64{1, 2}, c.ConstantValue().Value())

	one := NewConstant(tensors.FromValue([]float64{3, 3}), "")
	scalar, ok := one.ConstantScalar()
	require.True(t, ok)
	assert.Equal(t, 3.0, scalar)
	_, ok = c.ConstantScalar()
	assert.False(t, ok)

	s := NewShared(tensors.FromValue([]float64{1, 2}), "s")
	require.True(t, s.IsShared())
	require.NoError(t, s.SetValue(tensors.FromValue([]float32{3, 4}), false))
	assert.Equal(t, []float64{3, 4}, s.GetValue(false).Value())
	require.NoError(t, s.SetValue(tensors.FromValue([]float64{1}), false))
	err := s.SetValue(tensors.FromValue([][]float64{{1}}), false)
	require.ErrorIs(t, err, ErrTypeMismatch)

	x := NewVariable(Scalar(dtypes.Float64), "x")
	require.Panics(t, func() { s.SetDefaultUpdate(x) })
	s.SetDefaultUpdate(add(s, s))
	require.NotNil(t, s.DefaultUpdate())
}

func TestFunctionGraph(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")
	a := add(x, y)
	b := add(a, x)

	fg, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{b})
	require.NoError(t, err)
	require.NoError(t, fg.CheckIntegrity())
	assert.Equal(t, 2, fg.NumApplies())
	assert.NotSame(t, b, fg.Outputs[0], "outputs should be cloned")
	assert.Same(t, x, fg.Inputs[0], "inputs should not be cloned")
	assert.Len(t, fg.Clients(x), 2)
	assert.Len(t, fg.Clients(y), 1)
	assert.True(t, fg.Clients(fg.Outputs[0])[0].IsOutput())

	order, err := fg.Toposort()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Same(t, order[1], fg.Outputs[0].Owner())
	assert.Same(t, order[0].Outputs[0], order[1].Inputs[0])

	// Replacing the intermediate by y prunes its node.
	clonedA := order[0].Outputs[0]
	require.NoError(t, fg.Replace(clonedA, y, "test"))
	assert.Equal(t, 1, fg.NumApplies())
	assert.False(t, fg.HasVariable(clonedA))
	require.NoError(t, fg.CheckIntegrity())
	assert.Len(t, fg.Clients(y), 1)

	// Changing the output to a new expression imports it.
	c := add(y, y)
	require.NoError(t, fg.ChangeInput(nil, 0, c, "new output"))
	assert.Equal(t, 1, fg.NumApplies())
	assert.Same(t, c, fg.Outputs[0])
	require.NoError(t, fg.CheckIntegrity())

	// Type mismatch.
	m := NewVariable(Matrix(dtypes.Float64), "m")
	err = fg.ChangeInput(nil, 0, m, "bad")
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Missing input.
	z := NewVariable(Vector(dtypes.Float64), "z")
	err = fg.ChangeInput(nil, 0, add(z, y), "missing")
	require.ErrorIs(t, err, ErrMissingInput)
	require.NoError(t, fg.CheckIntegrity())
	assert.True(t, strings.HasPrefix(fg.String(), "FunctionGraph(testAdd("))
}

func TestFunctionGraphMissingInput(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")
	_, err := NewFunctionGraph([]*Variable{x}, []*Variable{add(x, y)})
	require.ErrorIs(t, err, ErrMissingInput)

	// Constants don't need to be inputs, but shared variables do.
	c := NewConstant(tensors.FromValue([]float64{1, 2}), "c")
	_, err = NewFunctionGraph([]*Variable{x}, []*Variable{add(x, c)})
	require.NoError(t, err)
	s := NewShared(tensors.FromValue([]float64{1, 2}), "s")
	_, err = NewFunctionGraph([]*Variable{x}, []*Variable{add(x, s)})
	require.ErrorIs(t, err, ErrMissingInput)
	_, err = NewFunctionGraph([]*Variable{x, s}, []*Variable{add(x, s)})
	require.NoError(t, err)
}

// failingFeature fails validation while fail is set.
type failingFeature struct {
	BaseFeature
	fail    bool
	changes int
}

func (f *failingFeature) OnChangeInput(*FunctionGraph, *Apply, int, *Variable, *Variable, string) {
	f.changes++
}

func (f *failingFeature) Validate(*FunctionGraph) error {
	if f.fail {
		return errors.Wrap(ErrInconsistency, "failing feature")
	}
	return nil
}

func TestReplaceValidate(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")
	feature := &failingFeature{fail: true}
	fg, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{add(add(x, y), y)}, feature)
	require.NoError(t, err)
	require.Len(t, fg.Features(), 1)
	before := fg.String()

	inner := fg.Outputs[0].Owner().Inputs[0]
	err = fg.ReplaceValidate([]Replacement{{Old: inner, New: x}}, "test")
	require.ErrorIs(t, err, ErrInconsistency)
	assert.Equal(t, before, fg.String())
	assert.Equal(t, 2, fg.NumApplies())
	assert.Equal(t, 2, feature.changes, "change and revert")
	require.NoError(t, fg.CheckIntegrity())

	feature.fail = false
	require.NoError(t, fg.ReplaceValidate([]Replacement{{Old: inner, New: x}}, "test"))
	assert.Equal(t, 1, fg.NumApplies())

	fg.DetachFeature(feature)
	assert.Empty(t, fg.Features())
}

func TestDestroyHandler(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")

	// x is protected.
	_, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{addInplace(x, y)}, NewDestroyHandler(x))
	require.ErrorIs(t, err, ErrInconsistency)

	// Destroying x while it's also a graph output.
	_, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{addInplace(x, y), x}, NewDestroyHandler())
	require.ErrorIs(t, err, ErrInconsistency)

	// Reading the destroyed memory through another input.
	_, err = NewFunctionGraph([]*Variable{x}, []*Variable{addInplace(x, view(x))}, NewDestroyHandler())
	require.ErrorIs(t, err, ErrInconsistency)

	// Two destroyers of the same memory.
	_, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{addInplace(x, y), addInplace(view(x), y)}, NewDestroyHandler())
	require.ErrorIs(t, err, ErrInconsistency)

	// A reader of x that must run before the destroyer.
	reader := add(x, y)
	destroyer := addInplace(x, y)
	fg, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{destroyer, reader}, NewDestroyHandler())
	require.NoError(t, err)
	orderings := fg.Orderings()
	fgDestroyer, fgReader := fg.Outputs[0].Owner(), fg.Outputs[1].Owner()
	require.Equal(t, []*Apply{fgReader}, orderings[fgDestroyer])
	order, err := fg.Toposort()
	require.NoError(t, err)
	assert.Equal(t, []*Apply{fgReader, fgDestroyer}, order)
	assert.Equal(t, []*Variable{x}, AliasRoots(fg, fg.Outputs[0]))
	require.NotNil(t, FindDestroyHandler(fg))

	// A reader that depends on the destroyer creates an impossible ordering.
	destroyer = addInplace(x, y)
	_, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{add(destroyer, x)}, NewDestroyHandler())
	require.ErrorIs(t, err, ErrInconsistency)

	// Only one DestroyHandler per graph.
	require.Error(t, fg.AttachFeature(NewDestroyHandler()))
}

func TestDestroyHandlerChain(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")

	// Each in-place op overwrites the fresh result of the previous one.
	first := addInplace(add(x, y), y)
	second := addInplace(first, y)
	third := addInplace(view(second), x)
	fg, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{third}, NewDestroyHandler(x, y))
	require.NoError(t, err)
	require.NoError(t, fg.Validate())
	storage := fg.Outputs[0]
	for storage.Owner().Op != (addOp{}) {
		storage = storage.Owner().Inputs[0]
	}
	assert.Equal(t, []*Variable{storage}, AliasRoots(fg, fg.Outputs[0]), "the storage is still the one of the first sum")

	// A reader of an intermediate of the chain runs before the next destroyer.
	first = addInplace(add(x, y), y)
	reader := add(first, x)
	second = addInplace(first, y)
	fg, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{second, reader}, NewDestroyHandler(x, y))
	require.NoError(t, err)
	order, err := fg.Toposort()
	require.NoError(t, err)
	fgSecond, fgReader := fg.Outputs[0].Owner(), fg.Outputs[1].Owner()
	assert.Less(t, slices.Index(order, fgReader), slices.Index(order, fgSecond))

	// Destroying a graph output that is an intermediate of the chain is still an error.
	first = addInplace(add(x, y), y)
	_, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{addInplace(first, y), first}, NewDestroyHandler(x, y))
	require.ErrorIs(t, err, ErrInconsistency)

	// Two destroyers of the same intermediate remain an error.
	sum := add(x, y)
	_, err = NewFunctionGraph([]*Variable{x, y}, []*Variable{addInplace(sum, y), addInplace(view(sum), x)}, NewDestroyHandler(x, y))
	require.ErrorIs(t, err, ErrInconsistency)
}

func TestCloneReplace(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")
	out := add(add(x, x), y)

	// Swapping x and y is simultaneous: replacements are not substituted again.
	swapped := CloneReplace([]*Variable{out}, map[*Variable]*Variable{x: y, y: x})[0]
	inner := swapped.Owner().Inputs[0].Owner()
	assert.Equal(t, []*Variable{y, y}, inner.Inputs)
	assert.Same(t, x, swapped.Owner().Inputs[1])

	// Untouched subgraphs are kept.
	z := NewVariable(Vector(dtypes.Float64), "z")
	replaced := CloneReplace([]*Variable{out}, map[*Variable]*Variable{y: z})[0]
	assert.Same(t, out.Owner().Inputs[0], replaced.Owner().Inputs[0])

	// Clone with copied inputs.
	newInputs, newOutputs := Clone([]*Variable{x, y}, []*Variable{out}, true)
	assert.NotSame(t, x, newInputs[0])
	assert.Equal(t, "x", newInputs[0].Name())
	assert.Equal(t, newInputs, Inputs(newOutputs))
	assert.Len(t, Ancestors([]*Variable{out}), 4)
	assert.Len(t, Toposort([]*Variable{x, y}, []*Variable{out}), 2)
}

func TestTestValues(t *testing.T) {
	restore := config.Override(func(c *config.Config) { c.ComputeTestValue = config.TestValueRaise })
	defer restore()

	x := NewVariable(Vector(dtypes.Float64), "x").SetTestValue(tensors.FromValue([]float64{1, 2}))
	y := NewVariable(Vector(dtypes.Float64), "y").SetTestValue(tensors.FromValue([]float64{10, 20, 30}))
	z := NewVariable(Vector(dtypes.Float64), "z")

	sum := add(x, x)
	assert.Equal(t, []float64{2, 4}, sum.TestValue().Value())
	// In-place ops don't change the test values of their inputs.
	_ = addInplace(x, x)
	assert.Equal(t, []float64{1, 2}, x.TestValue().Value())

	err := tryCatch(func() { add(x, y) })
	require.ErrorIs(t, err, ErrShapeMismatch)
	err = tryCatch(func() { add(x, z) })
	require.ErrorIs(t, err, ErrMissingTestValue)

	config.Override(func(c *config.Config) { c.ComputeTestValue = config.TestValueIgnore })
	require.Nil(t, add(x, z).TestValue())
}

func tryCatch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	fn()
	return nil
}

func TestDebugPrint(t *testing.T) {
	x := NewVariable(Vector(dtypes.Float64), "x")
	y := NewVariable(Vector(dtypes.Float64), "y")
	a := add(x, y).SetName("a")
	out := addInplace(a, a)
	text := DebugString(out)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "testAdd{inplace}")
	assert.Contains(t, lines[0], "d={0: [0]}")
	assert.Contains(t, lines[1], "'a'")
	assert.True(t, strings.HasPrefix(lines[2], " | |x [id"))
	assert.Contains(t, lines[4], "...")

	fg, err := NewFunctionGraph([]*Variable{x, y}, []*Variable{add(a, a)})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, fg.DebugPrint(&buf))
	assert.Contains(t, buf.String(), "  1: testAdd(")
}

func TestHashOp(t *testing.T) {
	assert.Equal(t, HashOp("op", 1, []int{2}), HashOp("op", 1, []int{2}))
	assert.NotEqual(t, HashOp("op", 1), HashOp("op", 2))
	assert.True(t, OpsEqual(addOp{}, addOp{}))
	assert.False(t, OpsEqual(addOp{}, addOp{inplace: true}))
	assert.Equal(t, []int{0}, DestroyedInputs(addOp{inplace: true}))
	assert.Empty(t, DestroyedInputs(addOp{}))
}
