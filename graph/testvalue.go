// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SetTestValue attaches a test value to the variable. When test values are enabled
// (config.Config.ComputeTestValue), building new nodes eagerly evaluates them on the test values
// of their inputs, so shape errors surface while the graph is built.
//
// It panics if the value doesn't fit the variable type.
func (v *Variable) SetTestValue(value *tensors.Tensor) *Variable {
	filtered, err := v.Type.Filter(value, false, false)
	if err != nil {
		panic(errors.WithMessagef(err, "SetTestValue(%s)", v))
	}
	v.testValue = filtered
	return v
}

// TestValue returns the test value of the variable, or nil if there is none.
// Constants and shared variables use their own values.
func (v *Variable) TestValue() *tensors.Tensor {
	switch v.kind {
	case KindConstant:
		return v.constValue
	case KindShared:
		return v.GetValue(true)
	}
	return v.testValue
}

// suspendedTestValues counts the active SuspendTestValues calls.
var suspendedTestValues atomic.Int32

// SuspendTestValues disables the computation of test values until the returned function is called.
// It's used while rewriting FunctionGraphs, whose variables don't carry test values.
// Calls can be nested, and resume can be called more than once.
func SuspendTestValues() (resume func()) {
	suspendedTestValues.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { suspendedTestValues.Add(-1) })
	}
}

// ApplyOp builds a new Apply node with op.MakeNode(inputs...), and computes the test values of
// its outputs if enabled in the configuration. Op constructors use it to create their nodes.
func ApplyOp(op Op, inputs ...*Variable) *Apply {
	node := op.MakeNode(inputs...)
	policy := config.Get().ComputeTestValue
	if policy == config.TestValueOff || policy == "" || suspendedTestValues.Load() > 0 {
		return node
	}
	values := make([]*tensors.Tensor, len(node.Inputs))
	for ii, input := range node.Inputs {
		values[ii] = input.TestValue()
		if values[ii] != nil {
			continue
		}
		switch policy {
		case config.TestValueRaise:
			panic(errors.Wrapf(ErrMissingTestValue, "input #%d (%s) of %s", ii, input, node))
		case config.TestValueWarn:
			klog.Warningf("input #%d (%s) of %s has no test value, outputs won't have test values", ii, input, node)
		}
		return node
	}
	for _, inputIdx := range DestroyedInputs(op) {
		values[inputIdx] = values[inputIdx].Clone()
	}
	outputs, err := op.Perform(node, values)
	if err != nil {
		panic(errors.WithMessagef(err, "computing test value of %s", node))
	}
	if len(outputs) != len(node.Outputs) {
		exceptions.Panicf("computing test value of %s: Perform returned %d values for %d outputs", node, len(outputs), len(node.Outputs))
	}
	for ii, output := range node.Outputs {
		if err := output.Type.CheckShape(outputs[ii].Shape()); err != nil {
			panic(errors.WithMessagef(err, "test value for output #%d of %s", ii, node))
		}
		output.testValue = outputs[ii]
	}
	return node
}
