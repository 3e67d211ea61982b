// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/symbolic/types/tensors"
)

// Op is an immutable operator descriptor: it builds Apply nodes (MakeNode) and computes
// outputs from concrete input values (Perform).
//
// Two ops that compare Equal must hash to the same value, and given identical inputs they must
// produce identical outputs, destroy the same inputs and alias outputs to the same inputs.
// Common-subexpression merging relies on this.
//
// Ops may implement any of the optional interfaces: Differentiable, DestroyMapper, ViewMapper,
// Compilable, LazyOp and ConstantFoldable.
type Op interface {
	// Name of the op, used for printing and profiling.
	Name() string

	// MakeNode validates the inputs and creates the Apply node with typed outputs.
	// It panics with an error wrapping ErrTypeMismatch if the inputs have the wrong types.
	MakeNode(inputs ...*Variable) *Apply

	// Perform computes the outputs of the node from the concrete input values. It's the
	// interpreted implementation of the op.
	//
	// Outputs may alias inputs only if declared by ViewMap or DestroyMap, and inputs can only
	// be modified if declared by DestroyMap.
	Perform(node *Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

	// Equal returns whether the other op is equivalent to this one.
	Equal(other Op) bool

	// Hash returns a hash of the op, consistent with Equal.
	Hash() uint64
}

// Kernel computes the outputs of a specific Apply node from its input values.
type Kernel func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

// Differentiable is implemented by ops that define their symbolic gradient.
type Differentiable interface {
	// Grad returns the gradient of the cost with respect to each of the node inputs, given the
	// gradient with respect to each of its outputs. Output gradients may be nil if the output
	// doesn't affect the cost. Returned gradients are nil for inputs not connected to the outputs
	// (or not differentiable).
	Grad(node *Apply, outputGrads []*Variable) []*Variable
}

// DestroyMapper is implemented by ops that overwrite some of their inputs.
type DestroyMapper interface {
	// DestroyMap maps an output index to the indices of the inputs it overwrites: the output is
	// stored in the memory of those inputs.
	DestroyMap() map[int][]int
}

// ViewMapper is implemented by ops whose outputs may share memory with (be views of) some inputs.
type ViewMapper interface {
	// ViewMap maps an output index to the indices of the inputs it may be a view of.
	ViewMap() map[int][]int
}

// Compilable is implemented by ops that can generate a specialized kernel for a node.
type Compilable interface {
	// Compile returns a kernel specialized for the node, or an error wrapping ErrNotCompilable if
	// no specialized kernel is available, in which case Perform is used.
	Compile(node *Apply) (Kernel, error)
}

// LazyOp is implemented by ops that don't need all their inputs: e.g. a conditional only needs
// the branch selected by its condition.
type LazyOp interface {
	// NumEagerInputs is the number of inputs (at the start of the list) always evaluated.
	NumEagerInputs(node *Apply) int

	// SelectInputs returns the indices of the other inputs needed, given the values of the eager ones.
	// Inputs not selected are passed as nil to Perform.
	SelectInputs(node *Apply, eager []*tensors.Tensor) ([]int, error)
}

// ConstantFoldable is implemented by ops that opt out of constant folding, e.g. random number generators.
type ConstantFoldable interface {
	CanConstantFold(node *Apply) bool
}

// OpsEqual compares two ops, handling nil values.
func OpsEqual(op0, op1 Op) bool {
	if op0 == nil || op1 == nil {
		return op0 == nil && op1 == nil
	}
	return op0.Hash() == op1.Hash() && op0.Equal(op1)
}

// HashOp computes a hash for an op with the given name and parameters, to be used in Op.Hash
// implementations. Parameters are hashed using their default formatting (`%v`).
func HashOp(name string, params ...any) uint64 {
	digest := xxhash.New()
	_, _ = digest.WriteString(name)
	for _, param := range params {
		_, _ = fmt.Fprintf(digest, "|%v", param)
	}
	return digest.Sum64()
}

// DestroyMapOf returns the destroy map of the op, or nil if it doesn't destroy any input.
func DestroyMapOf(op Op) map[int][]int {
	if dm, ok := op.(DestroyMapper); ok {
		return dm.DestroyMap()
	}
	return nil
}

// ViewMapOf returns the view map of the op, or nil if none of its outputs is a view.
func ViewMapOf(op Op) map[int][]int {
	if vm, ok := op.(ViewMapper); ok {
		return vm.ViewMap()
	}
	return nil
}

// DestroyedInputs returns the sorted list of input indices the op destroys.
func DestroyedInputs(op Op) []int {
	var destroyed []int
	for _, inputs := range DestroyMapOf(op) {
		for _, inputIdx := range inputs {
			if !slices.Contains(destroyed, inputIdx) {
				destroyed = append(destroyed, inputIdx)
			}
		}
	}
	slices.Sort(destroyed)
	return destroyed
}

// CanConstantFold returns whether a node whose inputs are all constants can be replaced by
// its computed values.
func CanConstantFold(node *Apply) bool {
	if cf, ok := node.Op.(ConstantFoldable); ok {
		return cf.CanConstantFold(node)
	}
	return true
}

// PerformKernel returns a Kernel that calls node.Op.Perform.
func PerformKernel(node *Apply) Kernel {
	return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
		return node.Op.Perform(node, inputs)
	}
}
