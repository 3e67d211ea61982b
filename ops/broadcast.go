// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// broadcastShape returns the dimensions of the output of an elementwise operation, given its
// (same rank) operands and their types.
//
// Axes that are not broadcastable in an operand's type must have exactly the same dimension in
// every such operand. Broadcastable axes have dimension 1, and take the dimension of the others.
func broadcastShape(node *graph.Apply, inputs []*tensors.Tensor) ([]int, error) {
	rank := node.Outputs[0].Rank()
	dims := make([]int, rank)
	for axis := range rank {
		dims[axis] = 1
		found := false
		for ii, input := range inputs {
			if input.Rank() != rank {
				return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: input #%d has shape %s, wanted rank %d",
					node.Op.Name(), ii, input.Shape(), rank)
			}
			dim := input.Shape().Dimensions[axis]
			if node.Inputs[ii].Type.Broadcastable[axis] {
				if dim != 1 {
					return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: input #%d has dimension %d on broadcastable axis %d",
						node.Op.Name(), ii, dim, axis)
				}
				continue
			}
			if !found {
				dims[axis] = dim
				found = true
			} else if dims[axis] != dim {
				return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: input #%d has dimension %d on axis %d, but other inputs have dimension %d (input shapes: %v)",
					node.Op.Name(), ii, dim, axis, dims[axis], inputShapes(inputs))
			}
		}
	}
	return dims, nil
}

func inputShapes(inputs []*tensors.Tensor) []shapes.Shape {
	result := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		if input != nil {
			result[ii] = input.Shape()
		}
	}
	return result
}

// broadcastStrides returns the strides to read a value of the given shape broadcast to the output
// dimensions: axes being broadcast get stride 0.
func broadcastStrides(shape shapes.Shape, outputDims []int) []int {
	strides := shape.Strides()
	for axis, dim := range shape.Dimensions {
		if dim != outputDims[axis] {
			strides[axis] = 0
		}
	}
	return strides
}

// forEachBroadcast calls fn for each flat index of the output dimensions, along with the corresponding
// flat index on each of the operands, read with the given strides.
//
// The operand indices are updated incrementally, without recomputing them from the output indices.
func forEachBroadcast(dims []int, strides [][]int, fn func(outIdx int, inIdx []int)) {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	if size == 0 {
		return
	}
	rank := len(dims)
	position := make([]int, rank)
	inIdx := make([]int, len(strides))
	for outIdx := range size {
		fn(outIdx, inIdx)
		for axis := rank - 1; axis >= 0; axis-- {
			position[axis]++
			for ii, s := range strides {
				inIdx[ii] += s[axis]
			}
			if position[axis] < dims[axis] {
				break
			}
			for ii, s := range strides {
				inIdx[ii] -= s[axis] * dims[axis]
			}
			position[axis] = 0
		}
	}
}
