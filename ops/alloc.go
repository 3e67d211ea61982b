// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// AllocOp creates a tensor filled with its first operand (a scalar), with the dimensions given by
// its second operand (an integer vector with one element per axis of the output).
type AllocOp struct {
	Broadcastable []bool
}

var (
	_ graph.Op             = (*AllocOp)(nil)
	_ graph.Differentiable = (*AllocOp)(nil)
)

func (a *AllocOp) Name() string { return fmt.Sprintf("Alloc{%d}", len(a.Broadcastable)) }

func (a *AllocOp) Equal(other graph.Op) bool {
	o, ok := other.(*AllocOp)
	return ok && slices.Equal(a.Broadcastable, o.Broadcastable)
}

func (a *AllocOp) Hash() uint64 { return graph.HashOp("Alloc", a.Broadcastable) }

func (a *AllocOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 2 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 2 operands, got %d", a.Name(), len(inputs)))
	}
	value, shape := inputs[0], inputs[1]
	if value.Rank() != 0 || shape.Rank() != 1 || !shape.DType().IsInt() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s requires a scalar value and an integer shape vector, got %s and %s",
			a.Name(), value.Type, shape.Type))
	}
	return graph.NewApply(a, inputs, graph.NewTensorType(value.DType(), a.Broadcastable...))
}

func (a *AllocOp) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	requested := inputs[1].AsInt64s()
	if len(requested) != len(a.Broadcastable) {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: shape operand has %d elements", a.Name(), len(requested))
	}
	dims := make([]int, len(requested))
	for ii, dim := range requested {
		if dim < 0 {
			return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: invalid dimensions %v", a.Name(), requested)
		}
		dims[ii] = int(dim)
	}
	dtype := node.Outputs[0].DType()
	if err := node.Outputs[0].Type.CheckShape(shapes.Make(dtype, dims...)); err != nil {
		return nil, errors.WithMessagef(err, "%s", a.Name())
	}
	size := shapes.Make(dtype, dims...).Size()
	if dtype.IsFloat() {
		return []*tensors.Tensor{tensors.FromFloat64s(dtype, dims, slices.Repeat(inputs[0].AsFloat64s(), size))}, nil
	}
	return []*tensors.Tensor{tensors.FromInt64s(dtype, dims, slices.Repeat(inputs[0].AsInt64s(), size))}, nil
}

func (a *AllocOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	value, gz := node.Inputs[0], outputGrads[0]
	if gz == nil || !value.DType().IsFloat() {
		return []*graph.Variable{nil, nil}
	}
	return []*graph.Variable{ConformGradient(Sum(gz), value), nil}
}

// Alloc returns a tensor filled with the scalar value, with the dimensions given by the integer
// vector shape. The rank of the result is the length of broadcastable, which gives its broadcastable pattern.
func Alloc(value, shape *graph.Variable, broadcastable ...bool) *graph.Variable {
	return graph.ApplyOp(&AllocOp{Broadcastable: slices.Clone(broadcastable)}, value, shape).Out()
}
