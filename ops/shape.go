// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// ShapeOp returns the dimensions of its operand as an Int64 vector.
type ShapeOp struct{}

var _ graph.Op = (*ShapeOp)(nil)

func (*ShapeOp) Name() string { return "Shape" }

func (*ShapeOp) Equal(other graph.Op) bool {
	_, ok := other.(*ShapeOp)
	return ok
}

func (*ShapeOp) Hash() uint64 { return graph.HashOp("Shape") }

func (s *ShapeOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 1 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Shape takes 1 operand, got %d", len(inputs)))
	}
	return graph.NewApply(s, inputs, graph.Vector(dtypes.Int64))
}

func (*ShapeOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{dimsTensor(inputs[0].Shape().Dimensions)}, nil
}

func dimsTensor(dims []int) *tensors.Tensor {
	values := make([]int64, len(dims))
	for ii, dim := range dims {
		values[ii] = int64(dim)
	}
	return tensors.FromFlatDataAndDimensions(values, len(values))
}

// ShapeProdOp returns the product of the dimensions of its operand on the given axes (all axes if
// Axes is empty) as an Int64 scalar: the number of elements reduced by a reduction over those axes.
type ShapeProdOp struct {
	Axes []int
}

var _ graph.Op = (*ShapeProdOp)(nil)

func (s *ShapeProdOp) Name() string { return fmt.Sprintf("ShapeProd{%v}", s.Axes) }

func (s *ShapeProdOp) Equal(other graph.Op) bool {
	o, ok := other.(*ShapeProdOp)
	return ok && slices.Equal(s.Axes, o.Axes)
}

func (s *ShapeProdOp) Hash() uint64 { return graph.HashOp("ShapeProd", s.Axes) }

func (s *ShapeProdOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 1 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 1 operand, got %d", s.Name(), len(inputs)))
	}
	for _, axis := range s.Axes {
		if axis < 0 || axis >= inputs[0].Rank() {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: invalid axis %d for operand of rank %d", s.Name(), axis, inputs[0].Rank()))
		}
	}
	return graph.NewApply(s, inputs, graph.Scalar(dtypes.Int64))
}

func (s *ShapeProdOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	dims := inputs[0].Shape().Dimensions
	prod := int64(1)
	if len(s.Axes) == 0 {
		for _, dim := range dims {
			prod *= int64(dim)
		}
	} else {
		for _, axis := range s.Axes {
			prod *= int64(dims[axis])
		}
	}
	return []*tensors.Tensor{tensors.FromScalar(prod)}, nil
}

// ReshapeOp changes the dimensions of its first operand to the ones given by its second operand,
// an Int64 vector of NDim elements. One of the dimensions can be -1, in which case it's inferred
// from the size of the operand.
//
// The output is a view of the operand.
type ReshapeOp struct {
	NDim int

	// Broadcastable pattern of the output, with NDim elements.
	Broadcastable []bool
}

var (
	_ graph.Op             = (*ReshapeOp)(nil)
	_ graph.Differentiable = (*ReshapeOp)(nil)
	_ graph.ViewMapper     = (*ReshapeOp)(nil)
)

func (r *ReshapeOp) Name() string { return fmt.Sprintf("Reshape{%d}", r.NDim) }

func (r *ReshapeOp) Equal(other graph.Op) bool {
	o, ok := other.(*ReshapeOp)
	return ok && r.NDim == o.NDim && slices.Equal(r.Broadcastable, o.Broadcastable)
}

func (r *ReshapeOp) Hash() uint64 { return graph.HashOp("Reshape", r.NDim, r.Broadcastable) }

// ViewMap implements graph.ViewMapper.
func (r *ReshapeOp) ViewMap() map[int][]int { return map[int][]int{0: {0}} }

func (r *ReshapeOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 2 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 2 operands, got %d", r.Name(), len(inputs)))
	}
	shape := inputs[1]
	if shape.Rank() != 1 || !shape.DType().IsInt() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: shape operand must be an integer vector, got %s", r.Name(), shape.Type))
	}
	if len(r.Broadcastable) != r.NDim {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: broadcastable pattern %v doesn't match the rank", r.Name(), r.Broadcastable))
	}
	return graph.NewApply(r, inputs, graph.NewTensorType(inputs[0].DType(), r.Broadcastable...))
}

func (r *ReshapeOp) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	requested := inputs[1].AsInt64s()
	if len(requested) != r.NDim {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: shape operand has %d elements", r.Name(), len(requested))
	}
	dims := make([]int, r.NDim)
	inferred := -1
	known := 1
	for ii, dim := range requested {
		switch {
		case dim == -1 && inferred < 0:
			inferred = ii
			continue
		case dim < 0:
			return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: invalid dimensions %v", r.Name(), requested)
		}
		dims[ii] = int(dim)
		known *= int(dim)
	}
	if inferred >= 0 {
		if known == 0 || x.Size()%known != 0 {
			return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: cannot reshape %s to %v", r.Name(), x.Shape(), requested)
		}
		dims[inferred] = x.Size() / known
	} else if known != x.Size() {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: cannot reshape %s to %v", r.Name(), x.Shape(), requested)
	}
	output := x.Reshaped(dims...)
	if err := node.Outputs[0].Type.CheckShape(output.Shape()); err != nil {
		return nil, errors.WithMessagef(err, "%s", r.Name())
	}
	return []*tensors.Tensor{output}, nil
}

func (r *ReshapeOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	x, gz := node.Inputs[0], outputGrads[0]
	if gz == nil || !x.DType().IsFloat() {
		return []*graph.Variable{nil, nil}
	}
	return []*graph.Variable{Reshape(gz, Shape(x), x.Type.Broadcastable...), nil}
}

// Shape returns the dimensions of x as an Int64 vector.
func Shape(x *graph.Variable) *graph.Variable {
	return graph.ApplyOp(&ShapeOp{}, x).Out()
}

// ShapeProd returns the number of elements of x on the given axes (all if none given), as an Int64 scalar.
func ShapeProd(x *graph.Variable, axes ...int) *graph.Variable {
	return graph.ApplyOp(&ShapeProdOp{Axes: normalizeAxes(x, axes)}, x).Out()
}

// Reshape x to the dimensions given by the Int64 vector shape. The rank of the result is the
// length of broadcastable, which gives its broadcastable pattern.
func Reshape(x, shape *graph.Variable, broadcastable ...bool) *graph.Variable {
	op := &ReshapeOp{NDim: len(broadcastable), Broadcastable: slices.Clone(broadcastable)}
	return graph.ApplyOp(op, x, shape).Out()
}

// ReshapeTo reshapes x to the given dimensions, one of which can be -1. Axes of dimension 1
// are broadcastable.
func ReshapeTo(x *graph.Variable, dims ...int) *graph.Variable {
	broadcastable := make([]bool, len(dims))
	values := make([]int64, len(dims))
	for ii, dim := range dims {
		broadcastable[ii] = dim == 1
		values[ii] = int64(dim)
	}
	shape := graph.NewConstantOfType(tensors.FromFlatDataAndDimensions(values, len(values)), graph.Vector(dtypes.Int64), "")
	return Reshape(x, shape, broadcastable...)
}

// normalizeAxes converts negative axes, sorts them and checks they are valid and unique.
func normalizeAxes(x *graph.Variable, axes []int) []int {
	rank := x.Rank()
	normalized := make([]int, len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		if axis < 0 || axis >= rank {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "invalid axis %d for %s of rank %d", axes[ii], x, rank))
		}
		normalized[ii] = axis
	}
	slices.Sort(normalized)
	if len(slices.Compact(slices.Clone(normalized))) != len(normalized) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "repeated axes %v for %s", axes, x))
	}
	return normalized
}
