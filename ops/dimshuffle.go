// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// NewAxis is used in a DimShuffle order to insert a new broadcastable axis.
const NewAxis = -1

// DimShuffleOp rearranges the axes of its operand: it can drop broadcastable axes, permute the
// others, and insert new broadcastable axes.
//
// NewOrder lists, for each output axis, the input axis it comes from, or NewAxis. Input axes
// not listed are dropped, and they must be broadcastable.
//
// Shuffles that keep the relative order of the input axes only change the shape of the value:
// their output is a view of the input. Otherwise, the values are copied.
type DimShuffleOp struct {
	InputBroadcastable []bool
	NewOrder           []int
}

var (
	_ graph.Op             = (*DimShuffleOp)(nil)
	_ graph.Differentiable = (*DimShuffleOp)(nil)
	_ graph.ViewMapper     = (*DimShuffleOp)(nil)
)

// NewDimShuffleOp validates and returns a DimShuffleOp.
func NewDimShuffleOp(inputBroadcastable []bool, newOrder ...int) *DimShuffleOp {
	rank := len(inputBroadcastable)
	used := make([]bool, rank)
	for _, axis := range newOrder {
		if axis == NewAxis {
			continue
		}
		if axis < 0 || axis >= rank {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "DimShuffle: invalid axis %d for input of rank %d", axis, rank))
		}
		if used[axis] {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "DimShuffle: axis %d used more than once in %v", axis, newOrder))
		}
		used[axis] = true
	}
	for axis, b := range inputBroadcastable {
		if !used[axis] && !b {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "DimShuffle: cannot drop non-broadcastable axis %d (order %v)", axis, newOrder))
		}
	}
	return &DimShuffleOp{InputBroadcastable: slices.Clone(inputBroadcastable), NewOrder: slices.Clone(newOrder)}
}

// Name implements graph.Op.
func (d *DimShuffleOp) Name() string {
	parts := make([]string, len(d.NewOrder))
	for ii, axis := range d.NewOrder {
		if axis == NewAxis {
			parts[ii] = "x"
		} else {
			parts[ii] = fmt.Sprint(axis)
		}
	}
	return "DimShuffle{" + strings.Join(parts, ",") + "}"
}

// Equal implements graph.Op.
func (d *DimShuffleOp) Equal(other graph.Op) bool {
	o, ok := other.(*DimShuffleOp)
	return ok && slices.Equal(d.InputBroadcastable, o.InputBroadcastable) && slices.Equal(d.NewOrder, o.NewOrder)
}

// Hash implements graph.Op.
func (d *DimShuffleOp) Hash() uint64 {
	return graph.HashOp("DimShuffle", d.InputBroadcastable, d.NewOrder)
}

// keptAxes returns the input axes kept, in output order.
func (d *DimShuffleOp) keptAxes() []int {
	kept := make([]int, 0, len(d.NewOrder))
	for _, axis := range d.NewOrder {
		if axis != NewAxis {
			kept = append(kept, axis)
		}
	}
	return kept
}

// IsView returns whether the shuffle keeps the relative order of the input axes, in which case its
// output is a view of its input.
func (d *DimShuffleOp) IsView() bool { return isIncreasing(d.keptAxes()) }

// IsIdentity returns whether the shuffle doesn't change anything.
func (d *DimShuffleOp) IsIdentity() bool {
	if len(d.NewOrder) != len(d.InputBroadcastable) {
		return false
	}
	for ii, axis := range d.NewOrder {
		if axis != ii {
			return false
		}
	}
	return true
}

// ViewMap implements graph.ViewMapper.
func (d *DimShuffleOp) ViewMap() map[int][]int {
	if d.IsView() {
		return map[int][]int{0: {0}}
	}
	return nil
}

// MakeNode implements graph.Op.
func (d *DimShuffleOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 1 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 1 operand, got %d", d.Name(), len(inputs)))
	}
	x := inputs[0]
	if !slices.Equal(x.Type.Broadcastable, d.InputBroadcastable) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s expects an operand with broadcastable pattern %v, got %s",
			d.Name(), d.InputBroadcastable, x.Type))
	}
	broadcastable := make([]bool, len(d.NewOrder))
	for ii, axis := range d.NewOrder {
		broadcastable[ii] = axis == NewAxis || d.InputBroadcastable[axis]
	}
	return graph.NewApply(d, inputs, graph.NewTensorType(x.DType(), broadcastable...))
}

// Perform implements graph.Op.
func (d *DimShuffleOp) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	if x.Rank() != len(d.InputBroadcastable) {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: operand has shape %s", d.Name(), x.Shape())
	}
	inDims := x.Shape().Dimensions
	for axis, b := range d.InputBroadcastable {
		if b && inDims[axis] != 1 {
			return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: operand has dimension %d on broadcastable axis %d",
				d.Name(), inDims[axis], axis)
		}
	}
	dims := make([]int, len(d.NewOrder))
	inStrides := x.Shape().Strides()
	strides := make([]int, len(d.NewOrder))
	for ii, axis := range d.NewOrder {
		if axis == NewAxis {
			dims[ii] = 1
		} else {
			dims[ii] = inDims[axis]
			strides[ii] = inStrides[axis]
		}
	}
	if d.IsView() {
		return []*tensors.Tensor{x.Reshaped(dims...)}, nil
	}
	return []*tensors.Tensor{gather(x, dims, strides)}, nil
}

// Grad implements graph.Differentiable: the inverse shuffle of the output gradient.
func (d *DimShuffleOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	x, gz := node.Inputs[0], outputGrads[0]
	if gz == nil || !x.DType().IsFloat() {
		return []*graph.Variable{nil}
	}
	if gz.Rank() < len(d.NewOrder) {
		gz = padLeft(gz, len(d.NewOrder))
	}
	var newAxes []int
	for ii, axis := range d.NewOrder {
		if axis == NewAxis && !gz.Type.Broadcastable[ii] {
			newAxes = append(newAxes, ii)
		}
	}
	if len(newAxes) > 0 {
		gz = SumKeepDims(gz, newAxes...)
	}
	inverse := make([]int, len(d.InputBroadcastable))
	for axis := range inverse {
		inverse[axis] = slices.Index(d.NewOrder, axis)
		if inverse[axis] < 0 {
			inverse[axis] = NewAxis
		}
	}
	return []*graph.Variable{ConformGradient(DimShuffle(gz, inverse...), x)}
}

// ComposeDimShuffles returns the single shuffle equivalent to applying inner and then outer.
func ComposeDimShuffles(outer, inner *DimShuffleOp) *DimShuffleOp {
	order := make([]int, len(outer.NewOrder))
	for ii, axis := range outer.NewOrder {
		if axis == NewAxis {
			order[ii] = NewAxis
		} else {
			order[ii] = inner.NewOrder[axis]
		}
	}
	return NewDimShuffleOp(inner.InputBroadcastable, order...)
}

// DimShuffle rearranges the axes of x. See DimShuffleOp for the meaning of order, and use NewAxis
// to insert a broadcastable axis. E.g. DimShuffle(x, 1, 0) transposes a matrix, and
// DimShuffle(v, NewAxis, 0) turns a vector into a row.
func DimShuffle(x *graph.Variable, order ...int) *graph.Variable {
	return graph.ApplyOp(NewDimShuffleOp(x.Type.Broadcastable, order...), x).Out()
}

// Transpose permutes the axes of x. With no permutation given, the axes are reversed.
func Transpose(x *graph.Variable, permutation ...int) *graph.Variable {
	if len(permutation) == 0 {
		permutation = make([]int, x.Rank())
		for ii := range permutation {
			permutation[ii] = x.Rank() - 1 - ii
		}
	}
	if len(permutation) != x.Rank() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Transpose(%s): permutation %v doesn't match rank %d", x, permutation, x.Rank()))
	}
	return DimShuffle(x, permutation...)
}

// ExpandDims inserts a broadcastable axis at the given position.
func ExpandDims(x *graph.Variable, axis int) *graph.Variable {
	if axis < 0 {
		axis += x.Rank() + 1
	}
	order := make([]int, 0, x.Rank()+1)
	for ii := range x.Rank() {
		if ii == axis {
			order = append(order, NewAxis)
		}
		order = append(order, ii)
	}
	if axis == x.Rank() {
		order = append(order, NewAxis)
	}
	return DimShuffle(x, order...)
}
