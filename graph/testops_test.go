// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// addOp is a minimal elementwise addition of two values of the same type, used in tests.
type addOp struct {
	inplace bool
}

var _ DestroyMapper = addOp{}

func (op addOp) Name() string {
	if op.inplace {
		return "testAdd{inplace}"
	}
	return "testAdd"
}

func (op addOp) MakeNode(inputs ...*Variable) *Apply {
	if len(inputs) != 2 || !inputs[0].Type.Equal(inputs[1].Type) {
		panic(errors.Wrapf(ErrTypeMismatch, "testAdd requires 2 inputs of the same type"))
	}
	return NewApply(op, inputs, inputs[0].Type)
}

func (op addOp) Perform(_ *Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	if !inputs[0].Shape().Equal(inputs[1].Shape()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "testAdd: %s and %s", inputs[0].Shape(), inputs[1].Shape())
	}
	x, y := inputs[0].AsFloat64s(), inputs[1].AsFloat64s()
	for ii := range x {
		x[ii] += y[ii]
	}
	result := tensors.FromFloat64s(inputs[0].DType(), inputs[0].Shape().Dimensions, x)
	if op.inplace {
		// Write the result back into the first input.
		switch inputs[0].DType() {
		case dtypes.Float64:
			copy(tensors.Flat[float64](inputs[0]), tensors.Flat[float64](result))
		case dtypes.Float32:
			copy(tensors.Flat[float32](inputs[0]), tensors.Flat[float32](result))
		}
		return []*tensors.Tensor{inputs[0]}, nil
	}
	return []*tensors.Tensor{result}, nil
}

func (op addOp) Equal(other Op) bool {
	o, ok := other.(addOp)
	return ok && o == op
}

func (op addOp) Hash() uint64 { return HashOp("testAdd", op.inplace) }

func (op addOp) DestroyMap() map[int][]int {
	if op.inplace {
		return map[int][]int{0: {0}}
	}
	return nil
}

// viewOp returns its input unchanged, as a view.
type viewOp struct{}

func (viewOp) Name() string { return "testView" }
func (op viewOp) MakeNode(inputs ...*Variable) *Apply {
	return NewApply(op, inputs, inputs[0].Type)
}
func (viewOp) Perform(_ *Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{inputs[0]}, nil
}
func (viewOp) Equal(other Op) bool { _, ok := other.(viewOp); return ok }
func (viewOp) Hash() uint64        { return HashOp("testView") }
func (viewOp) ViewMap() map[int][]int {
	return map[int][]int{0: {0}}
}

func add(x, y *Variable) *Variable        { return ApplyOp(addOp{}, x, y).Out() }
func addInplace(x, y *Variable) *Variable { return ApplyOp(addOp{inplace: true}, x, y).Out() }
func view(x *Variable) *Variable          { return ApplyOp(viewOp{}, x).Out() }
