// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"maps"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// Elemwise applies a ScalarOp to each element of its operands.
//
// Operands of lower rank are left-padded with broadcastable axes (see DimShuffle), and the output
// dtype is given by the scalar op (usually the upcast of the operands). At run time, broadcastable
// axes are repeated to match the others, and non-broadcastable axes must have the same dimension
// in all operands, otherwise graph.ErrShapeMismatch is returned.
type Elemwise struct {
	Scalar ScalarOp

	// InplacePattern maps the output (0) to the index of the input whose memory it overwrites.
	// Empty if the operation is not in place.
	InplacePattern map[int]int
}

var (
	_ graph.Op             = (*Elemwise)(nil)
	_ graph.Differentiable = (*Elemwise)(nil)
	_ graph.DestroyMapper  = (*Elemwise)(nil)
	_ graph.Compilable     = (*Elemwise)(nil)
)

// NewElemwise returns an Elemwise op (not in place) for the scalar operation.
func NewElemwise(scalar ScalarOp) *Elemwise {
	return &Elemwise{Scalar: scalar}
}

// WithInplace returns a copy of the op that writes its output over the memory of the input inputIdx.
func (e *Elemwise) WithInplace(inputIdx int) *Elemwise {
	return &Elemwise{Scalar: e.Scalar, InplacePattern: map[int]int{0: inputIdx}}
}

// DestroyedInput returns the index of the input overwritten by the op, or -1 if none.
func (e *Elemwise) DestroyedInput() int {
	if inputIdx, found := e.InplacePattern[0]; found {
		return inputIdx
	}
	return -1
}

// Name implements graph.Op.
func (e *Elemwise) Name() string {
	if d := e.DestroyedInput(); d >= 0 {
		return fmt.Sprintf("Elemwise{%s,inplace:%d}", e.Scalar.Name(), d)
	}
	return fmt.Sprintf("Elemwise{%s}", e.Scalar.Name())
}

// Equal implements graph.Op.
func (e *Elemwise) Equal(other graph.Op) bool {
	o, ok := other.(*Elemwise)
	return ok && e.Scalar.Equal(o.Scalar) && maps.Equal(e.InplacePattern, o.InplacePattern)
}

// Hash implements graph.Op.
func (e *Elemwise) Hash() uint64 {
	return graph.HashOp("Elemwise", e.Scalar.Hash(), e.DestroyedInput())
}

// DestroyMap implements graph.DestroyMapper.
func (e *Elemwise) DestroyMap() map[int][]int {
	if d := e.DestroyedInput(); d >= 0 {
		return map[int][]int{0: {d}}
	}
	return nil
}

// MakeNode implements graph.Op.
func (e *Elemwise) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != e.Scalar.NumInputs() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes %d operands, got %d", e.Name(), e.Scalar.NumInputs(), len(inputs)))
	}
	rank := 0
	for _, input := range inputs {
		rank = max(rank, input.Rank())
	}
	padded := make([]*graph.Variable, len(inputs))
	inputDTypes := make([]dtypes.DType, len(inputs))
	broadcastable := slices.Repeat([]bool{true}, rank)
	for ii, input := range inputs {
		if input.Rank() < rank {
			input = padLeft(input, rank)
		}
		padded[ii] = input
		inputDTypes[ii] = input.DType()
		for axis, b := range input.Type.Broadcastable {
			broadcastable[axis] = broadcastable[axis] && b
		}
	}
	outputType := graph.NewTensorType(e.Scalar.OutputDType(inputDTypes...), broadcastable...)
	if d := e.DestroyedInput(); d >= 0 {
		if d >= len(padded) || !padded[d].Type.Equal(outputType) {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: output type %s must match the type of the destroyed input", e.Name(), outputType))
		}
	}
	return graph.NewApply(e, padded, outputType)
}

// padLeft adds broadcastable axes at the start of x, up to the given rank.
func padLeft(x *graph.Variable, rank int) *graph.Variable {
	order := make([]int, rank)
	offset := rank - x.Rank()
	for axis := range order {
		order[axis] = axis - offset
		if axis < offset {
			order[axis] = NewAxis
		}
	}
	return DimShuffle(x, order...)
}

// Perform implements graph.Op: it evaluates the scalar op in float64 if the output or any operand is a
// float, or in int64 otherwise.
func (e *Elemwise) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	dims, err := broadcastShape(node, inputs)
	if err != nil {
		return nil, err
	}
	outputDType := node.Outputs[0].DType()
	useFloat := outputDType.IsFloat()
	strides := make([][]int, len(inputs))
	for ii, input := range inputs {
		strides[ii] = broadcastStrides(input.Shape(), dims)
		useFloat = useFloat || input.DType().IsFloat()
	}
	size := shapes.Make(outputDType, dims...).Size()

	var result *tensors.Tensor
	if useFloat {
		values := make([][]float64, len(inputs))
		for ii, input := range inputs {
			values[ii] = input.AsFloat64s()
		}
		output := make([]float64, size)
		args := make([]float64, len(inputs))
		forEachBroadcast(dims, strides, func(outIdx int, inIdx []int) {
			for ii := range args {
				args[ii] = values[ii][inIdx[ii]]
			}
			output[outIdx] = e.Scalar.ImplFloat(args)
		})
		result = tensors.FromFloat64s(outputDType, dims, output)
	} else {
		values := make([][]int64, len(inputs))
		for ii, input := range inputs {
			values[ii] = input.AsInt64s()
		}
		output := make([]int64, size)
		args := make([]int64, len(inputs))
		forEachBroadcast(dims, strides, func(outIdx int, inIdx []int) {
			for ii := range args {
				args[ii] = values[ii][inIdx[ii]]
			}
			output[outIdx] = e.Scalar.ImplInt(args)
		})
		result = tensors.FromInt64s(outputDType, dims, output)
	}

	if d := e.DestroyedInput(); d >= 0 {
		if err := inputs[d].CopyFrom(result); err != nil {
			return nil, errors.WithMessagef(err, "%s", e.Name())
		}
		result = inputs[d]
	}
	return []*tensors.Tensor{result}, nil
}

// Compile implements graph.Compilable: a specialized loop is generated when the operands and the output
// all have the same dtype, and the scalar op has a typed implementation.
func (e *Elemwise) Compile(node *graph.Apply) (graph.Kernel, error) {
	dtype := node.Outputs[0].DType()
	for _, input := range node.Inputs {
		if input.DType() != dtype {
			return nil, errors.Wrapf(graph.ErrNotCompilable, "%s: mixed dtypes", e.Name())
		}
	}
	switch dtype {
	case dtypes.Float32:
		return compileElemwise[float32](e, node)
	case dtypes.Float64:
		return compileElemwise[float64](e, node)
	case dtypes.Int32:
		return compileElemwise[int32](e, node)
	case dtypes.Int64:
		return compileElemwise[int64](e, node)
	}
	return nil, errors.Wrapf(graph.ErrNotCompilable, "%s: dtype %s", e.Name(), dtype)
}

func compileElemwise[T kernelTypes](e *Elemwise, node *graph.Apply) (graph.Kernel, error) {
	fn, ok := typedScalar[T](e.Scalar)
	if !ok {
		return nil, errors.Wrapf(graph.ErrNotCompilable, "%s: no typed implementation", e.Name())
	}
	dtype := node.Outputs[0].DType()
	destroyed := e.DestroyedInput()
	numInputs := len(node.Inputs)
	return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
		dims, err := broadcastShape(node, inputs)
		if err != nil {
			return nil, err
		}
		var output *tensors.Tensor
		if destroyed >= 0 {
			output = inputs[destroyed]
		} else {
			output = tensors.FromShape(shapes.Make(dtype, dims...))
		}
		out := tensors.Flat[T](output)
		flats := make([][]T, numInputs)
		noBroadcast := true
		for ii, input := range inputs {
			flats[ii] = tensors.Flat[T](input)
			noBroadcast = noBroadcast && len(flats[ii]) == len(out)
		}
		args := make([]T, numInputs)
		if noBroadcast {
			for outIdx := range out {
				for ii, flat := range flats {
					args[ii] = flat[outIdx]
				}
				out[outIdx] = fn(args)
			}
			return []*tensors.Tensor{output}, nil
		}
		strides := make([][]int, numInputs)
		for ii, input := range inputs {
			strides[ii] = broadcastStrides(input.Shape(), dims)
		}
		forEachBroadcast(dims, strides, func(outIdx int, inIdx []int) {
			for ii, flat := range flats {
				args[ii] = flat[inIdx[ii]]
			}
			out[outIdx] = fn(args)
		})
		return []*tensors.Tensor{output}, nil
	}, nil
}

// Grad implements graph.Differentiable. The gradients given by the scalar op are summed over the
// axes where the inputs were broadcast.
func (e *Elemwise) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	grads := make([]*graph.Variable, len(node.Inputs))
	gz := outputGrads[0]
	if gz == nil {
		return grads
	}
	sg, ok := e.Scalar.(ScalarGrad)
	if !ok {
		panic(errors.Wrapf(ErrNotDifferentiable, "%s", e.Name()))
	}
	scalarGrads := sg.Grad(node.Inputs, node.Outputs[0], gz)
	for ii, g := range scalarGrads {
		if g == nil || !node.Inputs[ii].DType().IsFloat() {
			continue
		}
		grads[ii] = ConformGradient(g, node.Inputs[ii])
	}
	return grads
}

// ConformGradient reshapes a gradient g computed for the variable x so it has exactly the type of x:
// it's summed over the axes that are broadcastable in x but not in g, broadcast over the axes that are
// broadcastable in g but not in x, and cast to the dtype of x.
//
// g must have the same rank as x, or lower (it's then left-padded).
func ConformGradient(g, x *graph.Variable) *graph.Variable {
	t := x.Type
	if g.Rank() < t.Rank() {
		g = padLeft(g, t.Rank())
	}
	if g.Rank() != t.Rank() {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "gradient %s of type %s doesn't conform to %s of type %s", g, g.Type, x, t))
	}
	var sumAxes []int
	needsBroadcast := false
	for axis, b := range t.Broadcastable {
		switch {
		case b && !g.Type.Broadcastable[axis]:
			sumAxes = append(sumAxes, axis)
		case !b && g.Type.Broadcastable[axis]:
			needsBroadcast = true
		}
	}
	if len(sumAxes) > 0 {
		g = SumKeepDims(g, sumAxes...)
	}
	if needsBroadcast {
		g = Fill(x, g)
	}
	if g.DType() != t.DType {
		g = Cast(g, t.DType)
	}
	return g
}
