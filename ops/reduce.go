// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// ReduceKind enumerates the reductions implemented by Reduce.
type ReduceKind int

const (
	ReduceSum ReduceKind = iota
	ReduceMax
	ReduceMin
	ReduceProd
)

// String implements fmt.Stringer.
func (k ReduceKind) String() string {
	switch k {
	case ReduceSum:
		return "sum"
	case ReduceMax:
		return "max"
	case ReduceMin:
		return "min"
	case ReduceProd:
		return "prod"
	}
	return fmt.Sprintf("ReduceKind(%d)", int(k))
}

// Reduce reduces its operand over the given (sorted, unique) axes, which are removed from the output.
//
// The sum and product of booleans are Int64. The max and min over an empty axis are undefined,
// and return graph.ErrShapeMismatch at run time.
type Reduce struct {
	Kind ReduceKind
	Axes []int
}

var (
	_ graph.Op             = (*Reduce)(nil)
	_ graph.Differentiable = (*Reduce)(nil)
	_ graph.Compilable     = (*Reduce)(nil)
)

func (r *Reduce) Name() string { return fmt.Sprintf("Reduce{%s,%v}", r.Kind, r.Axes) }

func (r *Reduce) Equal(other graph.Op) bool {
	o, ok := other.(*Reduce)
	return ok && r.Kind == o.Kind && slices.Equal(r.Axes, o.Axes)
}

func (r *Reduce) Hash() uint64 { return graph.HashOp("Reduce", r.Kind, r.Axes) }

func (r *Reduce) outputDType(input dtypes.DType) dtypes.DType {
	if input == dtypes.Bool && (r.Kind == ReduceSum || r.Kind == ReduceProd) {
		return dtypes.Int64
	}
	return input
}

func (r *Reduce) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 1 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 1 operand, got %d", r.Name(), len(inputs)))
	}
	x := inputs[0]
	if !isIncreasing(r.Axes) || (len(r.Axes) > 0 && (r.Axes[0] < 0 || r.Axes[len(r.Axes)-1] >= x.Rank())) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: invalid axes for operand %s of type %s", r.Name(), x, x.Type))
	}
	var broadcastable []bool
	for axis, b := range x.Type.Broadcastable {
		if !slices.Contains(r.Axes, axis) {
			broadcastable = append(broadcastable, b)
		}
	}
	return graph.NewApply(r, inputs, graph.NewTensorType(r.outputDType(x.DType()), broadcastable...))
}

// outputLayout returns the output dimensions, and for each input axis the stride on the output:
// reduced axes get stride 0.
func (r *Reduce) outputLayout(input shapes.Shape) (dims, strides []int) {
	for axis, dim := range input.Dimensions {
		if !slices.Contains(r.Axes, axis) {
			dims = append(dims, dim)
		}
	}
	outStrides := shapes.Make(input.DType, dims...).Strides()
	strides = make([]int, input.Rank())
	outAxis := 0
	for axis := range input.Dimensions {
		if !slices.Contains(r.Axes, axis) {
			strides[axis] = outStrides[outAxis]
			outAxis++
		}
	}
	return
}

func (r *Reduce) checkEmpty(input shapes.Shape, outputSize int) error {
	if (r.Kind == ReduceMax || r.Kind == ReduceMin) && input.Size() == 0 && outputSize > 0 {
		return errors.Wrapf(graph.ErrShapeMismatch, "%s: reduction of empty axes of %s", r.Name(), input)
	}
	return nil
}

// Perform implements graph.Op, computing in float64 for floats and int64 otherwise.
func (r *Reduce) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x := inputs[0]
	if x.Rank() != node.Inputs[0].Rank() {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: operand has shape %s", r.Name(), x.Shape())
	}
	dims, strides := r.outputLayout(x.Shape())
	outputDType := node.Outputs[0].DType()
	size := shapes.Make(outputDType, dims...).Size()
	if err := r.checkEmpty(x.Shape(), size); err != nil {
		return nil, err
	}
	if x.DType().IsFloat() {
		output := reduceFlat(r.Kind, x.AsFloat64s(), size, x.Shape(), strides)
		return []*tensors.Tensor{tensors.FromFloat64s(outputDType, dims, output)}, nil
	}
	output := reduceFlat(r.Kind, x.AsInt64s(), size, x.Shape(), strides)
	return []*tensors.Tensor{tensors.FromInt64s(outputDType, dims, output)}, nil
}

// reduceFlat reduces the input into an output of the given size: strides maps each input axis to
// its stride in the output, 0 for the reduced axes.
func reduceFlat[T kernelTypes](kind ReduceKind, input []T, size int, inShape shapes.Shape, strides []int) []T {
	output := make([]T, size)
	var reduceFn func(a, b T) T
	switch kind {
	case ReduceSum:
		reduceFn = func(a, b T) T { return a + b }
	case ReduceProd:
		for ii := range output {
			output[ii] = 1
		}
		reduceFn = func(a, b T) T { return a * b }
	case ReduceMax, ReduceMin:
		seen := make([]bool, size)
		isMax := kind == ReduceMax
		for inIdx, outIdx := range inShape.IterFlatWithStrides(strides) {
			value := input[inIdx]
			switch {
			case !seen[outIdx]:
				output[outIdx] = value
				seen[outIdx] = true
			case isMax && (value > output[outIdx] || isNaN(value)):
				output[outIdx] = value
			case !isMax && (value < output[outIdx] || isNaN(value)):
				output[outIdx] = value
			}
		}
		return output
	}
	for inIdx, outIdx := range inShape.IterFlatWithStrides(strides) {
		output[outIdx] = reduceFn(output[outIdx], input[inIdx])
	}
	return output
}

func isNaN[T kernelTypes](value T) bool {
	return value != value
}

// Compile implements graph.Compilable for operands of the same dtype as the output.
func (r *Reduce) Compile(node *graph.Apply) (graph.Kernel, error) {
	dtype := node.Outputs[0].DType()
	if node.Inputs[0].DType() != dtype {
		return nil, errors.Wrapf(graph.ErrNotCompilable, "%s: mixed dtypes", r.Name())
	}
	switch dtype {
	case dtypes.Float32:
		return compileReduce[float32](r, dtype), nil
	case dtypes.Float64:
		return compileReduce[float64](r, dtype), nil
	case dtypes.Int32:
		return compileReduce[int32](r, dtype), nil
	case dtypes.Int64:
		return compileReduce[int64](r, dtype), nil
	}
	return nil, errors.Wrapf(graph.ErrNotCompilable, "%s: dtype %s", r.Name(), dtype)
}

func compileReduce[T kernelTypes](r *Reduce, dtype dtypes.DType) graph.Kernel {
	return func(inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
		x := inputs[0]
		dims, strides := r.outputLayout(x.Shape())
		shape := shapes.Make(dtype, dims...)
		if err := r.checkEmpty(x.Shape(), shape.Size()); err != nil {
			return nil, err
		}
		output := reduceFlat(r.Kind, tensors.Flat[T](x), shape.Size(), x.Shape(), strides)
		return []*tensors.Tensor{tensors.FromFlatDataAndDimensions(output, dims...)}, nil
	}
}

// expandReduced inserts back the reduced axes (as broadcastable axes) into v, the output or gradient of the reduction.
func (r *Reduce) expandReduced(v *graph.Variable, rank int) *graph.Variable {
	order := make([]int, rank)
	kept := 0
	for axis := range order {
		if slices.Contains(r.Axes, axis) {
			order[axis] = NewAxis
		} else {
			order[axis] = kept
			kept++
		}
	}
	return DimShuffle(v, order...)
}

// Grad implements graph.Differentiable.
func (r *Reduce) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	x, gz := node.Inputs[0], outputGrads[0]
	if gz == nil || !x.DType().IsFloat() {
		return []*graph.Variable{nil}
	}
	rank := x.Rank()
	g := r.expandReduced(gz, rank)
	switch r.Kind {
	case ReduceProd:
		g = Div(Mul(g, r.expandReduced(node.Outputs[0], rank)), x)
	case ReduceMax, ReduceMin:
		mask := Cast(Equal(x, r.expandReduced(node.Outputs[0], rank)), x.DType())
		g = Mul(g, mask)
	}
	return []*graph.Variable{ConformGradient(g, x)}
}

func reduce(kind ReduceKind, x *graph.Variable, axes []int) *graph.Variable {
	if len(axes) == 0 {
		axes = make([]int, x.Rank())
		for ii := range axes {
			axes[ii] = ii
		}
	}
	return graph.ApplyOp(&Reduce{Kind: kind, Axes: normalizeAxes(x, axes)}, x).Out()
}

// Sum of x over the given axes, or over all axes if none is given.
func Sum(x *graph.Variable, axes ...int) *graph.Variable { return reduce(ReduceSum, x, axes) }

// Max of x over the given axes, or over all axes if none is given.
func Max(x *graph.Variable, axes ...int) *graph.Variable { return reduce(ReduceMax, x, axes) }

// Min of x over the given axes, or over all axes if none is given.
func Min(x *graph.Variable, axes ...int) *graph.Variable { return reduce(ReduceMin, x, axes) }

// Prod is the product of x over the given axes, or over all axes if none is given.
func Prod(x *graph.Variable, axes ...int) *graph.Variable { return reduce(ReduceProd, x, axes) }

// SumKeepDims sums x over the given axes, keeping them as broadcastable axes of dimension 1.
func SumKeepDims(x *graph.Variable, axes ...int) *graph.Variable {
	if len(axes) == 0 {
		return x
	}
	axes = normalizeAxes(x, axes)
	sum := graph.ApplyOp(&Reduce{Kind: ReduceSum, Axes: axes}, x)
	return sum.Op.(*Reduce).expandReduced(sum.Out(), x.Rank())
}

// Mean of x over the given axes, or over all axes if none is given. Integer values are averaged as Float64.
func Mean(x *graph.Variable, axes ...int) *graph.Variable {
	sum := Sum(x, axes...)
	dtype := shapes.UpgradeToFloat(sum.DType())
	if sum.DType() != dtype {
		sum = Cast(sum, dtype)
	}
	return Div(sum, Cast(ShapeProd(x, axes...), dtype))
}
