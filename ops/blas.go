// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
)

// DotOp is the generic matrix product of vectors and matrices, for any numeric dtype:
// vector·vector is a scalar, matrix·vector and vector·matrix are vectors and matrix·matrix is a matrix.
//
// It's interpreted: the optimizer replaces float products by Dot22 and Gemv, which use BLAS.
type DotOp struct{}

var (
	_ graph.Op             = (*DotOp)(nil)
	_ graph.Differentiable = (*DotOp)(nil)
)

func (*DotOp) Name() string { return "Dot" }

func (*DotOp) Equal(other graph.Op) bool {
	_, ok := other.(*DotOp)
	return ok
}

func (*DotOp) Hash() uint64 { return graph.HashOp("Dot") }

func (d *DotOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 2 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Dot takes 2 operands, got %d", len(inputs)))
	}
	x, y := inputs[0], inputs[1]
	if x.Rank() < 1 || x.Rank() > 2 || y.Rank() < 1 || y.Rank() > 2 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Dot requires vectors or matrices, got %s and %s", x.Type, y.Type))
	}
	if x.DType() == dtypes.Bool || y.DType() == dtypes.Bool {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Dot doesn't accept booleans, got %s and %s", x.Type, y.Type))
	}
	var broadcastable []bool
	if x.Rank() == 2 {
		broadcastable = append(broadcastable, x.Type.Broadcastable[0])
	}
	if y.Rank() == 2 {
		broadcastable = append(broadcastable, y.Type.Broadcastable[1])
	}
	return graph.NewApply(d, inputs, graph.NewTensorType(shapes.Upcast(x.DType(), y.DType()), broadcastable...))
}

// asMatrixDims returns the dimensions of a vector or matrix operand seen as a matrix: vectors are
// rows when on the left side of the product and columns on the right side.
func asMatrixDims(t *tensors.Tensor, left bool) (rows, cols int) {
	dims := t.Shape().Dimensions
	if len(dims) == 2 {
		return dims[0], dims[1]
	}
	if left {
		return 1, dims[0]
	}
	return dims[0], 1
}

func (d *DotOp) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x, y := inputs[0], inputs[1]
	if x.Rank() != node.Inputs[0].Rank() || y.Rank() != node.Inputs[1].Rank() {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "Dot: operands have shapes %s and %s", x.Shape(), y.Shape())
	}
	m, k := asMatrixDims(x, true)
	k2, n := asMatrixDims(y, false)
	if k != k2 {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "Dot: contracting dimensions don't match for shapes %s and %s", x.Shape(), y.Shape())
	}
	var dims []int
	if x.Rank() == 2 {
		dims = append(dims, m)
	}
	if y.Rank() == 2 {
		dims = append(dims, n)
	}
	outputDType := node.Outputs[0].DType()
	if outputDType.IsFloat() {
		output := naiveMatMul(x.AsFloat64s(), y.AsFloat64s(), m, k, n)
		return []*tensors.Tensor{tensors.FromFloat64s(outputDType, dims, output)}, nil
	}
	output := naiveMatMul(x.AsInt64s(), y.AsInt64s(), m, k, n)
	return []*tensors.Tensor{tensors.FromInt64s(outputDType, dims, output)}, nil
}

func naiveMatMul[T kernelTypes](x, y []T, m, k, n int) []T {
	output := make([]T, m*n)
	for row := range m {
		for inner := range k {
			xValue := x[row*k+inner]
			if xValue == 0 {
				continue
			}
			outRow := output[row*n : (row+1)*n]
			yRow := y[inner*n : (inner+1)*n]
			for col := range n {
				outRow[col] += xValue * yRow[col]
			}
		}
	}
	return output
}

// outer returns the outer product of two vectors, as a matrix.
func outer(x, y *graph.Variable) *graph.Variable {
	return Dot(DimShuffle(x, 0, NewAxis), DimShuffle(y, NewAxis, 0))
}

func (d *DotOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	x, y, gz := node.Inputs[0], node.Inputs[1], outputGrads[0]
	if gz == nil {
		return []*graph.Variable{nil, nil}
	}
	var gx, gy *graph.Variable
	switch {
	case x.Rank() == 1 && y.Rank() == 1:
		gx, gy = Mul(gz, y), Mul(gz, x)
	case x.Rank() == 2 && y.Rank() == 1:
		gx, gy = outer(gz, y), Dot(Transpose(x), gz)
	case x.Rank() == 1 && y.Rank() == 2:
		gx, gy = Dot(y, gz), outer(x, gz)
	default:
		gx, gy = Dot(gz, Transpose(y)), Dot(Transpose(x), gz)
	}
	return conformFloatGrads([]*graph.Variable{gx, gy}, node.Inputs)
}

// conformFloatGrads conforms each gradient to its input, and drops the gradients of non-float inputs.
func conformFloatGrads(grads, inputs []*graph.Variable) []*graph.Variable {
	for ii, g := range grads {
		if g == nil || !inputs[ii].DType().IsFloat() {
			grads[ii] = nil
			continue
		}
		grads[ii] = ConformGradient(g, inputs[ii])
	}
	return grads
}

// checkBLASOperands panics unless all operands have the same float32 or float64 dtype and the given ranks.
func checkBLASOperands(name string, inputs []*graph.Variable, ranks ...int) dtypes.DType {
	if len(inputs) != len(ranks) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes %d operands, got %d", name, len(ranks), len(inputs)))
	}
	dtype := inputs[0].DType()
	if dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s requires Float32 or Float64 operands, got %s", name, dtype))
	}
	for ii, input := range inputs {
		if input.DType() != dtype || input.Rank() != ranks[ii] {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: operand #%d has type %s, wanted %s of rank %d",
				name, ii, input.Type, dtype, ranks[ii]))
		}
	}
	return dtype
}

// gemm computes c = alpha·a·b + beta·c, in place on c, with BLAS. c must be a new or destroyable tensor.
func gemm(alpha float64, a, b *tensors.Tensor, beta float64, c *tensors.Tensor) error {
	m, k := asMatrixDims(a, true)
	k2, n := asMatrixDims(b, false)
	cm, cn := asMatrixDims(c, true)
	if k != k2 || m != cm || n != cn {
		return errors.Wrapf(graph.ErrShapeMismatch, "gemm: incompatible shapes %s · %s into %s", a.Shape(), b.Shape(), c.Shape())
	}
	if m == 0 || n == 0 || k == 0 {
		// BLAS requires non-empty matrices: only the scaling of c is left to do.
		return c.CopyFrom(tensors.FromFloat64s(c.DType(), c.Shape().Dimensions, scaled(c.AsFloat64s(), beta)))
	}
	switch c.DType() {
	case dtypes.Float64:
		blas64.Gemm(blas.NoTrans, blas.NoTrans, alpha,
			blas64.General{Rows: m, Cols: k, Stride: k, Data: tensors.Flat[float64](a)},
			blas64.General{Rows: k, Cols: n, Stride: n, Data: tensors.Flat[float64](b)},
			beta,
			blas64.General{Rows: m, Cols: n, Stride: n, Data: tensors.Flat[float64](c)})
	case dtypes.Float32:
		blas32.Gemm(blas.NoTrans, blas.NoTrans, float32(alpha),
			blas32.General{Rows: m, Cols: k, Stride: k, Data: tensors.Flat[float32](a)},
			blas32.General{Rows: k, Cols: n, Stride: n, Data: tensors.Flat[float32](b)},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: n, Data: tensors.Flat[float32](c)})
	default:
		return errors.Wrapf(graph.ErrTypeMismatch, "gemm: unsupported dtype %s", c.DType())
	}
	return nil
}

// gemv computes y = alpha·a·x + beta·y, in place on y, with BLAS. y must be a new or destroyable tensor.
func gemv(alpha float64, a, x *tensors.Tensor, beta float64, y *tensors.Tensor) error {
	if err := x.Shape().CheckRank(1); err != nil {
		return errors.Wrapf(graph.ErrShapeMismatch, "gemv: operand x: %v", err)
	}
	n := x.Shape().Dim(0)
	if err := a.Shape().CheckDims(shapes.UncheckedAxis, n); err != nil {
		return errors.Wrapf(graph.ErrShapeMismatch, "gemv: operand a: %v", err)
	}
	m := a.Shape().Dim(0)
	if err := y.Shape().CheckDims(m); err != nil {
		return errors.Wrapf(graph.ErrShapeMismatch, "gemv: operand y: %v", err)
	}
	if m == 0 || n == 0 {
		return y.CopyFrom(tensors.FromFloat64s(y.DType(), y.Shape().Dimensions, scaled(y.AsFloat64s(), beta)))
	}
	switch y.DType() {
	case dtypes.Float64:
		blas64.Gemv(blas.NoTrans, alpha,
			blas64.General{Rows: m, Cols: n, Stride: n, Data: tensors.Flat[float64](a)},
			blas64.Vector{N: n, Inc: 1, Data: tensors.Flat[float64](x)},
			beta,
			blas64.Vector{N: m, Inc: 1, Data: tensors.Flat[float64](y)})
	case dtypes.Float32:
		blas32.Gemv(blas.NoTrans, float32(alpha),
			blas32.General{Rows: m, Cols: n, Stride: n, Data: tensors.Flat[float32](a)},
			blas32.Vector{N: n, Inc: 1, Data: tensors.Flat[float32](x)},
			float32(beta),
			blas32.Vector{N: m, Inc: 1, Data: tensors.Flat[float32](y)})
	default:
		return errors.Wrapf(graph.ErrTypeMismatch, "gemv: unsupported dtype %s", y.DType())
	}
	return nil
}

// scaled multiplies the values by factor. As in BLAS, a zero factor clears the values, including NaNs.
func scaled(values []float64, factor float64) []float64 {
	for ii := range values {
		if factor == 0 {
			values[ii] = 0
		} else {
			values[ii] *= factor
		}
	}
	return values
}

// Dot22Op is the product of two Float32 or Float64 matrices, computed with BLAS.
type Dot22Op struct{}

var (
	_ graph.Op             = (*Dot22Op)(nil)
	_ graph.Differentiable = (*Dot22Op)(nil)
)

func (*Dot22Op) Name() string { return "Dot22" }

func (*Dot22Op) Equal(other graph.Op) bool {
	_, ok := other.(*Dot22Op)
	return ok
}

func (*Dot22Op) Hash() uint64 { return graph.HashOp("Dot22") }

func (d *Dot22Op) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	dtype := checkBLASOperands("Dot22", inputs, 2, 2)
	return graph.NewApply(d, inputs, graph.NewTensorType(dtype, inputs[0].Type.Broadcastable[0], inputs[1].Type.Broadcastable[1]))
}

func (d *Dot22Op) Perform(node *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x, y := inputs[0], inputs[1]
	if x.Rank() != 2 || y.Rank() != 2 {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "Dot22: operands have shapes %s and %s", x.Shape(), y.Shape())
	}
	output := tensors.FromShape(shapes.Make(node.Outputs[0].DType(), x.Shape().Dimensions[0], y.Shape().Dimensions[1]))
	if err := gemm(1, x, y, 0, output); err != nil {
		return nil, errors.WithMessage(err, "Dot22")
	}
	return []*tensors.Tensor{output}, nil
}

func (d *Dot22Op) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	x, y, gz := node.Inputs[0], node.Inputs[1], outputGrads[0]
	if gz == nil {
		return []*graph.Variable{nil, nil}
	}
	return conformFloatGrads([]*graph.Variable{Dot(gz, Transpose(y)), Dot(Transpose(x), gz)}, node.Inputs)
}

// GemmOp computes β·Z + α·X·Y, where Z, X and Y are matrices and α and β scalars, given as
// the operands (Z, α, X, Y, β). If Inplace, the result is written over Z.
type GemmOp struct {
	Inplace bool
}

var (
	_ graph.Op             = (*GemmOp)(nil)
	_ graph.Differentiable = (*GemmOp)(nil)
	_ graph.DestroyMapper  = (*GemmOp)(nil)
)

func (g *GemmOp) Name() string {
	if g.Inplace {
		return "Gemm{inplace}"
	}
	return "Gemm{no_inplace}"
}

func (g *GemmOp) Equal(other graph.Op) bool {
	o, ok := other.(*GemmOp)
	return ok && o.Inplace == g.Inplace
}

func (g *GemmOp) Hash() uint64 { return graph.HashOp("Gemm", g.Inplace) }

// DestroyMap implements graph.DestroyMapper.
func (g *GemmOp) DestroyMap() map[int][]int {
	if g.Inplace {
		return map[int][]int{0: {0}}
	}
	return nil
}

func (g *GemmOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	dtype := checkBLASOperands(g.Name(), inputs, 2, 0, 2, 2, 0)
	return graph.NewApply(g, inputs, graph.NewTensorType(dtype, inputs[0].Type.Broadcastable...))
}

func (g *GemmOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	z, alpha, x, y, beta := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	if z.Rank() != 2 || x.Rank() != 2 || y.Rank() != 2 {
		return nil, errors.Wrapf(graph.ErrShapeMismatch, "%s: operands have shapes %s, %s and %s", g.Name(), z.Shape(), x.Shape(), y.Shape())
	}
	if !g.Inplace {
		z = z.Clone()
	}
	if err := gemm(alpha.AsFloat64s()[0], x, y, beta.AsFloat64s()[0], z); err != nil {
		return nil, errors.WithMessage(err, g.Name())
	}
	return []*tensors.Tensor{z}, nil
}

func (g *GemmOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	gz := outputGrads[0]
	if gz == nil {
		return make([]*graph.Variable, 5)
	}
	z, alpha, x, y, beta := node.Inputs[0], node.Inputs[1], node.Inputs[2], node.Inputs[3], node.Inputs[4]
	grads := []*graph.Variable{
		Mul(gz, beta),
		Sum(Mul(gz, Dot(x, y))),
		Mul(alpha, Dot(gz, Transpose(y))),
		Mul(alpha, Dot(Transpose(x), gz)),
		Sum(Mul(gz, z)),
	}
	return conformFloatGrads(grads, node.Inputs)
}

// GemvOp computes β·y + α·A·x, where y and x are vectors, A a matrix and α and β scalars, given
// as the operands (y, α, A, x, β). If Inplace, the result is written over y.
type GemvOp struct {
	Inplace bool
}

var (
	_ graph.Op             = (*GemvOp)(nil)
	_ graph.Differentiable = (*GemvOp)(nil)
	_ graph.DestroyMapper  = (*GemvOp)(nil)
)

func (g *GemvOp) Name() string {
	if g.Inplace {
		return "Gemv{inplace}"
	}
	return "Gemv{no_inplace}"
}

func (g *GemvOp) Equal(other graph.Op) bool {
	o, ok := other.(*GemvOp)
	return ok && o.Inplace == g.Inplace
}

func (g *GemvOp) Hash() uint64 { return graph.HashOp("Gemv", g.Inplace) }

// DestroyMap implements graph.DestroyMapper.
func (g *GemvOp) DestroyMap() map[int][]int {
	if g.Inplace {
		return map[int][]int{0: {0}}
	}
	return nil
}

func (g *GemvOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	dtype := checkBLASOperands(g.Name(), inputs, 1, 0, 2, 1, 0)
	return graph.NewApply(g, inputs, graph.NewTensorType(dtype, inputs[0].Type.Broadcastable...))
}

func (g *GemvOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	y, alpha, a, x, beta := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	if !g.Inplace {
		y = y.Clone()
	}
	if err := gemv(alpha.AsFloat64s()[0], a, x, beta.AsFloat64s()[0], y); err != nil {
		return nil, errors.WithMessage(err, g.Name())
	}
	return []*tensors.Tensor{y}, nil
}

func (g *GemvOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	gz := outputGrads[0]
	if gz == nil {
		return make([]*graph.Variable, 5)
	}
	y, alpha, a, x, beta := node.Inputs[0], node.Inputs[1], node.Inputs[2], node.Inputs[3], node.Inputs[4]
	grads := []*graph.Variable{
		Mul(gz, beta),
		Sum(Mul(gz, Dot(a, x))),
		Mul(alpha, outer(gz, x)),
		Mul(alpha, Dot(Transpose(a), gz)),
		Sum(Mul(gz, y)),
	}
	return conformFloatGrads(grads, node.Inputs)
}

// Dot is the matrix product of x and y, vectors or matrices.
func Dot(x, y *graph.Variable) *graph.Variable {
	return graph.ApplyOp(&DotOp{}, x, y).Out()
}

// Dot22 is the BLAS product of two float matrices of the same dtype.
func Dot22(x, y *graph.Variable) *graph.Variable {
	return graph.ApplyOp(&Dot22Op{}, x, y).Out()
}

// Gemm returns beta·z + alpha·x·y, computed with BLAS. alpha and beta are scalars.
func Gemm(z, alpha, x, y, beta *graph.Variable) *graph.Variable {
	return graph.ApplyOp(&GemmOp{}, z, alpha, x, y, beta).Out()
}

// Gemv returns beta·y + alpha·a·x, computed with BLAS. alpha and beta are scalars.
func Gemv(y, alpha, a, x, beta *graph.Variable) *graph.Variable {
	return graph.ApplyOp(&GemvOp{}, y, alpha, a, x, beta).Out()
}
