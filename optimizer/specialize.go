// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
)

// Specialization rewrites: they replace general ops by faster special cases.

// SpecializeRewriters returns the specialization rewrites.
func SpecializeRewriters() []NodeRewriter {
	return []NodeRewriter{
		LocalPowSpecialize,
		LocalMulToSqr,
		LocalDotToBLAS,
		LocalGemm,
	}
}

// LocalPowSpecialize rewrites pow(x, 2) to sqr(x) and pow(x, 0.5) to sqrt(x).
var LocalPowSpecialize = NewNodeRewriter("pow_specialize", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !isScalarOp(node, ops.ScalarPow) {
			return nil
		}
		x, exponent := node.Inputs[0], node.Inputs[1]
		switch {
		case isConstantValue(exponent, 2):
			return replaceWith(node, ops.Sqr(x))
		case isConstantValue(exponent, 0.5):
			return replaceWith(node, ops.Sqrt(x))
		}
		return nil
	})

// LocalMulToSqr rewrites x·x to sqr(x).
var LocalMulToSqr = NewNodeRewriter("mul_to_sqr", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !isScalarOp(node, ops.ScalarMul) || node.Inputs[0] != node.Inputs[1] {
			return nil
		}
		return replaceWith(node, ops.Sqr(node.Inputs[0]))
	})

func isBLASDType(dtype dtypes.DType) bool {
	return dtype == dtypes.Float32 || dtype == dtypes.Float64
}

// LocalDotToBLAS rewrites Dot of float32 or float64 matrices to Dot22, and of a matrix by a
// vector to Gemv.
var LocalDotToBLAS = NewNodeRewriter("dot_to_blas",
	func(op graph.Op) bool {
		_, ok := op.(*ops.DotOp)
		return ok
	},
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		x, y := node.Inputs[0], node.Inputs[1]
		dtype := x.DType()
		if !isBLASDType(dtype) || y.DType() != dtype {
			return nil
		}
		switch {
		case x.Rank() == 2 && y.Rank() == 2:
			return replaceWith(node, ops.Dot22(x, y))
		case x.Rank() == 2 && y.Rank() == 1:
			// The initial value of the output is ignored, since beta is 0.
			zero := ops.ConstLike(x, 0)
			rows := ops.DimShuffle(ops.ShapeProd(x, 0), ops.NewAxis)
			output := ops.Alloc(zero, rows, x.Type.Broadcastable[0])
			return replaceWith(node, ops.Gemv(output, ops.ConstLike(x, 1), x, y, zero))
		}
		return nil
	})

// dot22Term matches α·Dot22(x, y), Dot22(x, y)·α or Dot22(x, y), where α is a scalar constant.
// It returns the Dot22 output and α.
func dot22Term(fg *graph.FunctionGraph, v *graph.Variable) (dot *graph.Variable, alpha float64, ok bool) {
	isDot22 := func(v *graph.Variable) bool {
		if v.Owner() == nil || !singleClient(fg, v) {
			return false
		}
		_, ok := v.Owner().Op.(*ops.Dot22Op)
		return ok
	}
	if isDot22(v) {
		return v, 1, true
	}
	mul := producedBy(v, ops.ScalarMul)
	if mul == nil || !singleClient(fg, v) {
		return nil, 0, false
	}
	for ii := range 2 {
		if c, isConst := scalarConstant(mul.Inputs[1-ii]); isConst && isDot22(mul.Inputs[ii]) {
			return mul.Inputs[ii], c, true
		}
	}
	return nil, 0, false
}

// LocalGemm rewrites z + α·Dot22(x, y) and z − α·Dot22(x, y) to Gemm(z, ±α, x, y, 1).
// The rewrite only applies if z has the type of the result, and the Dot22 is not used elsewhere.
var LocalGemm = NewNodeRewriter("gemm", isElemwise,
	func(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		isAdd, isSub := isScalarOp(node, ops.ScalarAdd), isScalarOp(node, ops.ScalarSub)
		if !isAdd && !isSub {
			return nil
		}
		out := node.Outputs[0]
		if out.Rank() != 2 || !isBLASDType(out.DType()) {
			return nil
		}
		for ii := range 2 {
			if isSub && ii == 0 {
				// z − α·Dot22 only: the product must be the second operand.
				continue
			}
			z := node.Inputs[1-ii]
			dot, alpha, ok := dot22Term(fg, node.Inputs[ii])
			if !ok || !z.Type.Equal(out.Type) || !dot.Type.Equal(out.Type) {
				continue
			}
			if isSub {
				alpha = -alpha
			}
			dotNode := dot.Owner()
			return replaceWith(node, ops.Gemm(z, ops.ConstLike(out, alpha), dotNode.Inputs[0], dotNode.Inputs[1], ops.ConstLike(out, 1)))
		}
		return nil
	})
