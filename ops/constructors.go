// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
)

// Elementwise applies the scalar op to the operands, see Elemwise.
func Elementwise(scalar ScalarOp, operands ...*graph.Variable) *graph.Variable {
	return graph.ApplyOp(NewElemwise(scalar), operands...).Out()
}

// Add returns x+y, element-wise.
func Add(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarAdd, x, y) }

// Sub returns x-y, element-wise.
func Sub(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarSub, x, y) }

// Mul returns x*y, element-wise.
func Mul(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarMul, x, y) }

// Div returns the true division x/y, element-wise. The result is a float.
func Div(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarTrueDiv, x, y) }

// IntDiv returns the floor division of x by y, element-wise.
func IntDiv(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarIntDiv, x, y) }

// Mod returns the remainder of the floor division of x by y, with the sign of y.
func Mod(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarMod, x, y) }

// Pow returns x to the power y, element-wise.
func Pow(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarPow, x, y) }

// Maximum returns the larger of x and y, element-wise.
func Maximum(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarMaximum, x, y) }

// Minimum returns the smaller of x and y, element-wise.
func Minimum(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarMinimum, x, y) }

func Neg(x *graph.Variable) *graph.Variable     { return Elementwise(ScalarNeg, x) }
func Abs(x *graph.Variable) *graph.Variable     { return Elementwise(ScalarAbs, x) }
func Sign(x *graph.Variable) *graph.Variable    { return Elementwise(ScalarSgn, x) }
func Exp(x *graph.Variable) *graph.Variable     { return Elementwise(ScalarExp, x) }
func Log(x *graph.Variable) *graph.Variable     { return Elementwise(ScalarLog, x) }
func Log1p(x *graph.Variable) *graph.Variable   { return Elementwise(ScalarLog1p, x) }
func Sqrt(x *graph.Variable) *graph.Variable    { return Elementwise(ScalarSqrt, x) }
func Sqr(x *graph.Variable) *graph.Variable     { return Elementwise(ScalarSqr, x) }
func Tanh(x *graph.Variable) *graph.Variable    { return Elementwise(ScalarTanh, x) }
func Sigmoid(x *graph.Variable) *graph.Variable { return Elementwise(ScalarSigmoid, x) }

// Identity returns a new variable with the value of x.
func Identity(x *graph.Variable) *graph.Variable { return Elementwise(ScalarIdentity, x) }

// Comparisons return Bool values.

func LessThan(x, y *graph.Variable) *graph.Variable       { return Elementwise(ScalarLT, x, y) }
func GreaterThan(x, y *graph.Variable) *graph.Variable    { return Elementwise(ScalarGT, x, y) }
func LessOrEqual(x, y *graph.Variable) *graph.Variable    { return Elementwise(ScalarLE, x, y) }
func GreaterOrEqual(x, y *graph.Variable) *graph.Variable { return Elementwise(ScalarGE, x, y) }
func Equal(x, y *graph.Variable) *graph.Variable          { return Elementwise(ScalarEQ, x, y) }
func NotEqual(x, y *graph.Variable) *graph.Variable       { return Elementwise(ScalarNEQ, x, y) }

// Where returns onTrue where cond is true (non-zero) and onFalse otherwise, element-wise.
// Both sides are always computed, see IfElse for a lazy conditional.
func Where(cond, onTrue, onFalse *graph.Variable) *graph.Variable {
	return Elementwise(ScalarSwitch, cond, onTrue, onFalse)
}

// Fill returns value broadcast to the shape of model: the result takes the dtype of value.
func Fill(model, value *graph.Variable) *graph.Variable {
	return Elementwise(ScalarSecond, model, value)
}

// Cast converts x to the dtype.
func Cast(x *graph.Variable, dtype dtypes.DType) *graph.Variable {
	return Elementwise(&ScalarCast{DType: dtype}, x)
}

// FloatX returns the configured default float dtype (config.Config.FloatX).
func FloatX() dtypes.DType {
	return config.Get().FloatXDType()
}

// Const returns a constant with the given value: a *tensors.Tensor, a Go scalar or a (nested)
// slice of Go scalars. Go int values are converted to Int64, and Go float64 values to the
// FloatX dtype.
func Const(value any) *graph.Variable {
	if t, ok := value.(*tensors.Tensor); ok {
		return graph.NewConstant(t, "")
	}
	t := tensors.FromAnyValue(value)
	if dtype := FloatX(); t.DType() == dtypes.Float64 && dtype != dtypes.Float64 {
		t = tensors.FromFloat64s(dtype, t.Shape().Dimensions, t.AsFloat64s())
	}
	return graph.NewConstant(t, "")
}

// ConstLike returns a scalar constant with the dtype of x.
func ConstLike(x *graph.Variable, value float64) *graph.Variable {
	return graph.NewConstant(tensors.FromFloat64s(x.DType(), nil, []float64{value}), "")
}

// ZerosLike returns zeros with the type of x.
func ZerosLike(x *graph.Variable) *graph.Variable { return Fill(x, ConstLike(x, 0)) }

// OnesLike returns ones with the type of x.
func OnesLike(x *graph.Variable) *graph.Variable { return Fill(x, ConstLike(x, 1)) }
