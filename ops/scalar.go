// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops implements the tensor operators (graph.Op) and their constructors: elementwise
// arithmetic, dimension shuffling and reshaping, reductions, matrix products, conditionals and
// random number generation.
//
// Constructors (Add, Dot, Sum, ...) take and return *graph.Variable, and panic with an error
// wrapping graph.ErrTypeMismatch if the operands have incompatible types.
package ops

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/pkg/errors"
)

// ScalarOp is an operation on scalar values. Elemwise lifts it to tensors.
type ScalarOp interface {
	// Name of the scalar operation, e.g. "add".
	Name() string

	// NumInputs is the number of operands.
	NumInputs() int

	// OutputDType returns the dtype of the result given the dtypes of the operands.
	// It panics with an error wrapping graph.ErrTypeMismatch if the dtypes are not accepted.
	OutputDType(inputs ...dtypes.DType) dtypes.DType

	// ImplFloat evaluates the operation on float64 operands: used when the result or any operand
	// is a float.
	ImplFloat(args []float64) float64

	// ImplInt evaluates the operation on int64 operands: used when the result and all operands are
	// integers or booleans.
	ImplInt(args []int64) int64

	// Equal returns whether the other scalar op is the same operation.
	Equal(other ScalarOp) bool

	// Hash is consistent with Equal.
	Hash() uint64
}

// ScalarGrad is implemented by scalar ops that are differentiable.
type ScalarGrad interface {
	// Grad returns the gradient with respect to each of the inputs of the elementwise node,
	// given the gradient gz of its output. Returned gradients may be broadcast differently than
	// the inputs, Elemwise reduces them.
	Grad(inputs []*graph.Variable, output, gz *graph.Variable) []*graph.Variable
}

// builtinScalar implements the builtin scalar operations.
type builtinScalar struct {
	name        string
	numInputs   int
	outputDType func(inputs ...dtypes.DType) dtypes.DType
	implFloat   func(args []float64) float64
	implInt     func(args []int64) int64
	grad        func(inputs []*graph.Variable, output, gz *graph.Variable) []*graph.Variable
}

var (
	_ ScalarOp   = (*builtinScalar)(nil)
	_ ScalarGrad = (*builtinScalar)(nil)
)

func (s *builtinScalar) Name() string   { return s.name }
func (s *builtinScalar) NumInputs() int { return s.numInputs }

func (s *builtinScalar) OutputDType(inputs ...dtypes.DType) dtypes.DType {
	if len(inputs) != s.numInputs {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "scalar op %q takes %d operands, got %d", s.name, s.numInputs, len(inputs)))
	}
	for _, dtype := range inputs {
		if !shapes.IsSupported(dtype) {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "scalar op %q: dtype %s not supported", s.name, dtype))
		}
	}
	return s.outputDType(inputs...)
}

func (s *builtinScalar) ImplFloat(args []float64) float64 { return s.implFloat(args) }

func (s *builtinScalar) ImplInt(args []int64) int64 {
	if s.implInt == nil {
		exceptions.Panicf("scalar op %q has no integer implementation", s.name)
	}
	return s.implInt(args)
}

func (s *builtinScalar) Equal(other ScalarOp) bool {
	o, ok := other.(*builtinScalar)
	return ok && o.name == s.name
}

func (s *builtinScalar) Hash() uint64 { return graph.HashOp("scalar", s.name) }

func (s *builtinScalar) Grad(inputs []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
	if s.grad == nil {
		panic(errors.Wrapf(ErrNotDifferentiable, "scalar op %q", s.name))
	}
	return s.grad(inputs, output, gz)
}

// ErrNotDifferentiable is raised when the gradient of an op that doesn't define one is requested.
var ErrNotDifferentiable = errors.New("operation is not differentiable")

// Output dtype rules.

func upcastDType(inputs ...dtypes.DType) dtypes.DType { return shapes.Upcast(inputs...) }

func floatDType(inputs ...dtypes.DType) dtypes.DType {
	return shapes.UpgradeToFloat(shapes.Upcast(inputs...))
}

func boolDType(...dtypes.DType) dtypes.DType { return dtypes.Bool }

func firstDType(inputs ...dtypes.DType) dtypes.DType { return inputs[0] }

func secondDType(inputs ...dtypes.DType) dtypes.DType { return inputs[1] }

func numericDType(inputs ...dtypes.DType) dtypes.DType {
	dtype := shapes.Upcast(inputs...)
	if dtype == dtypes.Bool {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "arithmetic on booleans not supported, use Cast first"))
	}
	return dtype
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// floorDivInt is the integer division rounding toward negative infinity. Division by zero returns 0.
func floorDivInt(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// modInt returns the remainder with the sign of the divisor. Division by zero returns 0.
func modInt(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func modFloat(a, b float64) float64 {
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// powInt is a O(number of bits) integer power. Negative exponents truncate to 0, except for bases 1 and -1.
func powInt(base, exp int64) int64 {
	if exp < 0 {
		switch base {
		case 1:
			return 1
		case -1:
			if exp%2 == 0 {
				return 1
			}
			return -1
		}
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp%2 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x // 0 or NaN.
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Builtin scalar operations.
var (
	ScalarAdd = &builtinScalar{
		name: "add", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return a[0] + a[1] },
		implInt:   func(a []int64) int64 { return a[0] + a[1] },
	}
	ScalarSub = &builtinScalar{
		name: "sub", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return a[0] - a[1] },
		implInt:   func(a []int64) int64 { return a[0] - a[1] },
	}
	ScalarMul = &builtinScalar{
		name: "mul", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return a[0] * a[1] },
		implInt:   func(a []int64) int64 { return a[0] * a[1] },
	}
	ScalarTrueDiv = &builtinScalar{
		name: "true_div", numInputs: 2, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return a[0] / a[1] },
	}
	ScalarIntDiv = &builtinScalar{
		name: "int_div", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return math.Floor(a[0] / a[1]) },
		implInt:   func(a []int64) int64 { return floorDivInt(a[0], a[1]) },
	}
	ScalarMod = &builtinScalar{
		name: "mod", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return modFloat(a[0], a[1]) },
		implInt:   func(a []int64) int64 { return modInt(a[0], a[1]) },
	}
	ScalarPow = &builtinScalar{
		name: "pow", numInputs: 2, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return math.Pow(a[0], a[1]) },
		implInt:   func(a []int64) int64 { return powInt(a[0], a[1]) },
	}
	ScalarMaximum = &builtinScalar{
		name: "maximum", numInputs: 2, outputDType: upcastDType,
		implFloat: func(a []float64) float64 { return max(a[0], a[1]) },
		implInt:   func(a []int64) int64 { return max(a[0], a[1]) },
	}
	ScalarMinimum = &builtinScalar{
		name: "minimum", numInputs: 2, outputDType: upcastDType,
		implFloat: func(a []float64) float64 { return min(a[0], a[1]) },
		implInt:   func(a []int64) int64 { return min(a[0], a[1]) },
	}
	ScalarNeg = &builtinScalar{
		name: "neg", numInputs: 1, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return -a[0] },
		implInt:   func(a []int64) int64 { return -a[0] },
	}
	ScalarAbs = &builtinScalar{
		name: "abs", numInputs: 1, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return math.Abs(a[0]) },
		implInt: func(a []int64) int64 {
			if a[0] < 0 {
				return -a[0]
			}
			return a[0]
		},
	}
	ScalarSgn = &builtinScalar{
		name: "sgn", numInputs: 1, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return sign(a[0]) },
		implInt:   func(a []int64) int64 { return int64(sign(float64(a[0]))) },
	}
	ScalarExp = &builtinScalar{
		name: "exp", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return math.Exp(a[0]) },
	}
	ScalarLog = &builtinScalar{
		name: "log", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return math.Log(a[0]) },
	}
	ScalarLog1p = &builtinScalar{
		name: "log1p", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return math.Log1p(a[0]) },
	}
	ScalarSqrt = &builtinScalar{
		name: "sqrt", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return math.Sqrt(a[0]) },
	}
	ScalarSqr = &builtinScalar{
		name: "sqr", numInputs: 1, outputDType: numericDType,
		implFloat: func(a []float64) float64 { return a[0] * a[0] },
		implInt:   func(a []int64) int64 { return a[0] * a[0] },
	}
	ScalarTanh = &builtinScalar{
		name: "tanh", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return math.Tanh(a[0]) },
	}
	ScalarSigmoid = &builtinScalar{
		name: "sigmoid", numInputs: 1, outputDType: floatDType,
		implFloat: func(a []float64) float64 { return sigmoid(a[0]) },
	}
	ScalarLT = newComparison("lt", func(a, b float64) bool { return a < b }, func(a, b int64) bool { return a < b })
	ScalarGT = newComparison("gt", func(a, b float64) bool { return a > b }, func(a, b int64) bool { return a > b })
	ScalarLE = newComparison("le", func(a, b float64) bool { return a <= b }, func(a, b int64) bool { return a <= b })
	ScalarGE = newComparison("ge", func(a, b float64) bool { return a >= b }, func(a, b int64) bool { return a >= b })
	ScalarEQ = newComparison("eq", func(a, b float64) bool { return a == b }, func(a, b int64) bool { return a == b })
	ScalarNEQ = newComparison("neq", func(a, b float64) bool { return a != b }, func(a, b int64) bool { return a != b })

	// ScalarSwitch(cond, a, b) returns a if cond is not zero, b otherwise.
	ScalarSwitch = &builtinScalar{
		name: "switch", numInputs: 3,
		outputDType: func(inputs ...dtypes.DType) dtypes.DType { return shapes.Upcast(inputs[1], inputs[2]) },
		implFloat: func(a []float64) float64 {
			if a[0] != 0 {
				return a[1]
			}
			return a[2]
		},
		implInt: func(a []int64) int64 {
			if a[0] != 0 {
				return a[1]
			}
			return a[2]
		},
	}

	// ScalarSecond(a, b) returns b: used to broadcast b to the shape of a (see Fill).
	ScalarSecond = &builtinScalar{
		name: "second", numInputs: 2, outputDType: secondDType,
		implFloat: func(a []float64) float64 { return a[1] },
		implInt:   func(a []int64) int64 { return a[1] },
	}
	ScalarIdentity = &builtinScalar{
		name: "identity", numInputs: 1, outputDType: firstDType,
		implFloat: func(a []float64) float64 { return a[0] },
		implInt:   func(a []int64) int64 { return a[0] },
	}
)

func newComparison(name string, implFloat func(a, b float64) bool, implInt func(a, b int64) bool) *builtinScalar {
	return &builtinScalar{
		name: name, numInputs: 2, outputDType: boolDType,
		implFloat: func(a []float64) float64 { return boolToFloat(implFloat(a[0], a[1])) },
		implInt:   func(a []int64) int64 { return boolToInt(implInt(a[0], a[1])) },
	}
}

// ScalarCast converts its operand to DType. Conversions from floats to integers truncate toward zero.
type ScalarCast struct {
	DType dtypes.DType
}

var (
	_ ScalarOp   = (*ScalarCast)(nil)
	_ ScalarGrad = (*ScalarCast)(nil)
)

func (s *ScalarCast) Name() string   { return "cast{" + s.DType.String() + "}" }
func (s *ScalarCast) NumInputs() int { return 1 }

func (s *ScalarCast) OutputDType(inputs ...dtypes.DType) dtypes.DType {
	if len(inputs) != 1 || !shapes.IsSupported(inputs[0]) || !shapes.IsSupported(s.DType) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "cannot cast %v to %s", inputs, s.DType))
	}
	return s.DType
}

func (s *ScalarCast) ImplFloat(a []float64) float64 {
	if s.DType.IsFloat() {
		return a[0]
	}
	if s.DType == dtypes.Bool {
		return boolToFloat(a[0] != 0)
	}
	return math.Trunc(a[0])
}

func (s *ScalarCast) ImplInt(a []int64) int64 {
	if s.DType == dtypes.Bool {
		return boolToInt(a[0] != 0)
	}
	return a[0]
}

func (s *ScalarCast) Equal(other ScalarOp) bool {
	o, ok := other.(*ScalarCast)
	return ok && o.DType == s.DType
}

func (s *ScalarCast) Hash() uint64 { return graph.HashOp("scalar.cast", s.DType) }

func (s *ScalarCast) Grad(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
	if !inputs[0].DType().IsFloat() {
		return []*graph.Variable{nil}
	}
	return []*graph.Variable{Cast(gz, inputs[0].DType())}
}
