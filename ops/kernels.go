// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
)

// kernelTypes are the Go types with compiled (dtype-specialized) kernels.
type kernelTypes interface {
	int32 | int64 | float32 | float64
}

func isFloatType[T kernelTypes]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}

func absGeneric[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func signGeneric[T constraints.Signed | constraints.Float](x T) T {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

// floatFunctions maps scalar ops to their float64 implementation, used by the typed float kernels.
var floatFunctions = map[ScalarOp]func(float64) float64{
	ScalarExp:     math.Exp,
	ScalarLog:     math.Log,
	ScalarLog1p:   math.Log1p,
	ScalarSqrt:    math.Sqrt,
	ScalarTanh:    math.Tanh,
	ScalarSigmoid: sigmoid,
}

// typedScalar returns the scalar op specialized for T, if available.
func typedScalar[T kernelTypes](op ScalarOp) (func(args []T) T, bool) {
	isFloat := isFloatType[T]()
	switch op {
	case ScalarAdd:
		return func(a []T) T { return a[0] + a[1] }, true
	case ScalarSub:
		return func(a []T) T { return a[0] - a[1] }, true
	case ScalarMul:
		return func(a []T) T { return a[0] * a[1] }, true
	case ScalarNeg:
		return func(a []T) T { return -a[0] }, true
	case ScalarMaximum:
		return func(a []T) T { return max(a[0], a[1]) }, true
	case ScalarMinimum:
		return func(a []T) T { return min(a[0], a[1]) }, true
	case ScalarAbs:
		return func(a []T) T { return absGeneric(a[0]) }, true
	case ScalarSgn:
		return func(a []T) T { return signGeneric(a[0]) }, true
	case ScalarSqr:
		return func(a []T) T { return a[0] * a[0] }, true
	case ScalarIdentity:
		return func(a []T) T { return a[0] }, true
	case ScalarSecond:
		return func(a []T) T { return a[1] }, true
	case ScalarSwitch:
		return func(a []T) T {
			if a[0] != 0 {
				return a[1]
			}
			return a[2]
		}, true
	case ScalarIntDiv:
		if isFloat {
			return func(a []T) T { return T(math.Floor(float64(a[0]) / float64(a[1]))) }, true
		}
		return func(a []T) T { return T(floorDivInt(int64(a[0]), int64(a[1]))) }, true
	case ScalarMod:
		if isFloat {
			return func(a []T) T { return T(modFloat(float64(a[0]), float64(a[1]))) }, true
		}
		return func(a []T) T { return T(modInt(int64(a[0]), int64(a[1]))) }, true
	case ScalarPow:
		if isFloat {
			return func(a []T) T { return T(math.Pow(float64(a[0]), float64(a[1]))) }, true
		}
		return func(a []T) T { return T(powInt(int64(a[0]), int64(a[1]))) }, true
	}
	if composite, ok := op.(*Composite); ok {
		return compileComposite[T](composite)
	}
	if !isFloat {
		return nil, false
	}
	if op == ScalarTrueDiv {
		return func(a []T) T { return a[0] / a[1] }, true
	}
	if fn, found := floatFunctions[op]; found {
		return func(a []T) T { return T(fn(float64(a[0]))) }, true
	}
	return nil, false
}

// compileComposite builds a closure tree evaluating the composite without intermediate buffers.
// It fails if any of the inner operations doesn't have a typed implementation, or changes the dtype.
func compileComposite[T kernelTypes](c *Composite) (func(args []T) T, bool) {
	dtype := dtypes.FromGenericsType[T]()
	nodeDTypes := make([]dtypes.DType, len(c.Nodes))
	argDType := func(arg int) dtypes.DType {
		if arg < c.Arity {
			return dtype
		}
		return nodeDTypes[arg-c.Arity]
	}
	type evalFn func(in []T) T
	nodeFns := make([]evalFn, len(c.Nodes))
	for nodeIdx, node := range c.Nodes {
		argDTypes := make([]dtypes.DType, len(node.Args))
		for ii, arg := range node.Args {
			argDTypes[ii] = argDType(arg)
		}
		nodeDTypes[nodeIdx] = node.Op.OutputDType(argDTypes...)
		if nodeDTypes[nodeIdx] != dtype {
			return nil, false
		}
		fn, ok := typedScalar[T](node.Op)
		if !ok {
			return nil, false
		}
		argFns := make([]evalFn, len(node.Args))
		for ii, arg := range node.Args {
			if arg < c.Arity {
				inputIdx := arg
				argFns[ii] = func(in []T) T { return in[inputIdx] }
			} else {
				argFns[ii] = nodeFns[arg-c.Arity]
			}
		}
		switch len(argFns) {
		case 1:
			a0 := argFns[0]
			nodeFns[nodeIdx] = func(in []T) T {
				buf := [1]T{a0(in)}
				return fn(buf[:])
			}
		case 2:
			a0, a1 := argFns[0], argFns[1]
			nodeFns[nodeIdx] = func(in []T) T {
				buf := [2]T{a0(in), a1(in)}
				return fn(buf[:])
			}
		default:
			nodeFns[nodeIdx] = func(in []T) T {
				buf := make([]T, len(argFns))
				for ii, argFn := range argFns {
					buf[ii] = argFn(in)
				}
				return fn(buf)
			}
		}
	}
	return nodeFns[len(nodeFns)-1], true
}
