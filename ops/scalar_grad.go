// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import "github.com/gomlx/symbolic/graph"

// Gradients are set in init, since they use the constructors that refer back to the scalar ops.
func init() {
	ScalarAdd.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{gz, gz}
	}
	ScalarSub.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{gz, Neg(gz)}
	}
	ScalarMul.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, inputs[1]), Mul(gz, inputs[0])}
	}
	ScalarTrueDiv.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		x, y := inputs[0], inputs[1]
		return []*graph.Variable{Div(gz, y), Neg(Div(Mul(gz, x), Sqr(y)))}
	}
	ScalarIntDiv.grad = func(inputs []*graph.Variable, _, _ *graph.Variable) []*graph.Variable {
		return []*graph.Variable{ZerosLike(inputs[0]), ZerosLike(inputs[1])}
	}
	ScalarMod.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{gz, Neg(Mul(gz, IntDiv(inputs[0], inputs[1])))}
	}
	ScalarPow.grad = func(inputs []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
		x, y := inputs[0], inputs[1]
		one := ConstLike(y, 1)
		gx := Mul(gz, Mul(y, Pow(x, Sub(y, one))))
		gy := Mul(gz, Mul(Log(x), output))
		return []*graph.Variable{gx, gy}
	}
	ScalarMaximum.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		x, y := inputs[0], inputs[1]
		return []*graph.Variable{
			Mul(gz, Cast(GreaterOrEqual(x, y), gz.DType())),
			Mul(gz, Cast(LessThan(x, y), gz.DType())),
		}
	}
	ScalarMinimum.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		x, y := inputs[0], inputs[1]
		return []*graph.Variable{
			Mul(gz, Cast(LessOrEqual(x, y), gz.DType())),
			Mul(gz, Cast(GreaterThan(x, y), gz.DType())),
		}
	}
	ScalarNeg.grad = func(_ []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Neg(gz)}
	}
	ScalarAbs.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, Sign(inputs[0]))}
	}
	ScalarSgn.grad = func(inputs []*graph.Variable, _, _ *graph.Variable) []*graph.Variable {
		return []*graph.Variable{ZerosLike(inputs[0])}
	}
	ScalarExp.grad = func(_ []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, output)}
	}
	ScalarLog.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Div(gz, inputs[0])}
	}
	ScalarLog1p.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Div(gz, Add(ConstLike(inputs[0], 1), inputs[0]))}
	}
	ScalarSqrt.grad = func(_ []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Div(Mul(gz, ConstLike(output, 0.5)), output)}
	}
	ScalarSqr.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, Mul(ConstLike(inputs[0], 2), inputs[0]))}
	}
	ScalarTanh.grad = func(_ []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, Sub(ConstLike(output, 1), Sqr(output)))}
	}
	ScalarSigmoid.grad = func(_ []*graph.Variable, output, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{Mul(gz, Mul(output, Sub(ConstLike(output, 1), output)))}
	}
	ScalarSwitch.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		cond := inputs[0]
		zero := ConstLike(gz, 0)
		return []*graph.Variable{nil, Where(cond, gz, zero), Where(cond, zero, gz)}
	}
	ScalarSecond.grad = func(inputs []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{ZerosLike(inputs[0]), gz}
	}
	ScalarIdentity.grad = func(_ []*graph.Variable, _, gz *graph.Variable) []*graph.Variable {
		return []*graph.Variable{gz}
	}
	for _, comparison := range []*builtinScalar{ScalarLT, ScalarGT, ScalarLE, ScalarGE, ScalarEQ, ScalarNEQ} {
		comparison.grad = comparisonGrad
	}
}

func comparisonGrad(inputs []*graph.Variable, _, _ *graph.Variable) []*graph.Variable {
	grads := make([]*graph.Variable, 2)
	for ii, input := range inputs {
		if input.DType().IsFloat() {
			grads[ii] = ZerosLike(input)
		}
	}
	return grads
}
