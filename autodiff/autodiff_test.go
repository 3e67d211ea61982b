/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package autodiff_test

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	. "github.com/gomlx/symbolic/autodiff"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-6

// withTestValues enables the eager computation of test values, so the gradients can be checked
// without compiling functions.
func withTestValues(t *testing.T) {
	restore := config.Override(func(c *config.Config) { c.ComputeTestValue = config.TestValueRaise })
	t.Cleanup(restore)
}

// input creates an input variable with the value as test value. Axes of dimension 1 are broadcastable.
func input(value any, name string) *graph.Variable {
	t := tensors.FromAnyValue(value)
	return graph.NewVariable(graph.NewTensorType(t.DType(), graph.BroadcastableForShape(t.Shape())...), name).SetTestValue(t)
}

func requireValue(t *testing.T, want any, v *graph.Variable) {
	got := v.TestValue()
	require.NotNilf(t, got, "%s has no test value", v)
	require.Truef(t, tensors.FromAnyValue(want).InDelta(got, epsilon), "%s: wanted %v, got %s", v, want, got)
}

func panicError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	fn()
	return nil
}

func TestGradientAdd(t *testing.T) {
	withTestValues(t)
	c1 := input([]float64{1, 2}, "c1")
	c2 := input([]float64{10}, "c2")
	output := ops.Sum(ops.Add(c1, c2))
	requireValue(t, 23.0, output)
	grads := Grad(output, c1, c2)
	requireValue(t, []float64{1, 1}, grads[0])
	requireValue(t, []float64{2}, grads[1])
	for ii, v := range []*graph.Variable{c1, c2} {
		assert.Truef(t, grads[ii].Type.Equal(v.Type), "gradient #%d has type %s, wanted %s", ii, grads[ii].Type, v.Type)
	}
}

func TestGradientBroadcast(t *testing.T) {
	withTestValues(t)
	x := input([][]float64{{1, 2, 3}, {4, 5, 6}}, "x")
	b := graph.NewShared(tensors.FromScalar(0.5), "b")
	w := graph.NewShared(tensors.FromValue([]float64{1, 2, 3}), "w")
	cost := ops.Sum(ops.Add(ops.Mul(x, w), b))
	grads := Grad(cost, w, b)
	requireValue(t, []float64{5, 7, 9}, grads[0])
	requireValue(t, 6.0, grads[1])
	assert.Equal(t, 0, grads[1].Rank())
}

func TestGradientMultipleUses(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1, 2, 3}, "x")
	cost := ops.Sum(ops.Add(ops.Mul(x, x), x))
	requireValue(t, []float64{3, 5, 7}, Grad(cost, x)[0])

	// Chain of unary functions: d/dx tanh(exp(x)).
	cost = ops.Sum(ops.Tanh(ops.Exp(x)))
	want := make([]float64, 3)
	for ii, v := range []float64{1, 2, 3} {
		th := math.Tanh(math.Exp(v))
		want[ii] = (1 - th*th) * math.Exp(v)
	}
	requireValue(t, want, Grad(cost, x)[0])
}

func TestGradientDot(t *testing.T) {
	withTestValues(t)
	v1 := input([][]float64{{2, 2, 2, 2}, {3, 3, 3, 3}}, "v1")
	v2 := input([]float64{3, 3, 3, 3}, "v2")
	output := ops.Dot(v1, v2)
	requireValue(t, []float64{24, 36}, output)
	grads := Grad(ops.Sum(output), v1, v2)
	requireValue(t, [][]float64{{3, 3, 3, 3}, {3, 3, 3, 3}}, grads[0])
	requireValue(t, []float64{5, 5, 5, 5}, grads[1])
}

func TestGradientMean(t *testing.T) {
	withTestValues(t)
	x := input([][]float32{{1, 2}, {3, 4}}, "x")
	cost := ops.Mean(ops.Sqr(x))
	grad := Grad(cost, x)[0]
	assert.Equal(t, dtypes.Float32, grad.DType())
	requireValue(t, [][]float32{{0.5, 1}, {1.5, 2}}, grad)
}

func TestGradientIfElse(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1, 2}, "x")
	cond := input(true, "cond")
	cost := ops.Sum(ops.IfElse(cond, ops.Mul(x, ops.Const(3.0)), ops.Sqr(x)))
	requireValue(t, []float64{3, 3}, Grad(cost, x)[0])
}

func TestGradientDisconnected(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1, 2}, "x")
	y := input([]float64{3, 4}, "y")
	cost := ops.Sum(ops.Sqr(x))

	err := panicError(func() { Grad(cost, x, y) })
	require.ErrorIs(t, err, ErrDisconnectedInput)

	for _, policy := range []DisconnectedPolicy{DisconnectedWarn, DisconnectedIgnore} {
		grads := GradWithOptions(cost, []*graph.Variable{x, y}, Options{DisconnectedInputs: policy})
		requireValue(t, []float64{2, 4}, grads[0])
		requireValue(t, []float64{0, 0}, grads[1])
	}
}

func TestGradientIntegerPath(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1.5, 2.5}, "x")
	cost := ops.Sum(ops.Cast(ops.Cast(x, dtypes.Int64), dtypes.Float64))
	requireValue(t, []float64{0, 0}, Grad(cost, x)[0])
}

func TestGradientInvalidCost(t *testing.T) {
	x := graph.NewVariable(graph.Vector(dtypes.Float64), "x")
	require.ErrorIs(t, panicError(func() { Grad(ops.Sqr(x), x) }), graph.ErrTypeMismatch)

	i := graph.NewVariable(graph.Scalar(dtypes.Int64), "i")
	require.ErrorIs(t, panicError(func() { Grad(ops.Sqr(i), i) }), graph.ErrTypeMismatch)
}

func TestGradientConsiderConstant(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1, 2}, "x")
	y := ops.Exp(x)
	cost := ops.Sum(ops.Mul(x, y))
	grads := GradWithOptions(cost, []*graph.Variable{x}, Options{ConsiderConstant: []*graph.Variable{y}})
	requireValue(t, []float64{math.Exp(1), math.Exp(2)}, grads[0])

	// StopGradient has the same effect.
	cost = ops.Sum(ops.Mul(x, ops.StopGradient(y)))
	requireValue(t, []float64{math.Exp(1), math.Exp(2)}, Grad(cost, x)[0])
}

func TestGradientKnownGrads(t *testing.T) {
	withTestValues(t)
	x := input([]float64{1, 2}, "x")
	y := ops.Mul(x, ops.Const(2.0))
	known := input([]float64{10, 100}, "dy")
	grads := GradWithOptions(nil, []*graph.Variable{x}, Options{KnownGrads: map[*graph.Variable]*graph.Variable{y: known}})
	requireValue(t, []float64{20, 200}, grads[0])

	// Known gradients are added to the ones coming from the cost.
	cost := ops.Sum(y)
	grads = GradWithOptions(cost, []*graph.Variable{x}, Options{KnownGrads: map[*graph.Variable]*graph.Variable{y: known}})
	requireValue(t, []float64{22, 202}, grads[0])
}

// noGradOp is an identity op without a gradient.
type noGradOp struct{}

func (noGradOp) Name() string { return "NoGrad" }

func (noGradOp) Hash() uint64 { return graph.HashOp("NoGrad") }

func (noGradOp) Equal(other graph.Op) bool {
	_, ok := other.(noGradOp)
	return ok
}

func (o noGradOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	return graph.NewApply(o, inputs, inputs[0].Type)
}

func (noGradOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{inputs[0].Clone()}, nil
}

func TestGradientNotDifferentiable(t *testing.T) {
	x := graph.NewVariable(graph.Vector(dtypes.Float64), "x")
	cost := ops.Sum(graph.ApplyOp(noGradOp{}, ops.Sqr(x)).Out())
	require.ErrorIs(t, panicError(func() { Grad(cost, x) }), ops.ErrNotDifferentiable)
}
