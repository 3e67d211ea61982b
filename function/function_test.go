// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package function_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/autodiff"
	. "github.com/gomlx/symbolic/function"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/mode"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scalar(name string) *graph.Variable {
	return graph.NewVariable(graph.Scalar(dtypes.Float64), name)
}

func vector(name string) *graph.Variable {
	return graph.NewVariable(graph.Vector(dtypes.Float64), name)
}

func toFloat(t *testing.T, value *tensors.Tensor) float64 {
	require.NotNil(t, value)
	return tensors.ToScalar[float64](value)
}

func TestCall(t *testing.T) {
	for _, modeName := range mode.Names() {
		t.Run(modeName, func(t *testing.T) {
			x, y := scalar("x"), scalar("y")
			fn, err := Build(x, y).
				Outputs(ops.Add(ops.Mul(x, y), ops.ConstLike(x, 1)), ops.Exp(ops.Neg(ops.Neg(x)))).
				ModeName(modeName).
				Name("mul_add").
				Done()
			require.NoError(t, err)
			assert.Equal(t, "mul_add", fn.Name())
			assert.Equal(t, modeName, fn.Mode().Name)
			assert.Equal(t, 2, fn.NumOutputs())

			outputs, err := fn.Call(2.0, 3.0)
			require.NoError(t, err)
			require.Len(t, outputs, 2)
			assert.InDelta(t, 7.0, toFloat(t, outputs[0]), 1e-9)
			assert.InDelta(t, 7.389056099, toFloat(t, outputs[1]), 1e-6)

			outputs = fn.MustCall(tensors.FromScalar(-1.0), 4.0)
			assert.InDelta(t, -3.0, toFloat(t, outputs[0]), 1e-9)

			outputs, err = fn.CallNamed(map[string]any{"x": 1.0, "y": 1.0})
			require.NoError(t, err)
			assert.InDelta(t, 2.0, toFloat(t, outputs[0]), 1e-9)
		})
	}
}

func TestCallErrors(t *testing.T) {
	x, y := vector("x"), vector("y")
	fn := Build(&Param{Variable: x, Strict: true}, y).
		Outputs(ops.Add(x, y)).
		ModeName(mode.FastCompile).
		MustDone()

	_, err := fn.Call([]float64{1})
	require.ErrorIs(t, err, ErrNumArgs)
	_, err = fn.Call([]float64{1}, []float64{2}, []float64{3})
	require.ErrorIs(t, err, ErrNumArgs)
	_, err = fn.Call([]float32{1}, []float64{2})
	require.ErrorIs(t, err, ErrInputFilter, "strict input requires exact dtype")
	_, err = fn.Call([][]float64{{1}}, []float64{2})
	require.ErrorIs(t, err, ErrInputFilter, "wrong rank")
	_, err = fn.Call("foo", []float64{2})
	require.ErrorIs(t, err, ErrInputFilter)
	_, err = fn.CallNamed(map[string]any{"z": 1.0})
	require.ErrorIs(t, err, ErrInputFilter)

	// Shapes are only known at run time.
	_, err = fn.Call([]float64{1, 2, 3}, []float64{1, 2})
	require.ErrorIs(t, err, graph.ErrShapeMismatch)

	// Non-strict inputs are converted.
	outputs, err := fn.Call([]float64{1, 2}, []float32{3, 4})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 6}, outputs[0].Value())
}

func TestDefaultValues(t *testing.T) {
	x, y := scalar("x"), scalar("y")
	fn := Build(x, &Param{Variable: y, Name: "offset", Default: tensors.FromScalar(10.0)}).
		Outputs(ops.Sub(x, y)).
		MustDone()
	assert.InDelta(t, -9.0, toFloat(t, fn.MustCall(1.0)[0]), 1e-9)
	assert.InDelta(t, -1.0, toFloat(t, fn.MustCall(1.0, 2.0)[0]), 1e-9)
	outputs, err := fn.CallNamed(map[string]any{"x": 3.0})
	require.NoError(t, err)
	assert.InDelta(t, -7.0, toFloat(t, outputs[0]), 1e-9)
	outputs, err = fn.CallNamed(map[string]any{"x": 3.0, "offset": 1.0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, toFloat(t, outputs[0]), 1e-9)
	_, err = fn.CallNamed(map[string]any{"offset": 1.0})
	require.ErrorIs(t, err, ErrNumArgs)
}

func TestBuildErrors(t *testing.T) {
	x, y := scalar("x"), scalar("y")
	shared := graph.NewShared(tensors.FromScalar(1.0), "shared")
	out := ops.Add(x, y)

	_, err := Build(x, x).Outputs(ops.Neg(x)).Done()
	assert.ErrorIs(t, err, ErrDuplicateInput)
	_, err = Build(ops.Const(1.0)).Outputs(ops.Neg(x)).Done()
	assert.ErrorIs(t, err, ErrConstantInput)
	_, err = Build(shared).Outputs(ops.Neg(shared)).Done()
	assert.ErrorIs(t, err, ErrConstantInput)
	_, err = Build(out).Outputs(ops.Neg(out)).Done()
	assert.ErrorIs(t, err, ErrConstantInput)
	_, err = Build(x).Outputs(out).Done()
	assert.ErrorIs(t, err, graph.ErrMissingInput)
	_, err = Build(x, y).Outputs(ops.Neg(x)).Done()
	assert.ErrorIs(t, err, ErrUnusedInput)
	_, err = Build(x, y).Outputs(ops.Neg(x)).OnUnusedInput(UnusedInputIgnore).Done()
	assert.NoError(t, err)
	_, err = Build(x, y).Outputs(ops.Neg(x)).OnUnusedInput(UnusedInputWarn).Done()
	assert.NoError(t, err)
	_, err = Build(x, 1.0).Outputs(ops.Neg(x)).Done()
	assert.Error(t, err)
	_, err = Build(x).Outputs("x").Done()
	assert.Error(t, err)
	_, err = Build(x).Outputs(ops.Neg(x)).ModeName("NO_SUCH_MODE").Done()
	assert.ErrorIs(t, err, mode.ErrUnknownMode)
}

func TestUpdates(t *testing.T) {
	for _, modeName := range mode.Names() {
		t.Run(modeName, func(t *testing.T) {
			x := scalar("x")
			acc := graph.NewShared(tensors.FromScalar(0.0), "acc")
			fn := Build(x).
				Outputs(acc).
				Updates(Update{Shared: acc, Expr: ops.Add(acc, x)}).
				ModeName(modeName).
				MustDone()

			first := fn.MustCall(1.0)[0]
			assert.Equal(t, 0.0, toFloat(t, first))
			assert.Equal(t, 1.0, toFloat(t, acc.GetValue(false)))
			second := fn.MustCall(2.0)[0]
			assert.Equal(t, 1.0, toFloat(t, second))
			assert.Equal(t, 3.0, toFloat(t, acc.GetValue(false)))
			assert.Equal(t, 0.0, toFloat(t, first), "returned values must not change in later calls")
			assert.False(t, tensors.SharesMemory(second, acc.GetValue(true)))

			// A failed call doesn't apply updates.
			_, err := fn.Call("invalid")
			require.Error(t, err)
			assert.Equal(t, 3.0, toFloat(t, acc.GetValue(false)))
		})
	}
}

func TestUpdatesAreSimultaneous(t *testing.T) {
	a := graph.NewShared(tensors.FromValue([]float64{1, 2}), "a")
	b := graph.NewShared(tensors.FromValue([]float64{3, 4}), "b")
	fn := Build().
		Updates(Update{Shared: a, Expr: b}, Update{Shared: b, Expr: a}).
		MustDone()
	assert.Empty(t, fn.MustCall())
	assert.Equal(t, []float64{3, 4}, a.GetValue(false).Value())
	assert.Equal(t, []float64{1, 2}, b.GetValue(false).Value())
	fn.MustCall()
	assert.Equal(t, []float64{1, 2}, a.GetValue(false).Value())
	assert.Equal(t, []float64{3, 4}, b.GetValue(false).Value())
}

func TestUpdateErrors(t *testing.T) {
	x := scalar("x")
	acc := graph.NewShared(tensors.FromScalar(0.0), "acc")

	_, err := Build(x).
		Updates(Update{Shared: acc, Expr: ops.Add(acc, x)}, Update{Shared: acc, Expr: x}).
		Done()
	assert.ErrorIs(t, err, ErrUpdateConflict)

	y := scalar("y")
	_, err = Build(x).Updates(Update{Shared: y, Expr: x}).Done()
	assert.ErrorIs(t, err, ErrUpdateTarget)

	_, err = Build(x).Updates(Update{Shared: acc, Expr: ops.Cast(x, dtypes.Float32)}).Done()
	assert.ErrorIs(t, err, ErrUpdateType)

	v := graph.NewShared(tensors.FromValue([]float64{1, 2}), "v")
	_, err = Build(x).Updates(Update{Shared: v, Expr: x}).Done()
	assert.ErrorIs(t, err, ErrUpdateType)
}

func TestGivens(t *testing.T) {
	x, y := scalar("x"), scalar("y")
	// Givens are applied simultaneously: x and y are swapped.
	fn := Build(x, y).
		Outputs(ops.Sub(x, y)).
		Givens(Given{Var: x, Replacement: y}, Given{Var: y, Replacement: x}).
		MustDone()
	assert.InDelta(t, -2.0, toFloat(t, fn.MustCall(5.0, 3.0)[0]), 1e-9)

	// Replacing a shared variable by an input.
	w := graph.NewShared(tensors.FromScalar(100.0), "w")
	z := scalar("z")
	fn = Build(x, z).
		Outputs(ops.Mul(w, x)).
		Givens(Given{Var: w, Replacement: ops.Add(z, ops.ConstLike(z, 1))}).
		MustDone()
	assert.InDelta(t, 6.0, toFloat(t, fn.MustCall(2.0, 2.0)[0]), 1e-9)
	assert.Len(t, fn.Graph().Inputs, 2, "w is replaced, so it's not an input")

	_, err := Build(x).Outputs(ops.Neg(x)).Givens(Given{Var: x, Replacement: vector("v")}).Done()
	assert.ErrorIs(t, err, ErrGivenType)
	_, err = Build(x).Outputs(ops.Neg(x)).Givens(Given{Var: x, Replacement: graph.NewVariable(graph.Scalar(dtypes.Float32), "f32")}).Done()
	assert.ErrorIs(t, err, ErrGivenType)
}

func TestDefaultUpdates(t *testing.T) {
	rs := ops.NewRandomStreams(42)
	sample := rs.Uniform(dtypes.Float64, []int{5}, 0, 1)
	fn := Build().Outputs(sample).MustDone()
	first, second := fn.MustCall()[0], fn.MustCall()[0]
	assert.False(t, first.Equal(second), "the random state must advance after each call")
	for _, value := range tensors.Flat[float64](first) {
		assert.True(t, value >= 0 && value < 1)
	}

	frozen := Build().Outputs(sample).NoDefaultUpdates().MustDone()
	first, second = frozen.MustCall()[0], frozen.MustCall()[0]
	assert.True(t, first.Equal(second))
	frozen = Build().Outputs(sample).NoDefaultUpdates(rs.States()...).MustDone()
	first, second = frozen.MustCall()[0], frozen.MustCall()[0]
	assert.True(t, first.Equal(second))

	// Explicit updates override the default ones.
	counter := graph.NewShared(tensors.FromScalar(3.0), "counter")
	counter.SetDefaultUpdate(ops.Add(counter, ops.ConstLike(counter, 1)))
	fn = Build().Outputs(counter).MustDone()
	fn.MustCall()
	assert.Equal(t, 4.0, toFloat(t, counter.GetValue(false)))
	fn = Build().Outputs(counter).Updates(Update{Shared: counter, Expr: ops.Mul(counter, ops.ConstLike(counter, 2))}).MustDone()
	fn.MustCall()
	assert.Equal(t, 8.0, toFloat(t, counter.GetValue(false)))
}

func TestAliasedOutputs(t *testing.T) {
	for _, modeName := range []string{mode.FastCompile, mode.FastRun} {
		t.Run(modeName, func(t *testing.T) {
			x := vector("x")
			double := ops.Mul(x, ops.ConstLike(x, 2))
			fn := Build(x).Outputs(x, double, double, ops.Const([]float64{1, 2})).ModeName(modeName).MustDone()
			arg := tensors.FromValue([]float64{1, 2})
			outputs := fn.MustCall(arg)
			assert.False(t, tensors.SharesMemory(arg, outputs[0]))
			assert.False(t, tensors.SharesMemory(outputs[1], outputs[2]))
			assert.Equal(t, []float64{2, 4}, outputs[2].Value())
			outputs[3].Value().([]float64)[0] = 100
			assert.Equal(t, []float64{1, 2}, fn.MustCall(arg)[3].Value(), "constants never change")

			borrowed := Build(x).Outputs(&Out{Variable: x, Borrow: true}).ModeName(modeName).MustDone()
			assert.True(t, tensors.SharesMemory(arg, borrowed.MustCall(arg)[0]))
		})
	}
}

func TestInplace(t *testing.T) {
	x := vector("x")
	inplaceExp := graph.ApplyOp(ops.NewElemwise(ops.ScalarExp).WithInplace(0), x).Out()
	_, err := Build(x).Outputs(inplaceExp).Done()
	require.ErrorIs(t, err, ErrInplaceNotAccepted)
	_, err = Build(x).Outputs(inplaceExp).AcceptInplace().Done()
	require.ErrorIs(t, err, graph.ErrInconsistency, "non-mutable inputs can't be destroyed")

	fn := Build(&Param{Variable: x, Mutable: true}).Outputs(inplaceExp).AcceptInplace().MustDone()
	arg := tensors.FromValue([]float64{0, 0})
	assert.Equal(t, []float64{1, 1}, fn.MustCall(arg)[0].Value())
	assert.Equal(t, []float64{0, 0}, arg.Value(), "mutable inputs are copied unless borrowed")

	fn = Build(&Param{Variable: x, Mutable: true, Borrow: true}).Outputs(inplaceExp).AcceptInplace().MustDone()
	assert.Equal(t, []float64{1, 1}, fn.MustCall(arg)[0].Value())
	assert.Equal(t, []float64{1, 1}, arg.Value(), "borrowed mutable inputs are overwritten")

	// The in-place rewrites never destroy inputs nor shared values.
	w := graph.NewShared(tensors.FromValue([]float64{1, 2}), "w")
	fn = Build(x).Outputs(ops.Exp(ops.Add(x, w)), ops.Exp(x)).ModeName(mode.FastRun).MustDone()
	arg = tensors.FromValue([]float64{0, 0})
	fn.MustCall(arg)
	assert.Equal(t, []float64{0, 0}, arg.Value())
	assert.Equal(t, []float64{1, 2}, w.GetValue(false).Value())
}

func TestInplaceChain(t *testing.T) {
	x := vector("x")
	tanh := graph.ApplyOp(ops.NewElemwise(ops.ScalarTanh).WithInplace(0), ops.Exp(x)).Out()
	neg := graph.ApplyOp(ops.NewElemwise(ops.ScalarNeg).WithInplace(0), tanh).Out()
	want := []float64{-math.Tanh(1), -math.Tanh(math.E)}
	for _, modeName := range mode.Names() {
		t.Run(modeName, func(t *testing.T) {
			fn, err := Build(x).Outputs(neg).AcceptInplace().ModeName(modeName).Done()
			require.NoError(t, err)
			arg := tensors.FromValue([]float64{0, 1})
			got := fn.MustCall(arg)[0].Value().([]float64)
			assert.InDeltaSlice(t, want, got, 1e-12)
			assert.Equal(t, []float64{0, 1}, arg.Value())
		})
	}
}

// logisticRegression returns a training function for the weights w and the bias b, and the
// function returning the loss.
func logisticRegression(t *testing.T, modeName string, w, b *graph.Variable) (train *Function) {
	x := graph.NewVariable(graph.Matrix(dtypes.Float64), "x")
	y := vector("y")
	p := ops.Sigmoid(ops.Add(ops.Dot(x, w), b))
	one := ops.ConstLike(y, 1)
	loss := ops.Mean(ops.Neg(ops.Add(
		ops.Mul(y, ops.Log(p)),
		ops.Mul(ops.Sub(one, y), ops.Log(ops.Sub(one, p))))))
	grads := autodiff.Grad(loss, w, b)
	learningRate := ops.ConstLike(y, 0.5)
	train, err := Build(x, y).
		Outputs(loss).
		Updates(
			Update{Shared: w, Expr: ops.Sub(w, ops.Mul(learningRate, grads[0]))},
			Update{Shared: b, Expr: ops.Sub(b, ops.Mul(learningRate, grads[1]))}).
		ModeName(modeName).
		Name("train_" + modeName).
		Done()
	require.NoError(t, err)
	return train
}

func TestTraining(t *testing.T) {
	inputs := [][]float64{{1, 2}, {2, 1}, {-1, -2}, {-2, -1}, {0.5, 1}, {-1, -0.5}}
	labels := []float64{1, 1, 0, 0, 1, 0}
	finalWeights := make(map[string][]float64)
	for _, modeName := range mode.Names() {
		t.Run(modeName, func(t *testing.T) {
			w := graph.NewShared(tensors.FromValue([]float64{0, 0}), "w")
			b := graph.NewShared(tensors.FromScalar(0.0), "b")
			train := logisticRegression(t, modeName, w, b)
			var losses []float64
			for range 30 {
				losses = append(losses, toFloat(t, train.MustCall(inputs, labels)[0]))
			}
			assert.InDelta(t, 0.6931471805599453, losses[0], 1e-9, "initial loss is log(2)")
			assert.Less(t, losses[len(losses)-1], losses[0]/4)
			finalWeights[modeName] = append(w.GetValue(false).AsFloat64s(), toFloat(t, b.GetValue(false)))
		})
	}
	want := finalWeights[mode.FastCompile]
	require.NotEmpty(t, want)
	for modeName, got := range finalWeights {
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-7)); diff != "" {
			t.Errorf("mode %s trained different weights (-%s +%s):\n%s", modeName, mode.FastCompile, modeName, diff)
		}
	}
}

func TestProfile(t *testing.T) {
	x := vector("x")
	fn := Build(x).Outputs(ops.Sum(ops.Exp(x))).ModeName(mode.ProfileMode).Name("profiled").MustDone()
	require.NotNil(t, fn.Profile())
	for range 5 {
		fn.MustCall([]float64{1, 2, 3})
	}
	count, _, err := fn.Profile().Calls()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	stats, err := fn.Profile().OpStats()
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	for _, s := range stats {
		assert.Equal(t, 5, s.Calls, "op %s", s.Op)
	}
	assert.Contains(t, fn.Profile().Summary(), "profiled")

	plain := Build(x).Outputs(ops.Sum(x)).ModeName(mode.FastRun).MustDone()
	assert.Nil(t, plain.Profile())
}

func TestConcurrentCalls(t *testing.T) {
	x := scalar("x")
	acc := graph.NewShared(tensors.FromScalar(0.0), "acc")
	fn := Build(x).Updates(Update{Shared: acc, Expr: ops.Add(acc, x)}).MustDone()
	const numCalls = 100
	var wg sync.WaitGroup
	for ii := range numCalls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fn.Call(float64(ii))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(numCalls*(numCalls-1)/2), toFloat(t, acc.GetValue(false)))
}

func TestCallContext(t *testing.T) {
	x := scalar("x")
	acc := graph.NewShared(tensors.FromScalar(0.0), "acc")
	fn := Build(x).Outputs(ops.Exp(x)).Updates(Update{Shared: acc, Expr: ops.Add(acc, x)}).MustDone()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fn.CallContext(ctx, 1.0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0.0, toFloat(t, acc.GetValue(false)))
}

func TestString(t *testing.T) {
	x := scalar("x")
	fn := Build(x).Outputs(ops.Neg(x)).Name("neg").ModeName(mode.FastCompile).MustDone()
	other := Build(x).Outputs(ops.Neg(x)).Name("neg").ModeName(mode.FastCompile).MustDone()
	assert.NotEqual(t, fn.ID(), other.ID())
	s := fn.String()
	assert.Contains(t, s, `"neg"`)
	assert.Contains(t, s, mode.FastCompile)
	assert.Contains(t, s, fmt.Sprint(fn.ID()))
	assert.Len(t, fn.Params(), 1)
	assert.Equal(t, "raise", UnusedInputRaise.String())
}
