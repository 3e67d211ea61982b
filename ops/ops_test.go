// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// evaluate computes the outputs with Perform, given the values of the free inputs.
// For every node with a compiled kernel, it also checks the kernel gives the same results.
func evaluate(t *testing.T, feeds map[*graph.Variable]*tensors.Tensor, outputs ...*graph.Variable) ([]*tensors.Tensor, error) {
	values := make(map[*graph.Variable]*tensors.Tensor)
	valueOf := func(v *graph.Variable) *tensors.Tensor {
		if value, found := values[v]; found {
			return value
		}
		switch {
		case v.IsConstant():
			return v.ConstantValue()
		case v.IsShared():
			return v.GetValue(false)
		}
		value, found := feeds[v]
		require.Truef(t, found, "no value given for %s", v)
		return value.Clone()
	}
	for _, node := range graph.Toposort(nil, outputs) {
		inputs := make([]*tensors.Tensor, len(node.Inputs))
		for ii, input := range node.Inputs {
			inputs[ii] = valueOf(input)
		}
		var compiled []*tensors.Tensor
		if c, ok := node.Op.(graph.Compilable); ok && len(graph.DestroyedInputs(node.Op)) == 0 {
			kernel, err := c.Compile(node)
			if err == nil {
				compiled, err = kernel(inputs)
				if err != nil {
					return nil, err
				}
			} else {
				require.ErrorIs(t, err, graph.ErrNotCompilable)
			}
		}
		results, err := node.Op.Perform(node, inputs)
		if err != nil {
			return nil, err
		}
		require.Len(t, results, len(node.Outputs))
		for ii, output := range node.Outputs {
			require.NoErrorf(t, output.Type.CheckShape(results[ii].Shape()), "output #%d of %s", ii, node)
			if compiled != nil {
				require.Truef(t, compiled[ii].InDelta(results[ii], 1e-5), "%s: compiled %s != interpreted %s", node, compiled[ii], results[ii])
			}
			values[output] = results[ii]
		}
	}
	results := make([]*tensors.Tensor, len(outputs))
	for ii, output := range outputs {
		results[ii] = valueOf(output)
	}
	return results, nil
}

func mustEvaluate(t *testing.T, feeds map[*graph.Variable]*tensors.Tensor, outputs ...*graph.Variable) []*tensors.Tensor {
	results, err := evaluate(t, feeds, outputs...)
	require.NoError(t, err)
	return results
}

func evalValue(t *testing.T, output *graph.Variable) any {
	return mustEvaluate(t, nil, output)[0].Value()
}

// panicError returns the error the function panicked with, or nil.
func panicError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = r.(error)
		}
	}()
	fn()
	return nil
}

func TestElemwise(t *testing.T) {
	m := Const([][]float64{{1, 2}, {3, 4}})
	v := Const([]float64{10, 20})
	sum := Add(m, v)
	assert.Equal(t, []bool{false, false}, sum.Type.Broadcastable)
	assert.Equal(t, [][]float64{{11, 22}, {13, 24}}, evalValue(t, sum))

	// Column broadcasting.
	col := Const([][]float64{{100}, {200}})
	assert.Equal(t, [][]float64{{101, 102}, {203, 204}}, evalValue(t, Add(m, col)))

	// Upcast of mixed dtypes and integer operations.
	ints := Const([]int32{7, -7})
	assert.Equal(t, dtypes.Int32, IntDiv(ints, Const(int32(2))).DType())
	assert.Equal(t, []int32{3, -4}, evalValue(t, IntDiv(ints, Const(int32(2)))))
	assert.Equal(t, []int32{1, 1}, evalValue(t, Mod(ints, Const(int32(2)))))
	assert.Equal(t, dtypes.Float64, Add(ints, Const(1.5)).DType())
	assert.Equal(t, []float64{8.5, -5.5}, evalValue(t, Add(ints, Const(1.5))))
	assert.Equal(t, []bool{true, false}, evalValue(t, GreaterThan(ints, Const(int32(0)))))
	assert.Equal(t, []float64{1, 4}, evalValue(t, Where(Const([]bool{true, false}), Const([]float64{1, 2}), Const(4.0))))
	assert.Equal(t, []int64{1, 0}, evalValue(t, Cast(Const([]float64{1.7, -0.2}), dtypes.Int64)))
	assert.Equal(t, [][]float32{{5, 5}, {5, 5}}, evalValue(t, Fill(m, Const(float32(5)))))

	// Non-broadcastable axes must match at run time.
	x := graph.NewVariable(graph.Vector(dtypes.Float64), "x")
	y := graph.NewVariable(graph.Vector(dtypes.Float64), "y")
	_, err := evaluate(t, map[*graph.Variable]*tensors.Tensor{
		x: tensors.FromValue([]float64{1, 2, 3}),
		y: tensors.FromValue([]float64{1, 2, 3, 4}),
	}, Add(x, y))
	require.ErrorIs(t, err, graph.ErrShapeMismatch)

	// Wrong operand types panic at construction.
	require.ErrorIs(t, panicError(func() { Neg(Const(true)) }), graph.ErrTypeMismatch)
}

func TestElemwiseInplace(t *testing.T) {
	x := graph.NewVariable(graph.Vector(dtypes.Float32), "x")
	y := graph.NewVariable(graph.Vector(dtypes.Float32), "y")
	op := NewElemwise(ScalarAdd).WithInplace(0)
	assert.Equal(t, "Elemwise{add,inplace:0}", op.Name())
	assert.Equal(t, map[int][]int{0: {0}}, graph.DestroyMapOf(op))
	assert.False(t, graph.OpsEqual(op, NewElemwise(ScalarAdd)))
	node := op.MakeNode(x, y)

	xValue := tensors.FromValue([]float32{1, 2})
	outputs, err := op.Perform(node, []*tensors.Tensor{xValue, tensors.FromValue([]float32{10, 20})})
	require.NoError(t, err)
	assert.Same(t, xValue, outputs[0])
	assert.Equal(t, []float32{11, 22}, xValue.Value())

	kernel, err := op.Compile(node)
	require.NoError(t, err)
	outputs, err = kernel([]*tensors.Tensor{xValue, tensors.FromValue([]float32{1, 1})})
	require.NoError(t, err)
	assert.Same(t, xValue, outputs[0])
	assert.Equal(t, []float32{12, 23}, xValue.Value())

	// Output type must match the destroyed input.
	row := graph.NewVariable(graph.Row(dtypes.Float32), "row")
	require.ErrorIs(t, panicError(func() { op.MakeNode(row, graph.NewVariable(graph.Matrix(dtypes.Float32), "m")) }), graph.ErrTypeMismatch)
}

func TestComposite(t *testing.T) {
	c := NewComposite(2,
		CompositeNode{Op: ScalarMul, Args: []int{0, 1}},
		CompositeNode{Op: ScalarAdd, Args: []int{2, 0}},
		CompositeNode{Op: ScalarExp, Args: []int{3}})
	assert.Equal(t, "Composite{exp(add(mul(i0, i1), i0))}", c.Name())
	assert.Equal(t, dtypes.Float32, c.OutputDType(dtypes.Float32, dtypes.Float32))

	x := Const([]float32{0, 1})
	y := Const([]float32{2, -1})
	got := mustEvaluate(t, nil, Elementwise(c, x, y))[0]
	want := mustEvaluate(t, nil, Exp(Add(Mul(x, y), x)))[0]
	assert.True(t, got.InDelta(want, 1e-6))

	fn, ok := typedScalar[float32](c)
	require.True(t, ok)
	assert.InDelta(t, 1.0, fn([]float32{0, 2}), 1e-6)

	// Comparisons change the dtype, so they can't be in a typed composite.
	cmp := NewComposite(2, CompositeNode{Op: ScalarLT, Args: []int{0, 1}})
	_, ok = typedScalar[float32](cmp)
	assert.False(t, ok)

	assert.True(t, c.Equal(NewComposite(2, c.Nodes...)))
	assert.False(t, c.Equal(cmp))
	require.ErrorIs(t, panicError(func() { NewComposite(1, CompositeNode{Op: ScalarAdd, Args: []int{0, 1}}) }), graph.ErrTypeMismatch)
}

func TestDimShuffle(t *testing.T) {
	m := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
	transposed := Transpose(m)
	op := transposed.Owner().Op.(*DimShuffleOp)
	assert.Equal(t, "DimShuffle{1,0}", op.Name())
	assert.False(t, op.IsView())
	assert.Nil(t, op.ViewMap())
	assert.Equal(t, [][]float64{{1, 4}, {2, 5}, {3, 6}}, evalValue(t, transposed))

	v := Const([]float64{1, 2})
	row := DimShuffle(v, NewAxis, 0)
	assert.Equal(t, []bool{true, false}, row.Type.Broadcastable)
	assert.Equal(t, map[int][]int{0: {0}}, graph.ViewMapOf(row.Owner().Op))
	assert.Equal(t, [][]float64{{1, 2}}, evalValue(t, row))
	assert.Equal(t, []float64{1, 2}, evalValue(t, DimShuffle(row, 1)))
	assert.Equal(t, [][][]float64{{{1}, {2}}}, evalValue(t, ExpandDims(row, -1)))

	require.ErrorIs(t, panicError(func() { DimShuffle(m, 0) }), graph.ErrTypeMismatch)
	require.ErrorIs(t, panicError(func() { DimShuffle(m, 0, 0) }), graph.ErrTypeMismatch)

	composed := ComposeDimShuffles(NewDimShuffleOp([]bool{false, false}, 1, 0), NewDimShuffleOp([]bool{false, false}, 1, 0))
	assert.True(t, composed.IsIdentity())
}

func TestShapeAndReshape(t *testing.T) {
	m := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []int64{2, 3}, evalValue(t, Shape(m)))
	assert.Equal(t, int64(6), evalValue(t, ShapeProd(m)))
	assert.Equal(t, int64(3), evalValue(t, ShapeProd(m, -1)))

	reshaped := ReshapeTo(m, 3, -1)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, evalValue(t, reshaped))
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, evalValue(t, Reshape(m, Shape(Const([]float64{0, 0, 0, 0, 0, 0})), false)))

	_, err := evaluate(t, nil, ReshapeTo(m, 4, -1))
	require.ErrorIs(t, err, graph.ErrShapeMismatch)
}

func TestReduce(t *testing.T) {
	m := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, 21.0, evalValue(t, Sum(m)))
	assert.Equal(t, []float64{6, 15}, evalValue(t, Sum(m, 1)))
	assert.Equal(t, []float64{4, 5, 6}, evalValue(t, Max(m, 0)))
	assert.Equal(t, []float64{1, 4}, evalValue(t, Min(m, -1)))
	assert.Equal(t, 720.0, evalValue(t, Prod(m)))
	assert.Equal(t, []float64{2.5, 3.5, 4.5}, evalValue(t, Mean(m, 0)))
	assert.Equal(t, [][]float64{{6}, {15}}, evalValue(t, SumKeepDims(m, 1)))

	ints := Const([]int32{1, 2, 3})
	assert.Equal(t, int32(6), evalValue(t, Sum(ints)))
	assert.Equal(t, 2.0, evalValue(t, Mean(ints)))
	bools := Const([]bool{true, false, true})
	assert.Equal(t, dtypes.Int64, Sum(bools).DType())
	assert.Equal(t, int64(2), evalValue(t, Sum(bools)))

	// Max of an empty axis.
	empty := graph.NewVariable(graph.Matrix(dtypes.Float32), "empty")
	_, err := evaluate(t, map[*graph.Variable]*tensors.Tensor{empty: tensors.Zeros(dtypes.Float32, 2, 0)}, Max(empty, 1))
	require.ErrorIs(t, err, graph.ErrShapeMismatch)
	results := mustEvaluate(t, map[*graph.Variable]*tensors.Tensor{empty: tensors.Zeros(dtypes.Float32, 2, 0)}, Sum(empty, 1))
	assert.Equal(t, []float32{0, 0}, results[0].Value())

	require.ErrorIs(t, panicError(func() { Sum(m, 0, 0) }), graph.ErrTypeMismatch)
	require.ErrorIs(t, panicError(func() { Sum(m, 2) }), graph.ErrTypeMismatch)
}

func TestBLAS(t *testing.T) {
	for _, dtype := range []dtypes.DType{dtypes.Float32, dtypes.Float64} {
		x := Cast(Const([][]float64{{1, 2}, {3, 4}, {5, 6}}), dtype)
		y := Cast(Const([][]float64{{1, 0, 2}, {0, 1, 3}}), dtype)
		z := Cast(Const([][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}), dtype)
		v := Cast(Const([]float64{1, -1}), dtype)
		w := Cast(Const([]float64{1, 2, 3}), dtype)
		alpha, beta := Cast(Const(2.0), dtype), Cast(Const(0.5), dtype)

		results := mustEvaluate(t, nil, Dot(x, y), Dot22(x, y), Gemm(z, alpha, x, y, beta), Dot(x, v), Gemv(w, alpha, x, v, beta))
		want := tensors.FromValue([][]float64{{1, 2, 8}, {3, 4, 18}, {5, 6, 28}})
		assert.True(t, results[0].InDelta(want, 1e-6), "Dot: %s", results[0])
		assert.True(t, results[1].InDelta(want, 1e-6), "Dot22: %s", results[1])
		assert.True(t, results[2].InDelta(tensors.FromValue([][]float64{{2.5, 4.5, 16.5}, {6.5, 8.5, 36.5}, {10.5, 12.5, 56.5}}), 1e-6),
			"Gemm: %s", results[2])
		assert.True(t, results[3].InDelta(tensors.FromValue([]float64{-1, -1, -1}), 1e-6), "Dot: %s", results[3])
		assert.True(t, results[4].InDelta(tensors.FromValue([]float64{-1.5, -1, -0.5}), 1e-6), "Gemv: %s", results[4])
		assert.Equal(t, dtype, results[2].DType())
	}

	// Dot of integers, and vector·vector.
	assert.Equal(t, int64(11), evalValue(t, Dot(Const([]int{1, 2}), Const([]int{3, 4}))))

	// Gemm in place overwrites z.
	z := graph.NewVariable(graph.Matrix(dtypes.Float64), "z")
	op := &GemmOp{Inplace: true}
	node := op.MakeNode(z, Const(1.0), Const([][]float64{{1}}), Const([][]float64{{2}}), Const(1.0))
	zValue := tensors.FromValue([][]float64{{3}})
	outputs, err := op.Perform(node, []*tensors.Tensor{zValue, tensors.FromScalar(1.0), tensors.FromValue([][]float64{{1}}),
		tensors.FromValue([][]float64{{2}}), tensors.FromScalar(1.0)})
	require.NoError(t, err)
	assert.Same(t, zValue, outputs[0])
	assert.Equal(t, [][]float64{{5}}, zValue.Value())

	// Empty contraction only scales z.
	empty := graph.NewVariable(graph.Matrix(dtypes.Float64), "empty")
	results := mustEvaluate(t, map[*graph.Variable]*tensors.Tensor{empty: tensors.Zeros(dtypes.Float64, 1, 0)},
		Gemm(Const([][]float64{{4}}), Const(1.0), empty, Transpose(empty), Const(0.5)))
	assert.Equal(t, [][]float64{{2}}, results[0].Value())

	_, err = evaluate(t, nil, Dot(Const([]float64{1, 2}), Const([]float64{1, 2, 3})))
	require.ErrorIs(t, err, graph.ErrShapeMismatch)

	// Gemv with operands of incompatible shapes.
	a, v3, y2 := tensors.Zeros(dtypes.Float64, 2, 3), tensors.Zeros(dtypes.Float64, 3), tensors.Zeros(dtypes.Float64, 2)
	require.NoError(t, gemv(1, a, v3, 0, y2))
	require.ErrorIs(t, gemv(1, a, y2, 0, y2), graph.ErrShapeMismatch)
	require.ErrorIs(t, gemv(1, a, v3, 0, v3), graph.ErrShapeMismatch)
	require.ErrorIs(t, gemv(1, v3, v3, 0, y2), graph.ErrShapeMismatch)
	require.ErrorIs(t, gemv(1, a, a, 0, y2), graph.ErrShapeMismatch)
	require.ErrorIs(t, panicError(func() { Dot22(Const([][]float64{{1}}), Const([][]float32{{1}})) }), graph.ErrTypeMismatch)
}

func TestIfElse(t *testing.T) {
	cond := graph.NewVariable(graph.Scalar(dtypes.Bool), "cond")
	a, b := Const([]float64{1, 2}), Const([]float64{3, 4})
	out := IfElse(cond, a, b)
	op := out.Owner().Op.(*IfElseOp)
	assert.Equal(t, map[int][]int{0: {1, 2}}, op.ViewMap())

	results := mustEvaluate(t, map[*graph.Variable]*tensors.Tensor{cond: tensors.FromScalar(true)}, out)
	assert.Equal(t, []float64{1, 2}, results[0].Value())
	results = mustEvaluate(t, map[*graph.Variable]*tensors.Tensor{cond: tensors.FromScalar(false)}, out)
	assert.Equal(t, []float64{3, 4}, results[0].Value())

	selected, err := op.SelectInputs(out.Owner(), []*tensors.Tensor{tensors.FromScalar(false)})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, selected)

	// Branch not taken may be missing.
	outputs, err := op.Perform(out.Owner(), []*tensors.Tensor{tensors.FromScalar(true), tensors.FromValue([]float64{7}), nil})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, outputs[0].Value())

	require.ErrorIs(t, panicError(func() { IfElse(cond, a, Const([]int32{1})) }), graph.ErrTypeMismatch)
}

func TestRandom(t *testing.T) {
	rs := NewRandomStreams(42)
	u := rs.Uniform(dtypes.Float32, []int{1000}, -1, 1)
	n := rs.Normal(dtypes.Float64, []int{2, 3}, 10, 0.1)
	require.Len(t, rs.States(), 2)
	state := rs.States()[0]
	update := state.DefaultUpdate()
	require.NotNil(t, update)
	assert.False(t, graph.CanConstantFold(u.Owner()))

	results := mustEvaluate(t, nil, u, update, n)
	values := results[0].Value().([]float32)
	for _, value := range values {
		assert.True(t, value >= -1 && value <= 1)
	}
	assert.NotEqual(t, state.GetValue(false).Value(), results[1].Value())
	for _, value := range tensors.Flat[float64](results[2]) {
		assert.InDelta(t, 10.0, value, 1.0)
	}

	// Same state, same values.
	again := mustEvaluate(t, nil, u)
	assert.Equal(t, values, again[0].Value())

	// Reseeding changes the values.
	require.NoError(t, rs.Seed(7))
	reseeded := mustEvaluate(t, nil, u)
	assert.NotEqual(t, values, reseeded[0].Value())
}

func TestUniformBelowHigh(t *testing.T) {
	// Rounds to 1 in float32, but not in float64.
	almostOne := 1 - 1e-10
	require.Equal(t, float32(1), float32(almostOne))
	got := uniformBelow(dtypes.Float32, 0, 1, almostOne)
	assert.Less(t, float32(got), float32(1))
	assert.Equal(t, math.Nextafter32(1, 0), float32(got))
	assert.Equal(t, almostOne, uniformBelow(dtypes.Float64, 0, 1, almostOne))
	assert.Equal(t, 0.5, uniformBelow(dtypes.Float32, 0, 1, 0.5))

	got = uniformBelow(dtypes.Float16, -1, 2, 1.9999)
	assert.Less(t, float16.Fromfloat32(float32(got)).Float32(), float32(2))
	assert.Equal(t, float32(2-1.0/1024), float16.Fromfloat32(float32(got)).Float32())
	got = uniformBelow(dtypes.Float16, -2, -1, -1.00001)
	assert.Less(t, float16.Fromfloat32(float32(got)).Float32(), float32(-1))
	got = uniformBelow(dtypes.Float16, -1, 0, -1e-9)
	assert.Less(t, float16.Fromfloat32(float32(got)).Float32(), float32(0))

	// Sampled values never reach high.
	rs := NewRandomStreams(3)
	u := rs.Uniform(dtypes.Float16, []int{2000}, 0, 1)
	results := mustEvaluate(t, nil, u)
	for _, value := range tensors.Flat[float16.Float16](results[0]) {
		require.Less(t, value.Float32(), float32(1))
		require.GreaterOrEqual(t, value.Float32(), float32(0))
	}
}

func TestUtilityOps(t *testing.T) {
	x := Const([]float64{1, 2})
	copied := DeepCopy(x)
	results := mustEvaluate(t, nil, copied)
	assert.Equal(t, []float64{1, 2}, results[0].Value())
	assert.Nil(t, graph.ViewMapOf(copied.Owner().Op))
	assert.NotNil(t, graph.ViewMapOf(View(x).Owner().Op))
	assert.NotNil(t, graph.ViewMapOf(StopGradient(x).Owner().Op))
	assert.True(t, graph.OpsEqual(NewDeepCopyOp(), NewDeepCopyOp()))
	assert.False(t, graph.OpsEqual(NewDeepCopyOp(), NewViewOp()))
}

// TestEqualOps checks that equal ops hash the same and produce the same results.
func TestEqualOps(t *testing.T) {
	pairs := [][2]graph.Op{
		{NewElemwise(ScalarAdd), NewElemwise(ScalarAdd)},
		{NewElemwise(&ScalarCast{DType: dtypes.Int32}), NewElemwise(&ScalarCast{DType: dtypes.Int32})},
		{NewDimShuffleOp([]bool{false, true}, 0), NewDimShuffleOp([]bool{false, true}, 0)},
		{&Reduce{Kind: ReduceSum, Axes: []int{1}}, &Reduce{Kind: ReduceSum, Axes: []int{1}}},
		{&ReshapeOp{NDim: 1, Broadcastable: []bool{false}}, &ReshapeOp{NDim: 1, Broadcastable: []bool{false}}},
		{&GemmOp{}, &GemmOp{}},
		{&IfElseOp{NumOutputs: 2}, &IfElseOp{NumOutputs: 2}},
	}
	for _, pair := range pairs {
		assert.Truef(t, graph.OpsEqual(pair[0], pair[1]), "%s", pair[0].Name())
		assert.Equal(t, pair[0].Hash(), pair[1].Hash())
	}
	different := [][2]graph.Op{
		{NewElemwise(ScalarAdd), NewElemwise(ScalarSub)},
		{NewDimShuffleOp([]bool{false, false}, 1, 0), NewDimShuffleOp([]bool{false, false}, 0, 1)},
		{&Reduce{Kind: ReduceSum, Axes: []int{1}}, &Reduce{Kind: ReduceMax, Axes: []int{1}}},
		{&GemmOp{}, &GemmOp{Inplace: true}},
	}
	for _, pair := range different {
		assert.Falsef(t, graph.OpsEqual(pair[0], pair[1]), "%s", pair[0].Name())
	}

	x := Const([]float64{1, 2, 3})
	r0 := mustEvaluate(t, nil, Elementwise(ScalarMul, x, x))
	r1 := mustEvaluate(t, nil, Elementwise(ScalarMul, x, x))
	assert.True(t, r0[0].Equal(r1[0]))
}

func TestConstFloatX(t *testing.T) {
	assert.Equal(t, dtypes.Float64, Const(1.0).DType())

	restore := config.Override(func(c *config.Config) { c.FloatX = "float32" })
	defer restore()
	assert.Equal(t, dtypes.Float32, FloatX())
	c := Const([]float64{1.5, 2})
	assert.Equal(t, dtypes.Float32, c.DType())
	assert.Equal(t, []float32{1.5, 2}, c.ConstantValue().Value())
	assert.Equal(t, dtypes.Float32, Add(Const(1.0), Const(float32(2))).DType())
	assert.Equal(t, dtypes.Int64, Const(3).DType())
	assert.Equal(t, dtypes.Float64, Const(tensors.FromScalar(1.0)).DType(), "tensors keep their dtype")

	config.Override(func(c *config.Config) { c.FloatX = "float16" })
	assert.Equal(t, dtypes.Float16, Const(0.5).DType())
}
