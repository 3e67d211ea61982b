package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestFromValue(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2, 3}, {4, 5, 6}})
	require.True(t, tensor.Shape().Equal(shapes.Make(dtypes.Float32, 2, 3)))
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, Flat[float32](tensor))
	require.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, tensor.Value())

	// Go int maps to Int64.
	tensor = FromValue([]int{7, 11})
	require.Equal(t, dtypes.Int64, tensor.DType())
	require.Equal(t, []int64{7, 11}, Flat[int64](tensor))

	tensor = FromAnyValue(3.0)
	require.True(t, tensor.IsScalar())
	require.Equal(t, 3.0, ToScalar[float64](tensor))
	require.Same(t, tensor, FromAnyValue(tensor))

	tensor = FromAnyValue([][]float64{})
	require.Equal(t, []int{0, 0}, tensor.Shape().Dimensions)

	require.Panics(t, func() { FromAnyValue([][]float32{{1, 2}, {3}}) })
	require.Panics(t, func() { FromAnyValue("string") })
}

func TestFlatDataAndClone(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	clone := tensor.Clone()
	Flat[int32](clone)[0] = 100
	assert.Equal(t, int32(1), Flat[int32](tensor)[0])
	assert.False(t, SharesMemory(tensor, clone))
	assert.Panics(t, func() { Flat[float32](tensor) })
	assert.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })

	view := tensor.Reshaped(4)
	assert.True(t, SharesMemory(tensor, view))
	Flat[int32](view)[3] = 40
	assert.Equal(t, [][]int32{{1, 2}, {3, 40}}, tensor.Value())
	assert.Panics(t, func() { tensor.Reshaped(3) })

	dst := Zeros(dtypes.Float64, 2, 2)
	require.NoError(t, dst.CopyFrom(tensor))
	assert.Equal(t, []float64{1, 2, 3, 40}, Flat[float64](dst))
	assert.Error(t, dst.CopyFrom(view))

	filled := FromScalarAndDimensions(true, 3)
	assert.Equal(t, []bool{true, true, true}, filled.Value())
}

func TestConvertDType(t *testing.T) {
	tensor := FromValue([]float64{-1.5, 0, 2.7})
	asInt := tensor.ConvertDType(dtypes.Int32)
	assert.Equal(t, []int32{-1, 0, 2}, Flat[int32](asInt))
	asBool := tensor.ConvertDType(dtypes.Bool)
	assert.Equal(t, []bool{true, false, true}, Flat[bool](asBool))
	asHalf := tensor.ConvertDType(dtypes.Float16)
	assert.Equal(t, float16.Fromfloat32(2.7), Flat[float16.Float16](asHalf)[2])
	assert.True(t, asHalf.ConvertDType(dtypes.Float64).InDelta(tensor, 1e-2))

	big := FromValue([]int64{1 << 60})
	assert.Equal(t, int64(1<<60), Flat[int64](big.ConvertDType(dtypes.Int64))[0])
}

func TestEqualAndInDelta(t *testing.T) {
	t0 := FromValue([]float32{1, float32(math.NaN()), float32(math.Inf(1))})
	t1 := FromValue([]float32{1.001, float32(math.NaN()), float32(math.Inf(1))})
	assert.False(t, t0.Equal(t1))
	assert.True(t, t0.InDelta(t1, 0.01))
	assert.True(t, t0.Equal(t0.Clone()))
	assert.False(t, t0.Equal(FromValue([]float64{1, 2, 3})))
	assert.True(t, FromValue([]bool{true}).Equal(FromValue([]bool{true})))
	assert.False(t, FromValue([]int32{1}).InDelta(FromValue([]int32{2}), 5))
}

func TestBytes(t *testing.T) {
	tensor := FromValue([][]float32{{1, 2}, {3, 4}})
	data := tensor.Bytes()
	require.Len(t, data, 16)
	got, err := FromBytes(tensor.Shape(), data)
	require.NoError(t, err)
	require.True(t, tensor.Equal(got))
	_, err = FromBytes(tensor.Shape(), data[:3])
	require.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "(Float32)[2]: [1 2]", FromValue([]float32{1, 2}).String())
}
