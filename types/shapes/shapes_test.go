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

package shapes

import (
	"bytes"
	"encoding/gob"
	"slices"
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Len(t, shape0.Dimensions, 0)
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, []int{6, 2, 1}, shape1.Strides())

	empty := Make(Int64, 3, 0)
	require.Equal(t, 0, empty.Size())
	require.Panics(t, func() { _ = Make(Int64, -1) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(-3))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestEqual(t *testing.T) {
	require.True(t, Make(Float32, 2, 3).Equal(Make(Float32, 2, 3)))
	require.False(t, Make(Float32, 2, 3).Equal(Make(Float64, 2, 3)))
	require.True(t, Make(Float32, 2, 3).EqualDimensions(Make(Float64, 2, 3)))
	require.False(t, Make(Float32, 2, 3).EqualDimensions(Make(Float32, 3, 2)))
	s := Make(Int32, 5)
	s2 := s.Clone()
	s2.Dimensions[0] = 7
	require.Equal(t, 5, s.Dim(0))
}

func TestIter(t *testing.T) {
	var got [][]int
	for indices := range Make(Float32, 2, 2).Iter() {
		got = append(got, slices.Clone(indices))
	}
	require.Equal(t, [][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, got)

	count := 0
	for range Make(Float32).Iter() {
		count++
	}
	require.Equal(t, 1, count)
	for range Make(Float32, 3, 0).Iter() {
		t.Fatalf("empty shape should not yield indices")
	}

	// Transposed read of a 2x3 matrix: strides of the original are {3, 1}.
	var strided []int
	for _, idx := range Make(Float32, 3, 2).IterFlatWithStrides([]int{1, 3}) {
		strided = append(strided, idx)
	}
	require.Equal(t, []int{0, 3, 1, 4, 2, 5}, strided)
}

func TestChecks(t *testing.T) {
	s := Make(Float32, 2, 3)
	require.NoError(t, s.CheckRank(2))
	require.Error(t, s.CheckRank(1))
	require.NoError(t, s.CheckDims(2, 3))
	require.NoError(t, s.CheckDims(UncheckedAxis, 3))
	require.ErrorContains(t, s.CheckDims(2, 4), "axis 1 has dimension 3")
	require.ErrorContains(t, s.CheckDims(2), "incompatible rank")
}

func TestUpcast(t *testing.T) {
	require.Equal(t, Float32, Upcast(Float32, Float32))
	require.Equal(t, Float64, Upcast(Float32, Float64))
	require.Equal(t, Int64, Upcast(Int32, Int64))
	require.Equal(t, Float64, Upcast(Int32, Float32))
	require.Equal(t, Float32, Upcast(Bool, Float32))
	require.Equal(t, Float16, Upcast(Float16))
	require.Panics(t, func() { Upcast(Uint8) })
	require.Panics(t, func() { Upcast(Uint8, Float32) })
	require.Panics(t, func() { Upcast() })
	require.True(t, CanCastSafely(Int32, Int64))
	require.True(t, CanCastSafely(Float32, Float64))
	require.False(t, CanCastSafely(Float64, Float32))
	require.False(t, CanCastSafely(Int64, Int32))
	require.Equal(t, Float64, UpgradeToFloat(Int32))
	require.Equal(t, Float32, UpgradeToFloat(Float32))
}

func TestGobSerialize(t *testing.T) {
	buf := &bytes.Buffer{}
	shape := Make(Float32, 3, 1, 2)
	require.NoError(t, shape.GobSerialize(gob.NewEncoder(buf)))
	got, err := GobDeserialize(gob.NewDecoder(buf))
	require.NoError(t, err)
	require.True(t, shape.Equal(got))
}
