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

package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/pkg/errors"
)

// MultiDimensionSlice lists the Go types a Tensor can be converted to/from. There are no recursions in
// generics' constraint definitions, so we enumerate up to 4 levels of slices. FromAnyValue works with
// any number of levels.
type MultiDimensionSlice interface {
	bool | float32 | float64 | int | int32 | int64 |
		[]bool | []float32 | []float64 | []int | []int32 | []int64 |
		[][]bool | [][]float32 | [][]float64 | [][]int | [][]int32 | [][]int64 |
		[][][]bool | [][][]float32 | [][][]float64 | [][][]int | [][][]int32 | [][][]int64 |
		[][][][]bool | [][][][]float32 | [][][][]float64 | [][][][]int | [][][][]int32 | [][][][]int64
}

// FromValue returns a tensor constructed from the given multi-dimension slice (or scalar).
// If the rank of the `value` is larger than 1, the shape of all sub-slices must be the same.
//
// It panics if the shape is not regular.
//
// Notice that FromFlatDataAndDimensions is much faster if speed here is a concern.
func FromValue[S MultiDimensionSlice](value S) *Tensor {
	return FromAnyValue(value)
}

var goIntType = reflect.TypeOf(int(0))

// FromAnyValue is a non-generic version of FromValue.
// The input is expected to be either a scalar or a slice of slices with homogeneous dimensions.
// If the input is a tensor already, it is simply returned.
//
// Go `int` values are stored as Int64. Empty slices yield zero dimensions.
//
// It panics with an error if `value` type is unsupported or the shape is not regular.
func FromAnyValue(value any) *Tensor {
	if valueT, ok := value.(*Tensor); ok {
		return valueT
	}
	if value == nil {
		exceptions.Panicf("cannot create a Tensor from nil")
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.WithMessagef(err, "cannot create shape from %T", value))
	}
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	pos := 0
	copyValuesRecursively(flatV, reflect.ValueOf(value), &pos)
	return t
}

// copyValuesRecursively copies the values of a multi-dimension slice to the flat data slice,
// converting Go `int` to `int64` along the way.
func copyValuesRecursively(flatV, valueV reflect.Value, pos *int) {
	if valueV.Kind() == reflect.Slice {
		if valueV.Type().Elem().Kind() != reflect.Slice && valueV.Type().Elem() != goIntType {
			*pos += reflect.Copy(flatV.Slice(*pos, flatV.Len()), valueV)
			return
		}
		for ii := range valueV.Len() {
			copyValuesRecursively(flatV, valueV.Index(ii), pos)
		}
		return
	}
	if valueV.Type() == goIntType {
		flatV.Index(*pos).SetInt(valueV.Int())
	} else {
		flatV.Index(*pos).Set(valueV)
	}
	*pos++
}

func shapeForValue(v any) (shape shapes.Shape, err error) {
	err = shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			// Remaining nested levels get dimension 0.
			for t.Kind() == reflect.Slice {
				shape.Dimensions = append(shape.Dimensions, 0)
				t = t.Elem()
			}
			return shapeForValueRecursive(shape, reflect.Zero(t), t)
		}
		if err := shapeForValueRecursive(shape, v.Index(0), t); err != nil {
			return err
		}
		// Test that other elements have the same shape as the first one.
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t); err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	case reflect.Pointer:
		return errors.Errorf("cannot convert Pointer (%s) to a concrete value for tensors", t)
	default:
		if t == goIntType {
			shape.DType = dtypes.Int64
		} else {
			shape.DType = dtypes.FromGoType(t)
		}
		if !shapes.IsSupported(shape.DType) {
			return errors.Errorf("cannot convert type %s to a value concrete tensor type", t)
		}
	}
	return nil
}

// Value returns a multidimensional slice (except if shape is a scalar) containing a copy of the values stored
// in the tensor.
// This is expensive, and usually only used for smaller tensors in tests and to print results.
func (t *Tensor) Value() any {
	flatV := reflect.ValueOf(t.flat)
	if t.shape.IsScalar() {
		return flatV.Index(0).Interface()
	}
	flatCopyV := reflect.MakeSlice(flatV.Type(), flatV.Len(), flatV.Len())
	reflect.Copy(flatCopyV, flatV)
	if t.shape.Rank() == 1 {
		return flatCopyV.Interface()
	}
	return convertDataToSlices(flatCopyV, t.shape.Dimensions...).Interface()
}

// convertDataToSlices takes data as a flat slice, and creates a multidimensional slices with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type()
	for range dimensions[1:] {
		resultT = reflect.SliceOf(resultT)
	}
	slice := reflect.MakeSlice(resultT, dimensions[0], dimensions[0])
	if dimensions[0] == 0 {
		return slice
	}
	stride := dataV.Len() / dimensions[0]
	for ii := range dimensions[0] {
		subData := dataV.Slice(ii*stride, (ii+1)*stride)
		slice.Index(ii).Set(convertDataToSlices(subData, dimensions[1:]...))
	}
	return slice
}

// MaxSizeForString is the largest tensor whose values are printed by String().
var MaxSizeForString = 500

// String converts to string, if not too large.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.Size() > MaxSizeForString {
		return fmt.Sprintf("%s: (%d elements, too large to print)", t.shape, t.Size())
	}
	return fmt.Sprintf("%s: %v", t.shape, t.Value())
}
