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

// Package tensors implements a `Tensor`, the concrete value of a variable in a compiled function.
//
// Tensors are multidimensional arrays (from scalar with 0 dimensions, to arbitrarily large dimensions), defined
// by their shape (a data type and its axes dimensions) and their actual content, stored as a flat Go slice
// in row-major order.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions[T Supported](value T, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, and set the flattened values with the given data. Example:
//
//     t := FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue[S MultiDimensionSlice](value S): Generic conversion, works with the scalar supported `DType`s
//     as well as with any arbitrary multidimensional slice of them. Slices of rank > 1 must be regular, that is
//     all the sub-slices must have the same shape. Example:
//
//     t := FromValue([][]float64{{1,2}, {3, 5}, {7, 11}})`
//
//   - FromAnyValue(value any): same as FromValue but non-generic, it takes an anonymous type `any`. The exception
//     is if `value` is already a tensor, then it is a no-op and it returns the tensor itself.
//
// A Tensor doesn't synchronize access: the compiled function that owns it serializes its calls, and shared
// variables protect their values with their own lock.
package tensors

import (
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Supported lists the Go types a Tensor flat storage can hold.
type Supported interface {
	bool | int32 | int64 | float32 | float64 | float16.Float16
}

// Tensor represents a multidimensional array defined by its shape, a data type (dtypes.DType) and its axes'
// dimensions, and its actual content stored as a flat (1D) Go slice of values.
type Tensor struct {
	shape shapes.Shape
	flat  any
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(): invalid shape %s", shape)
	}
	if !shapes.IsSupported(shape.DType) {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// Zeros returns a zero-initialized Tensor of the given dtype and dimensions.
func Zeros(dtype dtypes.DType, dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtype, dimensions...))
}

// FromScalar creates a scalar tensor with the given value.
// The `DType` is inferred from the value.
func FromScalar[T Supported](value T) *Tensor {
	return FromScalarAndDimensions(value)
}

// FromScalarAndDimensions creates a tensor with the given dimensions, filled with the
// given scalar value replicated everywhere.
// The `DType` is inferred from the value.
func FromScalarAndDimensions[T Supported](value T, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dtypes.FromGenericsType[T](), dimensions...))
	flat := t.flat.([]T)
	for ii := range flat {
		flat[ii] = value
	}
	return t
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
func FromFlatDataAndDimensions[T Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d", shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// Shape of Tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType returns the DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank returns the rank of the tensor's shape.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// IsScalar returns whether the tensor represents a scalar value.
func (t *Tensor) IsScalar() bool { return t.shape.IsScalar() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// FlatAny returns the underlying flat slice (e.g. `[]float32`) as `any`. Changes to it are
// changes to the tensor.
func (t *Tensor) FlatAny() any { return t.flat }

// Flat returns the underlying flat slice of the tensor. Changes to it are changes to the tensor.
//
// It panics if T doesn't match the tensor DType.
func Flat[T Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var zero T
		exceptions.Panicf("tensors.Flat[%T]: tensor has dtype %s", zero, t.shape.DType)
	}
	return flat
}

// ToScalar returns the scalar value of the Tensor.
//
// It panics if the tensor is not a scalar or if T doesn't match the DType.
func ToScalar[T Supported](t *Tensor) T {
	if !t.IsScalar() {
		exceptions.Panicf("tensors.ToScalar[%s]: tensor (%s) is not a scalar", dtypes.FromGenericsType[T](), t.shape)
	}
	return Flat[T](t)[0]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t2 := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(t2.flat), reflect.ValueOf(t.flat))
	return t2
}

// CopyFrom overwrites the contents of t with the values of src, converting the dtype if needed.
// Both tensors must have the same dimensions.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.EqualDimensions(src.shape) {
		return errors.Errorf("CopyFrom(): source shape %s doesn't match the destination shape %s", src.shape, t.shape)
	}
	if t.shape.DType != src.shape.DType {
		src = src.ConvertDType(t.shape.DType)
	}
	reflect.Copy(reflect.ValueOf(t.flat), reflect.ValueOf(src.flat))
	return nil
}

// Reshaped returns a view of the tensor with new dimensions: the returned tensor shares the memory with t.
//
// It panics if the new dimensions have a different size.
func (t *Tensor) Reshaped(dimensions ...int) *Tensor {
	newShape := shapes.Make(t.shape.DType, dimensions...)
	if newShape.Size() != t.shape.Size() {
		exceptions.Panicf("Tensor.Reshaped(%v): size %d doesn't match the tensor shape %s", dimensions, newShape.Size(), t.shape)
	}
	return &Tensor{shape: newShape, flat: t.flat}
}
