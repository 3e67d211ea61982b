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
	"math"
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// AsFloat64s returns a copy of the tensor values converted to float64. Booleans are converted to 0 or 1.
func (t *Tensor) AsFloat64s() []float64 {
	out := make([]float64, t.Size())
	switch flat := t.flat.(type) {
	case []float64:
		copy(out, flat)
	case []float32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []float16.Float16:
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
	case []int64:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []int32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []bool:
		for ii, v := range flat {
			if v {
				out[ii] = 1
			}
		}
	default:
		exceptions.Panicf("AsFloat64s(): dtype %s not supported", t.shape.DType)
	}
	return out
}

// AsInt64s returns a copy of the tensor values converted to int64. Floats are truncated toward zero.
func (t *Tensor) AsInt64s() []int64 {
	out := make([]int64, t.Size())
	switch flat := t.flat.(type) {
	case []int64:
		copy(out, flat)
	case []int32:
		for ii, v := range flat {
			out[ii] = int64(v)
		}
	case []bool:
		for ii, v := range flat {
			if v {
				out[ii] = 1
			}
		}
	default:
		for ii, v := range t.AsFloat64s() {
			out[ii] = int64(v)
		}
	}
	return out
}

// FromFloat64s creates a tensor of the given dtype and dimensions, converting the values from float64.
// Conversion to integers truncates toward zero, and conversion to Bool is `value != 0`.
func FromFloat64s(dtype dtypes.DType, dimensions []int, data []float64) *Tensor {
	t := FromShape(shapes.Make(dtype, dimensions...))
	if len(data) != t.Size() {
		exceptions.Panicf("FromFloat64s(%s): data size is %d, but shape size is %d", t.shape, len(data), t.Size())
	}
	switch flat := t.flat.(type) {
	case []float64:
		copy(flat, data)
	case []float32:
		for ii, v := range data {
			flat[ii] = float32(v)
		}
	case []float16.Float16:
		for ii, v := range data {
			flat[ii] = float16.Fromfloat32(float32(v))
		}
	case []int64:
		for ii, v := range data {
			flat[ii] = int64(v)
		}
	case []int32:
		for ii, v := range data {
			flat[ii] = int32(v)
		}
	case []bool:
		for ii, v := range data {
			flat[ii] = v != 0
		}
	}
	return t
}

// FromInt64s creates a tensor of the given dtype and dimensions, converting the values from int64.
func FromInt64s(dtype dtypes.DType, dimensions []int, data []int64) *Tensor {
	t := FromShape(shapes.Make(dtype, dimensions...))
	if len(data) != t.Size() {
		exceptions.Panicf("FromInt64s(%s): data size is %d, but shape size is %d", t.shape, len(data), t.Size())
	}
	switch flat := t.flat.(type) {
	case []int64:
		copy(flat, data)
	case []int32:
		for ii, v := range data {
			flat[ii] = int32(v)
		}
	case []bool:
		for ii, v := range data {
			flat[ii] = v != 0
		}
	default:
		floats := make([]float64, len(data))
		for ii, v := range data {
			floats[ii] = float64(v)
		}
		return FromFloat64s(dtype, dimensions, floats)
	}
	return t
}

// ConvertDType returns a new tensor with the values converted to the given dtype.
// If the dtype is the same, it returns a clone.
func (t *Tensor) ConvertDType(dtype dtypes.DType) *Tensor {
	if dtype == t.shape.DType {
		return t.Clone()
	}
	if !t.shape.DType.IsFloat() && !dtype.IsFloat() {
		return FromInt64s(dtype, t.shape.Dimensions, t.AsInt64s())
	}
	return FromFloat64s(dtype, t.shape.Dimensions, t.AsFloat64s())
}

// rawBytes returns a view of the tensor data as bytes.
func (t *Tensor) rawBytes() []byte {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(flatV.UnsafePointer()), uintptr(flatV.Len())*t.shape.DType.Memory())
}

// Bytes returns a copy of the raw tensor data, in the machine's native byte order.
func (t *Tensor) Bytes() []byte {
	raw := t.rawBytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data
}

// FromBytes creates a tensor of the given shape from its raw data, as returned by Tensor.Bytes.
func FromBytes(shape shapes.Shape, data []byte) (*Tensor, error) {
	if uintptr(len(data)) != shape.Memory() {
		return nil, errors.Errorf("FromBytes(%s): expected %d bytes, got %d", shape, shape.Memory(), len(data))
	}
	var t *Tensor
	err := exceptions.TryCatch[error](func() { t = FromShape(shape) })
	if err != nil {
		return nil, err
	}
	copy(t.rawBytes(), data)
	return t, nil
}

// SharesMemory returns whether the storage of the two tensors overlap. Empty tensors share no memory.
func SharesMemory(t0, t1 *Tensor) bool {
	if t0 == nil || t1 == nil {
		return false
	}
	b0, b1 := t0.rawBytes(), t1.rawBytes()
	if len(b0) == 0 || len(b1) == 0 {
		return false
	}
	start0 := uintptr(unsafe.Pointer(unsafe.SliceData(b0)))
	start1 := uintptr(unsafe.Pointer(unsafe.SliceData(b1)))
	return start0 < start1+uintptr(len(b1)) && start1 < start0+uintptr(len(b0))
}

// Equal checks whether t == otherTensor: same shape and same values.
// If they are the same pointer they are considered equal. NaN values are considered equal to each other.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil || !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if t.shape.DType.IsFloat() {
		return t.InDelta(otherTensor, 0)
	}
	t0V, t1V := reflect.ValueOf(t.flat), reflect.ValueOf(otherTensor.flat)
	for ii := range t0V.Len() {
		if !t0V.Index(ii).Equal(t1V.Index(ii)) {
			return false
		}
	}
	return true
}

// InDelta checks whether Abs(t - otherTensor) <= delta for every element.
// If the shapes are different it returns false. For non-float dtypes it is the same as Equal.
// NaN values match each other, and infinities match when they have the same sign.
func (t *Tensor) InDelta(otherTensor *Tensor, delta float64) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil || !t.shape.Equal(otherTensor.shape) {
		return false
	}
	if !t.shape.DType.IsFloat() {
		return t.Equal(otherTensor)
	}
	v1 := otherTensor.AsFloat64s()
	for ii, v0 := range t.AsFloat64s() {
		switch {
		case math.IsNaN(v0) || math.IsNaN(v1[ii]):
			if !(math.IsNaN(v0) && math.IsNaN(v1[ii])) {
				return false
			}
		case math.IsInf(v0, 0) || math.IsInf(v1[ii], 0):
			if v0 != v1[ii] {
				return false
			}
		case math.Abs(v0-v1[ii]) > delta:
			return false
		}
	}
	return true
}
