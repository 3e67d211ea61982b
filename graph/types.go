// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// TensorType is the symbolic type of a Variable: its DType and, for each axis, whether it is
// broadcastable. The rank is the number of axes, that is len(Broadcastable).
//
// A broadcastable axis must have dimension 1 at run time, and operations are free to broadcast it
// against any other dimension. Non-broadcastable axes can have any dimension, and elementwise
// operations require them to match exactly.
type TensorType struct {
	DType         dtypes.DType
	Broadcastable []bool
}

// NewTensorType returns a TensorType with the given dtype and broadcastable pattern.
func NewTensorType(dtype dtypes.DType, broadcastable ...bool) TensorType {
	return TensorType{DType: dtype, Broadcastable: slices.Clone(broadcastable)}
}

// Scalar returns the type of a scalar of the given dtype.
func Scalar(dtype dtypes.DType) TensorType { return NewTensorType(dtype) }

// Vector returns the type of a vector (rank 1) of the given dtype.
func Vector(dtype dtypes.DType) TensorType { return NewTensorType(dtype, false) }

// Matrix returns the type of a matrix (rank 2) of the given dtype.
func Matrix(dtype dtypes.DType) TensorType { return NewTensorType(dtype, false, false) }

// Row returns the type of a matrix with one row (broadcastable axis 0).
func Row(dtype dtypes.DType) TensorType { return NewTensorType(dtype, true, false) }

// Col returns the type of a matrix with one column (broadcastable axis 1).
func Col(dtype dtypes.DType) TensorType { return NewTensorType(dtype, false, true) }

// TensorOf returns the type of a tensor of the given rank, with no broadcastable axes.
func TensorOf(dtype dtypes.DType, rank int) TensorType {
	return TensorType{DType: dtype, Broadcastable: make([]bool, rank)}
}

// Rank is the number of axes of the type.
func (t TensorType) Rank() int { return len(t.Broadcastable) }

// Equal returns whether the two types have the same dtype and broadcastable pattern.
func (t TensorType) Equal(t2 TensorType) bool {
	return t.DType == t2.DType && slices.Equal(t.Broadcastable, t2.Broadcastable)
}

// Clone returns a deep copy of the type.
func (t TensorType) Clone() TensorType {
	return NewTensorType(t.DType, t.Broadcastable...)
}

// WithDType returns a copy of the type with a different dtype.
func (t TensorType) WithDType(dtype dtypes.DType) TensorType {
	return NewTensorType(dtype, t.Broadcastable...)
}

// String implements fmt.Stringer. Broadcastable axes are printed as "1", others as "?".
// E.g.: a row of float32 is "Float32[1 ?]".
func (t TensorType) String() string {
	if t.Rank() == 0 {
		return fmt.Sprintf("%s[]", t.DType)
	}
	parts := make([]string, t.Rank())
	for ii, b := range t.Broadcastable {
		if b {
			parts[ii] = "1"
		} else {
			parts[ii] = "?"
		}
	}
	return fmt.Sprintf("%s[%s]", t.DType, strings.Join(parts, " "))
}

// CheckShape returns an error wrapping ErrTypeMismatch if the concrete shape doesn't fit the type,
// ignoring the dtype.
func (t TensorType) CheckShape(shape shapes.Shape) error {
	if shape.Rank() != t.Rank() {
		return errors.Wrapf(ErrTypeMismatch, "value of shape %s has rank %d, but type %s has rank %d",
			shape, shape.Rank(), t, t.Rank())
	}
	for axis, b := range t.Broadcastable {
		if b && shape.Dimensions[axis] != 1 {
			return errors.Wrapf(ErrTypeMismatch, "value of shape %s has dimension %d on axis %d, but type %s requires it to be broadcastable (dimension 1)",
				shape, shape.Dimensions[axis], axis, t)
		}
	}
	return nil
}

// IsValidValue returns whether the value fits the type exactly, without conversions.
func (t TensorType) IsValidValue(value *tensors.Tensor) bool {
	return value != nil && value.DType() == t.DType && t.CheckShape(value.Shape()) == nil
}

// Filter validates the value against the type, and converts it if allowed.
//
// A value with the wrong rank, or with a dimension different from 1 on a broadcastable axis,
// is always an error. If the dtype differs and strict is true, it is an error. Otherwise,
// values that can be converted without loss are converted, and the ones that would lose
// precision are converted only if allowDowncast is set.
//
// If no conversion is needed, the value itself is returned.
func (t TensorType) Filter(value *tensors.Tensor, strict, allowDowncast bool) (*tensors.Tensor, error) {
	if value == nil {
		return nil, errors.Wrapf(ErrTypeMismatch, "nil value for type %s", t)
	}
	if err := t.CheckShape(value.Shape()); err != nil {
		return nil, err
	}
	if value.DType() == t.DType {
		return value, nil
	}
	if strict {
		return nil, errors.Wrapf(ErrTypeMismatch, "value of dtype %s given for type %s (strict)", value.DType(), t)
	}
	if !shapes.CanCastSafely(value.DType(), t.DType) && !allowDowncast {
		return nil, errors.Wrapf(ErrTypeMismatch, "converting value of dtype %s to type %s would lose precision, and downcast is not allowed",
			value.DType(), t)
	}
	return value.ConvertDType(t.DType), nil
}

// BroadcastableForShape returns the broadcastable pattern of a concrete shape: axes of dimension 1 are broadcastable.
func BroadcastableForShape(shape shapes.Shape) []bool {
	broadcastable := make([]bool, shape.Rank())
	for axis, dim := range shape.Dimensions {
		broadcastable[axis] = dim == 1
	}
	return broadcastable
}
