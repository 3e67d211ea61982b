// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/x448/float16"
)

// gather returns a new tensor with the given dimensions, where each element is read from t
// at the flat position given by the strides (one per output axis).
//
// It's used to transpose (permuted strides) and to broadcast (zero strides).
func gather(t *tensors.Tensor, dims, strides []int) *tensors.Tensor {
	output := tensors.FromShape(shapes.Make(t.DType(), dims...))
	shape := output.Shape()
	switch src := t.FlatAny().(type) {
	case []float32:
		gatherFlat(src, tensors.Flat[float32](output), shape, strides)
	case []float64:
		gatherFlat(src, tensors.Flat[float64](output), shape, strides)
	case []float16.Float16:
		gatherFlat(src, tensors.Flat[float16.Float16](output), shape, strides)
	case []int32:
		gatherFlat(src, tensors.Flat[int32](output), shape, strides)
	case []int64:
		gatherFlat(src, tensors.Flat[int64](output), shape, strides)
	case []bool:
		gatherFlat(src, tensors.Flat[bool](output), shape, strides)
	default:
		exceptions.Panicf("gather: unsupported dtype %s", t.DType())
	}
	return output
}

func gatherFlat[T any](src, dst []T, shape shapes.Shape, strides []int) {
	for outIdx, inIdx := range shape.IterFlatWithStrides(strides) {
		dst[outIdx] = src[inIdx]
	}
}

// isIncreasing returns whether the axes are in strictly increasing order.
func isIncreasing(axes []int) bool {
	for ii := 1; ii < len(axes); ii++ {
		if axes[ii] <= axes[ii-1] {
			return false
		}
	}
	return true
}
