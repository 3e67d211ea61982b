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
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// SupportedDTypes lists the dtypes values can be stored with. Float16 is supported for storage and
// casts, arithmetic on it is carried in float32.
var SupportedDTypes = []dtypes.DType{dtypes.Bool, dtypes.Int32, dtypes.Int64, dtypes.Float16, dtypes.Float32, dtypes.Float64}

// IsSupported returns whether the dtype is one of SupportedDTypes.
func IsSupported(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Bool, dtypes.Int32, dtypes.Int64, dtypes.Float16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

// upcastRank orders dtypes by the range of values they can represent.
func upcastRank(dtype dtypes.DType) int {
	switch dtype {
	case dtypes.Bool:
		return 0
	case dtypes.Int32:
		return 1
	case dtypes.Int64:
		return 2
	case dtypes.Float16:
		return 3
	case dtypes.Float32:
		return 4
	case dtypes.Float64:
		return 5
	}
	exceptions.Panicf("dtype %s not supported", dtype)
	return -1
}

// Upcast returns the dtype that can hold the values of all the given dtypes.
//
// It follows the usual numeric promotion: mixing a 32 or 64 bits integer with a float of
// lower precision yields Float64, since the float can't represent all the integer values.
func Upcast(dtypesList ...dtypes.DType) dtypes.DType {
	if len(dtypesList) == 0 {
		exceptions.Panicf("Upcast() requires at least one dtype")
	}
	result := dtypesList[0]
	if !IsSupported(result) {
		exceptions.Panicf("dtype %s not supported", result)
	}
	for _, dtype := range dtypesList[1:] {
		result = upcastPair(result, dtype)
	}
	return result
}

func upcastPair(a, b dtypes.DType) dtypes.DType {
	if upcastRank(a) < upcastRank(b) {
		a, b = b, a
	}
	// a has the higher rank now.
	if a.IsFloat() && b.IsInt() && a != dtypes.Float64 {
		return dtypes.Float64
	}
	return a
}

// CanCastSafely returns whether converting from one dtype to another never loses information.
func CanCastSafely(from, to dtypes.DType) bool {
	if from == to || from == dtypes.Bool {
		return true
	}
	switch from {
	case dtypes.Int32:
		return to == dtypes.Int64 || to == dtypes.Float64
	case dtypes.Int64:
		return to == dtypes.Float64
	case dtypes.Float16:
		return to == dtypes.Float32 || to == dtypes.Float64
	case dtypes.Float32:
		return to == dtypes.Float64
	}
	return false
}

// UpgradeToFloat returns the dtype itself if it is a float, or Float64 otherwise.
// Used by transcendental operations on integer values.
func UpgradeToFloat(dtype dtypes.DType) dtypes.DType {
	if dtype.IsFloat() {
		return dtype
	}
	return dtypes.Float64
}
