// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// NewShared creates a shared variable initialized with a copy of the value. Its type has no
// broadcastable axes, see NewSharedWithType to change that.
//
// Shared variables keep their value across calls of the compiled functions that use them, and
// are changed by the function updates.
func NewShared(value *tensors.Tensor, name string) *Variable {
	return NewSharedWithType(value, TensorOf(value.DType(), value.Rank()), name)
}

// NewSharedWithType creates a shared variable of the given type, initialized with a copy of the value.
// It panics if the value doesn't fit the type.
func NewSharedWithType(value *tensors.Tensor, t TensorType, name string) *Variable {
	filtered, err := t.Filter(value, false, false)
	if err != nil {
		panic(errors.WithMessagef(err, "NewShared(%q)", name))
	}
	if filtered == value {
		filtered = value.Clone()
	}
	v := newVariable(t, name, KindShared)
	v.shared = &sharedStorage{value: filtered}
	return v
}

func (v *Variable) assertShared(method string) {
	if v.kind != KindShared {
		exceptions.Panicf("%s called on non-shared variable %s", method, v)
	}
}

// GetValue returns the current value of the shared variable.
// If borrow is true, the stored tensor itself is returned, and it shouldn't be modified.
// Otherwise, a copy is returned.
func (v *Variable) GetValue(borrow bool) *tensors.Tensor {
	v.assertShared("GetValue()")
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	if borrow {
		return v.shared.value
	}
	return v.shared.value.Clone()
}

// SetValue sets the value of the shared variable. The value is filtered (non-strict, no downcast)
// to the variable type.
// If borrow is true, the given tensor is stored directly (if no conversion was needed) and the caller
// shouldn't modify it afterward. Otherwise, a copy is stored.
func (v *Variable) SetValue(value *tensors.Tensor, borrow bool) error {
	v.assertShared("SetValue()")
	filtered, err := v.Type.Filter(value, false, false)
	if err != nil {
		return errors.WithMessagef(err, "setting value of shared variable %s", v)
	}
	if filtered == value && !borrow {
		filtered = value.Clone()
	}
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	v.shared.value = filtered
	return nil
}

// DefaultUpdate returns the expression used to update the shared variable after each call of a function
// that uses it, or nil if there is none.
func (v *Variable) DefaultUpdate() *Variable {
	v.assertShared("DefaultUpdate()")
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	return v.shared.defaultUpdate
}

// SetDefaultUpdate sets the expression used to update the shared variable after each call of a function
// that uses it, unless the function overrides it. Use nil to remove it.
//
// It panics with ErrTypeMismatch if the update type is not the same as the shared variable type.
func (v *Variable) SetDefaultUpdate(update *Variable) {
	v.assertShared("SetDefaultUpdate()")
	if update != nil && !update.Type.Equal(v.Type) {
		panic(errors.Wrapf(ErrTypeMismatch, "default update of %s (type %s) has type %s", v, v.Type, update.Type))
	}
	v.shared.mu.Lock()
	defer v.shared.mu.Unlock()
	v.shared.defaultUpdate = update
}
