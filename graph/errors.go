// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

var (
	// ErrTypeMismatch is raised (as a panic) when an operator is given operands of the wrong type,
	// and returned when a value doesn't fit the type of a variable.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrShapeMismatch is returned when runtime values have incompatible shapes, e.g. adding a
	// vector of 3 elements to a vector of 4 elements.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrMissingInput is returned when a graph depends on a variable that is neither an input, a shared
	// variable or a constant.
	ErrMissingInput = errors.New("missing input")

	// ErrInconsistency is returned when a graph change would break a feature invariant, e.g. an
	// in-place operation that destroys a value still needed elsewhere.
	ErrInconsistency = errors.New("graph inconsistency")

	// ErrNotCompilable is returned by Compilable.Compile when the op has no specialized kernel
	// for the given node, in which case Perform is used instead.
	ErrNotCompilable = errors.New("no compiled kernel available")

	// ErrMissingTestValue is raised when test values are computed with the "raise" policy and
	// an input has no test value.
	ErrMissingTestValue = errors.New("missing test value")
)
