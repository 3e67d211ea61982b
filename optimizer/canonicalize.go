// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
)

// Canonicalization rewrites: they simplify the graph into a standard form, so later rewrites
// (and merging) have fewer patterns to handle.

// CanonicalizeRewriters returns the canonicalization rewrites, including constant folding.
func CanonicalizeRewriters() []NodeRewriter {
	return []NodeRewriter{
		ConstantFolding,
		LocalNeutralElement,
		LocalDoubleNegation,
		LocalIdentityCast,
		LocalIdentityDimShuffle,
		LocalMergeDimShuffles,
		LocalLogExp,
	}
}

// LocalNeutralElement removes the neutral elements of arithmetic: x·1, 1·x, x+0, 0+x, x−0, x/1.
// The rewrite only applies if x has the type of the result: a constant that broadcasts x to a
// larger shape or upcasts it is kept.
var LocalNeutralElement = NewNodeRewriter("neutral_element", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		scalar := elemwiseScalar(node)
		if !isScalarOp(node, scalar) || len(node.Inputs) != 2 {
			return nil
		}
		x, y := node.Inputs[0], node.Inputs[1]
		switch {
		case scalar.Equal(ops.ScalarMul):
			if isConstantValue(y, 1) {
				return replaceWith(node, x)
			}
			if isConstantValue(x, 1) {
				return replaceWith(node, y)
			}
		case scalar.Equal(ops.ScalarAdd):
			if isConstantValue(y, 0) {
				return replaceWith(node, x)
			}
			if isConstantValue(x, 0) {
				return replaceWith(node, y)
			}
		case scalar.Equal(ops.ScalarSub):
			if isConstantValue(y, 0) {
				return replaceWith(node, x)
			}
		case scalar.Equal(ops.ScalarTrueDiv):
			if isConstantValue(y, 1) {
				return replaceWith(node, x)
			}
		}
		return nil
	})

// LocalDoubleNegation rewrites −(−x) to x.
var LocalDoubleNegation = NewNodeRewriter("double_negation", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !isScalarOp(node, ops.ScalarNeg) {
			return nil
		}
		if inner := producedBy(node.Inputs[0], ops.ScalarNeg); inner != nil {
			return replaceWith(node, inner.Inputs[0])
		}
		return nil
	})

// LocalIdentityCast removes casts to the dtype the value already has.
var LocalIdentityCast = NewNodeRewriter("identity_cast", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		cast, ok := elemwiseScalar(node).(*ops.ScalarCast)
		if !ok || !isScalarOp(node, cast) || node.Inputs[0].DType() != cast.DType {
			return nil
		}
		return replaceWith(node, node.Inputs[0])
	})

func isDimShuffle(op graph.Op) bool {
	_, ok := op.(*ops.DimShuffleOp)
	return ok
}

// LocalIdentityDimShuffle removes DimShuffles that don't change anything.
var LocalIdentityDimShuffle = NewNodeRewriter("identity_dimshuffle", isDimShuffle,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !node.Op.(*ops.DimShuffleOp).IsIdentity() {
			return nil
		}
		return replaceWith(node, node.Inputs[0])
	})

// LocalMergeDimShuffles rewrites a DimShuffle of a DimShuffle into a single DimShuffle.
var LocalMergeDimShuffles = NewNodeRewriter("merge_dimshuffles", isDimShuffle,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		outer := node.Op.(*ops.DimShuffleOp)
		innerNode := node.Inputs[0].Owner()
		if innerNode == nil {
			return nil
		}
		inner, ok := innerNode.Op.(*ops.DimShuffleOp)
		if !ok {
			return nil
		}
		composed := ops.ComposeDimShuffles(outer, inner)
		x := innerNode.Inputs[0]
		if composed.IsIdentity() {
			return replaceWith(node, x)
		}
		return replaceWith(node, graph.ApplyOp(composed, x).Out())
	})

// LocalLogExp rewrites log(exp(x)) to x.
var LocalLogExp = NewNodeRewriter("log_exp", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !isScalarOp(node, ops.ScalarLog) {
			return nil
		}
		if inner := producedBy(node.Inputs[0], ops.ScalarExp); inner != nil {
			return replaceWith(node, inner.Inputs[0])
		}
		return nil
	})

// Stabilization rewrites: they replace expressions by numerically more stable equivalents.

// StabilizeRewriters returns the stabilization rewrites.
func StabilizeRewriters() []NodeRewriter {
	return []NodeRewriter{LocalLog1p}
}

// LocalLog1p rewrites log(1+x) (and log(x+1)) to log1p(x), precise for x close to 0.
var LocalLog1p = NewNodeRewriter("log1p", isElemwise,
	func(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		if !isScalarOp(node, ops.ScalarLog) {
			return nil
		}
		add := producedBy(node.Inputs[0], ops.ScalarAdd)
		if add == nil {
			return nil
		}
		var x *graph.Variable
		switch {
		case isConstantValue(add.Inputs[0], 1):
			x = add.Inputs[1]
		case isConstantValue(add.Inputs[1], 1):
			x = add.Inputs[0]
		default:
			return nil
		}
		return replaceWith(node, ops.Log1p(x))
	})
