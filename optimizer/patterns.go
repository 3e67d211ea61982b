// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
)

// Helpers to match patterns of nodes.

func isElemwise(op graph.Op) bool {
	_, ok := op.(*ops.Elemwise)
	return ok
}

// elemwiseScalar returns the scalar op of an Elemwise node, or nil.
func elemwiseScalar(node *graph.Apply) ops.ScalarOp {
	if node == nil {
		return nil
	}
	if e, ok := node.Op.(*ops.Elemwise); ok {
		return e.Scalar
	}
	return nil
}

// isScalarOp returns whether node is an Elemwise of the given scalar op, not in place.
func isScalarOp(node *graph.Apply, scalar ops.ScalarOp) bool {
	e, ok := node.Op.(*ops.Elemwise)
	return ok && e.DestroyedInput() < 0 && e.Scalar.Equal(scalar)
}

// producedBy returns the owner of v if it's an Elemwise of the scalar op, or nil.
func producedBy(v *graph.Variable, scalar ops.ScalarOp) *graph.Apply {
	if node := v.Owner(); node != nil && isScalarOp(node, scalar) {
		return node
	}
	return nil
}

// scalarConstant returns the value of v if it is a constant with all elements equal, looking
// through the DimShuffles that broadcast constants to the rank of other operands.
func scalarConstant(v *graph.Variable) (float64, bool) {
	for v.Owner() != nil {
		if _, ok := v.Owner().Op.(*ops.DimShuffleOp); !ok {
			return 0, false
		}
		v = v.Owner().Inputs[0]
	}
	return v.ConstantScalar()
}

// isConstantValue returns whether v is a constant with all elements equal to value.
func isConstantValue(v *graph.Variable, value float64) bool {
	c, ok := scalarConstant(v)
	return ok && c == value
}

// replaceWith returns the replacement v for the single output of node if their types match,
// or nil (no rewrite) otherwise.
func replaceWith(node *graph.Apply, v *graph.Variable) []*graph.Variable {
	if v == nil || !v.Type.Equal(node.Outputs[0].Type) {
		return nil
	}
	return []*graph.Variable{v}
}

// singleClient returns whether v is used only once in the graph, and not as an output.
func singleClient(fg *graph.FunctionGraph, v *graph.Variable) bool {
	clients := fg.Clients(v)
	return len(clients) == 1 && !clients[0].IsOutput()
}
