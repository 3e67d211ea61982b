// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"slices"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
)

// MaxFusedInputs limits the number of inputs of the Composite ops created by the fusion.
const MaxFusedInputs = 32

// LocalElemwiseFusion merges an Elemwise node with the Elemwise nodes computing its inputs into a
// single Elemwise of a Composite scalar op, so the whole expression is evaluated in one loop,
// without intermediate tensors.
//
// An input node is fused only if its output is used only by this node, neither of them is in
// place, and all the values involved have the same dtype (so the fused computation is done in
// the same precision).
var LocalElemwiseFusion = NewNodeRewriter("elemwise_fusion", isElemwise,
	func(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
		outer := node.Op.(*ops.Elemwise)
		if outer.DestroyedInput() >= 0 || !sameDType(node) {
			return nil
		}
		for idx, input := range node.Inputs {
			innerNode := input.Owner()
			if innerNode == nil || !isElemwise(innerNode.Op) || !singleClient(fg, input) {
				continue
			}
			inner := innerNode.Op.(*ops.Elemwise)
			if inner.DestroyedInput() >= 0 || !sameDType(innerNode) || input.DType() != node.Outputs[0].DType() {
				continue
			}
			scalar, inputs := fuseScalarOps(outer.Scalar, node.Inputs, idx, inner.Scalar, innerNode.Inputs)
			if len(inputs) > MaxFusedInputs {
				continue
			}
			return replaceWith(node, graph.ApplyOp(ops.NewElemwise(scalar), inputs...).Out())
		}
		return nil
	})

// sameDType returns whether all inputs and outputs of the node have the same dtype.
func sameDType(node *graph.Apply) bool {
	dtype := node.Outputs[0].DType()
	for _, input := range node.Inputs {
		if input.DType() != dtype {
			return false
		}
	}
	return true
}

// asComposite returns the scalar op as a Composite.
func asComposite(scalar ops.ScalarOp) *ops.Composite {
	if c, ok := scalar.(*ops.Composite); ok {
		return c
	}
	args := make([]int, scalar.NumInputs())
	for ii := range args {
		args[ii] = ii
	}
	return ops.NewComposite(len(args), ops.CompositeNode{Op: scalar, Args: args})
}

// fuseScalarOps returns the Composite computing outer, with its operand idx replaced by inner
// applied to innerInputs, and its inputs: the other outer inputs and the inner inputs, without repetitions.
func fuseScalarOps(outer ops.ScalarOp, outerInputs []*graph.Variable, idx int,
	inner ops.ScalarOp, innerInputs []*graph.Variable) (*ops.Composite, []*graph.Variable) {
	outerC, innerC := asComposite(outer), asComposite(inner)
	var inputs []*graph.Variable
	indexOf := func(v *graph.Variable) int {
		pos := slices.Index(inputs, v)
		if pos < 0 {
			pos = len(inputs)
			inputs = append(inputs, v)
		}
		return pos
	}
	outerArgs := make([]int, len(outerInputs))
	for ii, v := range outerInputs {
		if ii != idx {
			outerArgs[ii] = indexOf(v)
		}
	}
	innerArgs := make([]int, len(innerInputs))
	for ii, v := range innerInputs {
		innerArgs[ii] = indexOf(v)
	}
	numInputs := len(inputs)

	nodes := make([]ops.CompositeNode, 0, len(innerC.Nodes)+len(outerC.Nodes))
	for _, n := range innerC.Nodes {
		args := make([]int, len(n.Args))
		for ii, arg := range n.Args {
			if arg < innerC.Arity {
				args[ii] = innerArgs[arg]
			} else {
				args[ii] = numInputs + arg - innerC.Arity
			}
		}
		nodes = append(nodes, ops.CompositeNode{Op: n.Op, Args: args})
	}
	innerResult := numInputs + len(innerC.Nodes) - 1
	for _, n := range outerC.Nodes {
		args := make([]int, len(n.Args))
		for ii, arg := range n.Args {
			switch {
			case arg == idx:
				args[ii] = innerResult
			case arg < outerC.Arity:
				args[ii] = outerArgs[arg]
			default:
				args[ii] = numInputs + len(innerC.Nodes) + arg - outerC.Arity
			}
		}
		nodes = append(nodes, ops.CompositeNode{Op: n.Op, Args: args})
	}
	return ops.NewComposite(numInputs, nodes...), inputs
}
