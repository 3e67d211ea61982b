// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/types/tensors"
	"k8s.io/klog/v2"
)

// ConstantFolding replaces nodes whose inputs are all constants by constants holding their values.
//
// Ops can opt out with graph.ConstantFoldable (e.g. random number generators). DeepCopy nodes are
// never folded, since they exist to keep outputs from aliasing constants.
var ConstantFolding = NewNodeRewriter("constant_folding", canConstantFold, constantFold)

func canConstantFold(op graph.Op) bool {
	_, isDeepCopy := op.(*ops.DeepCopyOp)
	return !isDeepCopy
}

func constantFold(_ *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
	if len(node.Inputs) == 0 || !graph.CanConstantFold(node) {
		return nil
	}
	values := make([]*tensors.Tensor, len(node.Inputs))
	for ii, input := range node.Inputs {
		if !input.IsConstant() {
			return nil
		}
		// ConstantValue returns a copy: safe to be destroyed.
		values[ii] = input.ConstantValue()
	}
	outputs, err := node.Op.Perform(node, values)
	if err != nil {
		// The error will happen again at run time, if the node is ever evaluated.
		klog.V(1).Infof("constant folding of %s failed: %v", node, err)
		return nil
	}
	replacements := make([]*graph.Variable, len(node.Outputs))
	for ii, output := range node.Outputs {
		if outputs[ii] == nil || !output.Type.IsValidValue(outputs[ii]) {
			return nil
		}
		replacements[ii] = graph.NewConstantOfType(outputs[ii], output.Type, "")
	}
	return replacements
}
