// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
	"k8s.io/klog/v2"
)

// InplaceOptimizer replaces Elemwise, Gemm and Gemv nodes by their in-place versions, which
// write their output over the memory of one of their inputs.
//
// Each change is validated by the graph.DestroyHandler attached to the graph, which rejects the
// ones that would destroy protected values (inputs, constants, shared values) or values still
// needed by other nodes. If the graph has no DestroyHandler, one protecting all the graph inputs
// is attached.
type InplaceOptimizer struct{}

var _ GraphRewriter = InplaceOptimizer{}

func (InplaceOptimizer) Name() string { return "inplace" }

// inplaceCandidates returns the in-place versions of the op, in order of preference.
func inplaceCandidates(node *graph.Apply) []graph.Op {
	switch op := node.Op.(type) {
	case *ops.Elemwise:
		if op.DestroyedInput() >= 0 {
			return nil
		}
		var candidates []graph.Op
		for ii, input := range node.Inputs {
			if input.Type.Equal(node.Outputs[0].Type) {
				candidates = append(candidates, op.WithInplace(ii))
			}
		}
		return candidates
	case *ops.GemmOp:
		if !op.Inplace {
			return []graph.Op{&ops.GemmOp{Inplace: true}}
		}
	case *ops.GemvOp:
		if !op.Inplace {
			return []graph.Op{&ops.GemvOp{Inplace: true}}
		}
	}
	return nil
}

// Apply implements GraphRewriter.
func (o InplaceOptimizer) Apply(fg *graph.FunctionGraph) error {
	if graph.FindDestroyHandler(fg) == nil {
		if err := fg.AttachFeature(graph.NewDestroyHandler(fg.Inputs...)); err != nil {
			return err
		}
	}
	nodes, err := fg.Toposort()
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if !fg.HasApply(node) {
			continue
		}
		for _, candidate := range inplaceCandidates(node) {
			destroyed := node.Inputs[graph.DestroyedInputs(candidate)[0]]
			if destroyed.IsConstant() || destroyed.IsShared() {
				continue
			}
			newNode := candidate.MakeNode(node.Inputs...)
			if err := fg.ReplaceValidate([]graph.Replacement{{Old: node.Outputs[0], New: newNode.Outputs[0]}}, o.Name()); err != nil {
				klog.V(2).Infof("in-place %s rejected: %v", candidate.Name(), err)
				continue
			}
			klog.V(1).Infof("rewrite %q: %s -> %s", o.Name(), node, newNode)
			recordRewrite(fg, o.Name())
			break
		}
	}
	return nil
}
