// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/gomlx/symbolic/graph"
	"k8s.io/klog/v2"
)

// Merge implementation: remove duplicated expressions, also known as "common subexpression elimination".

// MergeOptimizer merges equal constants (same type and value) and nodes with equal ops applied to
// the same inputs.
type MergeOptimizer struct{}

var _ GraphRewriter = MergeOptimizer{}

func (MergeOptimizer) Name() string { return "merge" }

// constantKey indexes constants of the graph.
type constantKey struct {
	typeStr string
	hash    uint64
}

// nodeKey is used to index into the de-duplication map: it provides fast lookup for candidate
// nodes with the same op and input structure.
type nodeKey struct {
	opHash     uint64
	inputCount int
	firstInput *graph.Variable // nil if there are no inputs.
}

func makeNodeKey(node *graph.Apply) nodeKey {
	key := nodeKey{opHash: node.Op.Hash(), inputCount: len(node.Inputs)}
	if len(node.Inputs) > 0 {
		key.firstInput = node.Inputs[0]
	}
	return key
}

// Apply implements GraphRewriter.
func (m MergeOptimizer) Apply(fg *graph.FunctionGraph) error {
	m.mergeConstants(fg)
	nodes, err := fg.Toposort()
	if err != nil {
		return err
	}
	seen := make(map[nodeKey][]*graph.Apply)
	for _, node := range nodes {
		if !fg.HasApply(node) {
			continue
		}
		key := makeNodeKey(node)
		merged := false
		for _, candidate := range seen[key] {
			if !fg.HasApply(candidate) || !nodesEqual(candidate, node) {
				continue
			}
			replacements := make([]graph.Replacement, len(node.Outputs))
			for ii, output := range node.Outputs {
				replacements[ii] = graph.Replacement{Old: output, New: candidate.Outputs[ii]}
			}
			if err := fg.ReplaceValidate(replacements, m.Name()); err != nil {
				klog.V(1).Infof("merge of %s into %s rejected: %v", node, candidate, err)
				continue
			}
			recordRewrite(fg, m.Name())
			merged = true
			break
		}
		if !merged {
			seen[key] = append(seen[key], node)
		}
	}
	return nil
}

// nodesEqual returns whether the nodes compute the same values: equal ops applied to the same inputs.
func nodesEqual(a, b *graph.Apply) bool {
	if !slices.Equal(a.Inputs, b.Inputs) || len(a.Outputs) != len(b.Outputs) || !graph.OpsEqual(a.Op, b.Op) {
		return false
	}
	for ii, output := range a.Outputs {
		if !output.Type.Equal(b.Outputs[ii].Type) {
			return false
		}
	}
	return true
}

func (m MergeOptimizer) mergeConstants(fg *graph.FunctionGraph) {
	seen := make(map[constantKey][]*graph.Variable)
	for _, v := range fg.Variables() {
		if !v.IsConstant() || len(fg.Clients(v)) == 0 {
			continue
		}
		value := v.ConstantValue()
		key := constantKey{typeStr: v.Type.String(), hash: xxhash.Sum64(value.Bytes())}
		merged := false
		for _, candidate := range seen[key] {
			if !candidate.Type.Equal(v.Type) || !candidate.ConstantValue().Equal(value) {
				continue
			}
			if err := fg.ReplaceValidate([]graph.Replacement{{Old: v, New: candidate}}, m.Name()); err != nil {
				klog.V(1).Infof("merge of constant %s into %s rejected: %v", v, candidate, err)
				continue
			}
			recordRewrite(fg, m.Name())
			merged = true
			break
		}
		if !merged {
			seen[key] = append(seen[key], v)
		}
	}
}
