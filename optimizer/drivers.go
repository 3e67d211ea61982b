// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"context"
	"slices"

	"github.com/gomlx/symbolic/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TopoOptimizer applies node rewriters to every node of the graph, once, in topological order.
// When a rewrite applies to a node, the remaining rewriters are not tried on it.
type TopoOptimizer struct {
	name      string
	rewriters []NodeRewriter
}

var _ GraphRewriter = (*TopoOptimizer)(nil)

// NewTopoOptimizer creates a TopoOptimizer with the given rewriters, tried in order.
func NewTopoOptimizer(name string, rewriters ...NodeRewriter) *TopoOptimizer {
	return &TopoOptimizer{name: name, rewriters: rewriters}
}

func (t *TopoOptimizer) Name() string { return t.name }

// Apply implements GraphRewriter.
func (t *TopoOptimizer) Apply(fg *graph.FunctionGraph) error {
	_, err := applyNodeRewriters(fg, t.rewriters)
	return err
}

// applyNodeRewriters runs one pass of the rewriters over the nodes of the graph, and returns
// whether anything changed.
func applyNodeRewriters(fg *graph.FunctionGraph, rewriters []NodeRewriter) (bool, error) {
	nodes, err := fg.Toposort()
	if err != nil {
		return false, err
	}
	changed := false
	for _, node := range nodes {
		for _, rewriter := range rewriters {
			if !fg.HasApply(node) {
				// Pruned by a previous rewrite.
				break
			}
			if !rewriter.Tracks(node.Op) {
				continue
			}
			if transformNode(fg, rewriter, node) {
				changed = true
				break
			}
		}
	}
	return changed, nil
}

// DefaultMaxIterations is the default limit of passes of an EquilibriumOptimizer.
const DefaultMaxIterations = 100

// EquilibriumOptimizer applies node rewriters (and optionally graph rewriters after each pass)
// until the graph stops changing, or MaxIterations passes are done, in which case it logs a
// warning and stops.
type EquilibriumOptimizer struct {
	name           string
	rewriters      []NodeRewriter
	graphRewriters []GraphRewriter

	// MaxIterations is the maximum number of passes.
	MaxIterations int
}

var _ GraphRewriter = (*EquilibriumOptimizer)(nil)

// NewEquilibriumOptimizer creates an EquilibriumOptimizer with the given rewriters and DefaultMaxIterations.
func NewEquilibriumOptimizer(name string, rewriters ...NodeRewriter) *EquilibriumOptimizer {
	return &EquilibriumOptimizer{name: name, rewriters: rewriters, MaxIterations: DefaultMaxIterations}
}

// WithGraphRewriters adds graph rewriters to be run after each pass of the node rewriters.
// It returns the optimizer itself.
func (e *EquilibriumOptimizer) WithGraphRewriters(rewriters ...GraphRewriter) *EquilibriumOptimizer {
	e.graphRewriters = append(e.graphRewriters, rewriters...)
	return e
}

func (e *EquilibriumOptimizer) Name() string { return e.name }

// Apply implements GraphRewriter.
func (e *EquilibriumOptimizer) Apply(fg *graph.FunctionGraph) error {
	for iteration := 0; iteration < e.MaxIterations; iteration++ {
		changed, err := applyNodeRewriters(fg, e.rewriters)
		if err != nil {
			return errors.WithMessagef(err, "%s pass #%d", e.name, iteration)
		}
		for _, rewriter := range e.graphRewriters {
			before := fg.NumApplies()
			if err := rewriter.Apply(fg); err != nil {
				return errors.WithMessagef(err, "%s pass #%d", e.name, iteration)
			}
			changed = changed || fg.NumApplies() != before
		}
		if !changed {
			klog.V(2).Infof("%s reached equilibrium after %d passes", e.name, iteration+1)
			return nil
		}
	}
	klog.Warningf("%s didn't reach equilibrium after %d passes, stopping", e.name, e.MaxIterations)
	return nil
}

// SequenceOptimizer runs graph rewriters in order.
type SequenceOptimizer struct {
	name      string
	rewriters []GraphRewriter
}

var _ GraphRewriter = (*SequenceOptimizer)(nil)

// NewSequenceOptimizer creates a SequenceOptimizer.
func NewSequenceOptimizer(name string, rewriters ...GraphRewriter) *SequenceOptimizer {
	return &SequenceOptimizer{name: name, rewriters: rewriters}
}

func (s *SequenceOptimizer) Name() string { return s.name }

// Rewriters returns the rewriters of the sequence.
func (s *SequenceOptimizer) Rewriters() []GraphRewriter { return slices.Clone(s.rewriters) }

// Apply implements GraphRewriter.
func (s *SequenceOptimizer) Apply(fg *graph.FunctionGraph) error {
	return s.run(context.Background(), fg)
}

func (s *SequenceOptimizer) run(ctx context.Context, fg *graph.FunctionGraph) error {
	for _, rewriter := range s.rewriters {
		if err := runPass(ctx, fg, rewriter); err != nil {
			return errors.WithMessagef(err, "%s", s.name)
		}
	}
	return nil
}
