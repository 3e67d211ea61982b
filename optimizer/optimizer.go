// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizer implements the rewriting of FunctionGraphs into equivalent, faster (or more
// numerically stable) graphs.
//
// Rewrites come in two flavors:
//
//   - GraphRewriter: works on the whole graph, e.g. MergeOptimizer and the drivers.
//   - NodeRewriter: proposes replacements for the outputs of one node. They are applied by the
//     drivers TopoOptimizer (one pass) and EquilibriumOptimizer (until nothing changes).
//
// Every change goes through FunctionGraph.ReplaceValidate, so the attached features (notably the
// graph.DestroyHandler) can veto it, in which case it's reverted and the rewrite skipped.
//
// The standard rewrites are registered in the Default DB, and selected by tags with a Query.
package optimizer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

var tracer = otel.Tracer("symbolic.optimizer")

// GraphRewriter rewrites a FunctionGraph in place.
type GraphRewriter interface {
	Name() string

	// Apply rewrites the graph. Changes vetoed by the graph features are skipped, so an error
	// means the graph couldn't be processed at all.
	Apply(fg *graph.FunctionGraph) error
}

// NodeRewriter proposes local rewrites of nodes.
type NodeRewriter interface {
	Name() string

	// Tracks returns whether the rewriter may transform nodes of the op.
	Tracks(op graph.Op) bool

	// Transform returns the replacements for each of the node outputs, or nil if the rewrite
	// doesn't apply. Replacements must have the same type as the outputs they replace.
	Transform(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable
}

// NewNodeRewriter creates a NodeRewriter from functions. If tracks is nil, all ops are tracked.
func NewNodeRewriter(name string, tracks func(op graph.Op) bool,
	transform func(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable) NodeRewriter {
	return &funcRewriter{name: name, tracks: tracks, transform: transform}
}

type funcRewriter struct {
	name      string
	tracks    func(op graph.Op) bool
	transform func(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable
}

func (r *funcRewriter) Name() string { return r.name }

func (r *funcRewriter) Tracks(op graph.Op) bool { return r.tracks == nil || r.tracks(op) }

func (r *funcRewriter) Transform(fg *graph.FunctionGraph, node *graph.Apply) []*graph.Variable {
	return r.transform(fg, node)
}

// transformNode applies the rewriter to the node and validates the replacements. Panics while
// building the replacement (e.g. type mismatches) are logged and the rewrite is skipped.
//
// It returns whether the graph changed.
func transformNode(fg *graph.FunctionGraph, rewriter NodeRewriter, node *graph.Apply) bool {
	var replacements []*graph.Variable
	err := exceptions.TryCatch[error](func() { replacements = rewriter.Transform(fg, node) })
	if err != nil {
		klog.V(1).Infof("rewrite %q failed on %s: %+v", rewriter.Name(), node, err)
		return false
	}
	if replacements == nil {
		return false
	}
	if len(replacements) != len(node.Outputs) {
		klog.Warningf("rewrite %q returned %d replacements for the %d outputs of %s", rewriter.Name(),
			len(replacements), len(node.Outputs), node)
		return false
	}
	changes := make([]graph.Replacement, 0, len(replacements))
	for ii, output := range node.Outputs {
		replacement := replacements[ii]
		if replacement == nil || replacement == output {
			continue
		}
		if !replacement.Type.Equal(output.Type) {
			klog.Warningf("rewrite %q replaces %s (type %s) by %s of type %s, skipped", rewriter.Name(),
				output, output.Type, replacement, replacement.Type)
			return false
		}
		changes = append(changes, graph.Replacement{Old: output, New: replacement})
	}
	if len(changes) == 0 {
		return false
	}
	if err := fg.ReplaceValidate(changes, rewriter.Name()); err != nil {
		klog.V(1).Infof("rewrite %q of %s rejected: %v", rewriter.Name(), node, err)
		return false
	}
	if klog.V(1).Enabled() {
		klog.Infof("rewrite %q: %s -> %v", rewriter.Name(), node, replacements)
	}
	recordRewrite(fg, rewriter.Name())
	return true
}

// Stats collects the rewrites applied to a FunctionGraph and the time spent in each pass.
// It's attached to the graph as a feature, and found by the rewriters with FindStats.
type Stats struct {
	graph.BaseFeature

	mu       sync.Mutex
	applied  map[string]int
	passTime map[string]time.Duration
	passes   []string
}

// NewStats creates an empty Stats, to be attached to a FunctionGraph.
func NewStats() *Stats {
	return &Stats{applied: make(map[string]int), passTime: make(map[string]time.Duration)}
}

// FindStats returns the Stats attached to the graph, or nil.
func FindStats(fg *graph.FunctionGraph) *Stats {
	for _, feature := range fg.Features() {
		if s, ok := feature.(*Stats); ok {
			return s
		}
	}
	return nil
}

func recordRewrite(fg *graph.FunctionGraph, name string) {
	if s := FindStats(fg); s != nil {
		s.mu.Lock()
		s.applied[name]++
		s.mu.Unlock()
	}
}

func (s *Stats) recordPass(name string, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.passTime[name]; !found {
		s.passes = append(s.passes, name)
	}
	s.passTime[name] += elapsed
}

// Applied returns the number of times each rewrite was applied.
func (s *Stats) Applied() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[string]int, len(s.applied))
	for name, count := range s.applied {
		result[name] = count
	}
	return result
}

// PassTime returns the time spent in the pass with the given name.
func (s *Stats) PassTime(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passTime[name]
}

// Passes returns the names of the passes run, in order.
func (s *Stats) Passes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.passes)
}

// String implements fmt.Stringer.
func (s *Stats) String() string {
	applied := s.Applied()
	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	slices.Sort(names)
	var sb strings.Builder
	sb.WriteString("Rewrites:")
	for _, name := range names {
		_, _ = fmt.Fprintf(&sb, " %s=%d", name, applied[name])
	}
	sb.WriteString("; Passes:")
	for _, name := range s.Passes() {
		_, _ = fmt.Fprintf(&sb, " %s=%s", name, s.PassTime(name))
	}
	return sb.String()
}

// Optimize runs the rewriter on the graph within a tracing span, recording its time in the
// attached Stats, if any. Test values are not computed for the nodes created while rewriting.
func Optimize(ctx context.Context, fg *graph.FunctionGraph, rewriter GraphRewriter) error {
	resume := graph.SuspendTestValues()
	defer resume()
	return runPass(ctx, fg, rewriter)
}

func runPass(ctx context.Context, fg *graph.FunctionGraph, rewriter GraphRewriter) error {
	_, span := tracer.Start(ctx, "optimizer."+rewriter.Name(),
		trace.WithAttributes(attribute.Int("graph.num_applies", fg.NumApplies())))
	defer span.End()
	start := time.Now()
	var err error
	if seq, ok := rewriter.(*SequenceOptimizer); ok {
		err = seq.run(ctx, fg)
	} else {
		err = rewriter.Apply(fg)
	}
	elapsed := time.Since(start)
	if s := FindStats(fg); s != nil {
		s.recordPass(rewriter.Name(), elapsed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("graph.num_applies_after", fg.NumApplies()))
	span.SetStatus(codes.Ok, "")
	klog.V(2).Infof("optimizer pass %q took %s, graph has %d nodes", rewriter.Name(), elapsed, fg.NumApplies())
	return nil
}
