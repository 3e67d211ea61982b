// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// Feature is attached to a FunctionGraph to be notified of its changes, and to validate them.
//
// Embed BaseFeature to implement only some of the methods.
type Feature interface {
	// OnAttach is called when the feature is attached to the graph. If it returns an error the
	// feature is not attached.
	OnAttach(fg *FunctionGraph) error

	// OnDetach is called when the feature is removed from the graph.
	OnDetach(fg *FunctionGraph)

	// OnImport is called when a node is added to the graph.
	OnImport(fg *FunctionGraph, node *Apply, reason string)

	// OnPrune is called when a node is removed from the graph.
	OnPrune(fg *FunctionGraph, node *Apply, reason string)

	// OnChangeInput is called after the input index of node changes from oldV to newV.
	// If node is nil, it was the output index of the graph.
	OnChangeInput(fg *FunctionGraph, node *Apply, index int, oldV, newV *Variable, reason string)

	// Validate returns an error if the graph is in a state the feature doesn't accept.
	Validate(fg *FunctionGraph) error

	// Orderings returns extra execution order constraints: each node maps to the nodes that must
	// be executed before it.
	Orderings(fg *FunctionGraph) map[*Apply][]*Apply
}

// BaseFeature implements a Feature that does nothing.
type BaseFeature struct{}

var _ Feature = BaseFeature{}

func (BaseFeature) OnAttach(*FunctionGraph) error { return nil }
func (BaseFeature) OnDetach(*FunctionGraph) {}
func (BaseFeature) OnImport(*FunctionGraph, *Apply, string) {}
func (BaseFeature) OnPrune(*FunctionGraph, *Apply, string) {}
func (BaseFeature) OnChangeInput(*FunctionGraph, *Apply, int, *Variable, *Variable, string) {}
func (BaseFeature) Validate(*FunctionGraph) error { return nil }
func (BaseFeature) Orderings(*FunctionGraph) map[*Apply][]*Apply { return nil }
