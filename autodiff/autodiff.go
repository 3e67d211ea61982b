/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package autodiff implements symbolic reverse-mode differentiation: it builds the graph that
// computes the gradient of a scalar cost with respect to a list of variables.
//
// Conventions used in this package:
//
//   - cost: the scalar whose gradient is computed.
//   - wrt: the variables with respect to which the gradient is computed (usually shared weights).
//   - accumulated gradient (or adjoint): the gradient of the cost with respect to a variable, summed
//     over all the nodes that use it. They are computed in reverse topological order, so by the time a
//     node is visited all its consumers have contributed to the gradients of its outputs.
package autodiff

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DisconnectedPolicy defines what to do when a wrt variable is not connected to the cost.
type DisconnectedPolicy string

const (
	// DisconnectedRaise panics with ErrDisconnectedInput.
	DisconnectedRaise DisconnectedPolicy = "raise"

	// DisconnectedWarn logs a warning and returns a zero gradient.
	DisconnectedWarn DisconnectedPolicy = "warn"

	// DisconnectedIgnore silently returns a zero gradient.
	DisconnectedIgnore DisconnectedPolicy = "ignore"
)

// ErrDisconnectedInput is raised when the cost doesn't depend on one of the wrt variables.
var ErrDisconnectedInput = errors.New("cost doesn't depend on the variable")

// Options for GradWithOptions.
type Options struct {
	// DisconnectedInputs defines what to do if a wrt variable is not connected to the cost. Defaults to DisconnectedRaise.
	DisconnectedInputs DisconnectedPolicy

	// KnownGrads maps variables to gradients that are known (or given) beforehand. They are added to the
	// gradients coming from the cost, and back-propagated from there. With KnownGrads, cost can be nil.
	KnownGrads map[*graph.Variable]*graph.Variable

	// ConsiderConstant lists variables treated as constants: the gradient doesn't flow through them.
	ConsiderConstant []*graph.Variable
}

// Grad returns the gradients of the scalar float cost with respect to each of the wrt variables,
// with the default options.
//
// It panics if a wrt variable is not connected to the cost, or if the graph includes an op that is
// not differentiable (see ops.ErrNotDifferentiable).
func Grad(cost *graph.Variable, wrt ...*graph.Variable) []*graph.Variable {
	return GradWithOptions(cost, wrt, Options{})
}

// reverseGraph holds the information on the graph needed to back-propagate the gradients.
type reverseGraph struct {
	// applies between the wrt variables and the cost (and known gradients), in execution order.
	applies []*graph.Apply

	// useful variables depend on some wrt variable: only these need gradients.
	useful types.Set[*graph.Variable]

	// constants given in the options.
	constants types.Set[*graph.Variable]

	// grads are the accumulated gradients.
	grads map[*graph.Variable]*graph.Variable
}

// GradWithOptions is like Grad, with options.
func GradWithOptions(cost *graph.Variable, wrt []*graph.Variable, opts Options) []*graph.Variable {
	if cost == nil && len(opts.KnownGrads) == 0 {
		exceptions.Panicf("Grad() requires a cost or known gradients")
	}
	if cost != nil && (cost.Rank() != 0 || !cost.DType().IsFloat()) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Grad(): cost must be a float scalar, got %s of type %s", cost, cost.Type))
	}
	if opts.DisconnectedInputs == "" {
		opts.DisconnectedInputs = DisconnectedRaise
	}

	rg := &reverseGraph{
		constants: types.SetWith(opts.ConsiderConstant...),
		useful:    types.SetWith(wrt...),
		grads:     make(map[*graph.Variable]*graph.Variable),
	}
	var outputs []*graph.Variable
	if cost != nil {
		outputs = append(outputs, cost)
	}
	for v := range opts.KnownGrads {
		outputs = append(outputs, v)
	}
	rg.applies = graph.Toposort(opts.ConsiderConstant, outputs)

	// Forward pass: mark the variables that depend on the wrt variables.
	for _, node := range rg.applies {
		for _, input := range node.Inputs {
			if rg.useful.Has(input) && !rg.constants.Has(input) {
				rg.useful.Insert(node.Outputs...)
				break
			}
		}
	}
	rg.checkConnected(cost, wrt, opts)

	// Initial gradients.
	if cost != nil {
		rg.accumulate(cost, ops.OnesLike(cost))
	}
	for v, g := range opts.KnownGrads {
		if g.Rank() != v.Rank() {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "known gradient %s of type %s for %s of type %s", g, g.Type, v, v.Type))
		}
		rg.accumulate(v, g)
	}

	// Backward pass.
	for ii := len(rg.applies) - 1; ii >= 0; ii-- {
		rg.backPropagate(rg.applies[ii])
	}

	results := make([]*graph.Variable, len(wrt))
	for ii, v := range wrt {
		results[ii] = rg.grads[v]
		if results[ii] == nil {
			// Connected only through non-differentiable paths (e.g. integer values).
			results[ii] = ops.ZerosLike(v)
		}
	}
	return results
}

// checkConnected applies the disconnected inputs policy to wrt variables the cost doesn't depend on.
func (rg *reverseGraph) checkConnected(cost *graph.Variable, wrt []*graph.Variable, opts Options) {
	used := types.MakeSet[*graph.Variable]()
	for _, node := range rg.applies {
		used.Insert(node.Inputs...)
	}
	for _, v := range wrt {
		if v == cost || used.Has(v) || opts.KnownGrads[v] != nil {
			continue
		}
		switch opts.DisconnectedInputs {
		case DisconnectedRaise:
			panic(errors.Wrapf(ErrDisconnectedInput, "Grad(): %s is not part of the computational graph of the cost, "+
				"use DisconnectedInputs: %q or %q to get zero gradients", v, DisconnectedWarn, DisconnectedIgnore))
		case DisconnectedWarn:
			klog.Warningf("Grad(): %s is not part of the computational graph of the cost, its gradient is zero", v)
		}
	}
}

func (rg *reverseGraph) accumulate(v, g *graph.Variable) {
	if !g.Type.Equal(v.Type) {
		g = ops.ConformGradient(g, v)
	}
	if previous := rg.grads[v]; previous != nil {
		g = ops.Add(previous, g)
	}
	rg.grads[v] = g
}

// backPropagate pushes the accumulated gradients of the node outputs to its inputs.
func (rg *reverseGraph) backPropagate(node *graph.Apply) {
	outputGrads := make([]*graph.Variable, len(node.Outputs))
	hasGrads := false
	for ii, output := range node.Outputs {
		outputGrads[ii] = rg.grads[output]
		hasGrads = hasGrads || outputGrads[ii] != nil
	}
	if !hasGrads {
		return
	}
	needsInputs := false
	for _, input := range node.Inputs {
		if rg.useful.Has(input) && !rg.constants.Has(input) && input.DType().IsFloat() {
			needsInputs = true
			break
		}
	}
	if !needsInputs {
		return
	}

	d, ok := node.Op.(graph.Differentiable)
	if !ok {
		panic(errors.Wrapf(ops.ErrNotDifferentiable, "graph has node %s, for which no gradient is defined, cannot generate the gradient", node))
	}
	inputGrads := d.Grad(node, outputGrads)
	if len(inputGrads) != len(node.Inputs) {
		exceptions.Panicf("%s.Grad() returned %d gradients for %d inputs", node.Op.Name(), len(inputGrads), len(node.Inputs))
	}
	klog.V(2).Infof("Grad(): back-propagated through %s", node)
	for ii, input := range node.Inputs {
		g := inputGrads[ii]
		if g == nil || !rg.useful.Has(input) || rg.constants.Has(input) || !input.DType().IsFloat() {
			continue
		}
		if g.Rank() > input.Rank() {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "%s.Grad() returned gradient of type %s for input #%d of type %s",
				node.Op.Name(), g.Type, ii, input.Type))
		}
		rg.accumulate(input, g)
	}
}
