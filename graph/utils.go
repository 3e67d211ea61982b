// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/symbolic/types"
	"github.com/pkg/errors"
)

// toposortApplies returns the nodes needed to compute outputs, in execution order.
//
// Variables for which stop returns true are treated as leaves (stop may be nil).
// If extra is given, it returns additional nodes that must come before a node.
// It returns an error wrapping ErrInconsistency if there is a cycle.
func toposortApplies(outputs []*Variable, stop func(v *Variable) bool, extra func(node *Apply) []*Apply) ([]*Apply, error) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[*Apply]int)
	var order []*Apply
	type frame struct {
		node *Apply
		deps []*Apply
		next int
	}
	depsOf := func(node *Apply) []*Apply {
		var deps []*Apply
		for _, input := range node.Inputs {
			if input.owner != nil && (stop == nil || !stop(input)) {
				deps = append(deps, input.owner)
			}
		}
		if extra != nil {
			deps = append(deps, extra(node)...)
		}
		return deps
	}
	for _, output := range outputs {
		if output.owner == nil || (stop != nil && stop(output)) || state[output.owner] == done {
			continue
		}
		state[output.owner] = visiting
		stack := []*frame{{node: output.owner, deps: depsOf(output.owner)}}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next == len(top.deps) {
				state[top.node] = done
				order = append(order, top.node)
				stack = stack[:len(stack)-1]
				continue
			}
			dep := top.deps[top.next]
			top.next++
			switch state[dep] {
			case done:
				continue
			case visiting:
				return nil, errors.Wrapf(ErrInconsistency, "cycle in graph involving %s", dep)
			}
			state[dep] = visiting
			stack = append(stack, &frame{node: dep, deps: depsOf(dep)})
		}
	}
	return order, nil
}

// Toposort returns the Apply nodes between inputs and outputs in execution order: nodes
// computing inputs (and their ancestors) are not included.
func Toposort(inputs, outputs []*Variable) []*Apply {
	blockers := types.SetWith(inputs...)
	order, err := toposortApplies(outputs, blockers.Has, nil)
	if err != nil {
		// Graphs without feature orderings can't have cycles.
		panic(err)
	}
	return order
}

// Ancestors returns the variables outputs depend on, including the outputs themselves, stopping
// at the blockers. Each variable is listed once, in depth-first order.
func Ancestors(outputs []*Variable, blockers ...*Variable) []*Variable {
	blockersSet := types.SetWith(blockers...)
	visited := types.MakeSet[*Variable]()
	var result []*Variable
	stack := slices.Clone(outputs)
	slices.Reverse(stack)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(v) {
			continue
		}
		visited.Insert(v)
		result = append(result, v)
		if v.owner == nil || blockersSet.Has(v) {
			continue
		}
		for ii := len(v.owner.Inputs) - 1; ii >= 0; ii-- {
			stack = append(stack, v.owner.Inputs[ii])
		}
	}
	return result
}

// Inputs returns the root variables (without owner) the outputs depend on, in depth-first order.
func Inputs(outputs []*Variable, blockers ...*Variable) []*Variable {
	blockersSet := types.SetWith(blockers...)
	var roots []*Variable
	for _, v := range Ancestors(outputs, blockers...) {
		if v.owner == nil || blockersSet.Has(v) {
			roots = append(roots, v)
		}
	}
	return roots
}

// CloneGetEquiv clones the Apply nodes between inputs and outputs. It returns the new inputs,
// the new outputs and the mapping from each original variable to its clone.
//
// If copyInputs is true, the inputs are replaced by new root variables of the same type and name.
// Other roots (constants, shared variables) are never cloned.
func CloneGetEquiv(inputs, outputs []*Variable, copyInputs bool) (newInputs, newOutputs []*Variable, equiv map[*Variable]*Variable) {
	equiv = make(map[*Variable]*Variable)
	newInputs = make([]*Variable, len(inputs))
	for ii, input := range inputs {
		newInput := input
		if copyInputs {
			newInput = newVariable(input.Type, input.name, input.kind)
			newInput.constValue = input.constValue
			newInput.shared = input.shared
			newInput.testValue = input.testValue
		}
		equiv[input] = newInput
		newInputs[ii] = newInput
	}
	lookup := func(v *Variable) *Variable {
		if newV, found := equiv[v]; found {
			return newV
		}
		return v
	}
	for _, node := range Toposort(inputs, outputs) {
		newInputsOfNode := make([]*Variable, len(node.Inputs))
		for ii, input := range node.Inputs {
			newInputsOfNode[ii] = lookup(input)
		}
		newNode := node.CloneWithNewInputs(newInputsOfNode, true)
		for ii, output := range node.Outputs {
			newNode.Outputs[ii].name = output.name
			newNode.Outputs[ii].testValue = output.testValue
			equiv[output] = newNode.Outputs[ii]
		}
	}
	newOutputs = make([]*Variable, len(outputs))
	for ii, output := range outputs {
		newOutputs[ii] = lookup(output)
	}
	return
}

// Clone returns a copy of the graph between inputs and outputs. See CloneGetEquiv.
func Clone(inputs, outputs []*Variable, copyInputs bool) (newInputs, newOutputs []*Variable) {
	newInputs, newOutputs, _ = CloneGetEquiv(inputs, outputs, copyInputs)
	return
}

// CloneReplace returns a copy of the outputs where each variable in replace is substituted by
// its replacement.
//
// Replacements are simultaneous and independent: the replacement variables (and the graphs that
// compute them) are never themselves substituted, even if they appear as keys in replace. Nodes
// that don't depend on any replaced variable are not copied.
func CloneReplace(outputs []*Variable, replace map[*Variable]*Variable) []*Variable {
	if len(replace) == 0 {
		return slices.Clone(outputs)
	}
	equiv := make(map[*Variable]*Variable, len(replace))
	for v, newV := range replace {
		equiv[v] = newV
	}
	lookup := func(v *Variable) *Variable {
		if newV, found := equiv[v]; found {
			return newV
		}
		return v
	}
	stop := func(v *Variable) bool {
		_, found := replace[v]
		return found
	}
	order, err := toposortApplies(outputs, stop, nil)
	if err != nil {
		panic(err)
	}
	for _, node := range order {
		changed := false
		newInputs := make([]*Variable, len(node.Inputs))
		for ii, input := range node.Inputs {
			newInputs[ii] = lookup(input)
			changed = changed || newInputs[ii] != input
		}
		if !changed {
			continue
		}
		newNode := node.CloneWithNewInputs(newInputs, false)
		for ii, output := range node.Outputs {
			newNode.Outputs[ii].name = output.name
			equiv[output] = newNode.Outputs[ii]
		}
	}
	newOutputs := make([]*Variable, len(outputs))
	for ii, output := range outputs {
		newOutputs[ii] = lookup(output)
	}
	return newOutputs
}
