// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"maps"
	"slices"

	"github.com/gomlx/symbolic/types"
	"github.com/pkg/errors"
)

// DestroyHandler is a Feature that keeps in-place operations (ops with a DestroyMap) safe.
//
// Variables may share memory: outputs declared in an op's ViewMap are views of the corresponding
// inputs. The memory roots of a variable are the variables that are not views, that it
// (transitively) views. The output of a destroyer reuses the storage of the destroyed input, but
// it is a new value: all other readers of the input run before the destroyer, so a later
// destroyer of that output doesn't conflict with the first one.
//
// The graph is valid only if:
//
//   - No protected memory root is destroyed: constants and the variables given to NewDestroyHandler
//     (compiled functions protect their non-mutable inputs and shared variables).
//   - Each memory root is destroyed by at most one node.
//   - A node that destroys a memory root doesn't read it through another input.
//   - No graph output is destroyed, that is, overwritten after it is computed.
//   - Every other reader of a destroyed memory root can be executed before the destroyer, without
//     creating a cycle. These constraints are returned by Orderings.
type DestroyHandler struct {
	BaseFeature
	protected types.Set[*Variable]
	fg        *FunctionGraph
}

var _ Feature = (*DestroyHandler)(nil)

// NewDestroyHandler creates a DestroyHandler protecting the given variables, in addition to
// constants.
func NewDestroyHandler(protected ...*Variable) *DestroyHandler {
	return &DestroyHandler{protected: types.SetWith(protected...)}
}

// Protect adds variables to the protected set.
func (dh *DestroyHandler) Protect(vars ...*Variable) {
	dh.protected.Insert(vars...)
}

// IsProtected returns whether the variable can't be destroyed.
func (dh *DestroyHandler) IsProtected(v *Variable) bool {
	return v.kind == KindConstant || dh.protected.Has(v)
}

// OnAttach implements Feature. Only one DestroyHandler can be attached to a graph, and the graph
// must be valid.
func (dh *DestroyHandler) OnAttach(fg *FunctionGraph) error {
	for _, feature := range fg.Features() {
		if _, ok := feature.(*DestroyHandler); ok {
			return errors.New("a DestroyHandler is already attached to the graph")
		}
	}
	if dh.fg != nil && dh.fg != fg {
		return errors.New("DestroyHandler is already attached to another graph")
	}
	if _, err := dh.analyze(fg); err != nil {
		return err
	}
	dh.fg = fg
	return nil
}

// OnDetach implements Feature.
func (dh *DestroyHandler) OnDetach(*FunctionGraph) {
	dh.fg = nil
}

// aliasingOf returns, for each variable that is a view of some of its owner's inputs, the list
// of those inputs. If withDestroyed is set, outputs of destroyers are also listed as aliases of
// the inputs whose storage they reuse.
func aliasingOf(fg *FunctionGraph, withDestroyed bool) map[*Variable][]*Variable {
	aliases := make(map[*Variable][]*Variable)
	for _, node := range fg.Applies() {
		aliasMaps := []map[int][]int{ViewMapOf(node.Op)}
		if withDestroyed {
			aliasMaps = append(aliasMaps, DestroyMapOf(node.Op))
		}
		for _, m := range aliasMaps {
			for outputIdx, inputIndices := range m {
				output := node.Outputs[outputIdx]
				for _, inputIdx := range inputIndices {
					if !slices.Contains(aliases[output], node.Inputs[inputIdx]) {
						aliases[output] = append(aliases[output], node.Inputs[inputIdx])
					}
				}
			}
		}
	}
	return aliases
}

// memoryRoots returns the memory roots of v, given the aliasing map.
func memoryRoots(v *Variable, aliases map[*Variable][]*Variable, cache map[*Variable]types.Set[*Variable]) types.Set[*Variable] {
	if roots, found := cache[v]; found {
		return roots
	}
	viewed := aliases[v]
	if len(viewed) == 0 {
		roots := types.SetWith(v)
		cache[v] = roots
		return roots
	}
	roots := types.MakeSet[*Variable]()
	for _, input := range viewed {
		for root := range memoryRoots(input, aliases, cache) {
			roots.Insert(root)
		}
	}
	cache[v] = roots
	return roots
}

// AliasRoots returns the variables whose storage v may share at run time: following views and
// the outputs of in-place operations back to variables that own their storage.
func AliasRoots(fg *FunctionGraph, v *Variable) []*Variable {
	roots := memoryRoots(v, aliasingOf(fg, true), make(map[*Variable]types.Set[*Variable]))
	list := slices.Collect(maps.Keys(roots))
	slices.SortFunc(list, func(a, b *Variable) int { return int(a.id - b.id) })
	return list
}

// isAfterDestroyer returns whether v is (a view of) an output of destroyer, and hence it's
// computed after the memory is destroyed.
func isAfterDestroyer(v *Variable, destroyer *Apply, aliases map[*Variable][]*Variable) bool {
	visited := types.MakeSet[*Variable]()
	stack := []*Variable{v}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(current) {
			continue
		}
		visited.Insert(current)
		if current.owner == destroyer {
			return true
		}
		stack = append(stack, aliases[current]...)
	}
	return false
}

// analyze checks the rules and computes the orderings. It returns the first violation found.
func (dh *DestroyHandler) analyze(fg *FunctionGraph) (map[*Apply][]*Apply, error) {
	aliases := aliasingOf(fg, false)
	cache := make(map[*Variable]types.Set[*Variable])
	destroyerOf := make(map[*Variable]*Apply)
	orderings := make(map[*Apply][]*Apply)
	variables := fg.Variables()

	for _, node := range fg.Applies() {
		destroyed := DestroyedInputs(node.Op)
		if len(destroyed) == 0 {
			continue
		}
		destroyedRoots := types.MakeSet[*Variable]()
		for _, inputIdx := range destroyed {
			input := node.Inputs[inputIdx]
			for root := range memoryRoots(input, aliases, cache) {
				if dh.IsProtected(root) {
					return nil, errors.Wrapf(ErrInconsistency, "%s destroys input #%d (%s), which is protected memory (%s)",
						node, inputIdx, input, root)
				}
				if other, found := destroyerOf[root]; found && other != node {
					return nil, errors.Wrapf(ErrInconsistency, "%s and %s both destroy the memory of %s", other, node, root)
				}
				destroyerOf[root] = node
				destroyedRoots.Insert(root)
			}
		}
		for ii, input := range node.Inputs {
			if slices.Contains(destroyed, ii) {
				continue
			}
			if memoryRoots(input, aliases, cache).Intersects(destroyedRoots) {
				return nil, errors.Wrapf(ErrInconsistency, "%s destroys memory it also reads through input #%d (%s)", node, ii, input)
			}
		}
		for ii, output := range fg.Outputs {
			if memoryRoots(output, aliases, cache).Intersects(destroyedRoots) && !isAfterDestroyer(output, node, aliases) {
				return nil, errors.Wrapf(ErrInconsistency, "%s destroys graph output #%d (%s)", node, ii, output)
			}
		}

		// Every other reader of the destroyed memory must run before the destroyer.
		var readers []*Apply
		for _, v := range variables {
			if !memoryRoots(v, aliases, cache).Intersects(destroyedRoots) || isAfterDestroyer(v, node, aliases) {
				continue
			}
			for _, client := range fg.Clients(v) {
				if client.Node != nil && client.Node != node && !slices.Contains(readers, client.Node) {
					readers = append(readers, client.Node)
				}
			}
		}
		if len(readers) > 0 {
			orderings[node] = readers
		}
	}
	if len(orderings) > 0 {
		_, err := toposortApplies(fg.Outputs, nil, func(node *Apply) []*Apply { return orderings[node] })
		if err != nil {
			return nil, errors.WithMessagef(err, "in-place operations require an impossible execution order")
		}
	}
	return orderings, nil
}

// Validate implements Feature.
func (dh *DestroyHandler) Validate(fg *FunctionGraph) error {
	_, err := dh.analyze(fg)
	return err
}

// Orderings implements Feature. If the graph is not valid, it returns nil.
func (dh *DestroyHandler) Orderings(fg *FunctionGraph) map[*Apply][]*Apply {
	orderings, err := dh.analyze(fg)
	if err != nil {
		return nil
	}
	return orderings
}

// FindDestroyHandler returns the DestroyHandler attached to fg, or nil.
func FindDestroyHandler(fg *FunctionGraph) *DestroyHandler {
	for _, feature := range fg.Features() {
		if dh, ok := feature.(*DestroyHandler); ok {
			return dh
		}
	}
	return nil
}
