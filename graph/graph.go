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

// Package graph is the core package of symbolic. It defines the symbolic expression graphs that
// are later optimized and compiled into callable functions (see package function).
//
// The main elements in the package are:
//
//   - Variable: a typed symbolic value. It's either a root (a function input, a constant or a
//     shared variable) or the output of an Apply.
//
//   - Apply: the application of an Op to a tuple of input Variables, producing a tuple of
//     output Variables.
//
//   - Op: the operator descriptor. It knows how to build Apply nodes (MakeNode) and how to compute
//     their outputs on concrete values (Perform). Ops are implemented in package ops.
//
//   - FunctionGraph: a self-contained copy of the subgraph between a set of inputs and outputs,
//     that tracks the clients of each variable and can be rewritten in place (Replace,
//     ChangeInput). Optimizers work on FunctionGraphs, and Features attached to them validate
//     the changes (see DestroyHandler).
//
// ## Error Handling
//
// Building graphs with wrong operand types panics (usually with an error wrapping ErrTypeMismatch),
// with the stack trace of where the bad operation was created. This way the user doesn't need to
// check for errors at every op. Functions that deal with concrete values (Perform, FunctionGraph
// changes, compilation) return errors instead.
//
// ## Delayed Execution
//
//   - **Graph building time**: one builds the expression with the op constructors (ops.Add, ops.Dot,
//     etc.). No computation happens here, except for test values if enabled (see Variable.SetTestValue).
//
//   - **Compilation time**: the function builder clones the graph into a FunctionGraph, optimizes it
//     and links it into a program of thunks.
//
//   - **Run time**: the compiled function is called with concrete values, many times.
package graph

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/symbolic/types"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"
)

// Client is a use of a Variable: the input Index of the Node. If Node is nil, the variable is
// the output Index of the FunctionGraph.
type Client struct {
	Node  *Apply
	Index int
}

// IsOutput returns whether the client is a graph output.
func (c Client) IsOutput() bool { return c.Node == nil }

// Replacement of a variable by another, used in FunctionGraph.ReplaceAll.
type Replacement struct {
	Old, New *Variable
}

// inputChange records a change of input, used to revert changes.
type inputChange struct {
	node     *Apply
	index    int
	old, new *Variable
}

// FunctionGraph holds the subgraph between Inputs and Outputs, owned by the FunctionGraph: its
// Apply nodes are not shared with any other graph, so it can be rewritten in place.
//
// It maintains the set of applies and variables and, for each variable, the list of its clients.
// Apply nodes that no longer contribute to the outputs are pruned.
//
// A FunctionGraph is not safe for concurrent use.
type FunctionGraph struct {
	// Inputs are the root variables that are fed when the graph is run. They are not cloned.
	Inputs []*Variable

	// Outputs of the graph. Changed with ChangeInput(nil, index, ...) or Replace.
	Outputs []*Variable

	inputsSet types.Set[*Variable]
	applies   map[*Apply]int
	nextSeq   int
	variables types.Set[*Variable]
	clients   map[*Variable][]Client
	features  []Feature

	// recording, if not nil, collects changes for ReplaceValidate.
	recording *[]inputChange
}

// NewFunctionGraph creates a FunctionGraph computing outputs from inputs.
//
// The Apply nodes between inputs and outputs are cloned, root variables are not. So the inputs, constants
// and shared variables of the FunctionGraph are the same as the ones given, but the outputs
// are new variables.
//
// It returns an error wrapping ErrMissingInput if the outputs depend on a root variable that is neither
// an input nor a constant. Shared variables must be given as inputs.
//
// The features are attached in order, and an error is returned if any of them fail to attach.
func NewFunctionGraph(inputs, outputs []*Variable, features ...Feature) (*FunctionGraph, error) {
	_, clonedOutputs, _ := CloneGetEquiv(inputs, outputs, false)
	return newFunctionGraphNoClone(inputs, clonedOutputs, features...)
}

// newFunctionGraphNoClone builds the FunctionGraph over the given nodes, which must not be used
// elsewhere.
func newFunctionGraphNoClone(inputs, outputs []*Variable, features ...Feature) (*FunctionGraph, error) {
	fg := &FunctionGraph{
		Inputs:    slices.Clone(inputs),
		Outputs:   make([]*Variable, 0, len(outputs)),
		inputsSet: types.MakeSet[*Variable](len(inputs)),
		applies:   make(map[*Apply]int),
		variables: types.MakeSet[*Variable](),
		clients:   make(map[*Variable][]Client),
	}
	for ii, input := range inputs {
		if input.owner != nil {
			return nil, errors.Errorf("FunctionGraph input #%d (%s) is not a root variable", ii, input)
		}
		if fg.inputsSet.Has(input) {
			return nil, errors.Errorf("FunctionGraph input #%d (%s) given more than once", ii, input)
		}
		fg.inputsSet.Insert(input)
		fg.variables.Insert(input)
	}
	for ii, output := range outputs {
		if err := fg.importVariable(output, "init"); err != nil {
			return nil, errors.WithMessagef(err, "importing output #%d", ii)
		}
		fg.Outputs = append(fg.Outputs, output)
		fg.clients[output] = append(fg.clients[output], Client{Index: ii})
	}
	for _, feature := range features {
		if err := fg.AttachFeature(feature); err != nil {
			return nil, err
		}
	}
	return fg, nil
}

// HasApply returns whether the node is part of the graph.
func (fg *FunctionGraph) HasApply(node *Apply) bool {
	_, found := fg.applies[node]
	return found
}

// HasVariable returns whether the variable is part of the graph.
func (fg *FunctionGraph) HasVariable(v *Variable) bool {
	return fg.variables.Has(v)
}

// IsInput returns whether v is one of the graph inputs.
func (fg *FunctionGraph) IsInput(v *Variable) bool {
	return fg.inputsSet.Has(v)
}

// NumApplies returns the number of Apply nodes in the graph.
func (fg *FunctionGraph) NumApplies() int { return len(fg.applies) }

// Applies returns the Apply nodes of the graph, in the order they were imported.
// See Toposort for an execution order.
func (fg *FunctionGraph) Applies() []*Apply {
	nodes := slices.Collect(maps.Keys(fg.applies))
	slices.SortFunc(nodes, func(a, b *Apply) int { return fg.applies[a] - fg.applies[b] })
	return nodes
}

// Variables returns all variables of the graph, sorted by id.
func (fg *FunctionGraph) Variables() []*Variable {
	vars := slices.Collect(maps.Keys(fg.variables))
	slices.SortFunc(vars, func(a, b *Variable) int { return int(a.id - b.id) })
	return vars
}

// Clients returns the uses of the variable in the graph. The returned slice shouldn't be modified.
func (fg *FunctionGraph) Clients(v *Variable) []Client {
	return fg.clients[v]
}

// importVariable makes sure v and the nodes that compute it are part of the graph.
func (fg *FunctionGraph) importVariable(v *Variable, reason string) error {
	if fg.variables.Has(v) {
		return nil
	}
	if v.owner == nil {
		if v.kind == KindConstant {
			fg.variables.Insert(v)
			return nil
		}
		return errors.Wrapf(ErrMissingInput, "%s (%s) is used but it is not an input of the graph", v, v.kind)
	}
	return fg.importApply(v.owner, reason)
}

// importApply adds node, and all nodes it depends on that are not yet in the graph.
func (fg *FunctionGraph) importApply(node *Apply, reason string) error {
	if fg.HasApply(node) {
		return nil
	}
	// Iterative post-order, so long chains don't grow the goroutine stack.
	toImport, err := toposortApplies([]*Variable{node.Outputs[0]}, func(v *Variable) bool {
		return v.owner != nil && fg.HasApply(v.owner)
	}, nil)
	if err != nil {
		return err
	}
	for _, newNode := range toImport {
		for _, input := range newNode.Inputs {
			if input.owner == nil {
				if err := fg.importVariable(input, reason); err != nil {
					return err
				}
			}
		}
	}
	for _, newNode := range toImport {
		fg.applies[newNode] = fg.nextSeq
		fg.nextSeq++
		for _, output := range newNode.Outputs {
			fg.variables.Insert(output)
		}
		for ii, input := range newNode.Inputs {
			fg.clients[input] = append(fg.clients[input], Client{Node: newNode, Index: ii})
		}
		for _, feature := range fg.features {
			feature.OnImport(fg, newNode, reason)
		}
	}
	return nil
}

// removeClient removes one use of v, and prunes its owner if none of its outputs are used anymore.
func (fg *FunctionGraph) removeClient(v *Variable, client Client, reason string) {
	clients := fg.clients[v]
	idx := slices.Index(clients, client)
	if idx < 0 {
		klog.Errorf("FunctionGraph: client %v of %s not found", client, v)
		return
	}
	clients = slices.Delete(clients, idx, idx+1)
	if len(clients) > 0 {
		fg.clients[v] = clients
		return
	}
	delete(fg.clients, v)
	node := v.owner
	if node == nil || !fg.HasApply(node) {
		if node == nil && !fg.inputsSet.Has(v) {
			// Constants are only kept while used.
			fg.variables.Remove(v)
		}
		return
	}
	for _, output := range node.Outputs {
		if len(fg.clients[output]) > 0 {
			return
		}
	}
	delete(fg.applies, node)
	for _, output := range node.Outputs {
		fg.variables.Remove(output)
	}
	for _, feature := range fg.features {
		feature.OnPrune(fg, node, reason)
	}
	for ii, input := range node.Inputs {
		fg.removeClient(input, Client{Node: node, Index: ii}, reason)
	}
}

// ChangeInput changes the input index of node to newV. If node is nil, it changes the output
// index of the graph.
//
// The new variable must have the same type as the current one, otherwise an error wrapping
// ErrTypeMismatch is returned. Nodes needed to compute newV are imported, and nodes that are no
// longer used are pruned. The attached features are notified of the change.
func (fg *FunctionGraph) ChangeInput(node *Apply, index int, newV *Variable, reason string) error {
	var oldV *Variable
	if node == nil {
		if index < 0 || index >= len(fg.Outputs) {
			return errors.Errorf("ChangeInput(): output index %d out of range (%d outputs)", index, len(fg.Outputs))
		}
		oldV = fg.Outputs[index]
	} else {
		if !fg.HasApply(node) {
			return errors.Errorf("ChangeInput(): node %s is not part of the graph", node)
		}
		if index < 0 || index >= len(node.Inputs) {
			return errors.Errorf("ChangeInput(): input index %d out of range for %s", index, node)
		}
		oldV = node.Inputs[index]
	}
	if oldV == newV {
		return nil
	}
	if !oldV.Type.Equal(newV.Type) {
		return errors.Wrapf(ErrTypeMismatch, "cannot replace %s (type %s) by %s (type %s) (reason %q)",
			oldV, oldV.Type, newV, newV.Type, reason)
	}
	if err := fg.importVariable(newV, reason); err != nil {
		return err
	}
	if node == nil {
		fg.Outputs[index] = newV
	} else {
		node.Inputs[index] = newV
	}
	client := Client{Node: node, Index: index}
	fg.clients[newV] = append(fg.clients[newV], client)
	fg.removeClient(oldV, client, reason)
	if fg.recording != nil {
		*fg.recording = append(*fg.recording, inputChange{node: node, index: index, old: oldV, new: newV})
	}
	for _, feature := range fg.features {
		feature.OnChangeInput(fg, node, index, oldV, newV, reason)
	}
	if klog.V(3).Enabled() {
		klog.Infof("FunctionGraph.ChangeInput(%v, %d): %s -> %s (%s)", node, index, oldV, newV, reason)
	}
	return nil
}

// Replace makes all clients of v use newV instead.
func (fg *FunctionGraph) Replace(v, newV *Variable, reason string) error {
	if v == newV {
		return nil
	}
	if !fg.variables.Has(v) {
		return errors.Errorf("Replace(): %s is not part of the graph", v)
	}
	for _, client := range slices.Clone(fg.clients[v]) {
		if client.Node != nil && !fg.HasApply(client.Node) {
			// Pruned by a previous change of this loop.
			continue
		}
		if err := fg.ChangeInput(client.Node, client.Index, newV, reason); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAll replaces each of the variables, in order.
func (fg *FunctionGraph) ReplaceAll(replacements []Replacement, reason string) error {
	for _, r := range replacements {
		if err := fg.Replace(r.Old, r.New, reason); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceValidate makes the replacements and then validates the graph with every attached feature.
// If anything fails, the changes are reverted and the error is returned.
func (fg *FunctionGraph) ReplaceValidate(replacements []Replacement, reason string) error {
	if fg.recording != nil {
		return errors.New("ReplaceValidate() called recursively")
	}
	var changes []inputChange
	fg.recording = &changes
	err := fg.ReplaceAll(replacements, reason)
	fg.recording = nil
	if err == nil {
		err = fg.Validate()
	}
	if err == nil {
		return nil
	}
	for ii := len(changes) - 1; ii >= 0; ii-- {
		change := changes[ii]
		if revertErr := fg.ChangeInput(change.node, change.index, change.old, "revert: "+reason); revertErr != nil {
			return multierr.Append(err, errors.WithMessagef(revertErr, "failed to revert changes"))
		}
	}
	return err
}

// Validate runs the validation of every attached feature.
func (fg *FunctionGraph) Validate() error {
	for _, feature := range fg.features {
		if err := feature.Validate(fg); err != nil {
			return err
		}
	}
	return nil
}

// AttachFeature attaches a feature to the graph. Features are notified of every change.
func (fg *FunctionGraph) AttachFeature(feature Feature) error {
	if slices.Contains(fg.features, feature) {
		return nil
	}
	if err := feature.OnAttach(fg); err != nil {
		return errors.WithMessagef(err, "attaching feature %T", feature)
	}
	fg.features = append(fg.features, feature)
	return nil
}

// DetachFeature removes a feature from the graph. It's a no-op if the feature is not attached.
func (fg *FunctionGraph) DetachFeature(feature Feature) {
	idx := slices.Index(fg.features, feature)
	if idx < 0 {
		return
	}
	fg.features = slices.Delete(fg.features, idx, idx+1)
	feature.OnDetach(fg)
}

// Features returns the attached features. The returned slice shouldn't be modified.
func (fg *FunctionGraph) Features() []Feature { return fg.features }

// Orderings returns the extra dependencies between nodes required by the features: each node
// maps to the nodes that must be executed before it.
func (fg *FunctionGraph) Orderings() map[*Apply][]*Apply {
	all := make(map[*Apply][]*Apply)
	for _, feature := range fg.features {
		for node, prereqs := range feature.Orderings(fg) {
			for _, prereq := range prereqs {
				if !slices.Contains(all[node], prereq) {
					all[node] = append(all[node], prereq)
				}
			}
		}
	}
	return all
}

// Toposort returns the Apply nodes of the graph in an order where every node comes after the nodes
// that compute its inputs and after the nodes that the feature orderings require.
// The order is deterministic for a given graph.
//
// It returns an error wrapping ErrInconsistency if the orderings create a cycle.
func (fg *FunctionGraph) Toposort() ([]*Apply, error) {
	orderings := fg.Orderings()
	var extra func(*Apply) []*Apply
	if len(orderings) > 0 {
		extra = func(node *Apply) []*Apply { return orderings[node] }
	}
	return toposortApplies(fg.Outputs, nil, extra)
}

// CheckIntegrity verifies the internal consistency of the graph: that every used variable is
// either computed by a node of the graph, an input or a constant; and that client lists
// match the node inputs. All problems found are returned.
func (fg *FunctionGraph) CheckIntegrity() error {
	var err error
	expectedClients := make(map[*Variable][]Client)
	for node := range fg.applies {
		for ii, input := range node.Inputs {
			expectedClients[input] = append(expectedClients[input], Client{Node: node, Index: ii})
			if !fg.variables.Has(input) {
				err = multierr.Append(err, errors.Errorf("input #%d of %s, %s, is not part of the graph", ii, node, input))
			}
		}
		for ii, output := range node.Outputs {
			if output.owner != node || output.index != ii {
				err = multierr.Append(err, errors.Errorf("output #%d of %s, %s, has the wrong owner", ii, node, output))
			}
			if !fg.variables.Has(output) {
				err = multierr.Append(err, errors.Errorf("output #%d of %s, %s, is not part of the graph", ii, node, output))
			}
		}
	}
	for ii, output := range fg.Outputs {
		expectedClients[output] = append(expectedClients[output], Client{Index: ii})
	}
	for v := range fg.variables {
		if v.owner == nil {
			if !fg.inputsSet.Has(v) && v.kind != KindConstant {
				err = multierr.Append(err, errors.Wrapf(ErrMissingInput, "root %s is not an input", v))
			}
		} else if !fg.HasApply(v.owner) {
			err = multierr.Append(err, errors.Errorf("owner of %s, %s, is not part of the graph", v, v.owner))
		}
		if !sameClients(expectedClients[v], fg.clients[v]) {
			err = multierr.Append(err, errors.Errorf("clients of %s are %v, expected %v", v, fg.clients[v], expectedClients[v]))
		}
	}
	for v := range fg.clients {
		if !fg.variables.Has(v) {
			err = multierr.Append(err, errors.Errorf("%s has clients but it is not part of the graph", v))
		}
	}
	return err
}

func sameClients(a, b []Client) bool {
	if len(a) != len(b) {
		return false
	}
	for _, client := range a {
		if slices.Index(b, client) < 0 {
			return false
		}
	}
	return true
}

// Clone returns a copy of the graph, with new Apply nodes. Features are not copied.
// It also returns the mapping from the variables of fg to the ones of the clone.
func (fg *FunctionGraph) Clone() (*FunctionGraph, map[*Variable]*Variable, error) {
	_, outputs, equiv := CloneGetEquiv(fg.Inputs, fg.Outputs, false)
	clone, err := newFunctionGraphNoClone(fg.Inputs, outputs)
	if err != nil {
		return nil, nil, err
	}
	return clone, equiv, nil
}

// String implements fmt.Stringer.
func (fg *FunctionGraph) String() string {
	parts := make([]string, len(fg.Outputs))
	for ii, output := range fg.Outputs {
		parts[ii] = expressionString(output, 3)
	}
	return fmt.Sprintf("FunctionGraph(%s)", strings.Join(parts, ", "))
}

// expressionString prints the expression computing v, up to the given depth.
func expressionString(v *Variable, depth int) string {
	if v.owner == nil || depth == 0 {
		return v.String()
	}
	node := v.owner
	parts := make([]string, len(node.Inputs))
	for ii, input := range node.Inputs {
		parts[ii] = expressionString(input, depth-1)
	}
	s := fmt.Sprintf("%s(%s)", node.Op.Name(), strings.Join(parts, ", "))
	if len(node.Outputs) > 1 {
		s = fmt.Sprintf("%s.%d", s, v.index)
	}
	return s
}
