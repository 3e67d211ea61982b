// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/graph"
	"github.com/pkg/errors"
)

// CompositeNode is one operation inside a Composite.
type CompositeNode struct {
	Op ScalarOp

	// Args refer to the composite inputs (0 to NumInputs-1) or to the result of a previous node
	// (NumInputs + node index).
	Args []int
}

// Composite is a scalar operation made of a DAG of other scalar operations. It's created by the
// elementwise fusion rewrite, so a chain of Elemwise nodes is evaluated in one loop.
//
// The result of the composite is the result of its last node.
type Composite struct {
	Arity int
	Nodes []CompositeNode
}

var _ ScalarOp = (*Composite)(nil)

// NewComposite creates a Composite, validating that the nodes only refer to inputs and previous nodes.
func NewComposite(numInputs int, nodes ...CompositeNode) *Composite {
	if len(nodes) == 0 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "Composite requires at least one node"))
	}
	for nodeIdx, node := range nodes {
		if len(node.Args) != node.Op.NumInputs() {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "Composite node #%d (%s) given %d args, wanted %d",
				nodeIdx, node.Op.Name(), len(node.Args), node.Op.NumInputs()))
		}
		for _, arg := range node.Args {
			if arg < 0 || arg >= numInputs+nodeIdx {
				panic(errors.Wrapf(graph.ErrTypeMismatch, "Composite node #%d (%s) refers to invalid arg %d", nodeIdx, node.Op.Name(), arg))
			}
		}
	}
	return &Composite{Arity: numInputs, Nodes: slices.Clone(nodes)}
}

// NumInputs implements ScalarOp.
func (c *Composite) NumInputs() int { return c.Arity }

// Name implements ScalarOp: the expression computed, with inputs named i0, i1, ...
func (c *Composite) Name() string {
	return "Composite{" + c.expression(c.Arity+len(c.Nodes)-1) + "}"
}

func (c *Composite) expression(arg int) string {
	if arg < c.Arity {
		return fmt.Sprintf("i%d", arg)
	}
	node := c.Nodes[arg-c.Arity]
	parts := make([]string, len(node.Args))
	for ii, nodeArg := range node.Args {
		parts[ii] = c.expression(nodeArg)
	}
	return fmt.Sprintf("%s(%s)", node.Op.Name(), strings.Join(parts, ", "))
}

// OutputDType implements ScalarOp.
func (c *Composite) OutputDType(inputs ...dtypes.DType) dtypes.DType {
	if len(inputs) != c.Arity {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes %d operands, got %d", c.Name(), c.Arity, len(inputs)))
	}
	all := slices.Clone(inputs)
	for _, node := range c.Nodes {
		argDTypes := make([]dtypes.DType, len(node.Args))
		for ii, arg := range node.Args {
			argDTypes[ii] = all[arg]
		}
		all = append(all, node.Op.OutputDType(argDTypes...))
	}
	return all[len(all)-1]
}

// ImplFloat implements ScalarOp.
func (c *Composite) ImplFloat(args []float64) float64 {
	values := make([]float64, c.Arity, c.Arity+len(c.Nodes))
	copy(values, args)
	var buf [3]float64
	for _, node := range c.Nodes {
		nodeArgs := buf[:0]
		for _, arg := range node.Args {
			nodeArgs = append(nodeArgs, values[arg])
		}
		values = append(values, node.Op.ImplFloat(nodeArgs))
	}
	return values[len(values)-1]
}

// ImplInt implements ScalarOp.
func (c *Composite) ImplInt(args []int64) int64 {
	values := make([]int64, c.Arity, c.Arity+len(c.Nodes))
	copy(values, args)
	var buf [3]int64
	for _, node := range c.Nodes {
		nodeArgs := buf[:0]
		for _, arg := range node.Args {
			nodeArgs = append(nodeArgs, values[arg])
		}
		values = append(values, node.Op.ImplInt(nodeArgs))
	}
	return values[len(values)-1]
}

// Equal implements ScalarOp.
func (c *Composite) Equal(other ScalarOp) bool {
	o, ok := other.(*Composite)
	if !ok || o.Arity != c.Arity || len(o.Nodes) != len(c.Nodes) {
		return false
	}
	for ii, node := range c.Nodes {
		if !node.Op.Equal(o.Nodes[ii].Op) || !slices.Equal(node.Args, o.Nodes[ii].Args) {
			return false
		}
	}
	return true
}

// Hash implements ScalarOp.
func (c *Composite) Hash() uint64 { return graph.HashOp("Composite", c.Name()) }
