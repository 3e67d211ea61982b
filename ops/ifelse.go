// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// IfElseOp selects between two branches of NumOutputs values each, given a scalar condition.
// Its operands are the condition followed by the "then" values and then the "else" values.
//
// It's lazy: linkers supporting graph.LazyOp only evaluate the selected branch. The outputs are
// the selected values themselves (views).
type IfElseOp struct {
	NumOutputs int
}

var (
	_ graph.Op             = (*IfElseOp)(nil)
	_ graph.LazyOp         = (*IfElseOp)(nil)
	_ graph.ViewMapper     = (*IfElseOp)(nil)
	_ graph.Differentiable = (*IfElseOp)(nil)
)

func (c *IfElseOp) Name() string { return fmt.Sprintf("IfElse{%d}", c.NumOutputs) }

func (c *IfElseOp) Equal(other graph.Op) bool {
	o, ok := other.(*IfElseOp)
	return ok && o.NumOutputs == c.NumOutputs
}

func (c *IfElseOp) Hash() uint64 { return graph.HashOp("IfElse", c.NumOutputs) }

// ViewMap implements graph.ViewMapper: each output is a view of either of its branch values.
func (c *IfElseOp) ViewMap() map[int][]int {
	vm := make(map[int][]int, c.NumOutputs)
	for ii := range c.NumOutputs {
		vm[ii] = []int{1 + ii, 1 + c.NumOutputs + ii}
	}
	return vm
}

// NumEagerInputs implements graph.LazyOp: only the condition is always needed.
func (c *IfElseOp) NumEagerInputs(*graph.Apply) int { return 1 }

// SelectInputs implements graph.LazyOp, returning the inputs of the selected branch.
func (c *IfElseOp) SelectInputs(_ *graph.Apply, eager []*tensors.Tensor) ([]int, error) {
	taken, err := c.condition(eager[0])
	if err != nil {
		return nil, err
	}
	selected := make([]int, c.NumOutputs)
	for ii := range selected {
		selected[ii] = c.branchInput(taken, ii)
	}
	return selected, nil
}

func (c *IfElseOp) branchInput(taken bool, output int) int {
	if taken {
		return 1 + output
	}
	return 1 + c.NumOutputs + output
}

func (c *IfElseOp) condition(cond *tensors.Tensor) (bool, error) {
	if cond == nil || cond.Size() != 1 {
		return false, errors.Wrapf(graph.ErrShapeMismatch, "%s: condition must be a scalar", c.Name())
	}
	return cond.AsFloat64s()[0] != 0, nil
}

func (c *IfElseOp) MakeNode(inputs ...*graph.Variable) *graph.Apply {
	if len(inputs) != 1+2*c.NumOutputs {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes %d operands, got %d", c.Name(), 1+2*c.NumOutputs, len(inputs)))
	}
	if inputs[0].Rank() != 0 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: condition must be a scalar, got %s", c.Name(), inputs[0].Type))
	}
	outputTypes := make([]graph.TensorType, c.NumOutputs)
	for ii := range c.NumOutputs {
		thenV, elseV := inputs[1+ii], inputs[1+c.NumOutputs+ii]
		if thenV.DType() != elseV.DType() || thenV.Rank() != elseV.Rank() {
			panic(errors.Wrapf(graph.ErrTypeMismatch, "%s: branches of output #%d have different types %s and %s",
				c.Name(), ii, thenV.Type, elseV.Type))
		}
		t := thenV.Type.Clone()
		for axis, b := range elseV.Type.Broadcastable {
			t.Broadcastable[axis] = t.Broadcastable[axis] && b
		}
		outputTypes[ii] = t
	}
	return graph.NewApply(c, inputs, outputTypes...)
}

// Perform implements graph.Op. Inputs of the branch not taken may be nil.
func (c *IfElseOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	taken, err := c.condition(inputs[0])
	if err != nil {
		return nil, err
	}
	outputs := make([]*tensors.Tensor, c.NumOutputs)
	for ii := range outputs {
		outputs[ii] = inputs[c.branchInput(taken, ii)]
		if outputs[ii] == nil {
			return nil, errors.Errorf("%s: selected input #%d was not computed", c.Name(), c.branchInput(taken, ii))
		}
	}
	return outputs, nil
}

// Grad implements graph.Differentiable: the gradient flows to the selected branch only.
func (c *IfElseOp) Grad(node *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	grads := make([]*graph.Variable, len(node.Inputs))
	cond := node.Inputs[0]
	var thens, elses []*graph.Variable
	var indices []int
	for ii, gz := range outputGrads {
		if gz == nil || !node.Outputs[ii].DType().IsFloat() {
			continue
		}
		zeros := ZerosLike(gz)
		thens = append(thens, gz, zeros)
		elses = append(elses, zeros, gz)
		indices = append(indices, ii)
	}
	if len(indices) == 0 {
		return grads
	}
	selected := IfElseN(cond, thens, elses)
	for jj, ii := range indices {
		grads[1+ii] = ConformGradient(selected[2*jj], node.Inputs[1+ii])
		grads[1+c.NumOutputs+ii] = ConformGradient(selected[2*jj+1], node.Inputs[1+c.NumOutputs+ii])
	}
	return grads
}

// IfElse returns thenV if cond (a scalar) is true (non-zero), elseV otherwise. Only the selected value is
// computed when the function is linked lazily.
func IfElse(cond, thenV, elseV *graph.Variable) *graph.Variable {
	return IfElseN(cond, []*graph.Variable{thenV}, []*graph.Variable{elseV})[0]
}

// IfElseN is like IfElse for multiple values at once.
func IfElseN(cond *graph.Variable, thens, elses []*graph.Variable) []*graph.Variable {
	if len(thens) != len(elses) {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "IfElse given %d values for \"then\" and %d for \"else\"", len(thens), len(elses)))
	}
	inputs := append([]*graph.Variable{cond}, thens...)
	inputs = append(inputs, elses...)
	return graph.ApplyOp(&IfElseOp{NumOutputs: len(thens)}, inputs...).Outputs
}
