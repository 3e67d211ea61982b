// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// unaryOp implements the parts common to the single operand ops whose output has the type of the operand.
type unaryOp struct {
	name string
}

func (u unaryOp) Name() string { return u.name }

func (u unaryOp) Hash() uint64 { return graph.HashOp(u.name) }

func (u unaryOp) makeNode(op graph.Op, inputs []*graph.Variable) *graph.Apply {
	if len(inputs) != 1 {
		panic(errors.Wrapf(graph.ErrTypeMismatch, "%s takes 1 operand, got %d", u.name, len(inputs)))
	}
	return graph.NewApply(op, inputs, inputs[0].Type)
}

// DeepCopyOp returns a copy of its operand that doesn't share memory with it. It's inserted when a
// function output would otherwise alias an input, a shared value or another output.
type DeepCopyOp struct{ unaryOp }

var _ graph.Differentiable = (*DeepCopyOp)(nil)

// NewDeepCopyOp returns the DeepCopy op.
func NewDeepCopyOp() *DeepCopyOp { return &DeepCopyOp{unaryOp{"DeepCopy"}} }

func (d *DeepCopyOp) Equal(other graph.Op) bool {
	_, ok := other.(*DeepCopyOp)
	return ok
}

func (d *DeepCopyOp) MakeNode(inputs ...*graph.Variable) *graph.Apply { return d.makeNode(d, inputs) }

func (d *DeepCopyOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{inputs[0].Clone()}, nil
}

func (d *DeepCopyOp) Grad(_ *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	return outputGrads
}

// ViewOp returns its operand itself.
type ViewOp struct{ unaryOp }

var (
	_ graph.Differentiable = (*ViewOp)(nil)
	_ graph.ViewMapper     = (*ViewOp)(nil)
)

// NewViewOp returns the View op.
func NewViewOp() *ViewOp { return &ViewOp{unaryOp{"ViewOp"}} }

func (v *ViewOp) Equal(other graph.Op) bool {
	_, ok := other.(*ViewOp)
	return ok
}

func (v *ViewOp) MakeNode(inputs ...*graph.Variable) *graph.Apply { return v.makeNode(v, inputs) }

func (v *ViewOp) ViewMap() map[int][]int { return map[int][]int{0: {0}} }

func (v *ViewOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{inputs[0]}, nil
}

func (v *ViewOp) Grad(_ *graph.Apply, outputGrads []*graph.Variable) []*graph.Variable {
	return outputGrads
}

// StopGradientOp returns its operand itself, but its gradient is zero.
type StopGradientOp struct{ unaryOp }

var (
	_ graph.Differentiable = (*StopGradientOp)(nil)
	_ graph.ViewMapper     = (*StopGradientOp)(nil)
)

// NewStopGradientOp returns the StopGradient op.
func NewStopGradientOp() *StopGradientOp { return &StopGradientOp{unaryOp{"StopGradient"}} }

func (s *StopGradientOp) Equal(other graph.Op) bool {
	_, ok := other.(*StopGradientOp)
	return ok
}

func (s *StopGradientOp) MakeNode(inputs ...*graph.Variable) *graph.Apply { return s.makeNode(s, inputs) }

func (s *StopGradientOp) ViewMap() map[int][]int { return map[int][]int{0: {0}} }

func (s *StopGradientOp) Perform(_ *graph.Apply, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	return []*tensors.Tensor{inputs[0]}, nil
}

func (s *StopGradientOp) Grad(node *graph.Apply, _ []*graph.Variable) []*graph.Variable {
	x := node.Inputs[0]
	if !x.DType().IsFloat() {
		return []*graph.Variable{nil}
	}
	return []*graph.Variable{ZerosLike(x)}
}

// DeepCopy returns a copy of x that doesn't share memory with it.
func DeepCopy(x *graph.Variable) *graph.Variable {
	return graph.ApplyOp(NewDeepCopyOp(), x).Out()
}

// View returns x itself, as a different variable.
func View(x *graph.Variable) *graph.Variable {
	return graph.ApplyOp(NewViewOp(), x).Out()
}

// StopGradient returns x, but the gradient doesn't flow through it.
func StopGradient(x *graph.Variable) *graph.Variable {
	return graph.ApplyOp(NewStopGradientOp(), x).Out()
}
