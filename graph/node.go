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

package graph

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// VariableId is a unique identifier of a Variable, assigned in creation order.
type VariableId int64

var nextVariableId atomic.Int64

// Kind of Variable.
type Kind int

const (
	// KindVariable is a plain symbolic value: either a function input or the output of an Apply.
	KindVariable Kind = iota

	// KindConstant holds an immutable value.
	KindConstant

	// KindShared holds a value that persists across calls of compiled functions.
	KindShared
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "Variable"
	case KindConstant:
		return "Constant"
	case KindShared:
		return "Shared"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Variable is a typed node in the computation graph, representing a symbolic value.
//
// A Variable is either a root (no owner): a function input, a constant or a shared variable; or
// the output of an Apply node, in which case Owner() returns the Apply and Index() the output
// position.
//
// Variables are created by the op constructors (see package ops), and by NewVariable,
// NewConstant and NewShared.
type Variable struct {
	id    VariableId
	Type  TensorType
	owner *Apply
	index int
	name  string
	kind  Kind

	// constValue holds the value of a KindConstant. It's never handed out for mutation.
	constValue *tensors.Tensor

	// shared holds the storage of a KindShared.
	shared *sharedStorage

	testValue *tensors.Tensor
}

func newVariable(t TensorType, name string, kind Kind) *Variable {
	return &Variable{
		id:   VariableId(nextVariableId.Add(1)),
		Type: t.Clone(),
		name: name,
		kind: kind,
	}
}

// NewVariable creates a new root variable of the given type, to be used as a function input.
func NewVariable(t TensorType, name string) *Variable {
	return newVariable(t, name, KindVariable)
}

// NewConstant creates a constant with the given value. The value is cloned, so later changes to it
// don't affect the constant.
//
// The type of the constant has broadcastable axes where the value has dimension 1.
func NewConstant(value *tensors.Tensor, name string) *Variable {
	return NewConstantOfType(value, TensorType{DType: value.DType(), Broadcastable: BroadcastableForShape(value.Shape())}, name)
}

// NewConstantOfType creates a constant with the given value and type. The value must fit the type exactly.
func NewConstantOfType(value *tensors.Tensor, t TensorType, name string) *Variable {
	if !t.IsValidValue(value) {
		exceptions.Panicf("NewConstantOfType(%s): value of shape %s doesn't fit the type", t, value.Shape())
	}
	v := newVariable(t, name, KindConstant)
	v.constValue = value.Clone()
	return v
}

// Id returns the unique id of the variable.
func (v *Variable) Id() VariableId { return v.id }

// Name of the variable, it may be empty.
func (v *Variable) Name() string { return v.name }

// SetName sets the name of the variable, used for printing and to identify function inputs. It returns the variable itself.
func (v *Variable) SetName(name string) *Variable {
	v.name = name
	return v
}

// Owner returns the Apply that computes this variable, or nil for root variables.
func (v *Variable) Owner() *Apply { return v.owner }

// Index returns the position of the variable in the outputs of its owner.
func (v *Variable) Index() int { return v.index }

// Kind of the variable.
func (v *Variable) Kind() Kind { return v.kind }

// IsConstant returns whether the variable is a constant.
func (v *Variable) IsConstant() bool { return v.kind == KindConstant }

// IsShared returns whether the variable is a shared variable.
func (v *Variable) IsShared() bool { return v.kind == KindShared }

// IsRoot returns whether the variable has no owner.
func (v *Variable) IsRoot() bool { return v.owner == nil }

// DType of the variable type.
func (v *Variable) DType() dtypes.DType { return v.Type.DType }

// Rank of the variable type.
func (v *Variable) Rank() int { return v.Type.Rank() }

// ConstantValue returns a copy of the value of a constant.
//
// It panics if the variable is not a constant.
func (v *Variable) ConstantValue() *tensors.Tensor {
	if v.kind != KindConstant {
		exceptions.Panicf("ConstantValue() called on non-constant %s", v)
	}
	return v.constValue.Clone()
}

// ConstantScalar returns the value of a constant as a float64 if all its elements are the same.
// It returns false if the variable is not a constant, or if it has different (or no) values.
func (v *Variable) ConstantScalar() (float64, bool) {
	if v.kind != KindConstant || v.constValue.Size() == 0 {
		return 0, false
	}
	values := v.constValue.AsFloat64s()
	for _, value := range values[1:] {
		if value != values[0] {
			return 0, false
		}
	}
	return values[0], true
}

// constantEquals returns whether two constants have the same type and value.
func constantEquals(c0, c1 *Variable) bool {
	return c0.Type.Equal(c1.Type) && c0.constValue.Equal(c1.constValue)
}

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil {
		return "<nil>"
	}
	var sb strings.Builder
	switch {
	case v.name != "":
		sb.WriteString(v.name)
	case v.owner != nil:
		_, _ = fmt.Fprintf(&sb, "%s.%d", v.owner.Op.Name(), v.index)
	case v.kind == KindConstant && v.constValue.Size() <= 4:
		_, _ = fmt.Fprintf(&sb, "Constant{%v}", v.constValue.Value())
	default:
		sb.WriteString(v.kind.String())
	}
	_, _ = fmt.Fprintf(&sb, "#%d", v.id)
	return sb.String()
}

// Apply represents the application of an Op to a tuple of input variables, producing a tuple of
// output variables.
//
// Replaying op.MakeNode(apply.Inputs...) must reproduce an equivalent Apply: this is what allows
// graphs to be cloned and rewritten.
type Apply struct {
	Op      Op
	Inputs  []*Variable
	Outputs []*Variable
}

// NewApply creates an Apply node with new output variables of the given types.
// It's used by Op.MakeNode implementations.
func NewApply(op Op, inputs []*Variable, outputTypes ...TensorType) *Apply {
	node := &Apply{
		Op:      op,
		Inputs:  append([]*Variable(nil), inputs...),
		Outputs: make([]*Variable, len(outputTypes)),
	}
	for ii, outputType := range outputTypes {
		output := newVariable(outputType, "", KindVariable)
		output.owner = node
		output.index = ii
		node.Outputs[ii] = output
	}
	return node
}

// Out returns the output of single-output nodes. It panics if the node has a different number of outputs.
func (a *Apply) Out() *Variable {
	if len(a.Outputs) != 1 {
		exceptions.Panicf("%s has %d outputs, Out() can only be used with single-output nodes", a, len(a.Outputs))
	}
	return a.Outputs[0]
}

// CloneWithNewInputs returns a new Apply with the same op, applied to the given inputs.
//
// If the new inputs have the same types as the current ones, the outputs are copied with the same
// types. Otherwise, if strict is false, op.MakeNode is replayed to compute the output types; if strict
// is true, it panics with ErrTypeMismatch.
func (a *Apply) CloneWithNewInputs(inputs []*Variable, strict bool) *Apply {
	if len(inputs) != len(a.Inputs) {
		exceptions.Panicf("%s.CloneWithNewInputs() given %d inputs, wanted %d", a, len(inputs), len(a.Inputs))
	}
	sameTypes := true
	for ii, input := range inputs {
		if !input.Type.Equal(a.Inputs[ii].Type) {
			sameTypes = false
			break
		}
	}
	if sameTypes {
		outputTypes := make([]TensorType, len(a.Outputs))
		for ii, output := range a.Outputs {
			outputTypes[ii] = output.Type
		}
		return NewApply(a.Op, inputs, outputTypes...)
	}
	if strict {
		panic(errors.Wrapf(ErrTypeMismatch, "%s.CloneWithNewInputs(strict=true) given inputs of different types", a))
	}
	return a.Op.MakeNode(inputs...)
}

// String implements fmt.Stringer.
func (a *Apply) String() string {
	parts := make([]string, len(a.Inputs))
	for ii, input := range a.Inputs {
		parts[ii] = input.String()
	}
	return fmt.Sprintf("%s(%s)", a.Op.Name(), strings.Join(parts, ", "))
}

// sharedStorage holds the value of a shared variable.
type sharedStorage struct {
	mu            sync.Mutex
	value         *tensors.Tensor
	defaultUpdate *Variable
}
