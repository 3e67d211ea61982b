// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package function compiles symbolic graphs into callable functions.
//
// A Function is built from its inputs, outputs, updates of shared variables and givens
// (substitutions), and is compiled with a mode.Mode: the graph is optimized by the mode's
// rewrites and linked by the mode's linker. Then it can be called any number of times:
//
//	x := graph.NewVariable(graph.Vector(dtypes.Float64), "x")
//	w := graph.NewShared(tensors.FromValue([]float64{1, 2}), "w")
//	fn := function.Build(x).
//		Outputs(ops.Sum(ops.Mul(x, w))).
//		Updates(function.Update{Shared: w, Expr: ops.Add(w, x)}).
//		MustDone()
//	outputs, err := fn.Call([]float64{3, 4})
package function

import (
	"fmt"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/mode"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

var (
	// ErrUpdateConflict is returned when two updates target the same shared variable.
	ErrUpdateConflict = errors.New("conflicting updates")

	// ErrUpdateTarget is returned when the target of an update is not a shared variable.
	ErrUpdateTarget = errors.New("update target is not a shared variable")

	// ErrUpdateType is returned when the update expression doesn't fit the type of the shared variable.
	ErrUpdateType = errors.New("update type mismatch")

	// ErrGivenType is returned when a given replacement doesn't have the type of the variable it replaces.
	ErrGivenType = errors.New("given type mismatch")

	// ErrDuplicateInput is returned when a variable is given more than once as input.
	ErrDuplicateInput = errors.New("duplicate input")

	// ErrConstantInput is returned when a constant or a shared variable is given as input, or an
	// input is computed by some Apply node.
	ErrConstantInput = errors.New("input is not a free variable")

	// ErrUnusedInput is returned when an input is not used to compute the outputs or updates, and
	// the policy is UnusedInputRaise.
	ErrUnusedInput = errors.New("unused input")

	// ErrInplaceNotAccepted is returned when the graph given has in-place operations and
	// Builder.AcceptInplace was not called.
	ErrInplaceNotAccepted = errors.New("graph has in-place operations")

	// ErrInputFilter is returned when a call argument can't be converted to the type of its input.
	ErrInputFilter = errors.New("invalid argument")

	// ErrNumArgs is returned when a function is called with the wrong number of arguments.
	ErrNumArgs = errors.New("wrong number of arguments")
)

// Param configures an input of a Function.
type Param struct {
	// Variable is the input variable: a free root variable (not constant nor shared).
	Variable *graph.Variable

	// Name of the input, used by Function.CallNamed. Defaults to the name of the variable.
	Name string

	// Default value used when the argument is not given. Inputs with a default must come after the
	// ones without it for positional calls.
	Default *tensors.Tensor

	// Mutable allows the compiled function to overwrite the argument value with in-place
	// operations. Unless Borrow is also set, the argument is copied before each call.
	Mutable bool

	// Borrow allows the function to use the argument directly, even if it is Mutable.
	Borrow bool

	// Strict requires the arguments to have exactly the dtype of the variable.
	Strict bool

	// AllowDowncast allows conversions of the arguments that lose precision.
	AllowDowncast bool
}

func (p *Param) name() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Variable.Name()
}

// Out configures an output of a Function.
type Out struct {
	Variable *graph.Variable

	// Borrow allows the output to share memory with inputs, shared variables, constants or
	// other outputs. Otherwise, a copy is made when needed.
	Borrow bool
}

// Update sets the value of a shared variable, after each call, to the value of an expression.
type Update struct {
	Shared, Expr *graph.Variable
}

// Given replaces a variable by another one in the graph.
type Given struct {
	Var, Replacement *graph.Variable
}

// UnusedInputPolicy defines what to do with inputs not used by the outputs or updates.
type UnusedInputPolicy int

const (
	// UnusedInputRaise makes Builder.Done return ErrUnusedInput.
	UnusedInputRaise UnusedInputPolicy = iota

	// UnusedInputWarn logs a warning.
	UnusedInputWarn

	// UnusedInputIgnore accepts unused inputs silently.
	UnusedInputIgnore
)

// String implements fmt.Stringer.
func (p UnusedInputPolicy) String() string {
	switch p {
	case UnusedInputRaise:
		return "raise"
	case UnusedInputWarn:
		return "warn"
	case UnusedInputIgnore:
		return "ignore"
	}
	return fmt.Sprintf("UnusedInputPolicy(%d)", int(p))
}

// Builder configures the compilation of a Function. Create it with Build, and finish with Done.
//
// Errors in the configuration are reported by Done.
type Builder struct {
	params        []*Param
	outputs       []*Out
	updates       []Update
	givens        []Given
	mode          *mode.Mode
	modeName      string
	acceptInplace bool
	name          string
	unusedPolicy  UnusedInputPolicy

	noDefaultUpdates    bool
	noDefaultUpdatesFor []*graph.Variable

	err error
}

// Build starts the configuration of a Function with the given inputs: each is either a
// *graph.Variable or a *Param.
func Build(inputs ...any) *Builder {
	b := &Builder{name: "function"}
	for ii, input := range inputs {
		switch in := input.(type) {
		case *graph.Variable:
			b.params = append(b.params, &Param{Variable: in})
		case *Param:
			if in == nil || in.Variable == nil {
				b.setErr(errors.Errorf("input #%d: Param without a Variable", ii))
				continue
			}
			p := *in
			b.params = append(b.params, &p)
		case Param:
			if in.Variable == nil {
				b.setErr(errors.Errorf("input #%d: Param without a Variable", ii))
				continue
			}
			b.params = append(b.params, &in)
		default:
			b.setErr(errors.Errorf("input #%d: expected *graph.Variable or *function.Param, got %T", ii, input))
		}
	}
	return b
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Outputs of the function: each is either a *graph.Variable or an *Out.
func (b *Builder) Outputs(outputs ...any) *Builder {
	for ii, output := range outputs {
		switch out := output.(type) {
		case *graph.Variable:
			b.outputs = append(b.outputs, &Out{Variable: out})
		case *Out:
			if out == nil || out.Variable == nil {
				b.setErr(errors.Errorf("output #%d: Out without a Variable", ii))
				continue
			}
			o := *out
			b.outputs = append(b.outputs, &o)
		case Out:
			if out.Variable == nil {
				b.setErr(errors.Errorf("output #%d: Out without a Variable", ii))
				continue
			}
			b.outputs = append(b.outputs, &out)
		default:
			b.setErr(errors.Errorf("output #%d: expected *graph.Variable or *function.Out, got %T", ii, output))
		}
	}
	return b
}

// Updates of shared variables, applied after each call. They override the default updates.
func (b *Builder) Updates(updates ...Update) *Builder {
	b.updates = append(b.updates, updates...)
	return b
}

// Givens are substitutions applied to the graph before compilation. They are applied
// simultaneously: a replacement is never itself substituted.
func (b *Builder) Givens(givens ...Given) *Builder {
	b.givens = append(b.givens, givens...)
	return b
}

// Mode used to compile the function. If neither Mode nor ModeName is set, mode.Default() is used.
func (b *Builder) Mode(m *mode.Mode) *Builder {
	b.mode = m
	return b
}

// ModeName selects the mode by its registered name, see mode.Get.
func (b *Builder) ModeName(name string) *Builder {
	b.modeName = name
	return b
}

// AcceptInplace accepts graphs given with in-place operations already.
func (b *Builder) AcceptInplace() *Builder {
	b.acceptInplace = true
	return b
}

// Name of the function, used in logs and profiles.
func (b *Builder) Name(name string) *Builder {
	b.name = name
	return b
}

// NoDefaultUpdates disables the default updates of the given shared variables, or of all of
// them if none is given.
func (b *Builder) NoDefaultUpdates(vars ...*graph.Variable) *Builder {
	if len(vars) == 0 {
		b.noDefaultUpdates = true
	}
	b.noDefaultUpdatesFor = append(b.noDefaultUpdatesFor, vars...)
	return b
}

// OnUnusedInput sets the policy for inputs not used by the outputs or updates. Default is UnusedInputRaise.
func (b *Builder) OnUnusedInput(policy UnusedInputPolicy) *Builder {
	b.unusedPolicy = policy
	return b
}

// MustDone is like Done, but panics on error.
func (b *Builder) MustDone() *Function {
	fn, err := b.Done()
	if err != nil {
		panic(err)
	}
	return fn
}
