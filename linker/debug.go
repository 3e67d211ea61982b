// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Violations reported by the DebugLinker, wrapped in a *DebugModeError.
var (
	// ErrOutputMismatch is reported when the compiled kernel (or an in-place execution) of a node
	// doesn't match Op.Perform, within the tolerance.
	ErrOutputMismatch = errors.New("output mismatch")

	// ErrNonDeterministic is reported when Op.Perform returns different values for the same inputs.
	ErrNonDeterministic = errors.New("non-deterministic op")

	// ErrInputModified is reported when an input not declared in the destroy map of the op is changed.
	ErrInputModified = errors.New("input modified")

	// ErrUndeclaredAlias is reported when an output shares memory with an input, but the op
	// doesn't declare it in its view or destroy maps.
	ErrUndeclaredAlias = errors.New("undeclared aliasing")

	// ErrInvalidOutput is reported when an output doesn't match the type of its variable.
	ErrInvalidOutput = errors.New("invalid output")
)

// DebugModeError holds all the violations found by a DebugLinker program run.
type DebugModeError struct {
	Violations []error
}

// Error implements error.
func (e *DebugModeError) Error() string {
	parts := make([]string, len(e.Violations))
	for ii, err := range e.Violations {
		parts[ii] = "\t- " + err.Error()
	}
	return fmt.Sprintf("debug mode found %d problem(s):\n%s", len(e.Violations), strings.Join(parts, "\n"))
}

// Unwrap allows errors.Is and errors.As to match the individual violations.
func (e *DebugModeError) Unwrap() []error { return e.Violations }

// DebugLinker links programs that execute each node several times to check the ops:
//
//   - Op.Perform is run twice on copies of the inputs, and must return the same values.
//   - If the op has a compiled kernel, it's run on copies of the inputs and must match Op.Perform
//     within Tolerance.
//   - The node is executed on the actual inputs (with the compiled kernel, if any): the result must
//     match Op.Perform, inputs not in the destroy map must be unchanged, outputs sharing memory with
//     inputs must be declared in the view or destroy maps, and outputs must have the type of their
//     variables.
//
// Violations don't stop the execution: they are all returned at the end of the run in a *DebugModeError.
// Errors returned by the kernels stop it immediately.
type DebugLinker struct {
	// Tolerance for float comparisons. If 0, config.Get().DebugTolerance is used.
	Tolerance float64

	// Callback, if set, is called after each thunk.
	Callback Callback
}

var _ Linker = (*DebugLinker)(nil)

func (d *DebugLinker) Name() string { return "debug" }

// Link implements Linker.
func (d *DebugLinker) Link(fg *graph.FunctionGraph, inputCells []*Cell) (Program, error) {
	l, err := newLayout(context.Background(), d.Name(), fg, inputCells, func(node *graph.Apply) (graph.Kernel, bool, error) {
		return kernelFor(node, true)
	})
	if err != nil {
		return nil, err
	}
	tolerance := d.Tolerance
	if tolerance <= 0 {
		tolerance = config.Get().DebugTolerance
	}
	return &debugProgram{layout: l, tolerance: tolerance, callback: d.Callback}, nil
}

type debugProgram struct {
	*layout
	tolerance float64
	callback  Callback
}

func cloneAll(values []*tensors.Tensor) []*tensors.Tensor {
	clones := make([]*tensors.Tensor, len(values))
	for ii, v := range values {
		if v != nil {
			clones[ii] = v.Clone()
		}
	}
	return clones
}

func (p *debugProgram) Run(ctx context.Context) error {
	p.resetTemporaries()
	var violations error
	for _, thunk := range p.thunks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "program interrupted")
		}
		start := time.Now()
		nodeViolations, err := p.check(thunk)
		if err != nil {
			return err
		}
		violations = multierr.Append(violations, nodeViolations)
		if p.callback != nil {
			p.callback(thunk, time.Since(start))
		}
	}
	if violations != nil {
		return &DebugModeError{Violations: multierr.Errors(violations)}
	}
	return nil
}

// check executes the thunk with all the verifications. It returns the violations found, and an
// error if a kernel failed.
func (p *debugProgram) check(thunk *Thunk) (violations error, err error) {
	node := thunk.Node
	inputs := make([]*tensors.Tensor, len(thunk.Inputs))
	for ii, cell := range thunk.Inputs {
		if cell.Value == nil {
			return nil, errors.Wrapf(graph.ErrMissingInput, "input #%d of %s has no value", ii, node)
		}
		inputs[ii] = cell.Value
	}
	perform := graph.PerformKernel(node)
	reference, err := perform(cloneAll(inputs))
	if err != nil {
		return nil, errors.WithMessagef(err, "while executing %s", node)
	}
	again, err := perform(cloneAll(inputs))
	if err != nil {
		return nil, errors.WithMessagef(err, "while executing %s a second time", node)
	}
	for ii := range reference {
		if !reference[ii].Equal(again[ii]) {
			violations = multierr.Append(violations, errors.Wrapf(ErrNonDeterministic, "%s: output #%d differs between two executions", node, ii))
		}
	}
	if thunk.Compiled {
		outputs, err := thunk.Kernel(cloneAll(inputs))
		if err != nil {
			return nil, errors.WithMessagef(err, "while executing the compiled kernel of %s", node)
		}
		violations = multierr.Append(violations, p.compare(node, "compiled kernel", reference, outputs))
	}

	// Actual execution.
	originals := cloneAll(inputs)
	if err := thunk.runWith(inputs); err != nil {
		return nil, err
	}
	outputs := make([]*tensors.Tensor, len(thunk.Outputs))
	for ii, cell := range thunk.Outputs {
		outputs[ii] = cell.Value
	}
	violations = multierr.Append(violations, p.compare(node, "execution on the actual inputs", reference, outputs))

	destroyed := graph.DestroyedInputs(node.Op)
	for ii, input := range inputs {
		if slices.Contains(destroyed, ii) || sharesWithAny(input, inputs, destroyed) {
			continue
		}
		if !input.Equal(originals[ii]) {
			violations = multierr.Append(violations, errors.Wrapf(ErrInputModified, "%s: input #%d was changed", node, ii))
		}
	}
	viewMap, destroyMap := graph.ViewMapOf(node.Op), graph.DestroyMapOf(node.Op)
	for jj, output := range outputs {
		if !node.Outputs[jj].Type.IsValidValue(output) {
			violations = multierr.Append(violations, errors.Wrapf(ErrInvalidOutput, "%s: output #%d doesn't match type %s",
				node, jj, node.Outputs[jj].Type))
		}
		for ii, input := range inputs {
			if tensors.SharesMemory(output, input) && !slices.Contains(viewMap[jj], ii) && !slices.Contains(destroyMap[jj], ii) {
				violations = multierr.Append(violations, errors.Wrapf(ErrUndeclaredAlias, "%s: output #%d shares memory with input #%d", node, jj, ii))
			}
		}
	}
	return violations, nil
}

// sharesWithAny returns whether value shares memory with any of the inputs at the given indices.
func sharesWithAny(value *tensors.Tensor, inputs []*tensors.Tensor, indices []int) bool {
	for _, idx := range indices {
		if tensors.SharesMemory(value, inputs[idx]) {
			return true
		}
	}
	return false
}

// compare reports outputs that differ from the reference beyond the tolerance.
func (p *debugProgram) compare(node *graph.Apply, what string, reference, outputs []*tensors.Tensor) error {
	if len(outputs) != len(reference) {
		return errors.Wrapf(ErrOutputMismatch, "%s: %s returned %d outputs, expected %d", node, what, len(outputs), len(reference))
	}
	var err error
	for ii := range reference {
		if !reference[ii].InDelta(outputs[ii], p.tolerance) {
			err = multierr.Append(err, errors.Wrapf(ErrOutputMismatch, "%s: output #%d of the %s differs from Perform (tolerance %g)",
				node, ii, what, p.tolerance))
		}
	}
	return err
}
