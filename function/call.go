// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package function

import (
	"context"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

// Call the function with the given arguments, one per input, in order. Each argument is either a
// *tensors.Tensor or a Go value accepted by tensors.FromAnyValue. Trailing inputs with a default
// value can be omitted.
//
// It returns the values of the outputs. The updates of the shared variables are applied after all
// of them are computed, and only if the call succeeds.
func (fn *Function) Call(args ...any) ([]*tensors.Tensor, error) {
	return fn.CallContext(context.Background(), args...)
}

// MustCall is like Call, but panics on error.
func (fn *Function) MustCall(args ...any) []*tensors.Tensor {
	outputs, err := fn.Call(args...)
	if err != nil {
		panic(err)
	}
	return outputs
}

// CallNamed calls the function with the arguments given by input name (see Param.Name).
// Inputs not given use their default value.
func (fn *Function) CallNamed(args map[string]any) ([]*tensors.Tensor, error) {
	values := make([]any, len(fn.params))
	for name, value := range args {
		idx, found := fn.paramIndex[name]
		if !found {
			return nil, errors.Wrapf(ErrInputFilter, "function %q has no input named %q", fn.name, name)
		}
		values[idx] = value
	}
	return fn.call(context.Background(), values)
}

// CallContext is like Call, but the execution is interrupted if ctx is canceled, in which case
// no update is applied.
func (fn *Function) CallContext(ctx context.Context, args ...any) ([]*tensors.Tensor, error) {
	if len(args) > len(fn.params) {
		return nil, errors.Wrapf(ErrNumArgs, "function %q takes %d arguments, %d given", fn.name, len(fn.params), len(args))
	}
	values := make([]any, len(fn.params))
	copy(values, args)
	return fn.call(ctx, values)
}

// argument converts the value given for the input ii. A nil value takes the default.
func (fn *Function) argument(ii int, value any) (*tensors.Tensor, error) {
	p := fn.params[ii]
	if value == nil {
		if p.Default == nil {
			return nil, errors.Wrapf(ErrNumArgs, "function %q: no value for input #%d %q", fn.name, ii, p.name())
		}
		value = p.Default
	}
	var t *tensors.Tensor
	if exception := exceptions.TryCatch[error](func() { t = tensors.FromAnyValue(value) }); exception != nil {
		return nil, errors.Wrapf(ErrInputFilter, "function %q, input #%d %q: %v", fn.name, ii, p.name(), exception)
	}
	filtered, err := p.Variable.Type.Filter(t, p.Strict, p.AllowDowncast)
	if err != nil {
		return nil, errors.Wrapf(ErrInputFilter, "function %q, input #%d %q: %v", fn.name, ii, p.name(), err)
	}
	if p.Mutable && !p.Borrow && filtered == t {
		filtered = t.Clone()
	}
	return filtered, nil
}

func (fn *Function) call(ctx context.Context, args []any) (outputs []*tensors.Tensor, err error) {
	inputs := make([]*tensors.Tensor, len(args))
	for ii, arg := range args {
		inputs[ii], err = fn.argument(ii, arg)
		if err != nil {
			return nil, err
		}
	}

	fn.mu.Lock()
	defer fn.mu.Unlock()
	ctx, span := tracer.Start(ctx, "function.call", trace.WithAttributes(attribute.String("function", fn.name)))
	defer span.End()
	start := time.Now()

	cells := fn.program.Inputs()
	for ii, input := range inputs {
		cells[ii].Value = input
	}
	for ii, shared := range fn.sharedInputs {
		cells[len(inputs)+ii].Value = shared.GetValue(true)
	}
	defer func() {
		for _, cell := range cells {
			cell.Value = nil
		}
	}()
	if err = fn.program.Run(ctx); err != nil {
		span.RecordError(err)
		return nil, errors.WithMessagef(err, "calling function %q", fn.name)
	}

	results := fn.program.Outputs()
	outputs = make([]*tensors.Tensor, fn.numOutputs)
	for ii := range outputs {
		outputs[ii] = results[ii].Value
	}
	// All updates are validated before any shared variable is written.
	updates := make([]*tensors.Tensor, len(fn.updateTargets))
	for ii, target := range fn.updateTargets {
		updates[ii], err = target.Type.Filter(results[fn.numOutputs+ii].Value, false, false)
		if err != nil {
			return nil, errors.WithMessagef(err, "function %q: invalid update of %s", fn.name, target)
		}
	}
	for ii, target := range fn.updateTargets {
		if err = target.SetValue(updates[ii], true); err != nil {
			return nil, errors.WithMessagef(err, "function %q: updating %s", fn.name, target)
		}
	}
	elapsed := time.Since(start)
	if fn.profile != nil {
		fn.profile.RecordCall(elapsed)
	}
	if klog.V(2).Enabled() {
		klog.Infof("function %q called in %s", fn.name, elapsed)
	}
	return outputs, nil
}
