// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package function

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/linker"
	"github.com/gomlx/symbolic/mode"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/optimizer"
	"github.com/gomlx/symbolic/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

var tracer = otel.Tracer("symbolic.function")

// Function is a compiled function: call it with Call.
//
// It's safe for concurrent use, but calls are serialized.
type Function struct {
	id      uuid.UUID
	name    string
	mode    *mode.Mode
	profile *mode.Profile

	params     []*Param
	paramIndex map[string]int
	numOutputs int

	// updateTargets are the shared variables updated after each call, in the order of the
	// graph outputs after the function outputs.
	updateTargets []*graph.Variable

	// sharedInputs are the shared variables read by the graph, in the order of the graph inputs
	// after the params.
	sharedInputs []*graph.Variable

	fg      *graph.FunctionGraph
	program linker.Program

	mu sync.Mutex
}

// ID uniquely identifies the compiled function.
func (fn *Function) ID() uuid.UUID { return fn.id }

// Name of the function.
func (fn *Function) Name() string { return fn.name }

// Mode used to compile the function.
func (fn *Function) Mode() *mode.Mode { return fn.mode }

// Profile collected by the function, or nil if the mode doesn't profile.
func (fn *Function) Profile() *mode.Profile { return fn.profile }

// Graph returns the optimized graph. It must not be changed.
func (fn *Function) Graph() *graph.FunctionGraph { return fn.fg }

// NumOutputs returns the number of outputs returned by Call.
func (fn *Function) NumOutputs() int { return fn.numOutputs }

// Params returns copies of the configuration of the inputs.
func (fn *Function) Params() []Param {
	params := make([]Param, len(fn.params))
	for ii, p := range fn.params {
		params[ii] = *p
	}
	return params
}

// String implements fmt.Stringer.
func (fn *Function) String() string {
	return fmt.Sprintf("Function{%q, id=%s, %d inputs, %d outputs, %d updates, %d nodes, mode=%s}",
		fn.name, fn.id, len(fn.params), fn.numOutputs, len(fn.updateTargets), fn.fg.NumApplies(), fn.mode.Name)
}

// compatibleType returns whether values of type from can be stored in variables of type to:
// same dtype and rank, and to's broadcastable axes are also broadcastable in from.
func compatibleType(to, from graph.TensorType) bool {
	if to.DType != from.DType || to.Rank() != from.Rank() {
		return false
	}
	for axis, broadcastable := range to.Broadcastable {
		if broadcastable && !from.Broadcastable[axis] {
			return false
		}
	}
	return true
}

func (b *Builder) resolveMode() (*mode.Mode, error) {
	switch {
	case b.mode != nil:
		return b.mode, nil
	case b.modeName != "":
		return mode.Get(b.modeName)
	}
	return mode.Default()
}

// Done compiles the function.
func (b *Builder) Done() (fn *Function, err error) {
	if b.err != nil {
		return nil, b.err
	}
	m, err := b.resolveMode()
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(context.Background(), "function.compile", trace.WithAttributes(
		attribute.String("function", b.name),
		attribute.String("mode", m.Name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()
	// Errors while building new nodes are raised as panics.
	if exception := exceptions.TryCatch[error](func() { fn, err = b.compile(ctx, m) }); exception != nil {
		return nil, errors.WithMessagef(exception, "compiling %q", b.name)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling %q", b.name)
	}
	return fn, nil
}

func (b *Builder) compile(ctx context.Context, m *mode.Mode) (*Function, error) {
	if len(b.outputs) == 0 && len(b.updates) == 0 {
		klog.V(1).Infof("function %q has no outputs nor explicit updates", b.name)
	}
	paramsSet := types.MakeSet[*graph.Variable]()
	paramIndex := make(map[string]int, len(b.params))
	for ii, p := range b.params {
		v := p.Variable
		if paramsSet.Has(v) {
			return nil, errors.Wrapf(ErrDuplicateInput, "input #%d %s", ii, v)
		}
		if v.IsConstant() || v.IsShared() || v.Owner() != nil {
			return nil, errors.Wrapf(ErrConstantInput, "input #%d %s (%s)", ii, v, v.Kind())
		}
		paramsSet.Insert(v)
		if name := p.name(); name != "" {
			if _, found := paramIndex[name]; found {
				return nil, errors.Wrapf(ErrDuplicateInput, "input name %q", name)
			}
			paramIndex[name] = ii
		}
	}

	replace := make(map[*graph.Variable]*graph.Variable, len(b.givens))
	for ii, given := range b.givens {
		if given.Var == nil || given.Replacement == nil {
			return nil, errors.Errorf("given #%d has a nil variable", ii)
		}
		if _, found := replace[given.Var]; found {
			return nil, errors.Errorf("given #%d: variable %s is replaced more than once", ii, given.Var)
		}
		if !compatibleType(given.Var.Type, given.Replacement.Type) {
			return nil, errors.Wrapf(ErrGivenType, "given #%d: %s of type %s can't be replaced by %s of type %s",
				ii, given.Var, given.Var.Type, given.Replacement, given.Replacement.Type)
		}
		replace[given.Var] = given.Replacement
	}

	exprs := make([]*graph.Variable, 0, len(b.outputs)+len(b.updates))
	borrow := make([]bool, 0, cap(exprs))
	for _, out := range b.outputs {
		exprs = append(exprs, out.Variable)
		borrow = append(borrow, out.Borrow)
	}
	var targets []*graph.Variable
	updated := types.MakeSet[*graph.Variable]()
	for ii, update := range b.updates {
		if update.Shared == nil || update.Expr == nil {
			return nil, errors.Errorf("update #%d has a nil variable", ii)
		}
		if !update.Shared.IsShared() {
			return nil, errors.Wrapf(ErrUpdateTarget, "update #%d: %s", ii, update.Shared)
		}
		if updated.Has(update.Shared) {
			return nil, errors.Wrapf(ErrUpdateConflict, "shared variable %s updated more than once", update.Shared)
		}
		if !compatibleType(update.Shared.Type, update.Expr.Type) {
			return nil, errors.Wrapf(ErrUpdateType, "shared variable %s of type %s can't be updated with %s of type %s",
				update.Shared, update.Shared.Type, update.Expr, update.Expr.Type)
		}
		updated.Insert(update.Shared)
		targets = append(targets, update.Shared)
		exprs = append(exprs, update.Expr)
		borrow = append(borrow, false)
	}
	exprs = graph.CloneReplace(exprs, replace)

	// Default updates, including the ones of shared variables used by other default updates.
	disabled := types.SetWith(b.noDefaultUpdatesFor...)
	for {
		added := false
		for _, root := range graph.Inputs(exprs) {
			if !root.IsShared() || updated.Has(root) || b.noDefaultUpdates || disabled.Has(root) {
				continue
			}
			defaultUpdate := root.DefaultUpdate()
			if defaultUpdate == nil {
				continue
			}
			if !compatibleType(root.Type, defaultUpdate.Type) {
				return nil, errors.Wrapf(ErrUpdateType, "default update of %s has type %s", root, defaultUpdate.Type)
			}
			updated.Insert(root)
			targets = append(targets, root)
			exprs = append(exprs, graph.CloneReplace([]*graph.Variable{defaultUpdate}, replace)[0])
			borrow = append(borrow, false)
			added = true
		}
		if !added {
			break
		}
	}

	used := types.SetWith(graph.Ancestors(exprs)...)
	for ii, p := range b.params {
		if used.Has(p.Variable) {
			continue
		}
		switch b.unusedPolicy {
		case UnusedInputRaise:
			return nil, errors.Wrapf(ErrUnusedInput, "input #%d %s is not used to compute the outputs or updates", ii, p.Variable)
		case UnusedInputWarn:
			klog.Warningf("function %q: input #%d %s is not used to compute the outputs or updates", b.name, ii, p.Variable)
		}
	}
	if !b.acceptInplace {
		for v := range used {
			if v.Owner() != nil && len(graph.DestroyedInputs(v.Owner().Op)) > 0 {
				return nil, errors.Wrapf(ErrInplaceNotAccepted, "node %s", v.Owner())
			}
		}
	}

	inputs := make([]*graph.Variable, 0, len(b.params))
	var protected []*graph.Variable
	for _, p := range b.params {
		inputs = append(inputs, p.Variable)
		if !p.Mutable {
			protected = append(protected, p.Variable)
		}
	}
	var sharedInputs []*graph.Variable
	for _, root := range graph.Inputs(exprs) {
		if root.IsShared() && !paramsSet.Has(root) {
			sharedInputs = append(sharedInputs, root)
		}
	}
	inputs = append(inputs, sharedInputs...)
	protected = append(protected, sharedInputs...)

	stats := optimizer.NewStats()
	fg, err := graph.NewFunctionGraph(inputs, exprs, graph.NewDestroyHandler(protected...), stats)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := optimizer.Optimize(ctx, fg, m.Optimizer()); err != nil {
		return nil, err
	}
	if err := protectOutputs(fg, borrow); err != nil {
		return nil, err
	}
	optimizeTime := time.Since(start)

	var profile *mode.Profile
	l := m.Linker
	if m.Profile {
		profile = mode.NewProfile(b.name)
		l = m.LinkerWithCallback(profile.Callback())
	}
	start = time.Now()
	program, err := l.Link(fg, nil)
	if err != nil {
		return nil, err
	}
	linkTime := time.Since(start)
	if profile != nil {
		profile.RecordCompile(optimizeTime, linkTime, stats)
	}

	fn := &Function{
		id:            uuid.New(),
		name:          b.name,
		mode:          m,
		profile:       profile,
		params:        b.params,
		paramIndex:    paramIndex,
		numOutputs:    len(b.outputs),
		updateTargets: targets,
		sharedInputs:  sharedInputs,
		fg:            fg,
		program:       program,
	}
	klog.V(1).Infof("compiled %s in %s (optimization %s, linking %s): %s", fn, optimizeTime+linkTime, optimizeTime, linkTime, stats)
	return fn, nil
}

// protectOutputs replaces the outputs that share memory with inputs, shared variables, constants
// or previous outputs by copies, except the borrowed ones.
func protectOutputs(fg *graph.FunctionGraph, borrow []bool) error {
	resume := graph.SuspendTestValues()
	defer resume()
	seen := types.MakeSet[*graph.Variable]()
	for ii := range fg.Outputs {
		output := fg.Outputs[ii]
		roots := graph.AliasRoots(fg, output)
		aliased := false
		for _, root := range roots {
			if fg.IsInput(root) || root.IsConstant() || root.IsShared() || seen.Has(root) {
				aliased = true
				break
			}
		}
		if aliased && !borrow[ii] {
			if err := fg.ChangeInput(nil, ii, ops.DeepCopy(output), "copy of aliased output"); err != nil {
				return err
			}
			continue
		}
		seen.Insert(roots...)
	}
	return fg.Validate()
}
