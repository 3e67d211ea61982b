// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package linker

import (
	"context"
	"sync"
	"time"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/internal/workerspool"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
)

// VMLinker links graphs into programs executed by a small virtual machine.
//
// Execution is sequential by default. With Lazy set, only the values needed are computed: the
// nodes of the branches not taken by a graph.LazyOp (e.g. IfElse) are skipped. Otherwise, with
// Parallelism > 1 (or < 0), independent thunks run concurrently on a pool of workers.
type VMLinker struct {
	// AllowGC releases intermediate values as soon as they are no longer needed. In lazy mode
	// they are released at the end of the run.
	AllowGC bool

	// Lazy enables the lazy evaluation of the inputs of graph.LazyOp nodes. It takes precedence
	// over Parallelism.
	Lazy bool

	// LazyIfNeeded enables Lazy for graphs that contain graph.LazyOp nodes.
	LazyIfNeeded bool

	// UseCompiled selects the kernels compiled by the ops (graph.Compilable) when available.
	UseCompiled bool

	// Parallelism is the maximum number of thunks running concurrently: 0 or 1 runs them
	// sequentially, and negative values use one worker per CPU.
	Parallelism int

	// Callback, if set, is called after each thunk.
	Callback Callback
}

var _ Linker = (*VMLinker)(nil)

func (vm *VMLinker) Name() string {
	switch {
	case vm.Lazy:
		return "vm_lazy"
	case !vm.AllowGC:
		return "vm_nogc"
	}
	return "vm"
}

// Link implements Linker.
func (vm *VMLinker) Link(fg *graph.FunctionGraph, inputCells []*Cell) (Program, error) {
	cfg := *vm
	if cfg.LazyIfNeeded && !cfg.Lazy {
		cfg.Lazy = hasLazyOp(fg)
	}
	l, err := newLayout(context.Background(), cfg.Name(), fg, inputCells, func(node *graph.Apply) (graph.Kernel, bool, error) {
		return kernelFor(node, cfg.UseCompiled)
	})
	if err != nil {
		return nil, err
	}
	p := &vmProgram{layout: l, linker: cfg}
	if !cfg.Lazy && (cfg.Parallelism > 1 || cfg.Parallelism < 0) {
		p.pool = workerspool.New(cfg.Parallelism)
		p.buildDependencies()
	}
	return p, nil
}

func hasLazyOp(fg *graph.FunctionGraph) bool {
	for _, node := range fg.Applies() {
		if _, ok := node.Op.(graph.LazyOp); ok {
			return true
		}
	}
	return false
}

type vmProgram struct {
	*layout
	linker VMLinker

	// Parallel execution: dependents[i] lists the thunks waiting on thunk i, and numDeps[i] is the number
	// of distinct thunks that thunk i waits on (data dependencies and the feature orderings).
	pool       *workerspool.Pool
	dependents [][]int
	numDeps    []int
	numReaders map[*Cell]int

	mu sync.Mutex // Serializes calls to Run.
}

func (p *vmProgram) Run(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.linker.Lazy:
		return p.runLazy(ctx)
	case p.pool != nil:
		return p.runParallel(ctx)
	default:
		return p.runSequential(ctx, p.linker.AllowGC, p.linker.Callback)
	}
}

// buildDependencies computes the dependency counts for parallel execution.
func (p *vmProgram) buildDependencies() {
	index := make(map[*graph.Apply]int, len(p.thunks))
	for ii, thunk := range p.thunks {
		index[thunk.Node] = ii
	}
	orderings := p.fg.Orderings()
	p.dependents = make([][]int, len(p.thunks))
	p.numDeps = make([]int, len(p.thunks))
	p.numReaders = make(map[*Cell]int)
	for ii, thunk := range p.thunks {
		seen := make(map[int]bool)
		addDependency := func(producer *graph.Apply) {
			jj, found := index[producer]
			if !found || seen[jj] {
				return
			}
			seen[jj] = true
			p.dependents[jj] = append(p.dependents[jj], ii)
			p.numDeps[ii]++
		}
		for _, input := range thunk.Node.Inputs {
			if owner := input.Owner(); owner != nil {
				addDependency(owner)
			}
		}
		for _, prereq := range orderings[thunk.Node] {
			addDependency(prereq)
		}
		for _, cell := range p.collectable(thunk) {
			p.numReaders[cell]++
		}
	}
}

// runParallel schedules each thunk on the workers pool as soon as all its dependencies are done.
func (p *vmProgram) runParallel(ctx context.Context) error {
	p.resetTemporaries()
	numThunks := len(p.thunks)
	if numThunks == 0 {
		return nil
	}
	var (
		execMu    sync.Mutex // Protects the variables below.
		remaining = make([]int, numThunks)
		readers   = make(map[*Cell]int, len(p.numReaders))
		completed int
		runErr    error
		ready     = make(chan int, numThunks)
		stopOnce  sync.Once
		running   sync.WaitGroup
		allowGC   = p.linker.AllowGC
		callback  = p.linker.Callback
	)
	stop := func() { stopOnce.Do(func() { close(ready) }) }
	copy(remaining, p.numDeps)
	for cell, count := range p.numReaders {
		readers[cell] = count
	}
	for ii, count := range remaining {
		if count == 0 {
			ready <- ii
		}
	}

	finish := func(idx int, err error) {
		execMu.Lock()
		defer execMu.Unlock()
		if runErr != nil {
			return
		}
		if err != nil {
			runErr = err
			stop()
			return
		}
		thunk := p.thunks[idx]
		if allowGC {
			for _, cell := range p.collectable(thunk) {
				readers[cell]--
				if readers[cell] == 0 {
					cell.Value = nil
				}
			}
			// Outputs never read are released right away.
			for _, cell := range thunk.Outputs {
				if !p.isKept[cell] && readers[cell] == 0 {
					cell.Value = nil
				}
			}
		}
		completed++
		if completed == numThunks {
			stop()
			return
		}
		for _, dep := range p.dependents[idx] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready <- dep
			}
		}
	}

	for idx := range ready {
		if err := ctx.Err(); err != nil {
			finish(idx, errors.Wrap(err, "program interrupted"))
			continue
		}
		running.Add(1)
		p.pool.WaitToStart(func() {
			defer running.Done()
			thunk := p.thunks[idx]
			start := time.Now()
			err := thunk.Run()
			if err == nil && callback != nil {
				callback(thunk, time.Since(start))
			}
			finish(idx, err)
		})
	}

	// Tasks may still be running after an error.
	running.Wait()
	return runErr
}

// runLazy computes the outputs on demand, starting from the graph outputs.
func (p *vmProgram) runLazy(ctx context.Context) error {
	p.resetTemporaries()
	orderings := p.fg.Orderings()
	done := make(map[*graph.Apply]bool, len(p.thunks))
	var compute func(node *graph.Apply) error
	computeVariable := func(v *graph.Variable) error {
		if owner := v.Owner(); owner != nil && p.thunkOf[owner] != nil {
			return compute(owner)
		}
		return nil
	}
	compute = func(node *graph.Apply) error {
		if done[node] {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "program interrupted")
		}
		for _, prereq := range orderings[node] {
			if err := compute(prereq); err != nil {
				return err
			}
		}
		thunk := p.thunkOf[node]
		var (
			err     error
			elapsed time.Duration
		)
		if lazyOp, ok := node.Op.(graph.LazyOp); ok {
			// The time includes the evaluation of the selected inputs.
			start := time.Now()
			err = p.runLazyThunk(thunk, lazyOp, computeVariable)
			elapsed = time.Since(start)
		} else {
			for _, input := range node.Inputs {
				if err = computeVariable(input); err != nil {
					return err
				}
			}
			start := time.Now()
			err = thunk.Run()
			elapsed = time.Since(start)
		}
		if err != nil {
			return err
		}
		done[node] = true
		if p.linker.Callback != nil {
			p.linker.Callback(thunk, elapsed)
		}
		return nil
	}

	var err error
	for _, output := range p.fg.Outputs {
		if err = computeVariable(output); err != nil {
			break
		}
	}
	if p.linker.AllowGC {
		for _, cell := range p.temporaries {
			if !p.isKept[cell] {
				cell.Value = nil
			}
		}
	}
	return err
}

// runLazyThunk evaluates the eager inputs of a lazy node, then only the inputs it selects.
func (p *vmProgram) runLazyThunk(thunk *Thunk, lazyOp graph.LazyOp, computeVariable func(*graph.Variable) error) error {
	node := thunk.Node
	numEager := lazyOp.NumEagerInputs(node)
	inputs := make([]*tensors.Tensor, len(node.Inputs))
	for ii := range numEager {
		if err := computeVariable(node.Inputs[ii]); err != nil {
			return err
		}
		inputs[ii] = thunk.Inputs[ii].Value
		if inputs[ii] == nil {
			return errors.Wrapf(graph.ErrMissingInput, "input #%d of %s has no value", ii, node)
		}
	}
	selected, err := lazyOp.SelectInputs(node, inputs[:numEager])
	if err != nil {
		return errors.WithMessagef(err, "while selecting the inputs of %s", node)
	}
	for _, ii := range selected {
		if err := computeVariable(node.Inputs[ii]); err != nil {
			return err
		}
		inputs[ii] = thunk.Inputs[ii].Value
		if inputs[ii] == nil {
			return errors.Wrapf(graph.ErrMissingInput, "input #%d of %s has no value", ii, node)
		}
	}
	return thunk.runWith(inputs)
}
