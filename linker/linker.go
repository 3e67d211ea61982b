// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package linker turns an optimized graph.FunctionGraph into an executable Program: a list of
// thunks, one per node, bound to storage cells holding the values of the variables.
//
// Three linkers are provided:
//
//   - PerformLinker: interprets every node with Op.Perform, sequentially.
//   - VMLinker: uses the compiled kernels of the ops when available, and supports garbage
//     collection of intermediate values, lazy evaluation of conditionals and parallel execution.
//   - DebugLinker: runs every node in several ways and cross-checks the results and the
//     declared memory aliasing of the ops.
package linker

import (
	"context"
	"fmt"
	"time"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

var tracer = otel.Tracer("symbolic.linker")

// Cell stores the value of one variable of a program.
//
// The cells of the inputs are filled by the caller before Program.Run, and the cells of the
// outputs are read after it.
type Cell struct {
	Value *tensors.Tensor
}

// Thunk executes one node: it reads the values of its input cells, calls its kernel and stores the
// results in its output cells.
type Thunk struct {
	Node            *graph.Apply
	Inputs, Outputs []*Cell
	Kernel          graph.Kernel

	// Compiled is true if Kernel was specialized by the op (graph.Compilable), false if it calls Op.Perform.
	Compiled bool
}

// Run executes the thunk. All its input cells must be filled.
func (t *Thunk) Run() error {
	inputs := make([]*tensors.Tensor, len(t.Inputs))
	for ii, cell := range t.Inputs {
		if cell.Value == nil {
			return errors.Wrapf(graph.ErrMissingInput, "input #%d of %s has no value", ii, t.Node)
		}
		inputs[ii] = cell.Value
	}
	return t.runWith(inputs)
}

// runWith executes the thunk with the given input values, some of which may be nil for lazy ops.
func (t *Thunk) runWith(inputs []*tensors.Tensor) error {
	outputs, err := t.Kernel(inputs)
	if err != nil {
		return errors.WithMessagef(err, "while executing %s", t.Node)
	}
	if len(outputs) != len(t.Outputs) {
		return errors.Wrapf(graph.ErrInconsistency, "%s returned %d outputs, expected %d", t.Node, len(outputs), len(t.Outputs))
	}
	for ii, output := range outputs {
		t.Outputs[ii].Value = output
	}
	return nil
}

// String implements fmt.Stringer.
func (t *Thunk) String() string {
	kind := "perform"
	if t.Compiled {
		kind = "compiled"
	}
	return fmt.Sprintf("%s (%s)", t.Node, kind)
}

// Callback is called after each thunk is executed, with the time it took.
// With parallel execution it may be called concurrently.
type Callback func(thunk *Thunk, elapsed time.Duration)

// Program is a linked graph, ready to be executed.
type Program interface {
	// Run executes the program: the input cells must be filled, and the results are stored in the output cells.
	Run(ctx context.Context) error

	// Inputs returns the cells of the graph inputs, in order.
	Inputs() []*Cell

	// Outputs returns the cells of the graph outputs, in order. Outputs that are inputs or
	// constants share their cells.
	Outputs() []*Cell

	// Thunks returns the thunks in execution order (for sequential execution).
	Thunks() []*Thunk
}

// Linker creates Programs from graphs.
type Linker interface {
	// Name of the linker, e.g. "vm".
	Name() string

	// Link creates a Program computing the graph. inputCells, if not nil, are the cells to use
	// for the graph inputs (nil entries are created), so the caller can share storage between
	// programs. The graph must not be changed afterwards.
	Link(fg *graph.FunctionGraph, inputCells []*Cell) (Program, error)
}

// kernelFor returns the kernel to execute the node: the compiled one if useCompiled and the op
// provides one, or Op.Perform.
func kernelFor(node *graph.Apply, useCompiled bool) (kernel graph.Kernel, compiled bool, err error) {
	if useCompiled {
		if c, ok := node.Op.(graph.Compilable); ok {
			kernel, err = c.Compile(node)
			if err == nil {
				return kernel, true, nil
			}
			if !errors.Is(err, graph.ErrNotCompilable) {
				return nil, false, errors.WithMessagef(err, "compiling %s", node)
			}
			klog.V(2).Infof("linker: no compiled kernel for %s, using Perform", node)
		}
	}
	return graph.PerformKernel(node), false, nil
}

// layout holds the thunks and cells of a linked graph, shared by the Program implementations.
type layout struct {
	fg              *graph.FunctionGraph
	thunks          []*Thunk
	thunkOf         map[*graph.Apply]*Thunk
	cells           map[*graph.Variable]*Cell
	inputs, outputs []*Cell

	// temporaries are the cells of values computed by the thunks, cleared before each run.
	temporaries []*Cell

	// isKept marks cells that are never garbage collected: inputs, constants and outputs.
	isKept map[*Cell]bool
}

// newLayout sorts the nodes, creates the cells and the thunks, using makeKernel to choose the
// kernel of each node.
func newLayout(ctx context.Context, linkerName string, fg *graph.FunctionGraph, inputCells []*Cell,
	makeKernel func(node *graph.Apply) (graph.Kernel, bool, error)) (l *layout, err error) {
	_, span := tracer.Start(ctx, "link", trace.WithAttributes(
		attribute.String("linker", linkerName),
		attribute.Int("applies", fg.NumApplies())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	if inputCells != nil && len(inputCells) != len(fg.Inputs) {
		return nil, errors.Errorf("%s linker: %d input cells given for %d graph inputs", linkerName, len(inputCells), len(fg.Inputs))
	}
	order, err := fg.Toposort()
	if err != nil {
		return nil, err
	}
	l = &layout{
		fg:      fg,
		thunkOf: make(map[*graph.Apply]*Thunk, len(order)),
		cells:   make(map[*graph.Variable]*Cell),
		isKept:  make(map[*Cell]bool),
	}
	for ii, input := range fg.Inputs {
		cell := &Cell{}
		if inputCells != nil && inputCells[ii] != nil {
			cell = inputCells[ii]
		}
		l.cells[input] = cell
		l.inputs = append(l.inputs, cell)
		l.isKept[cell] = true
	}
	cellOf := func(v *graph.Variable) (*Cell, error) {
		if cell, found := l.cells[v]; found {
			return cell, nil
		}
		if !v.IsConstant() {
			return nil, errors.Wrapf(graph.ErrMissingInput, "%s linker: %s is neither an input nor computed by the graph", linkerName, v)
		}
		cell := &Cell{Value: v.ConstantValue()}
		l.cells[v] = cell
		l.isKept[cell] = true
		return cell, nil
	}
	for _, node := range order {
		thunk := &Thunk{Node: node}
		for _, input := range node.Inputs {
			cell, err := cellOf(input)
			if err != nil {
				return nil, err
			}
			thunk.Inputs = append(thunk.Inputs, cell)
		}
		for _, output := range node.Outputs {
			cell := &Cell{}
			l.cells[output] = cell
			l.temporaries = append(l.temporaries, cell)
			thunk.Outputs = append(thunk.Outputs, cell)
		}
		thunk.Kernel, thunk.Compiled, err = makeKernel(node)
		if err != nil {
			return nil, err
		}
		l.thunks = append(l.thunks, thunk)
		l.thunkOf[node] = thunk
	}
	for _, output := range fg.Outputs {
		cell, err := cellOf(output)
		if err != nil {
			return nil, err
		}
		l.outputs = append(l.outputs, cell)
		l.isKept[cell] = true
	}
	klog.V(1).Infof("%s linker: %d thunks, %d cells", linkerName, len(l.thunks), len(l.cells))
	return l, nil
}

func (l *layout) Inputs() []*Cell   { return l.inputs }
func (l *layout) Outputs() []*Cell  { return l.outputs }
func (l *layout) Thunks() []*Thunk  { return l.thunks }
func (l *layout) resetTemporaries() { clearCells(l.temporaries) }

func clearCells(cells []*Cell) {
	for _, cell := range cells {
		cell.Value = nil
	}
}

// collectable returns the distinct input cells of the thunk that may be garbage collected.
func (l *layout) collectable(thunk *Thunk) []*Cell {
	var cells []*Cell
	for _, cell := range thunk.Inputs {
		if l.isKept[cell] {
			continue
		}
		duplicate := false
		for _, c := range cells {
			if c == cell {
				duplicate = true
				break
			}
		}
		if !duplicate {
			cells = append(cells, cell)
		}
	}
	return cells
}

// lastUses returns, for each thunk index, the cells that are no longer needed after it runs in
// sequential order. Outputs that are never read are released right after they are computed.
func (l *layout) lastUses() [][]*Cell {
	lastReader := make(map[*Cell]int)
	for ii, thunk := range l.thunks {
		for _, cell := range thunk.Outputs {
			lastReader[cell] = ii
		}
		for _, cell := range l.collectable(thunk) {
			lastReader[cell] = ii
		}
	}
	uses := make([][]*Cell, len(l.thunks))
	for _, cell := range l.temporaries {
		if l.isKept[cell] {
			continue
		}
		idx := lastReader[cell]
		uses[idx] = append(uses[idx], cell)
	}
	return uses
}

// runSequential runs the thunks in order.
func (l *layout) runSequential(ctx context.Context, allowGC bool, callback Callback) error {
	l.resetTemporaries()
	var uses [][]*Cell
	if allowGC {
		uses = l.lastUses()
	}
	for ii, thunk := range l.thunks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "program interrupted")
		}
		start := time.Now()
		if err := thunk.Run(); err != nil {
			return err
		}
		if callback != nil {
			callback(thunk, time.Since(start))
		}
		if allowGC {
			clearCells(uses[ii])
		}
	}
	return nil
}

// PerformLinker links graphs into programs that interpret every node with Op.Perform, in order.
type PerformLinker struct {
	// AllowGC releases intermediate values as soon as they are no longer needed.
	AllowGC bool

	// Callback, if set, is called after each thunk.
	Callback Callback
}

var _ Linker = (*PerformLinker)(nil)

func (p *PerformLinker) Name() string { return "perform" }

// Link implements Linker.
func (p *PerformLinker) Link(fg *graph.FunctionGraph, inputCells []*Cell) (Program, error) {
	l, err := newLayout(context.Background(), p.Name(), fg, inputCells, func(node *graph.Apply) (graph.Kernel, bool, error) {
		return kernelFor(node, false)
	})
	if err != nil {
		return nil, err
	}
	return &performProgram{layout: l, linker: *p}, nil
}

type performProgram struct {
	*layout
	linker PerformLinker
}

func (p *performProgram) Run(ctx context.Context) error {
	return p.runSequential(ctx, p.linker.AllowGC, p.linker.Callback)
}
