// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/symbolic/types"
)

// DebugPrint writes an indented tree of the expressions computing the outputs: one line per
// variable, with its id, type and name. Nodes already printed are referenced by their id only.
//
// Nodes that destroy inputs are marked with "d={output: inputs}", views with "v={output: inputs}".
func DebugPrint(w io.Writer, outputs ...*Variable) error {
	printed := types.MakeSet[*Apply]()
	for _, output := range outputs {
		if err := debugPrintVariable(w, output, "", printed); err != nil {
			return err
		}
	}
	return nil
}

// DebugString returns the DebugPrint of the outputs as a string.
func DebugString(outputs ...*Variable) string {
	var sb strings.Builder
	_ = DebugPrint(&sb, outputs...)
	return sb.String()
}

// DebugPrint writes the DebugPrint of the graph outputs, followed by the execution order.
func (fg *FunctionGraph) DebugPrint(w io.Writer) error {
	if err := DebugPrint(w, fg.Outputs...); err != nil {
		return err
	}
	order, err := fg.Toposort()
	if err != nil {
		_, err = fmt.Fprintf(w, "Invalid execution order: %v\n", err)
		return err
	}
	for ii, node := range order {
		if _, err = fmt.Fprintf(w, "%3d: %s\n", ii, node); err != nil {
			return err
		}
	}
	return nil
}

func formatIOMap(m map[int][]int) string {
	parts := make([]string, 0, len(m))
	for _, outputIdx := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%d: %v", outputIdx, m[outputIdx]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func debugPrintVariable(w io.Writer, v *Variable, indent string, printed types.Set[*Apply]) error {
	var line strings.Builder
	line.WriteString(indent)
	node := v.owner
	if node == nil {
		label := v.name
		if label == "" {
			label = v.String()
		}
		_, _ = fmt.Fprintf(&line, "%s [id %d] <%s>", label, v.id, v.Type)
		line.WriteString("\n")
		_, err := io.WriteString(w, line.String())
		return err
	}
	line.WriteString(node.Op.Name())
	if len(node.Outputs) > 1 {
		_, _ = fmt.Fprintf(&line, ".%d", v.index)
	}
	_, _ = fmt.Fprintf(&line, " [id %d] <%s>", v.id, v.Type)
	if v.name != "" {
		_, _ = fmt.Fprintf(&line, " '%s'", v.name)
	}
	if dm := DestroyMapOf(node.Op); len(dm) > 0 {
		_, _ = fmt.Fprintf(&line, " d=%s", formatIOMap(dm))
	}
	if vm := ViewMapOf(node.Op); len(vm) > 0 {
		_, _ = fmt.Fprintf(&line, " v=%s", formatIOMap(vm))
	}
	alreadyPrinted := printed.Has(node)
	if alreadyPrinted {
		line.WriteString(" ...")
	}
	line.WriteString("\n")
	if _, err := io.WriteString(w, line.String()); err != nil {
		return err
	}
	if alreadyPrinted {
		return nil
	}
	printed.Insert(node)
	for _, input := range node.Inputs {
		if err := debugPrintVariable(w, input, indent+" |", printed); err != nil {
			return err
		}
	}
	return nil
}
