// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/symbolic/config"
	"github.com/gomlx/symbolic/function"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/internal/commandline"
	"github.com/gomlx/symbolic/mode"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/optimizer"
	"github.com/gomlx/symbolic/types/xslices"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Prints the effective configuration, after the configuration file and $" + config.SYMBOLIC_FLAGS,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			return err
		},
	}
}

func newModesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "Lists the registered compilation modes, with their linker and rewrites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows [][]string
			for _, name := range mode.Names() {
				m, err := mode.Get(name)
				if err != nil {
					return err
				}
				passes := strings.ReplaceAll(m.Optimizer().Name(), "+", " ")
				rows = append(rows, []string{name, m.Linker.Name(), fmt.Sprint(m.Profile), passes})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), commandline.Table([]string{"Mode", "Linker", "Profile", "Passes"}, rows))
			if err != nil {
				return err
			}
			var entries [][]string
			for _, entry := range optimizer.Default().Entries() {
				entries = append(entries, []string{entry.Name, fmt.Sprint(entry.Position), strings.Join(entry.Tags, ", ")})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), commandline.Table([]string{"Pass", "Position", "Tags"}, entries, 1))
			return err
		},
	}
}

// demoExpression builds the cost of a logistic regression for inputs x and labels y, with
// parameters w and b.
func demoExpression() (inputs []*graph.Variable, cost *graph.Variable) {
	x := graph.NewVariable(graph.Matrix(dtypes.Float64), "x")
	y := graph.NewVariable(graph.Vector(dtypes.Float64), "y")
	w := graph.NewVariable(graph.Vector(dtypes.Float64), "w")
	b := graph.NewVariable(graph.Scalar(dtypes.Float64), "b")
	p := ops.Sigmoid(ops.Add(ops.Dot(x, w), b))
	one := ops.ConstLike(y, 1)
	cost = ops.Mean(ops.Neg(ops.Add(
		ops.Mul(y, ops.Log(p)),
		ops.Mul(ops.Sub(one, y), ops.Log(ops.Sub(one, p))))))
	return []*graph.Variable{x, y, w, b}, cost
}

func newDebugPrintCmd() *cobra.Command {
	var modeName string
	var before bool
	cmd := &cobra.Command{
		Use:   "debugprint",
		Short: "Compiles a demo expression (logistic regression cost) and prints the optimized graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			inputs, cost := demoExpression()
			if before {
				_, _ = fmt.Fprintln(out, "Before optimization:")
				if err := graph.DebugPrint(out, cost); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out)
			}
			builder := function.Build(xslices.Map(inputs, func(v *graph.Variable) any { return v })...).Outputs(cost).Name("cost")
			if modeName != "" {
				builder = builder.ModeName(modeName)
			}
			fn, err := builder.Done()
			if err != nil {
				return errors.WithMessage(err, "compiling demo expression")
			}
			_, _ = fmt.Fprintf(out, "%s:\n", fn)
			return fn.Graph().DebugPrint(out)
		},
	}
	cmd.Flags().StringVar(&modeName, "mode", "", "Compilation mode, defaults to the configured one. See `symc modes`.")
	cmd.Flags().BoolVar(&before, "before", false, "Also print the graph before optimization.")
	return cmd
}
