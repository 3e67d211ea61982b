// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/symbolic/autodiff"
	"github.com/gomlx/symbolic/function"
	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/internal/commandline"
	"github.com/gomlx/symbolic/ops"
	"github.com/gomlx/symbolic/sharedstore"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type trainFlags struct {
	mode         string
	steps        int
	examples     int
	learningRate float64
	seed         uint64
	load, save   string
	quiet        bool
}

func newTrainCmd() *cobra.Command {
	flags := &trainFlags{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Trains a logistic regression on synthetic data, and prints the profile of the training function",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return train(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.mode, "mode", "PROFILE_MODE", "Compilation mode of the training function. See `symc modes`.")
	cmd.Flags().IntVar(&flags.steps, "steps", 200, "Number of training steps.")
	cmd.Flags().IntVar(&flags.examples, "examples", 256, "Number of synthetic examples.")
	cmd.Flags().Float64Var(&flags.learningRate, "learning_rate", 0.5, "Learning rate of the gradient descent.")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 42, "Seed of the synthetic data generation.")
	cmd.Flags().StringVar(&flags.load, "load", "", "If set, load the initial weights from this file.")
	cmd.Flags().StringVar(&flags.save, "save", "", "If set, save the trained weights to this file.")
	cmd.Flags().BoolVar(&flags.quiet, "quiet", false, "Don't display the progress bar.")
	return cmd
}

// syntheticData generates normally distributed points, labeled by the side of a fixed
// hyperplane they fall on. Values are of the configured FloatX dtype.
func syntheticData(numExamples int, seed uint64) (x, y *tensors.Tensor, err error) {
	dtype := ops.FloatX()
	rs := ops.NewRandomStreams(seed)
	points := rs.Normal(dtype, []int{numExamples, 2}, 0, 1)
	hyperplane := ops.Const([]float64{2, -1})
	labels := ops.Cast(ops.GreaterThan(ops.Add(ops.Dot(points, hyperplane), ops.Const(0.5)), ops.Const(0.0)), dtype)
	generate, err := function.Build().Outputs(points, labels).Name("synthetic_data").ModeName("FAST_COMPILE").Done()
	if err != nil {
		return nil, nil, err
	}
	outputs, err := generate.Call()
	if err != nil {
		return nil, nil, err
	}
	return outputs[0], outputs[1], nil
}

func train(cmd *cobra.Command, flags *trainFlags) error {
	if flags.steps <= 0 || flags.examples <= 0 {
		return errors.Errorf("--steps and --examples must be positive")
	}
	data, labels, err := syntheticData(flags.examples, flags.seed)
	if err != nil {
		return errors.WithMessage(err, "generating data")
	}

	dtype := ops.FloatX()
	w := graph.NewShared(tensors.Zeros(dtype, 2), "w")
	b := graph.NewShared(tensors.Zeros(dtype), "b")
	if flags.load != "" {
		if err := sharedstore.Load(flags.load, w, b); err != nil {
			return err
		}
	}
	x := graph.NewVariable(graph.Matrix(dtype), "x")
	y := graph.NewVariable(graph.Vector(dtype), "y")
	p := ops.Sigmoid(ops.Add(ops.Dot(x, w), b))
	one := ops.ConstLike(y, 1)
	loss := ops.Mean(ops.Neg(ops.Add(
		ops.Mul(y, ops.Log(p)),
		ops.Mul(ops.Sub(one, y), ops.Log(ops.Sub(one, p))))))
	predictions := ops.Cast(ops.GreaterThan(p, ops.ConstLike(p, 0.5)), dtype)
	accuracy := ops.Mean(ops.Cast(ops.Equal(predictions, y), dtype))
	grads := autodiff.Grad(loss, w, b)
	learningRate := ops.ConstLike(y, flags.learningRate)
	step, err := function.Build(x, y).
		Outputs(loss, accuracy).
		Updates(
			function.Update{Shared: w, Expr: ops.Sub(w, ops.Mul(learningRate, grads[0]))},
			function.Update{Shared: b, Expr: ops.Sub(b, ops.Mul(learningRate, grads[1]))}).
		ModeName(flags.mode).
		Name("train_step").
		Done()
	if err != nil {
		return err
	}

	var pBar *commandline.ProgressBar
	if !flags.quiet {
		pBar = commandline.NewProgressBar(cmd.ErrOrStderr(), flags.steps, "training")
	}
	var lossValue, accuracyValue float64
	for range flags.steps {
		outputs, err := step.CallContext(cmd.Context(), data, labels)
		if err != nil {
			return err
		}
		lossValue, accuracyValue = outputs[0].AsFloat64s()[0], outputs[1].AsFloat64s()[0]
		if pBar != nil {
			if err := pBar.Update(1, "loss", fmt.Sprintf("%.4f", lossValue), "accuracy", fmt.Sprintf("%.1f%%", 100*accuracyValue)); err != nil {
				return err
			}
		}
	}
	if pBar != nil {
		if err := pBar.Finish(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Final loss %.4f, accuracy %.1f%%, w=%v, b=%v (%s)\n",
		lossValue, 100*accuracyValue, w.GetValue(false).Value(), b.GetValue(false).Value(), dtype)
	if profile := step.Profile(); profile != nil {
		_, _ = fmt.Fprint(out, profile.Summary())
	}
	if flags.save != "" {
		if err := sharedstore.Save(flags.save, w, b); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Weights saved to %q\n", flags.save)
	}
	return nil
}
