// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// symc inspects the configuration and the compilation modes, and runs demos of compiled
// symbolic functions.
//
// Usage:
//
//	symc config                 # Effective configuration.
//	symc modes                  # Registered modes and their rewrites.
//	symc debugprint [--mode=M]  # Optimized graph of a demo expression.
//	symc train [--steps=N]      # Logistic regression training, with a profile of the ops.
package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "symc",
		Short:         "Inspects and runs symbolic graph compilations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	rootCmd.AddCommand(newConfigCmd(), newModesCmd(), newDebugPrintCmd(), newTrainCmd())
	return rootCmd
}

func main() {
	defer klog.Flush()
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "symc: %+v\n", err)
		os.Exit(1)
	}
}
