// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"zb.256lights.llc/zap/label"
	"zombiezen.com/go/log"
)

type buildOptions struct {
	target     string
	printGraph bool
}

func newBuildCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "build [options] [TARGET]",
		Short:                 "build a target and its dependencies",
		Long:                  "Build a target and its dependencies. The default target, " + label.Wildcard + ", builds every target in the workspace.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MaximumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &buildOptions{target: label.Wildcard}
	c.Flags().BoolVar(&opts.printGraph, "print-graph", false, "print the dependency graph in Graphviz format instead of building")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			opts.target = args[0]
		}
		return runBuild(cmd.Context(), g, opts)
	}
	return c
}

func runBuild(ctx context.Context, g *globalConfig, opts *buildOptions) error {
	start := time.Now()
	s, err := openSession(ctx, g)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	target, err := s.parseTarget(opts.target)
	if err != nil {
		return err
	}

	if opts.printGraph {
		scoped, err := s.graph.Scoped(target)
		if err != nil {
			return err
		}
		if err := scoped.WriteDot(os.Stdout); err != nil {
			return err
		}
		log.Infof(ctx, "Printed %d in %dms", scoped.Len(), time.Since(start).Milliseconds())
		return nil
	}

	n, err := s.runner.Build(ctx, target)
	if err != nil {
		return err
	}
	log.Infof(ctx, "Built %d artifacts in %dms", n, time.Since(start).Milliseconds())
	return nil
}
