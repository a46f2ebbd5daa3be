// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run TARGET",
		Short:                 "build and run a runnable target",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), g, args[0])
	}
	return c
}

func runRun(ctx context.Context, g *globalConfig, arg string) error {
	s, err := openSession(ctx, g)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	target, err := s.parseTarget(arg)
	if err != nil {
		return err
	}
	return s.runner.Run(ctx, target)
}
