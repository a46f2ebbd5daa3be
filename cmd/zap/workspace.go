// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"zb.256lights.llc/zap/label"
)

func newWorkspaceCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "workspace COMMAND",
		Short:                 "inspect the current workspace",
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.AddCommand(newWorkspaceInfoCommand(g))
	return c
}

func newWorkspaceInfoCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "info",
		Short:                 "show the workspace's name, directories, and targets",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runWorkspaceInfo(cmd.Context(), g)
	}
	return c
}

func runWorkspaceInfo(ctx context.Context, g *globalConfig) error {
	s, err := openSession(ctx, g)
	if err != nil {
		return err
	}
	defer s.close(ctx)
	entries, err := s.cache.Entries(ctx, label.Label{})
	if err != nil {
		return err
	}

	fmt.Printf("Name:           %s\n", s.ws.Name())
	fmt.Printf("Root:           %s\n", s.ws.Root())
	fmt.Printf("Targets:        %d\n", s.graph.Len())
	fmt.Printf("Cache entries:  %d\n", entries)
	fmt.Printf("\nGlobal directories:\n")
	fmt.Printf("  Cache:        %s\n", g.CacheDirectory)
	fmt.Printf("  Rules:        %s\n", g.RulesDirectory)
	fmt.Printf("  Toolchains:   %s\n", g.ToolchainsDirectory)
	fmt.Printf("\nLocal directories:\n")
	fmt.Printf("  Outputs:      %s\n", s.ws.OutputsDir())
	fmt.Printf("  Rules:        %s\n", s.ws.RulesDir())
	fmt.Printf("  Sandbox:      %s\n", s.ws.SandboxDir())
	fmt.Printf("  Toolchains:   %s\n", s.ws.ToolchainsDir())
	return nil
}
