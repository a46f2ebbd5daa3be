// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"zb.256lights.llc/zap/internal/toolchain"
)

// zapVersion is the version string filled in by the linker (e.g. "1.2.3").
var zapVersion string

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nHost triple:  %s\nCPUs:         %d\nGo:           %s\n",
			versionLine(), toolchain.HostTriple(), runtime.NumCPU(), runtime.Version())
		return nil
	}
	return c
}

// versionLine returns the first line of "zap version".
// The linker-provided version wins over the module version from build info.
func versionLine() string {
	v := zapVersion
	if v == "" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	if v == "" {
		return "zap (version unknown)"
	}
	return "zap version " + v
}
