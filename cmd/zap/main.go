// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// zap builds workspaces of Erlang, Elixir, Gleam, Clojerl, and Caramel code.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "zap",
		Short:         "BEAM build tool",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	gf := new(globalFlags)
	gf.addTo(rootCommand.PersistentFlags())
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := gf.merge(g); err != nil {
			return err
		}
		initLogging(g)
		return g.validate()
	}

	rootCommand.AddCommand(
		newBuildCommand(g),
		newRunCommand(g),
		newWorkspaceCommand(g),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(g)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(g *globalConfig) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		switch {
		case g.Debug:
			minLogLevel = log.Debug
		case g.quiet:
			minLogLevel = log.Error
		}
		flags := log.StdFlags
		if term.IsTerminal(int(os.Stderr.Fd())) {
			flags = 0
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "zap: ", flags, nil),
		})
	})
}
