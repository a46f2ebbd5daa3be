// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
)

// globalFlags holds the values of the flags shared by all subcommands.
// Flags take precedence over configuration files and the environment.
type globalFlags struct {
	fset        *pflag.FlagSet
	configFiles []string
	cacheDir    absPathFlag
	metricsFile absPathFlag
	debug       bool
	quiet       bool
}

func (f *globalFlags) addTo(fset *pflag.FlagSet) {
	f.fset = fset
	fset.StringArrayVar(&f.configFiles, "config", nil, "read configuration from `path` (can be passed multiple times)")
	fset.Var(&f.cacheDir, "cache", "path to cache `dir`ectory")
	fset.Var(&f.metricsFile, "metrics-file", "write build metrics to `path` in Prometheus text format")
	fset.BoolVarP(&f.debug, "debug", "v", false, "show debugging output")
	fset.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
}

// merge applies configuration files, the environment, and then the flags to g.
func (f *globalFlags) merge(g *globalConfig) error {
	if f.debug && f.quiet {
		return fmt.Errorf("--debug and --quiet are mutually exclusive")
	}
	if err := g.mergeFiles(configFiles(f.configFiles)); err != nil {
		return err
	}
	if err := g.mergeEnvironment(); err != nil {
		return err
	}
	if f.fset.Changed("cache") {
		g.CacheDirectory = string(f.cacheDir)
		g.ToolchainsDirectory = filepath.Join(string(f.cacheDir), "toolchains")
	}
	if f.fset.Changed("metrics-file") {
		g.MetricsFile = string(f.metricsFile)
	}
	if f.debug {
		g.Debug = true
	}
	if f.quiet {
		g.Debug = false
		g.quiet = true
	}
	return nil
}

// absPathFlag is a [pflag.Value] that stores an absolute filesystem path.
// Relative paths are resolved against the working directory.
type absPathFlag string

func (f *absPathFlag) Type() string  { return "string" }
func (f absPathFlag) String() string { return string(f) }
func (f absPathFlag) Get() any       { return string(f) }

func (f *absPathFlag) Set(s string) error {
	if s == "" {
		return fmt.Errorf("empty path")
	}
	path, err := filepath.Abs(s)
	if err != nil {
		return err
	}
	*f = absPathFlag(path)
	return nil
}
