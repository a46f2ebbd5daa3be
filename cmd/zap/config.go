// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
)

type globalConfig struct {
	Debug               bool   `json:"debug"`
	CacheDirectory      string `json:"cacheDirectory"`
	ToolchainsDirectory string `json:"toolchainsDirectory"`
	RulesDirectory      string `json:"rulesDirectory"`
	// MetricsFile is the path of a Prometheus textfile
	// written after every build.
	MetricsFile string `json:"metricsFile"`

	quiet bool
}

// defaultGlobalConfig returns the configuration used when no files or flags are present.
func defaultGlobalConfig() *globalConfig {
	g := new(globalConfig)
	if dir := cacheDir(); dir != "" {
		g.CacheDirectory = filepath.Join(dir, "zap")
		g.ToolchainsDirectory = filepath.Join(dir, "zap", "toolchains")
	}
	if dir := configDir(); dir != "" {
		g.RulesDirectory = filepath.Join(dir, "zap", "rules")
	}
	return g
}

func (g *globalConfig) mergeEnvironment() error {
	if dir := os.Getenv("ZAP_CACHE_DIR"); dir != "" {
		g.CacheDirectory = dir
		g.ToolchainsDirectory = filepath.Join(dir, "toolchains")
	}
	if os.Getenv("ZAP_DEBUG") == "1" {
		g.Debug = true
	}
	return nil
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

func (g *globalConfig) validate() error {
	for _, dir := range []struct {
		name string
		path string
	}{
		{"cache", g.CacheDirectory},
		{"toolchains", g.ToolchainsDirectory},
		{"rules", g.RulesDirectory},
	} {
		if dir.path == "" {
			return fmt.Errorf("%s directory not set", dir.name)
		}
		if !filepath.IsAbs(dir.path) {
			return fmt.Errorf("%s directory %q is not absolute", dir.name, dir.path)
		}
	}
	return nil
}

func (g *globalConfig) cacheDB() string {
	return filepath.Join(g.CacheDirectory, "cache.db")
}

// configFiles returns the configuration files to read
// in increasing order of preference.
// ZAP_CONFIG_FILE replaces the default search.
// extra files (from --config) are read last.
func configFiles(extra []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if path := os.Getenv("ZAP_CONFIG_FILE"); path != "" {
			if !yield(path) {
				return
			}
		} else {
			for dir := range systemConfigDirs() {
				if !yield(filepath.Join(dir, "zap", "config.jwcc")) {
					return
				}
			}
		}
		for _, path := range extra {
			if !yield(path) {
				return
			}
		}
	}
}
