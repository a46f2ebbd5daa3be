// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"zb.256lights.llc/zap/internal/buildcache"
	"zb.256lights.llc/zap/internal/depgraph"
	"zb.256lights.llc/zap/internal/metrics"
	"zb.256lights.llc/zap/internal/runner"
	"zb.256lights.llc/zap/internal/sandbox"
	"zb.256lights.llc/zap/internal/toolchain"
	"zb.256lights.llc/zap/internal/workspace"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
	"zombiezen.com/go/log"
)

// A session is the state shared by commands that operate on the current workspace.
type session struct {
	ws *workspace.Workspace
	// pkg is the package path of the working directory,
	// used to resolve relative target labels.
	pkg     string
	graph   *depgraph.Graph
	cache   *buildcache.Cache
	runner  *runner.Runner
	metrics *metrics.PrometheusRecorder

	metricsFile string
}

func openSession(ctx context.Context, g *globalConfig) (_ *session, err error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Find(wd)
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "Workspace %s at %s", ws.Name(), ws.Root())
	if err := ws.Init(); err != nil {
		return nil, err
	}
	targets, err := ws.LoadTargets(ctx, rules.NewManager())
	if err != nil {
		return nil, err
	}
	graph, err := depgraph.New(targets)
	if err != nil {
		return nil, err
	}
	cache, err := buildcache.Open(g.cacheDB(), &buildcache.Options{
		SourceRoot:  ws.Root(),
		OutputsRoot: ws.OutputsDir(),
		Namespace:   ws.Root(),
	})
	if err != nil {
		return nil, err
	}

	s := &session{
		ws:          ws,
		pkg:         packageOf(ws.Root(), wd),
		graph:       graph,
		cache:       cache,
		metricsFile: g.MetricsFile,
	}
	var rec metrics.Recorder = metrics.NoopRecorder{}
	if g.MetricsFile != "" {
		s.metrics = metrics.NewPrometheusRecorder()
		rec = s.metrics
	}
	s.runner = runner.New(graph, &runner.Options{
		Cache:         cache,
		Sandboxes:     sandbox.NewRoot(ws.SandboxDir(), ws.Root(), ws.OutputsDir()),
		Toolchains:    toolchain.NewManager(g.ToolchainsDirectory, ws.Toolchains(), nil),
		WorkspaceRoot: ws.Root(),
		OutputsRoot:   ws.OutputsDir(),
		Metrics:       rec,
		Stdin:         os.Stdin,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	})
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if s.metrics != nil {
		if err := s.metrics.WriteTextfile(s.metricsFile); err != nil {
			log.Warnf(ctx, "Write metrics: %v", err)
		}
	}
	if err := s.cache.Close(); err != nil {
		log.Warnf(ctx, "Close build cache: %v", err)
	}
}

// parseTarget parses a target label given on the command line.
// Relative labels are resolved against the working directory's package.
func (s *session) parseTarget(arg string) (label.Label, error) {
	l, err := label.Parse(arg)
	if err != nil {
		return label.Label{}, err
	}
	return l.Canonicalize(s.pkg), nil
}

// packageOf returns the slash-separated package path of dir within root.
func packageOf(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}
