// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package runner drives builds over a workspace's dependency graph.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"zb.256lights.llc/zap/internal/buildcache"
	"zb.256lights.llc/zap/internal/depgraph"
	"zb.256lights.llc/zap/internal/metrics"
	"zb.256lights.llc/zap/internal/sandbox"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
	"zombiezen.com/go/log"
)

// Toolchains is the set of toolchains available to a build.
type Toolchains interface {
	rules.Toolchains
	// Provision ensures that the named toolchains are ready to use.
	Provision(ctx context.Context, names []string) error
}

// Options holds the collaborators of a [Runner].
type Options struct {
	Cache      *buildcache.Cache
	Sandboxes  *sandbox.Root
	Toolchains Toolchains
	// WorkspaceRoot is the directory that global rules run in.
	WorkspaceRoot string
	// OutputsRoot is the directory that holds built outputs.
	// Runnable targets are started in this directory.
	OutputsRoot string
	// Metrics receives build statistics.
	// If nil, statistics are discarded.
	Metrics metrics.Recorder

	// Stdin, Stdout, and Stderr are connected to processes started by [Runner.Run].
	// Nil values are treated as in [os/exec.Cmd].
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// A Runner builds and runs targets from a dependency graph.
type Runner struct {
	graph *depgraph.Graph
	opts  Options
}

// New returns a runner for the targets in g.
func New(g *depgraph.Graph, opts *Options) *Runner {
	r := &Runner{graph: g, opts: *opts}
	if r.opts.Metrics == nil {
		r.opts.Metrics = metrics.NoopRecorder{}
	}
	return r
}

// ErrWildcardRun is returned by [Runner.Run] when asked to run the wildcard target.
var ErrWildcardRun = errors.New("you must specify a single target to run")

// Build builds target and everything it depends on.
// If target is the wildcard label, then every target in the graph is built.
// Build returns the number of targets whose actions ran;
// targets found in the cache are not counted.
// Build stops at the first target that fails.
func (r *Runner) Build(ctx context.Context, target label.Label) (int, error) {
	_, _, n, err := r.build(ctx, target)
	return n, err
}

// Run builds target and then runs it.
// Run returns [ErrWildcardRun] without building anything
// if target is the wildcard label.
func (r *Runner) Run(ctx context.Context, target label.Label) error {
	if target.IsAll() {
		return ErrWildcardRun
	}
	scoped, res, _, err := r.build(ctx, target)
	if err != nil {
		return err
	}
	i, ok := scoped.Index(target)
	if !ok {
		return &depgraph.UnknownTargetError{Label: target}
	}
	rule := scoped.Rule(i)
	if !rule.IsRunnable() {
		return fmt.Errorf("run %v: %s rules are not runnable: %w", target, rule.Kind(), rules.ErrUnsupported)
	}
	plan := scoped.Plan(i, res, r.execInteractive)
	log.Debugf(ctx, "Running %v", target)
	return rule.Run(ctx, plan, r.opts.Toolchains)
}

func (r *Runner) execInteractive(ctx context.Context, a *rules.Action) error {
	a = &rules.Action{
		Tool:    a.Tool,
		Args:    a.Args,
		Env:     maps.Clone(a.Env),
		Outputs: a.Outputs,
	}
	if home := os.Getenv("HOME"); home != "" {
		if a.Env == nil {
			a.Env = make(map[string]string)
		}
		a.Env["HOME"] = home
	}
	c := sandbox.Command(ctx, r.opts.OutputsRoot, a)
	c.Stdin = r.opts.Stdin
	c.Stdout = r.opts.Stdout
	c.Stderr = r.opts.Stderr
	return c.Run()
}

func (r *Runner) build(ctx context.Context, target label.Label) (scoped *depgraph.Graph, res *depgraph.Results, n int, err error) {
	start := time.Now()
	defer func() {
		r.opts.Metrics.ObserveBuildDuration(time.Since(start))
		switch {
		case err == nil:
			r.opts.Metrics.IncBuildOutcome(metrics.Success)
		case errors.Is(err, context.Canceled):
			r.opts.Metrics.IncBuildOutcome(metrics.Canceled)
		default:
			r.opts.Metrics.IncBuildOutcome(metrics.Failure)
		}
	}()

	scoped, err = r.graph.Scoped(target)
	if err != nil {
		return nil, nil, 0, err
	}
	order := scoped.Order()
	if err := r.opts.Toolchains.Provision(ctx, requiredToolchains(scoped, order)); err != nil {
		return nil, nil, 0, err
	}

	log.Debugf(ctx, "Starting build %v of %v (%d targets)", r.opts.Cache.BuildID(), target, len(order))
	res = new(depgraph.Results)
	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return nil, nil, n, err
		}
		built, err := r.buildNode(ctx, scoped, i, res)
		if err != nil {
			return nil, nil, n, err
		}
		if built {
			n++
		}
	}
	return scoped, res, n, nil
}

// requiredToolchains returns the sorted names of the toolchains
// that the rules at the given indices need.
// Libraries without sources never consult their toolchain.
func requiredToolchains(g *depgraph.Graph, indices []int) []string {
	var names []string
	for _, i := range indices {
		rule := g.Rule(i)
		name := rule.Toolchain()
		if name == "" || len(rule.Inputs()) == 0 && !rule.IsRunnable() {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// buildNode seals and builds the node at index i.
// It reports whether the node's actions ran.
func (r *Runner) buildNode(ctx context.Context, g *depgraph.Graph, i int, res *depgraph.Results) (built bool, err error) {
	rule := g.Rule(i)
	kind := rule.Kind().String()
	start := time.Now()
	defer func() {
		switch {
		case err != nil:
			r.opts.Metrics.IncTargetResult(kind, metrics.Failed)
		case built:
			r.opts.Metrics.ObserveTargetDuration(kind, time.Since(start))
			r.opts.Metrics.IncTargetResult(kind, metrics.Built)
		default:
			r.opts.Metrics.IncTargetResult(kind, metrics.Cached)
		}
	}()

	node, err := g.Seal(i, res, r.opts.Toolchains)
	if err != nil {
		return false, err
	}
	if !rule.IsLocal() {
		log.Debugf(ctx, "About to build %v in workspace", node.Label())
		if err := r.runGlobal(ctx, node); err != nil {
			return false, err
		}
		return true, nil
	}

	cached, err := r.opts.Cache.IsCached(ctx, node)
	if err != nil {
		return false, err
	}
	if cached {
		log.Debugf(ctx, "Skipping %v. Nothing to do.", node.Label())
		return false, nil
	}
	log.Debugf(ctx, "About to build %v", node.Label())
	if err := r.runLocal(ctx, node); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) runLocal(ctx context.Context, node *depgraph.Node) error {
	sb, err := r.opts.Sandboxes.Prepare(ctx, node)
	if err != nil {
		return fmt.Errorf("build %v: %w", node.Label(), err)
	}
	defer sb.Clear(ctx)

	if err := sb.Execute(ctx); err != nil {
		return &rules.ExecutionError{Label: node.Label(), Op: "build", Err: err}
	}
	verdict, err := sb.Validate()
	if err != nil {
		return fmt.Errorf("build %v: %w", node.Label(), err)
	}
	switch verdict.Status {
	case sandbox.Valid:
		return r.opts.Cache.Save(ctx, node, sb.Dir())
	case sandbox.NoOutputs:
		// Libraries without sources declare nothing and run nothing.
		if declared := node.Outputs(); len(declared) > 0 {
			return &OutputMismatchError{
				Label:              node.Label(),
				ExpectedButMissing: declared,
			}
		}
		return nil
	case sandbox.Invalid:
		return &OutputMismatchError{
			Label:                node.Label(),
			ExpectedButMissing:   verdict.ExpectedButMissing,
			UnexpectedButPresent: verdict.UnexpectedButPresent,
		}
	default:
		return &InvariantError{
			Label:   node.Label(),
			Message: fmt.Sprintf("sandbox reported %v after executing", verdict.Status),
		}
	}
}

// runGlobal runs the node's actions directly in the workspace root.
func (r *Runner) runGlobal(ctx context.Context, node *depgraph.Node) error {
	for _, a := range node.Actions() {
		output := new(bytes.Buffer)
		c := sandbox.Command(ctx, r.opts.WorkspaceRoot, a)
		c.Stdout = output
		c.Stderr = output
		log.Debugf(ctx, "$ %v", a)
		if err := c.Run(); err != nil {
			if output.Len() > 0 {
				log.Errorf(ctx, "%s output:\n%s", filepath.Base(a.Tool), output)
			}
			return &rules.ExecutionError{Label: node.Label(), Op: "build", Err: err}
		}
	}
	return nil
}
