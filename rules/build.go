// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package rules

import (
	"context"
	"fmt"
	"path"
	"slices"
)

// Build declares the rule's outputs and records the actions that produce them on plan.
//
// A library rule declares its own outputs before it consults the toolchain,
// so consumers can see them even if the toolchain lookup fails.
// It also passes the outputs of all of its transitive dependencies on to its consumers.
// A library with no sources declares nothing and needs no toolchain.
func (r *Rule) Build(plan Plan, tcs Toolchains) error {
	switch {
	case r.kind == Noop:
		return nil
	case r.kind == ErlangShell:
		return nil
	case r.kind.IsLibrary():
		return r.buildLibrary(plan, tcs)
	default:
		return fmt.Errorf("build %v: %w", r.name, ErrUnsupported)
	}
}

func (r *Rule) buildLibrary(plan Plan, tcs Toolchains) error {
	if len(r.srcs) == 0 {
		return nil
	}
	inherited := transitiveOutputs(plan)
	artifacts := r.Outputs()
	for _, a := range artifacts {
		plan.DeclareOutputs(a.Outputs...)
	}
	plan.InheritOutputs(inherited...)

	tc, err := tcs.Toolchain(r.Toolchain())
	if err != nil {
		return &ExecutionError{Label: r.name, Op: "build", Err: err}
	}
	tool, err := tc.Tool(kinds[r.kind].tool)
	if err != nil {
		return &ExecutionError{Label: r.name, Op: "build", Err: err}
	}
	codePath := codePathOf(inherited)
	for _, a := range artifacts {
		outDir := outputDir(a.Inputs[0])
		plan.AddAction(&Action{
			Tool:    tool,
			Args:    compileArgs(r.kind, outDir, codePath, a.Inputs),
			Outputs: slices.Clone(a.Outputs),
		})
	}
	return nil
}

// Run executes the rule interactively.
// Only runnable rules support Run; the others return [ErrUnsupported].
func (r *Rule) Run(ctx context.Context, plan Plan, tcs Toolchains) error {
	if r.kind != ErlangShell {
		return fmt.Errorf("run %v: %w", r.name, ErrUnsupported)
	}
	tc, err := tcs.Toolchain(r.Toolchain())
	if err != nil {
		return &ExecutionError{Label: r.name, Op: "run", Err: err}
	}
	tool, err := tc.Tool(kinds[r.kind].tool)
	if err != nil {
		return &ExecutionError{Label: r.name, Op: "run", Err: err}
	}
	var args []string
	for _, dir := range codePathOf(transitiveOutputs(plan)) {
		args = append(args, "-pa", dir)
	}
	if err := plan.Exec(ctx, &Action{Tool: tool, Args: args}); err != nil {
		return &ExecutionError{Label: r.name, Op: "run", Err: err}
	}
	return nil
}

// transitiveOutputs returns the sorted union of the outputs
// declared by the planned rule's transitive dependencies.
func transitiveOutputs(plan Plan) []string {
	var outputs []string
	for _, dep := range plan.TransitiveDependencies() {
		outputs = append(outputs, plan.Outputs(dep.Name())...)
	}
	slices.Sort(outputs)
	return slices.Compact(outputs)
}

// codePathOf returns the sorted set of directories containing the given outputs.
func codePathOf(outputs []string) []string {
	dirs := make([]string, 0, len(outputs))
	for _, out := range outputs {
		dirs = append(dirs, path.Dir(out))
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}

func compileArgs(kind Kind, outDir string, codePath []string, srcs []string) []string {
	var args []string
	switch kind {
	case ErlangLibrary, ElixirLibrary:
		args = append(args, "-o", outDir)
		for _, dir := range codePath {
			args = append(args, "-pa", dir)
		}
	case ClojerlLibrary:
		args = append(args, "--compile", "-o", outDir)
		for _, dir := range codePath {
			args = append(args, "-pa", dir)
		}
	case GleamLibrary:
		args = append(args, "compile-package", "--target", "erlang", "--out", outDir)
		for _, dir := range codePath {
			args = append(args, "--lib", dir)
		}
	case CaramelLibrary:
		args = append(args, "compile", "--target", "erlang", "--output", outDir)
	}
	return append(args, srcs...)
}
