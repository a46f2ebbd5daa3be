// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package rules provides the closed set of target kinds that zap knows how to build.
//
// A [Rule] is a tagged variant:
// its [Kind] selects the behavior of [Rule.Build] and [Rule.Run].
// Rules never run processes while building.
// Instead, [Rule.Build] declares outputs and records [Action] values on a [Plan],
// which the caller executes later.
package rules

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"zb.256lights.llc/zap/label"
)

// ErrUnsupported is returned by [Rule.Build] or [Rule.Run]
// when the rule's kind does not implement the operation.
var ErrUnsupported = errors.New("operation not supported by rule")

// A Rule is the declaration of a single target.
// Rules are immutable after construction.
type Rule struct {
	kind Kind
	name label.Label
	deps []label.Label
	srcs []string
}

// NewLibrary returns a new library rule of the given kind.
// srcs are slash-separated paths relative to the workspace root.
// deps must be absolute labels; duplicates are dropped.
func NewLibrary(kind Kind, name label.Label, srcs []string, deps []label.Label) (*Rule, error) {
	if !kind.IsLibrary() {
		return nil, fmt.Errorf("new library %v: %v is not a library kind", name, kind)
	}
	r, err := newRule(kind, name, deps)
	if err != nil {
		return nil, err
	}
	for _, src := range srcs {
		if src == "" || path.IsAbs(src) || src != path.Clean(src) || strings.HasPrefix(src, "../") {
			return nil, fmt.Errorf("new library %v: invalid source path %q", name, src)
		}
	}
	r.srcs = slices.Clone(srcs)
	slices.Sort(r.srcs)
	r.srcs = slices.Compact(r.srcs)
	return r, nil
}

// NewShell returns a new interactive shell rule
// that starts with the outputs of deps on its code path.
func NewShell(name label.Label, deps []label.Label) (*Rule, error) {
	return newRule(ErlangShell, name, deps)
}

// NewNoop returns a rule that builds nothing.
// The name may be the zero label.
// A no-op rule with dependencies is useful to build a group of targets at once.
func NewNoop(name label.Label, deps []label.Label) (*Rule, error) {
	if name.IsZero() {
		if len(deps) > 0 {
			return nil, fmt.Errorf("new noop: anonymous rule cannot have dependencies")
		}
		return &Rule{kind: Noop}, nil
	}
	return newRule(Noop, name, deps)
}

func newRule(kind Kind, name label.Label, deps []label.Label) (*Rule, error) {
	if !name.IsAbsolute() || name.IsAll() {
		return nil, fmt.Errorf("new %v: name %q is not an absolute target label", kind, name)
	}
	r := &Rule{kind: kind, name: name}
	seen := make(map[label.Label]struct{}, len(deps))
	for _, dep := range deps {
		if !dep.IsAbsolute() || dep.IsAll() {
			return nil, fmt.Errorf("new %v %v: dependency %q is not an absolute target label", kind, name, dep)
		}
		if dep == name {
			return nil, fmt.Errorf("new %v %v: depends on itself", kind, name)
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		r.deps = append(r.deps, dep)
	}
	return r, nil
}

// Kind returns the rule's variant tag.
func (r *Rule) Kind() Kind { return r.kind }

// Name returns the rule's label.
func (r *Rule) Name() label.Label { return r.name }

// Dependencies returns the labels of the rule's direct dependencies
// in declaration order.
func (r *Rule) Dependencies() []label.Label {
	return slices.Clone(r.deps)
}

// Inputs returns the rule's source files in sorted order.
func (r *Rule) Inputs() []string {
	return slices.Clone(r.srcs)
}

// Toolchain returns the name of the toolchain the rule needs,
// or the empty string if the rule needs none.
func (r *Rule) Toolchain() string {
	return r.kind.Toolchain()
}

// IsLocal reports whether the rule is built in a sandbox and cached.
// Non-local rules are executed directly in the workspace.
func (r *Rule) IsLocal() bool {
	return !kinds[r.kind].global
}

// IsRunnable reports whether [Rule.Run] is supported.
func (r *Rule) IsRunnable() bool {
	return kinds[r.kind].runnable
}

// An Artifact maps a set of inputs to the outputs compiled from them.
// A single artifact may bundle several inputs
// when they must be compiled together.
type Artifact struct {
	Inputs  []string
	Outputs []string
}

// Outputs returns the artifacts the rule produces.
// Library sources are grouped by the directory they are compiled into:
// src/foo.erl compiles to src/ebin/foo.beam.
func (r *Rule) Outputs() []Artifact {
	if !r.kind.IsLibrary() {
		return nil
	}
	var artifacts []Artifact
	index := make(map[string]int)
	for _, src := range r.srcs {
		dir := outputDir(src)
		i, ok := index[dir]
		if !ok {
			i = len(artifacts)
			index[dir] = i
			artifacts = append(artifacts, Artifact{})
		}
		base := path.Base(src)
		base = strings.TrimSuffix(base, path.Ext(base))
		artifacts[i].Inputs = append(artifacts[i].Inputs, src)
		artifacts[i].Outputs = append(artifacts[i].Outputs, path.Join(dir, base+".beam"))
	}
	return artifacts
}

func outputDir(src string) string {
	return path.Join(path.Dir(src), "ebin")
}

// String returns the rule's kind and label.
func (r *Rule) String() string {
	return r.kind.String() + "(" + r.name.String() + ")"
}

// An Action is a single process invocation recorded while building a rule.
type Action struct {
	// Tool is the absolute path of the program to run.
	Tool string
	// Args are the arguments passed to Tool, excluding the program name.
	Args []string
	// Env holds additional environment variables for the process.
	Env map[string]string
	// Outputs are the slash-separated paths the action is expected to produce,
	// relative to the directory it runs in.
	Outputs []string
}

func (a *Action) String() string {
	sb := new(strings.Builder)
	sb.WriteString(a.Tool)
	for _, arg := range a.Args {
		sb.WriteString(" ")
		sb.WriteString(arg)
	}
	return sb.String()
}

// A Toolchain is a provisioned language toolchain.
type Toolchain interface {
	Name() string
	// Tool returns the absolute path of the named program in the toolchain.
	Tool(name string) (string, error)
}

// Toolchains looks up provisioned toolchains by name.
type Toolchains interface {
	Toolchain(name string) (Toolchain, error)
}

// A Plan is the context a rule is built or run in.
type Plan interface {
	// TransitiveDependencies returns the rules that the planned rule
	// depends on directly or indirectly, in build order.
	TransitiveDependencies() []*Rule
	// Outputs returns the outputs declared so far for the rule with the given label,
	// including the outputs it inherited from its dependencies.
	Outputs(l label.Label) []string
	// DeclareOutputs records paths that the planned rule produces.
	DeclareOutputs(paths ...string)
	// InheritOutputs records outputs of dependencies
	// that consumers of the planned rule need on their code path.
	InheritOutputs(paths ...string)
	// AddAction records an action to run when the rule is built.
	AddAction(a *Action)
	// Exec runs an action interactively, attached to the user's terminal,
	// in the directory that holds the workspace's outputs.
	Exec(ctx context.Context, a *Action) error
}

// ExecutionError is returned by [Rule.Build] and [Rule.Run]
// when the underlying toolchain fails.
type ExecutionError struct {
	Label label.Label
	Op    string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Label, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
