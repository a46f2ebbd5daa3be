// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package sandbox provides isolated directories for running build actions.
//
// A sandbox is staged with copies of a node's sources and dependency outputs.
// After the node's actions run,
// the sandbox compares the files the actions produced
// against the outputs the node declared.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"zb.256lights.llc/zap/internal/osutil"
	"zb.256lights.llc/zap/internal/sets"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
	"zombiezen.com/go/log"
	"zombiezen.com/go/nix"
)

// Node is the subset of a sealed build node that a sandbox needs.
type Node interface {
	Label() label.Label
	// Sources returns the node's source files
	// as slash-separated paths relative to the source root.
	Sources() []string
	// DependencyOutputs returns the outputs of the node's transitive dependencies
	// as slash-separated paths relative to the outputs root.
	DependencyOutputs() []string
	// Outputs returns the files the node's actions must produce.
	Outputs() []string
	// Actions returns the actions to run in the sandbox, in order.
	Actions() []*rules.Action
}

// Status is the outcome of validating a sandbox.
type Status int

const (
	// Pending indicates that the sandbox's actions have not been executed.
	Pending Status = iota
	// Valid indicates that the actions produced exactly the declared outputs.
	Valid
	// NoOutputs indicates that the actions produced nothing,
	// whether or not outputs were declared.
	NoOutputs
	// Invalid indicates that the produced files differ from the declared outputs.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Valid:
		return "valid"
	case NoOutputs:
		return "no outputs"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// A Verdict is the result of [Sandbox.Validate].
type Verdict struct {
	Status Status
	// ExpectedButMissing is the sorted list of declared outputs
	// that the actions did not produce.
	// Only set when Status is [Invalid].
	ExpectedButMissing []string
	// UnexpectedButPresent is the sorted list of produced files
	// that were not declared.
	// Only set when Status is [Invalid].
	UnexpectedButPresent []string
}

// Root is a directory that holds sandboxes.
// It is safe to call methods on Root from multiple goroutines concurrently.
type Root struct {
	dir         string
	sourceRoot  string
	outputsRoot string
	locks       dirLocks
}

// NewRoot returns a new sandbox root that creates sandboxes inside dir.
// Sources are staged from sourceRoot
// and dependency outputs are staged from outputsRoot.
func NewRoot(dir, sourceRoot, outputsRoot string) *Root {
	return &Root{
		dir:         dir,
		sourceRoot:  sourceRoot,
		outputsRoot: outputsRoot,
	}
}

// Dir returns the directory that holds the root's sandboxes.
func (root *Root) Dir() string {
	return root.dir
}

type state int8

const (
	prepared state = iota
	executed
	cleared
)

// A Sandbox is a staged directory for a single node.
// Methods on Sandbox must not be called concurrently.
type Sandbox struct {
	node    Node
	dir     string
	staged  sets.Set[string]
	state   state
	release func()
}

// Prepare creates a sandbox for n and stages its inputs.
// Only one sandbox can exist for a label at a time:
// Prepare blocks until any previous sandbox for the label is cleared.
// The caller is responsible for calling [Sandbox.Clear].
func (root *Root) Prepare(ctx context.Context, n Node) (_ *Sandbox, err error) {
	dir := filepath.Join(root.dir, DirName(n.Label()))
	release, err := root.locks.acquire(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("prepare sandbox for %v: %w", n.Label(), err)
	}
	sb := &Sandbox{
		node:    n,
		dir:     dir,
		staged:  make(sets.Set[string]),
		release: release,
	}
	defer func() {
		if err != nil {
			sb.Clear(ctx)
		}
	}()

	// A crashed build may have left the directory behind.
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("prepare sandbox for %v: %v", n.Label(), err)
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("prepare sandbox for %v: %v", n.Label(), err)
	}
	log.Debugf(ctx, "Staging %v in %s", n.Label(), dir)
	if err := sb.stage(root.sourceRoot, n.Sources()); err != nil {
		return nil, fmt.Errorf("prepare sandbox for %v: stage sources: %v", n.Label(), err)
	}
	if err := sb.stage(root.outputsRoot, n.DependencyOutputs()); err != nil {
		return nil, fmt.Errorf("prepare sandbox for %v: stage dependency outputs: %v", n.Label(), err)
	}
	return sb, nil
}

func (sb *Sandbox) stage(from string, paths []string) error {
	for _, p := range paths {
		if sb.staged.Has(p) {
			continue
		}
		src := filepath.Join(from, filepath.FromSlash(p))
		dst := filepath.Join(sb.dir, filepath.FromSlash(p))
		if err := osutil.CopyFile(dst, src); err != nil {
			return err
		}
		sb.staged.Add(p)
	}
	return nil
}

// Dir returns the sandbox's directory.
func (sb *Sandbox) Dir() string {
	return sb.dir
}

// Execute runs the node's actions in order inside the sandbox,
// stopping at the first failure.
// Actions are executed at most once:
// subsequent calls return an error.
func (sb *Sandbox) Execute(ctx context.Context) error {
	switch sb.state {
	case executed:
		return fmt.Errorf("execute %v: sandbox already executed", sb.node.Label())
	case cleared:
		return fmt.Errorf("execute %v: sandbox cleared", sb.node.Label())
	}
	sb.state = executed
	for _, a := range sb.node.Actions() {
		if err := runAction(ctx, sb.dir, a); err != nil {
			return err
		}
	}
	return nil
}

// Validate compares the files produced by [Sandbox.Execute]
// to the node's declared outputs.
// Staged inputs are not considered produced.
func (sb *Sandbox) Validate() (*Verdict, error) {
	switch sb.state {
	case prepared:
		return &Verdict{Status: Pending}, nil
	case cleared:
		return nil, fmt.Errorf("validate %v: sandbox cleared", sb.node.Label())
	}
	present, err := osutil.RegularFiles(sb.dir)
	if err != nil {
		return nil, fmt.Errorf("validate %v: %v", sb.node.Label(), err)
	}
	produced := make(sets.Set[string])
	for _, p := range present {
		if !sb.staged.Has(p) {
			produced.Add(p)
		}
	}
	expected := sets.New(sb.node.Outputs()...)

	missing := sets.SortedFunc(expected.Difference(produced), strings.Compare)
	unexpected := sets.SortedFunc(produced.Difference(expected), strings.Compare)
	switch {
	case produced.Len() == 0:
		return &Verdict{Status: NoOutputs}, nil
	case len(missing) == 0 && len(unexpected) == 0:
		return &Verdict{Status: Valid}, nil
	default:
		return &Verdict{
			Status:               Invalid,
			ExpectedButMissing:   missing,
			UnexpectedButPresent: unexpected,
		}, nil
	}
}

// Clear removes the sandbox's directory and releases its lock.
// It is safe to call Clear more than once.
func (sb *Sandbox) Clear(ctx context.Context) {
	if sb.state == cleared {
		return
	}
	sb.state = cleared
	if err := os.RemoveAll(sb.dir); err != nil {
		log.Warnf(ctx, "Failed to clean up sandbox for %v: %v", sb.node.Label(), err)
	}
	sb.release()
}

// DirName returns the name of the sandbox directory for l.
// The name is readable and unique per label.
func DirName(l label.Label) string {
	readable := strings.Map(func(c rune) rune {
		if 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-' || c == '.' {
			return c
		}
		return '_'
	}, strings.TrimPrefix(l.String(), "//"))
	const maxReadable = 48
	if len(readable) > maxReadable {
		readable = readable[:maxReadable]
	}
	h := nix.NewHasher(nix.SHA256)
	h.WriteString(l.String())
	return h.SumHash().RawBase32()[:12] + "-" + readable
}

// Command returns an [*exec.Cmd] that runs a in dir.
// The process receives a minimal environment
// consisting of PATH, HOME set to dir, and a.Env.
// Canceling ctx sends the process a termination signal.
func Command(ctx context.Context, dir string, a *rules.Action) *exec.Cmd {
	env := map[string]string{
		"PATH": os.Getenv("PATH"),
		"HOME": dir,
	}
	maps.Copy(env, a.Env)
	c := exec.CommandContext(ctx, a.Tool, a.Args...)
	c.Dir = dir
	for _, k := range slices.Sorted(maps.Keys(env)) {
		c.Env = append(c.Env, k+"="+env[k])
	}
	setCancelFunc(c)
	return c
}

func runAction(ctx context.Context, dir string, a *rules.Action) error {
	output := new(bytes.Buffer)
	c := Command(ctx, dir, a)
	c.Stdout = output
	c.Stderr = output
	log.Debugf(ctx, "$ %v", a)
	err := c.Run()
	if output.Len() > 0 {
		log.Debugf(ctx, "%s output:\n%s", filepath.Base(a.Tool), output)
	}
	if err != nil {
		return &ActionError{
			Action: a,
			Output: output.String(),
			Err:    err,
		}
	}
	return nil
}

// ActionError is returned by [Sandbox.Execute] when an action fails.
type ActionError struct {
	Action *rules.Action
	// Output is the combined stdout and stderr of the process.
	Output string
	Err    error
}

func (e *ActionError) Error() string {
	msg := fmt.Sprintf("%s: %v", filepath.Base(e.Action.Tool), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code of the failed process
// or -1 if the process did not exit normally.
func (e *ActionError) ExitCode() int {
	var exitErr *exec.ExitError
	if !errors.As(e.Err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}
