// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package runner

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"zb.256lights.llc/zap/internal/buildcache"
	"zb.256lights.llc/zap/internal/depgraph"
	"zb.256lights.llc/zap/internal/metrics"
	"zb.256lights.llc/zap/internal/sandbox"
	"zb.256lights.llc/zap/internal/testcontext"
	"zb.256lights.llc/zap/internal/toolchain"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
)

// fakeErlc copies each source to <out>/<module>.beam.
const fakeErlc = `#!/bin/sh
out=.
while [ $# -gt 0 ]; do
	case "$1" in
	-o) out="$2"; shift 2 ;;
	-pa) shift 2 ;;
	*)
		mkdir -p "$out"
		cp "$1" "$out/$(basename "$1" .erl).beam"
		shift
		;;
	esac
done
`

// extraErlc behaves like fakeErlc but also writes an undeclared file.
const extraErlc = fakeErlc + `mkdir -p "$out" && touch "$out/extra.beam"
`

const failingErlc = `#!/bin/sh
echo "lib/a.erl:1: syntax error before: '.'" >&2
exit 1
`

// silentErlc exits successfully without writing anything.
const silentErlc = `#!/bin/sh
exit 0
`

const fakeErl = `#!/bin/sh
echo "erl $*"
`

type testWorkspace struct {
	root    string
	outputs string
	stdout  *strings.Builder
	cache   *buildcache.Cache
}

// newTestWorkspace creates a workspace with fake Erlang tools on PATH.
func newTestWorkspace(t *testing.T, erlc string) *testWorkspace {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compilers are shell scripts")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	writeFile(t, filepath.Join(bin, "erlc"), erlc)
	writeFile(t, filepath.Join(bin, "erl"), fakeErl)
	for _, tool := range []string{"erlc", "erl"} {
		if err := os.Chmod(filepath.Join(bin, tool), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	ws := &testWorkspace{
		root:    filepath.Join(dir, "workspace"),
		outputs: filepath.Join(dir, "workspace", ".zap", "outputs"),
		stdout:  new(strings.Builder),
	}
	if err := os.MkdirAll(ws.outputs, 0o777); err != nil {
		t.Fatal(err)
	}
	var err error
	ws.cache, err = buildcache.Open(filepath.Join(dir, "cache", "cache.db"), &buildcache.Options{
		SourceRoot:  ws.root,
		OutputsRoot: ws.outputs,
		Namespace:   ws.root,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := ws.cache.Close(); err != nil {
			t.Error(err)
		}
	})
	return ws
}

// checkSandboxesCleared reports an error if any sandbox directory remains.
func (ws *testWorkspace) checkSandboxesCleared(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(ws.root, ".zap", "sandbox"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Error(err)
		return
	}
	for _, ent := range entries {
		t.Errorf("sandbox %s left behind", ent.Name())
	}
}

func (ws *testWorkspace) runner(t *testing.T, rs []*rules.Rule, tcs map[string]*toolchain.Config) *Runner {
	t.Helper()
	g, err := depgraph.New(rs)
	if err != nil {
		t.Fatal(err)
	}
	return New(g, &Options{
		Cache:         ws.cache,
		Sandboxes:     sandbox.NewRoot(filepath.Join(ws.root, ".zap", "sandbox"), ws.root, ws.outputs),
		Toolchains:    toolchain.NewManager(filepath.Join(ws.root, ".zap", "toolchains"), tcs, nil),
		WorkspaceRoot: ws.root,
		OutputsRoot:   ws.outputs,
		Stdout:        ws.stdout,
	})
}

var systemErlang = map[string]*toolchain.Config{
	"erlang": {System: true},
}

func writeFile(tb testing.TB, path string, data string) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		tb.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), 0o666); err != nil {
		tb.Fatal(err)
	}
}

func library(tb testing.TB, name string, srcs []string, deps ...string) *rules.Rule {
	tb.Helper()
	var depLabels []label.Label
	for _, dep := range deps {
		depLabels = append(depLabels, label.MustParse(dep))
	}
	r, err := rules.NewLibrary(rules.ErlangLibrary, label.MustParse(name), srcs, depLabels)
	if err != nil {
		tb.Fatal(err)
	}
	return r
}

func twoLibraries(t *testing.T, ws *testWorkspace) []*rules.Rule {
	writeFile(t, filepath.Join(ws.root, "lib", "a.erl"), "-module(a).\n")
	writeFile(t, filepath.Join(ws.root, "app", "b.erl"), "-module(b).\n")
	return []*rules.Rule{
		library(t, "//lib:a", []string{"lib/a.erl"}),
		library(t, "//app:b", []string{"app/b.erl"}, "//lib:a"),
	}
}

func TestBuildThenRebuild(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	n, err := r.Build(ctx, label.All())
	if err != nil {
		t.Fatal("first build:", err)
	}
	if n != 2 {
		t.Errorf("first build built %d targets; want 2", n)
	}
	for _, p := range []string{"lib/ebin/a.beam", "app/ebin/b.beam"} {
		if _, err := os.Stat(filepath.Join(ws.outputs, filepath.FromSlash(p))); err != nil {
			t.Error(err)
		}
	}

	n, err = r.Build(ctx, label.All())
	if err != nil {
		t.Fatal("second build:", err)
	}
	if n != 0 {
		t.Errorf("second build built %d targets; want 0", n)
	}

	// Changing a dependency rebuilds it and everything that depends on it.
	writeFile(t, filepath.Join(ws.root, "lib", "a.erl"), "-module(a).\n-export([f/0]).\n")
	n, err = r.Build(ctx, label.MustParse("//app:b"))
	if err != nil {
		t.Fatal("third build:", err)
	}
	if n != 2 {
		t.Errorf("build after changing //lib:a built %d targets; want 2", n)
	}
}

func TestBuildZeroSources(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	// No toolchains are configured: provisioning erlang would fail.
	r := ws.runner(t, []*rules.Rule{library(t, "//empty:lib", nil)}, nil)

	for attempt := 1; attempt <= 2; attempt++ {
		n, err := r.Build(ctx, label.MustParse("//empty:lib"))
		if err != nil {
			t.Fatalf("build #%d: %v", attempt, err)
		}
		if n != 1 {
			t.Errorf("build #%d built %d targets; want 1", attempt, n)
		}
	}
}

func TestBuildUnexpectedOutput(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, extraErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	n, err := r.Build(ctx, label.All())
	var mismatch *OutputMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Build(...) = %d, %v; want *OutputMismatchError", n, err)
	}
	if got, want := mismatch.Label, label.MustParse("//lib:a"); got != want {
		t.Errorf("OutputMismatchError.Label = %v; want %v", got, want)
	}
	if diff := cmp.Diff([]string{"lib/ebin/extra.beam"}, mismatch.UnexpectedButPresent); diff != "" {
		t.Errorf("UnexpectedButPresent (-want +got):\n%s", diff)
	}
	if len(mismatch.ExpectedButMissing) > 0 {
		t.Errorf("ExpectedButMissing = %q; want empty", mismatch.ExpectedButMissing)
	}
	if n != 0 {
		t.Errorf("Build(...) = %d; want 0 targets built before failure", n)
	}
	if entries, err := ws.cache.Entries(ctx, label.Label{}); err != nil {
		t.Error(err)
	} else if entries != 0 {
		t.Errorf("cache has %d entries after failed build; want 0", entries)
	}
	ws.checkSandboxesCleared(t)
}

func TestBuildNothingProduced(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, silentErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	_, err := r.Build(ctx, label.All())
	var mismatch *OutputMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Build(...) error = %v; want *OutputMismatchError", err)
	}
	if diff := cmp.Diff([]string{"lib/ebin/a.beam"}, mismatch.ExpectedButMissing); diff != "" {
		t.Errorf("ExpectedButMissing (-want +got):\n%s", diff)
	}
	ws.checkSandboxesCleared(t)
}

func TestBuildCompilerFailure(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, failingErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	_, err := r.Build(ctx, label.All())
	var execErr *rules.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Build(...) error = %v; want *rules.ExecutionError", err)
	}
	if got, want := execErr.Label, label.MustParse("//lib:a"); got != want {
		t.Errorf("ExecutionError.Label = %v; want %v", got, want)
	}
	if !strings.Contains(err.Error(), "syntax error") {
		t.Errorf("error %q does not include compiler output", err)
	}
	ws.checkSandboxesCleared(t)
}

func TestBuildMissingToolchain(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	r := ws.runner(t, twoLibraries(t, ws), nil)

	_, err := r.Build(ctx, label.All())
	if !errors.As(err, new(*toolchain.ProvisionError)) {
		t.Errorf("Build(...) error = %v; want *toolchain.ProvisionError", err)
	}
}

func TestBuildCycle(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	writeFile(t, filepath.Join(ws.root, "a.erl"), "")
	writeFile(t, filepath.Join(ws.root, "b.erl"), "")
	r := ws.runner(t, []*rules.Rule{
		library(t, "//:a", []string{"a.erl"}, "//:b"),
		library(t, "//:b", []string{"b.erl"}, "//:a"),
	}, systemErlang)

	_, err := r.Build(ctx, label.All())
	if !errors.As(err, new(*depgraph.CycleError)) {
		t.Errorf("Build(...) error = %v; want *depgraph.CycleError", err)
	}
}

func TestRunWildcard(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	if err := r.Run(ctx, label.All()); !errors.Is(err, ErrWildcardRun) {
		t.Errorf("Run(%v) = %v; want %v", label.All(), err, ErrWildcardRun)
	}
	if entries, err := ws.cache.Entries(ctx, label.Label{}); err != nil {
		t.Error(err)
	} else if entries != 0 {
		t.Errorf("cache has %d entries after Run(%v); want 0", entries, label.All())
	}
}

func TestRunShell(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	rs := twoLibraries(t, ws)
	shell, err := rules.NewShell(label.MustParse("//:shell"), []label.Label{label.MustParse("//app:b")})
	if err != nil {
		t.Fatal(err)
	}
	r := ws.runner(t, append(rs, shell), systemErlang)

	if err := r.Run(ctx, shell.Name()); err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(ws.stdout.String())
	for _, want := range []string{"-pa app/ebin", "-pa lib/ebin"} {
		if !strings.Contains(got, want) {
			t.Errorf("erl invoked as %q; want to contain %q", got, want)
		}
	}
}

func TestRunNotRunnable(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	r := ws.runner(t, twoLibraries(t, ws), systemErlang)

	if err := r.Run(ctx, label.MustParse("//lib:a")); !errors.Is(err, rules.ErrUnsupported) {
		t.Errorf("Run(//lib:a) = %v; want %v", err, rules.ErrUnsupported)
	}
}

func TestBuildRecordsMetrics(t *testing.T) {
	ctx := testcontext.New(t)
	ws := newTestWorkspace(t, fakeErlc)
	g, err := depgraph.New(twoLibraries(t, ws))
	if err != nil {
		t.Fatal(err)
	}
	rec := new(countingRecorder)
	r := New(g, &Options{
		Cache:         ws.cache,
		Sandboxes:     sandbox.NewRoot(filepath.Join(ws.root, ".zap", "sandbox"), ws.root, ws.outputs),
		Toolchains:    toolchain.NewManager(t.TempDir(), systemErlang, nil),
		WorkspaceRoot: ws.root,
		OutputsRoot:   ws.outputs,
		Metrics:       rec,
	})
	for range 2 {
		if _, err := r.Build(ctx, label.All()); err != nil {
			t.Fatal(err)
		}
	}
	want := map[metrics.Result]int{metrics.Built: 2, metrics.Cached: 2}
	if diff := cmp.Diff(want, rec.results); diff != "" {
		t.Errorf("target results (-want +got):\n%s", diff)
	}
	if rec.outcomes[metrics.Success] != 2 {
		t.Errorf("successful builds = %d; want 2", rec.outcomes[metrics.Success])
	}
}

type countingRecorder struct {
	metrics.NoopRecorder
	results  map[metrics.Result]int
	outcomes map[metrics.Outcome]int
}

func (rec *countingRecorder) IncTargetResult(kind string, result metrics.Result) {
	if rec.results == nil {
		rec.results = make(map[metrics.Result]int)
	}
	rec.results[result]++
}

func (rec *countingRecorder) IncBuildOutcome(outcome metrics.Outcome) {
	if rec.outcomes == nil {
		rec.outcomes = make(map[metrics.Outcome]int)
	}
	rec.outcomes[outcome]++
}
