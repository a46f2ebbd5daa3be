// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package buildcache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zb.256lights.llc/zap/internal/testcontext"
	"zb.256lights.llc/zap/label"
)

type fakeTarget struct {
	kind       string
	label      label.Label
	sources    []string
	depOutputs []string
	outputs    []string
}

func (t *fakeTarget) Kind() string                { return t.kind }
func (t *fakeTarget) Label() label.Label          { return t.label }
func (t *fakeTarget) Sources() []string           { return t.sources }
func (t *fakeTarget) DependencyOutputs() []string { return t.depOutputs }
func (t *fakeTarget) Outputs() []string           { return t.outputs }

type testDirs struct {
	src  string
	out  string
	work string
}

func newTestCache(tb testing.TB) (*Cache, testDirs) {
	tb.Helper()
	root := tb.TempDir()
	dirs := testDirs{
		src:  filepath.Join(root, "src"),
		out:  filepath.Join(root, "out"),
		work: filepath.Join(root, "work"),
	}
	for _, dir := range []string{dirs.src, dirs.out, dirs.work} {
		if err := os.Mkdir(dir, 0o777); err != nil {
			tb.Fatal(err)
		}
	}
	c, err := Open(filepath.Join(root, "cache", "cache.db"), &Options{
		SourceRoot:  dirs.src,
		OutputsRoot: dirs.out,
		Namespace:   root,
	})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		if err := c.Close(); err != nil {
			tb.Error(err)
		}
	})
	return c, dirs
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

func TestKey(t *testing.T) {
	ctx := testcontext.New(t)
	c, dirs := newTestCache(t)
	writeFile(t, filepath.Join(dirs.src, "lib", "a.erl"), "-module(a).\n")
	writeFile(t, filepath.Join(dirs.src, "lib", "b.erl"), "-module(b).\n")
	writeFile(t, filepath.Join(dirs.out, "x", "ebin", "x.beam"), "x")
	writeFile(t, filepath.Join(dirs.out, "y", "ebin", "y.beam"), "y")

	t1 := &fakeTarget{
		kind:       "erlang_library",
		label:      label.MustParse("//lib:a"),
		sources:    []string{"lib/a.erl", "lib/b.erl"},
		depOutputs: []string{"x/ebin/x.beam", "y/ebin/y.beam"},
	}
	t2 := &fakeTarget{
		kind:       "erlang_library",
		label:      label.MustParse("//lib:a"),
		sources:    []string{"lib/b.erl", "lib/a.erl"},
		depOutputs: []string{"y/ebin/y.beam", "x/ebin/x.beam"},
	}
	k1, err := c.Key(ctx, t1)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := c.Key(ctx, t2)
	if err != nil {
		t.Fatal(err)
	}
	if !k1.Equal(k2) {
		t.Errorf("keys differ when dependencies are reordered: %v != %v", k1.Base16(), k2.Base16())
	}

	t3 := *t1
	t3.kind = "elixir_library"
	if k3, err := c.Key(ctx, &t3); err != nil {
		t.Error(err)
	} else if k3.Equal(k1) {
		t.Error("changing the kind did not change the key")
	}

	t4 := *t1
	t4.label = label.MustParse("//lib:other")
	if k4, err := c.Key(ctx, &t4); err != nil {
		t.Error(err)
	} else if k4.Equal(k1) {
		t.Error("changing the label did not change the key")
	}

	writeFile(t, filepath.Join(dirs.out, "y", "ebin", "y.beam"), "y2")
	if k5, err := c.Key(ctx, t1); err != nil {
		t.Error(err)
	} else if k5.Equal(k1) {
		t.Error("changing a dependency output did not change the key")
	}

	writeFile(t, filepath.Join(dirs.src, "lib", "a.erl"), "-module(a).\n-export([f/0]).\n")
	if k6, err := c.Key(ctx, t1); err != nil {
		t.Error(err)
	} else if k6.Equal(k1) {
		t.Error("changing a source did not change the key")
	}
}

func TestKeyMissingSource(t *testing.T) {
	ctx := testcontext.New(t)
	c, _ := newTestCache(t)
	_, err := c.Key(ctx, &fakeTarget{
		kind:    "erlang_library",
		label:   label.MustParse("//lib:a"),
		sources: []string{"lib/missing.erl"},
	})
	if !errors.As(err, new(*Error)) {
		t.Errorf("Key(...) error = %v; want *Error", err)
	}
}

func TestSaveAndIsCached(t *testing.T) {
	ctx := testcontext.New(t)
	c, dirs := newTestCache(t)
	writeFile(t, filepath.Join(dirs.src, "lib", "a.erl"), "-module(a).\n")
	tgt := &fakeTarget{
		kind:    "erlang_library",
		label:   label.MustParse("//lib:a"),
		sources: []string{"lib/a.erl"},
		outputs: []string{"lib/ebin/a.beam"},
	}

	if cached, err := c.IsCached(ctx, tgt); err != nil {
		t.Fatal(err)
	} else if cached {
		t.Fatal("IsCached(...) = true on empty cache")
	}

	writeFile(t, filepath.Join(dirs.work, "lib", "ebin", "a.beam"), "BEAM")
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dirs.out, "lib", "ebin", "a.beam"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "BEAM" {
		t.Errorf("saved output = %q; want %q", got, "BEAM")
	}
	if cached, err := c.IsCached(ctx, tgt); err != nil {
		t.Fatal(err)
	} else if !cached {
		t.Error("IsCached(...) = false after Save")
	}

	// Saving again replaces the entry.
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}
	if n, err := c.Entries(ctx, tgt.label); err != nil {
		t.Error(err)
	} else if n != 1 {
		t.Errorf("Entries(%v) = %d after saving twice; want 1", tgt.label, n)
	}

	// A source change is a miss.
	writeFile(t, filepath.Join(dirs.src, "lib", "a.erl"), "-module(a).\n% changed\n")
	if cached, err := c.IsCached(ctx, tgt); err != nil {
		t.Fatal(err)
	} else if cached {
		t.Error("IsCached(...) = true after source changed")
	}
}

func TestIsCachedMissingOutput(t *testing.T) {
	ctx := testcontext.New(t)
	c, dirs := newTestCache(t)
	writeFile(t, filepath.Join(dirs.src, "lib", "a.erl"), "-module(a).\n")
	writeFile(t, filepath.Join(dirs.work, "lib", "ebin", "a.beam"), "BEAM")
	writeFile(t, filepath.Join(dirs.work, "lib", "ebin", "b.beam"), "BEAM")
	tgt := &fakeTarget{
		kind:    "erlang_library",
		label:   label.MustParse("//lib:a"),
		sources: []string{"lib/a.erl"},
		outputs: []string{"lib/ebin/a.beam", "lib/ebin/b.beam"},
	}
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(dirs.out, "lib", "ebin", "b.beam")); err != nil {
		t.Fatal(err)
	}
	cached, err := c.IsCached(ctx, tgt)
	if err != nil {
		t.Fatalf("IsCached(...) with missing output: %v", err)
	}
	if cached {
		t.Error("IsCached(...) = true with missing output")
	}
}

func TestEntriesAcrossLabels(t *testing.T) {
	ctx := testcontext.New(t)
	c, dirs := newTestCache(t)
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(dirs.src, name+".erl"), name)
		tgt := &fakeTarget{
			kind:    "erlang_library",
			label:   label.MustParse("//:" + name),
			sources: []string{name + ".erl"},
		}
		if err := c.Save(ctx, tgt, dirs.work); err != nil {
			t.Fatal(err)
		}
	}
	n, err := c.Entries(ctx, label.Label{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Entries(zero) = %d; want 3", n)
	}
}

func TestIsCachedAfterRevert(t *testing.T) {
	ctx := testcontext.New(t)
	c, dirs := newTestCache(t)
	tgt := &fakeTarget{
		kind:    "erlang_library",
		label:   label.MustParse("//lib:a"),
		sources: []string{"lib/a.erl"},
		outputs: []string{"lib/ebin/a.beam"},
	}
	src := filepath.Join(dirs.src, "lib", "a.erl")
	built := filepath.Join(dirs.work, "lib", "ebin", "a.beam")

	writeFile(t, src, "v1")
	writeFile(t, built, "BEAM-v1")
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}
	writeFile(t, src, "v2")
	writeFile(t, built, "BEAM-v2")
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}

	// The v1 entry still exists, but the outputs root holds the v2 build.
	writeFile(t, src, "v1")
	cached, err := c.IsCached(ctx, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if cached {
		got, _ := os.ReadFile(filepath.Join(dirs.out, "lib", "ebin", "a.beam"))
		t.Errorf("IsCached(...) = true after reverting source; outputs root holds %q", got)
	}

	writeFile(t, built, "BEAM-v1")
	if err := c.Save(ctx, tgt, dirs.work); err != nil {
		t.Fatal(err)
	}
	if cached, err := c.IsCached(ctx, tgt); err != nil {
		t.Fatal(err)
	} else if !cached {
		t.Error("IsCached(...) = false after rebuilding reverted source")
	}
}

func TestDigestRecentlyModified(t *testing.T) {
	c, dirs := newTestCache(t)
	path := filepath.Join(dirs.src, "a.erl")
	mtime := time.Now().Truncate(time.Second)

	writeFile(t, path, "v1")
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	d1, err := c.digest(path)
	if err != nil {
		t.Fatal(err)
	}
	// Same size and modification time, different content.
	writeFile(t, path, "v2")
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	d2, err := c.digest(path)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Equal(d2) {
		t.Errorf("digest did not change after rewriting file: %v", d1.Base16())
	}
}
