// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package toolchain

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"zb.256lights.llc/zap/internal/testcontext"
	"zombiezen.com/go/nix"
)

type tarEntry struct {
	name     string
	content  string
	mode     int64
	linkname string
}

func makeTar(tb testing.TB, w io.Writer, entries []tarEntry) {
	tb.Helper()
	tw := tar.NewWriter(w)
	for _, ent := range entries {
		hdr := &tar.Header{
			Name: ent.name,
			Mode: ent.mode,
		}
		switch {
		case ent.linkname != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = ent.linkname
		case strings.HasSuffix(ent.name, "/"):
			hdr.Typeflag = tar.TypeDir
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(ent.content))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			tb.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, ent.content); err != nil {
				tb.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		tb.Fatal(err)
	}
}

var erlangEntries = []tarEntry{
	{name: "otp/", mode: 0o755},
	{name: "otp/bin/", mode: 0o755},
	{name: "otp/bin/erlc", content: "#!/bin/sh\n", mode: 0o755},
	{name: "otp/bin/erl", linkname: "erlc"},
}

func gzipTar(tb testing.TB, entries []tarEntry) []byte {
	tb.Helper()
	buf := new(bytes.Buffer)
	zw := gzip.NewWriter(buf)
	makeTar(tb, zw, entries)
	if err := zw.Close(); err != nil {
		tb.Fatal(err)
	}
	return buf.Bytes()
}

func sha1Hex(data []byte) string {
	h := nix.NewHasher(nix.SHA1)
	h.Write(data)
	return h.SumHash().RawBase16()
}

// serve starts an HTTP server that serves data at every path
// and counts the requests it receives.
func serve(tb testing.TB, data []byte) (*httptest.Server, *atomic.Int32) {
	requests := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(data)
	}))
	tb.Cleanup(srv.Close)
	return srv, requests
}

func TestProvision(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("archive contains symlinks")
	}
	ctx := testcontext.New(t)
	data := gzipTar(t, erlangEntries)
	srv, requests := serve(t, data)

	dir := t.TempDir()
	m := NewManager(dir, map[string]*Config{
		"erlang": {Archive: Archive{
			URL:    srv.URL + "/otp.tar.gz",
			SHA1:   sha1Hex(data),
			Prefix: "otp",
		}},
	}, &Options{HTTPClient: srv.Client()})

	if _, err := m.Toolchain("erlang"); err == nil {
		t.Error("Toolchain(erlang) before Provision did not return an error")
	}
	if err := m.Provision(ctx, []string{"erlang"}); err != nil {
		t.Fatal(err)
	}
	tc, err := m.Toolchain("erlang")
	if err != nil {
		t.Fatal(err)
	}
	erlc, err := tc.Tool("erlc")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, m.configs["erlang"].Hash(), "otp", "bin", "erlc"); erlc != want {
		t.Errorf("Tool(erlc) = %q; want %q", erlc, want)
	}
	if info, err := os.Stat(erlc); err != nil {
		t.Error(err)
	} else if info.Mode()&0o100 == 0 {
		t.Errorf("%s mode = %v; want executable", erlc, info.Mode())
	}
	if _, err := tc.Tool("erl"); err != nil {
		t.Errorf("Tool(erl): %v", err)
	}
	if _, err := tc.Tool("missing"); err == nil {
		t.Error("Tool(missing) did not return an error")
	}

	// A second manager over the same directory reuses the unpacked toolchain.
	m2 := NewManager(dir, m.configs, &Options{HTTPClient: srv.Client()})
	if err := m2.Provision(ctx, []string{"erlang"}); err != nil {
		t.Fatal(err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server received %d requests; want 1", got)
	}
}

func TestProvisionBzip2(t *testing.T) {
	ctx := testcontext.New(t)
	buf := new(bytes.Buffer)
	zw, err := bzip2.NewWriter(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	makeTar(t, zw, []tarEntry{
		{name: "bin/gleam", content: "#!/bin/sh\n", mode: 0o755},
	})
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	srv, _ := serve(t, data)

	m := NewManager(t.TempDir(), map[string]*Config{
		"gleam": {Archive: Archive{URL: srv.URL, SHA1: sha1Hex(data)}},
	}, &Options{HTTPClient: srv.Client()})
	if err := m.Provision(ctx, []string{"gleam"}); err != nil {
		t.Fatal(err)
	}
	tc, err := m.Toolchain("gleam")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tc.Tool("gleam"); err != nil {
		t.Error(err)
	}
}

func TestProvisionChecksumMismatch(t *testing.T) {
	ctx := testcontext.New(t)
	data := gzipTar(t, erlangEntries)
	srv, _ := serve(t, data)

	dir := t.TempDir()
	cfg := &Config{Archive: Archive{
		URL:  srv.URL + "/otp.tar.gz",
		SHA1: strings.Repeat("0", 40),
	}}
	m := NewManager(dir, map[string]*Config{"erlang": cfg}, &Options{HTTPClient: srv.Client()})
	err := m.Provision(ctx, []string{"erlang"})
	var provisionErr *ProvisionError
	if !errors.As(err, &provisionErr) {
		t.Fatalf("Provision(...) error = %v; want *ProvisionError", err)
	}
	if provisionErr.Toolchain != "erlang" {
		t.Errorf("ProvisionError.Toolchain = %q; want %q", provisionErr.Toolchain, "erlang")
	}
	var checksumErr *ChecksumError
	if !errors.As(err, &checksumErr) {
		t.Fatalf("Provision(...) error = %v; want *ChecksumError", err)
	}
	if checksumErr.Got != sha1Hex(data) {
		t.Errorf("ChecksumError.Got = %s; want %s", checksumErr.Got, sha1Hex(data))
	}
	if _, err := os.Stat(filepath.Join(dir, cfg.Hash(), archiveFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("bad archive was kept (stat error = %v)", err)
	}
	if _, err := m.Toolchain("erlang"); err == nil {
		t.Error("Toolchain(erlang) succeeded after failed Provision")
	}
}

func TestProvisionHTTPError(t *testing.T) {
	ctx := testcontext.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	m := NewManager(t.TempDir(), map[string]*Config{
		"elixir": {Archive: Archive{URL: srv.URL + "/elixir.tar.gz", SHA1: strings.Repeat("0", 40)}},
	}, &Options{HTTPClient: srv.Client()})
	err := m.Provision(ctx, []string{"elixir"})
	if !errors.As(err, new(*ProvisionError)) {
		t.Errorf("Provision(...) error = %v; want *ProvisionError", err)
	}
}

func TestProvisionUnknown(t *testing.T) {
	ctx := testcontext.New(t)
	m := NewManager(t.TempDir(), nil, nil)
	err := m.Provision(ctx, []string{"caramel"})
	if !errors.As(err, new(*ProvisionError)) {
		t.Errorf("Provision(caramel) error = %v; want *ProvisionError", err)
	}
}

func TestSystemToolchain(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := testcontext.New(t)
	m := NewManager(t.TempDir(), map[string]*Config{
		"erlang": {System: true},
	}, nil)
	if err := m.Provision(ctx, []string{"erlang"}); err != nil {
		t.Fatal(err)
	}
	tc, err := m.Toolchain("erlang")
	if err != nil {
		t.Fatal(err)
	}
	sh, err := tc.Tool("sh")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(sh) {
		t.Errorf("Tool(sh) = %q; want absolute path", sh)
	}
}

func TestExtractRejectsEscapes(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{name: "DotDot", entries: []tarEntry{{name: "../evil", content: "x", mode: 0o644}}},
		{name: "Symlink", entries: []tarEntry{{name: "link", linkname: "../../etc/passwd"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			makeTar(t, buf, test.entries)
			if err := extractTar(filepath.Join(t.TempDir(), "out"), buf); err == nil {
				t.Error("extractTar did not return an error")
			}
		})
	}
}

func TestDownloadURL(t *testing.T) {
	a := &Archive{
		Kind: Release,
		URL:  "https://github.com/gleam-lang/gleam/",
		Name: "gleam",
		Tag:  "v1.0.0",
		SHA1: "abc",
	}
	want := "https://github.com/gleam-lang/gleam/releases/download/v1.0.0/gleam-" + HostTriple() + ".tar.gz"
	if got := a.DownloadURL(); got != want {
		t.Errorf("DownloadURL() = %q; want %q", got, want)
	}
	if err := a.Validate(); err != nil {
		t.Error(err)
	}

	a.Name = ""
	if err := a.Validate(); err == nil {
		t.Error("Validate() on release without name did not return an error")
	}
}

func TestHash(t *testing.T) {
	a := &Archive{URL: "https://example.com/otp.tar.gz", SHA1: "abc"}
	b := &Archive{URL: "https://example.com/otp.tar.gz", SHA1: "abd"}
	if a.Hash() == b.Hash() {
		t.Error("archives with different checksums have the same hash")
	}
	if got := len(a.Hash()); got != 40 {
		t.Errorf("len(Hash()) = %d; want 40", got)
	}
}

func TestHostTriple(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
	}{
		{"linux", "amd64", "x86_64-unknown-linux-gnu"},
		{"darwin", "arm64", "aarch64-apple-darwin"},
		{"windows", "amd64", "x86_64-pc-windows-msvc"},
	}
	for _, test := range tests {
		if got := hostTriple(test.goos, test.goarch); got != test.want {
			t.Errorf("hostTriple(%q, %q) = %q; want %q", test.goos, test.goarch, got, test.want)
		}
	}
}
