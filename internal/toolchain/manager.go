// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package toolchain downloads and unpacks the language toolchains
// that compile a workspace's targets.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"zb.256lights.llc/zap/internal/useragent"
	"zb.256lights.llc/zap/rules"
	"zombiezen.com/go/log"
	"zombiezen.com/go/nix"
)

// Config describes how to obtain a toolchain.
type Config struct {
	Archive `json:",inline"`
	// System indicates that the toolchain's tools are found on PATH
	// instead of being downloaded.
	System bool `json:"system,omitempty"`
}

// Validate reports whether the configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.System {
		return nil
	}
	return cfg.Archive.Validate()
}

// Options is the set of optional parameters to [NewManager].
type Options struct {
	// HTTPClient is used to download archives.
	// If nil, [http.DefaultClient] is used.
	HTTPClient *http.Client
	// MaxConcurrent is the maximum number of toolchains provisioned at once.
	// If zero or negative, a reasonable default is used.
	MaxConcurrent int
}

// Manager provisions toolchains into a directory.
// It is safe to call methods on Manager from multiple goroutines concurrently.
type Manager struct {
	dir           string
	configs       map[string]*Config
	client        *http.Client
	maxConcurrent int

	mu    sync.Mutex
	ready map[string]*Toolchain
}

// NewManager returns a new manager that unpacks archives under dir.
// configs maps toolchain names (like "erlang") to their configuration.
func NewManager(dir string, configs map[string]*Config, opts *Options) *Manager {
	m := &Manager{
		dir:           dir,
		configs:       configs,
		client:        http.DefaultClient,
		maxConcurrent: 4,
		ready:         make(map[string]*Toolchain),
	}
	if opts != nil {
		if opts.HTTPClient != nil {
			m.client = opts.HTTPClient
		}
		if opts.MaxConcurrent > 0 {
			m.maxConcurrent = opts.MaxConcurrent
		}
	}
	return m
}

// Dir returns the directory that archives are unpacked into.
func (m *Manager) Dir() string {
	return m.dir
}

// Names returns the sorted names of the configured toolchains.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Provision ensures that the named toolchains are ready to use,
// downloading and unpacking any that are missing.
// Toolchains are provisioned concurrently.
// All errors encountered are returned.
func (m *Manager) Provision(ctx context.Context, names []string) error {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(m.maxConcurrent)
	var mu sync.Mutex
	var errs []error
	for _, name := range names {
		if m.isReady(name) {
			continue
		}
		grp.Go(func() error {
			tc, err := m.provision(grpCtx, name)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			m.mu.Lock()
			m.ready[name] = tc
			m.mu.Unlock()
			return nil
		})
	}
	grp.Wait()
	return errors.Join(errs...)
}

func (m *Manager) isReady(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready[name] != nil
}

func (m *Manager) provision(ctx context.Context, name string) (*Toolchain, error) {
	cfg := m.configs[name]
	if cfg == nil {
		return nil, &ProvisionError{Toolchain: name, Err: errors.New("not configured in workspace")}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ProvisionError{Toolchain: name, Err: err}
	}
	if cfg.System {
		log.Debugf(ctx, "Using %s toolchain from PATH", name)
		return &Toolchain{name: name, system: true}, nil
	}

	dir := filepath.Join(m.dir, cfg.Hash())
	tc := &Toolchain{
		name: name,
		root: filepath.Join(dir, filepath.FromSlash(cfg.Prefix)),
	}
	marker := filepath.Join(dir, unpackedMarker)
	if _, err := os.Stat(marker); err == nil {
		log.Debugf(ctx, "Toolchain %s already provisioned at %s", name, dir)
		return tc, nil
	}

	archivePath := filepath.Join(dir, archiveFileName)
	if _, err := os.Stat(archivePath); err != nil {
		if err := m.download(ctx, archivePath, cfg.DownloadURL()); err != nil {
			return nil, &ProvisionError{Toolchain: name, Err: err}
		}
	} else {
		log.Debugf(ctx, "Reusing downloaded archive %s", archivePath)
	}
	if err := verifyChecksum(archivePath, cfg.SHA1); err != nil {
		if removeErr := os.Remove(archivePath); removeErr != nil {
			log.Warnf(ctx, "Failed to remove bad archive: %v", removeErr)
		}
		return nil, &ProvisionError{Toolchain: name, Err: err}
	}

	log.Infof(ctx, "Unpacking %s toolchain into %s", name, dir)
	if err := unpack(dir, archivePath); err != nil {
		return nil, &ProvisionError{Toolchain: name, Err: err}
	}
	if err := os.WriteFile(marker, nil, 0o666); err != nil {
		return nil, &ProvisionError{Toolchain: name, Err: err}
	}
	return tc, nil
}

const (
	archiveFileName = "toolchain.tar.gz"
	unpackedMarker  = ".unpacked"
)

func (m *Manager) download(ctx context.Context, dst string, u string) (err error) {
	log.Infof(ctx, "Downloading toolchain from %s", u)
	if err := os.MkdirAll(filepath.Dir(dst), 0o777); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", useragent.String)
	req.Header.Set("Accept", "*/*")
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %s", u, resp.Status)
	}

	f, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("download %s: %v", u, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), dst)
}

func verifyChecksum(path string, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := nix.NewHasher(nix.SHA1)
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("checksum %s: %v", path, err)
	}
	got := h.SumHash().RawBase16()
	if !strings.EqualFold(got, want) {
		return &ChecksumError{Path: path, Want: want, Got: got}
	}
	return nil
}

func unpack(dir string, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := extractTar(dir, f); err != nil {
		return fmt.Errorf("unpack %s: %v", archivePath, err)
	}
	return nil
}

// Toolchain returns the provisioned toolchain with the given name.
// The toolchain must have been passed to a successful call to [Manager.Provision].
func (m *Manager) Toolchain(name string) (rules.Toolchain, error) {
	m.mu.Lock()
	tc := m.ready[name]
	m.mu.Unlock()
	if tc == nil {
		return nil, fmt.Errorf("toolchain %s has not been provisioned", name)
	}
	return tc, nil
}

// A Toolchain is a provisioned toolchain.
type Toolchain struct {
	name   string
	root   string
	system bool
}

// Name returns the toolchain's name.
func (tc *Toolchain) Name() string {
	return tc.name
}

// Tool returns the absolute path to the named program in the toolchain.
func (tc *Toolchain) Tool(name string) (string, error) {
	if tc.system {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%s toolchain: %v", tc.name, err)
		}
		return filepath.Abs(path)
	}
	path := filepath.Join(tc.root, "bin", name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s toolchain: %v", tc.name, err)
	}
	return path, nil
}

// ProvisionError is returned by [Manager.Provision]
// when a toolchain could not be made ready.
type ProvisionError struct {
	Toolchain string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s toolchain: %v", e.Toolchain, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// ChecksumError is returned when a downloaded archive
// does not match its expected SHA-1 hash.
type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: expected SHA-1 %s but found %s", e.Path, e.Want, e.Got)
}
