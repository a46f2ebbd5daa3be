// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package workspace locates a zap workspace and loads its targets.
//
// A workspace is a directory tree rooted at a directory containing a
// WORKSPACE.jwcc file. Each directory in the tree that contains a
// BUILD.hcl file is a package whose targets are declared in that file.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	"zb.256lights.llc/zap/internal/toolchain"
)

const (
	// FileName is the name of the file that marks a workspace root.
	FileName = "WORKSPACE.jwcc"
	// BuildFileName is the name of the file that declares a package's targets.
	BuildFileName = "BUILD.hcl"
	// StateDirName is the name of the directory under the workspace root
	// that holds zap's local state.
	StateDirName = ".zap"
)

// ErrNotFound is returned by [Find] when no workspace contains the directory.
var ErrNotFound = errors.New("not inside a workspace (no " + FileName + " found)")

// Config is the content of a WORKSPACE.jwcc file.
type Config struct {
	// Name is the workspace's name.
	// If empty, the name of the root directory is used.
	Name string `json:"name"`
	// Toolchains maps toolchain names (like "erlang") to their configuration.
	Toolchains map[string]*toolchain.Config `json:"toolchains"`
}

// A Workspace is an opened workspace.
type Workspace struct {
	root   string
	config Config
}

// Find opens the workspace that contains dir,
// searching dir and then each of its parents for a WORKSPACE.jwcc file.
func Find(dir string) (*Workspace, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("find workspace: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Open(dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("find workspace: %v", err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

// Open opens the workspace rooted at root.
func Open(root string) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %v", err)
	}
	path := filepath.Join(root, FileName)
	huJSONData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %v", err)
	}
	ws := &Workspace{root: root}
	if err := ws.config.unmarshal(huJSONData); err != nil {
		return nil, fmt.Errorf("read %s: %v", path, err)
	}
	if ws.config.Name == "" {
		ws.config.Name = filepath.Base(root)
	}
	return ws, nil
}

func (cfg *Config) unmarshal(huJSONData []byte) error {
	jsonData, err := hujson.Standardize(huJSONData)
	if err != nil {
		return err
	}
	if err := jsonv2.Unmarshal(jsonData, cfg, jsonv2.RejectUnknownMembers(true)); err != nil {
		return err
	}
	for name, tc := range cfg.Toolchains {
		if tc == nil {
			return fmt.Errorf("toolchain %q: null configuration", name)
		}
		if err := tc.Validate(); err != nil {
			return fmt.Errorf("toolchain %q: %v", name, err)
		}
	}
	return nil
}

// Root returns the absolute path of the workspace's root directory.
func (ws *Workspace) Root() string { return ws.root }

// Name returns the workspace's name.
func (ws *Workspace) Name() string { return ws.config.Name }

// Toolchains returns the workspace's toolchain configuration.
func (ws *Workspace) Toolchains() map[string]*toolchain.Config {
	return ws.config.Toolchains
}

// StateDir returns the directory that holds zap's workspace-local state.
func (ws *Workspace) StateDir() string {
	return filepath.Join(ws.root, StateDirName)
}

// OutputsDir returns the directory that holds built outputs.
func (ws *Workspace) OutputsDir() string {
	return filepath.Join(ws.StateDir(), "outputs")
}

// RulesDir returns the directory reserved for workspace-local rule definitions.
func (ws *Workspace) RulesDir() string {
	return filepath.Join(ws.StateDir(), "rules")
}

// SandboxDir returns the directory that holds build sandboxes.
func (ws *Workspace) SandboxDir() string {
	return filepath.Join(ws.StateDir(), "sandbox")
}

// ToolchainsDir returns the directory that workspace-local toolchains are unpacked into.
func (ws *Workspace) ToolchainsDir() string {
	return filepath.Join(ws.StateDir(), "toolchains")
}

// Init creates the workspace's local state directories if they do not exist.
func (ws *Workspace) Init() error {
	for _, dir := range []string{ws.OutputsDir(), ws.RulesDir(), ws.SandboxDir(), ws.ToolchainsDir()} {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return fmt.Errorf("init workspace: %v", err)
		}
	}
	return nil
}
