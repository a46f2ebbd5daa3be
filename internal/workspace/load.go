// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"golang.org/x/sync/errgroup"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
	"zombiezen.com/go/log"
)

// targetBody is the body of a target block in a BUILD.hcl file.
type targetBody struct {
	// Srcs are glob patterns relative to the package directory.
	Srcs *[]string `hcl:"srcs,optional"`
	// Deps are labels, possibly relative to the package.
	Deps []string `hcl:"deps,optional"`
}

// LoadTargets parses every BUILD.hcl file in the workspace
// and returns the declared rules
// ordered by file path and then by position in the file.
// Block types are looked up in mgr.
func (ws *Workspace) LoadTargets(ctx context.Context, mgr *rules.Manager) ([]*rules.Rule, error) {
	paths, err := ws.buildFiles()
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "Found %d build files in %s", len(paths), ws.root)

	schema := blockSchema(mgr)
	results := make([][]*rules.Rule, len(paths))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			rs, err := ws.parseBuildFile(mgr, schema, path)
			if err != nil {
				return err
			}
			results[i] = rs
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var all []*rules.Rule
	for _, rs := range results {
		all = append(all, rs...)
	}
	return all, nil
}

// buildFiles returns the paths of the BUILD.hcl files under the workspace root
// in lexical order.
// Hidden directories (including the state directory) are skipped.
func (ws *Workspace) buildFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(ws.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != ws.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == BuildFileName && d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load targets: %v", err)
	}
	return paths, nil
}

func blockSchema(mgr *rules.Manager) *hcl.BodySchema {
	schema := new(hcl.BodySchema)
	for _, name := range mgr.Names() {
		schema.Blocks = append(schema.Blocks, hcl.BlockHeaderSchema{
			Type:       name,
			LabelNames: []string{"name"},
		})
	}
	return schema
}

func (ws *Workspace) parseBuildFile(mgr *rules.Manager, schema *hcl.BodySchema, path string) ([]*rules.Rule, error) {
	pkgDir, err := filepath.Rel(ws.root, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	pkg := filepath.ToSlash(pkgDir)
	if pkg == "." {
		pkg = ""
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}
	content, diags := file.Body.Content(schema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}

	var rs []*rules.Rule
	for _, block := range content.Blocks {
		kind, ok := mgr.Get(block.Type)
		if !ok {
			return nil, fmt.Errorf("%v: unknown rule %q", block.DefRange, block.Type)
		}
		var body targetBody
		if diags := gohcl.DecodeBody(block.Body, nil, &body); diags.HasErrors() {
			return nil, fmt.Errorf("parse %s: %w", path, diags)
		}
		r, err := ws.newRule(kind, pkg, block.Labels[0], &body)
		if err != nil {
			return nil, fmt.Errorf("%v: %v", block.DefRange, err)
		}
		rs = append(rs, r)
	}
	return rs, nil
}

func (ws *Workspace) newRule(kind rules.Kind, pkg, name string, body *targetBody) (*rules.Rule, error) {
	l, err := label.New(pkg, name)
	if err != nil {
		return nil, err
	}
	var deps []label.Label
	for _, dep := range body.Deps {
		depLabel, err := label.Parse(dep)
		if err != nil {
			return nil, err
		}
		if depLabel.IsAll() {
			return nil, fmt.Errorf("%v: cannot depend on %s", l, label.Wildcard)
		}
		deps = append(deps, depLabel.Canonicalize(pkg))
	}

	switch {
	case kind.IsLibrary():
		patterns := kind.DefaultSources()
		if body.Srcs != nil {
			patterns = *body.Srcs
		}
		srcs, err := ws.expandSources(pkg, patterns)
		if err != nil {
			return nil, fmt.Errorf("%v: %v", l, err)
		}
		return rules.NewLibrary(kind, l, srcs, deps)
	case body.Srcs != nil:
		return nil, fmt.Errorf("%v: %v rules do not accept srcs", l, kind)
	case kind == rules.ErlangShell:
		return rules.NewShell(l, deps)
	default:
		return rules.NewNoop(l, deps)
	}
}

// expandSources resolves glob patterns relative to the package directory
// into slash-separated paths relative to the workspace root.
func (ws *Workspace) expandSources(pkg string, patterns []string) ([]string, error) {
	var srcs []string
	for _, pattern := range patterns {
		if filepath.IsAbs(pattern) || !filepath.IsLocal(filepath.FromSlash(pattern)) {
			return nil, fmt.Errorf("source pattern %q is outside the package", pattern)
		}
		matches, err := filepath.Glob(filepath.Join(ws.root, filepath.FromSlash(pkg), filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("source pattern %q: %v", pattern, err)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(ws.root, match)
			if err != nil {
				return nil, err
			}
			srcs = append(srcs, filepath.ToSlash(rel))
		}
	}
	return srcs, nil
}
