// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package depgraph

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
)

// Results holds the actions and outputs declared by sealed rules,
// keyed by rule label.
// It is safe to call methods on Results from multiple goroutines concurrently.
// The zero value is an empty set of results.
type Results struct {
	mu      sync.RWMutex
	actions map[label.Label][]*rules.Action
	outputs map[label.Label][]string
}

// Actions returns the actions recorded for l.
func (res *Results) Actions(l label.Label) []*rules.Action {
	res.mu.RLock()
	defer res.mu.RUnlock()
	return slices.Clone(res.actions[l])
}

// Outputs returns the outputs declared for l,
// including those it inherited from its dependencies.
func (res *Results) Outputs(l label.Label) []string {
	res.mu.RLock()
	defer res.mu.RUnlock()
	return slices.Clone(res.outputs[l])
}

func (res *Results) addActions(l label.Label, actions ...*rules.Action) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.actions == nil {
		res.actions = make(map[label.Label][]*rules.Action)
	}
	res.actions[l] = append(res.actions[l], actions...)
}

func (res *Results) addOutputs(l label.Label, paths ...string) {
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.outputs == nil {
		res.outputs = make(map[label.Label][]string)
	}
	res.outputs[l] = append(res.outputs[l], paths...)
}

// A Node is a sealed rule.
// Its actions are kept in the [Results] it was sealed with.
type Node struct {
	rule       *rules.Rule
	res        *Results
	outputs    []string
	depOutputs []string
}

// Rule returns the node's rule.
func (n *Node) Rule() *rules.Rule { return n.rule }

// Label returns the node's rule label.
func (n *Node) Label() label.Label { return n.rule.Name() }

// Kind returns the name of the node's rule kind.
func (n *Node) Kind() string { return n.rule.Kind().String() }

// Sources returns the node's source files,
// relative to the workspace root.
func (n *Node) Sources() []string { return n.rule.Inputs() }

// Actions returns the node's resolved actions in execution order.
func (n *Node) Actions() []*rules.Action { return n.res.Actions(n.Label()) }

// Outputs returns the sorted paths that the node's actions must produce.
// Outputs inherited from dependencies are not included.
func (n *Node) Outputs() []string { return n.outputs }

// DependencyOutputs returns the sorted outputs of the node's transitive dependencies.
func (n *Node) DependencyOutputs() []string { return n.depOutputs }

// Seal resolves the rule at index i into a [Node],
// recording its actions and outputs in res.
// Each node may only be sealed once:
// calling Seal again with the same index returns an error.
// Seal must be called on nodes in the order returned by [Graph.Order]
// so that dependencies' outputs are already recorded.
func (g *Graph) Seal(i int, res *Results, tcs rules.Toolchains) (*Node, error) {
	r := g.rules[i]
	g.mu.Lock()
	alreadySealed := g.sealed[i]
	g.sealed[i] = true
	g.mu.Unlock()
	if alreadySealed {
		return nil, fmt.Errorf("seal %v: already sealed", r.Name())
	}

	p := g.newPlan(i, res, nil)
	if err := r.Build(p, tcs); err != nil {
		return nil, err
	}
	outputs := slices.Clone(p.declared)
	slices.Sort(outputs)
	return &Node{
		rule:       r,
		res:        res,
		outputs:    slices.Compact(outputs),
		depOutputs: p.dependencyOutputs(),
	}, nil
}

// IsSealed reports whether [Graph.Seal] has been called for index i.
func (g *Graph) IsSealed(i int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sealed[i]
}

// Plan returns a [rules.Plan] suitable for calling [rules.Rule.Run]
// on the rule at index i after it and its dependencies have been sealed.
// exec is used to implement [rules.Plan.Exec].
func (g *Graph) Plan(i int, res *Results, exec func(context.Context, *rules.Action) error) rules.Plan {
	return g.newPlan(i, res, exec)
}

type plan struct {
	graph *Graph
	index int
	res   *Results
	exec  func(context.Context, *rules.Action) error

	declared []string
}

func (g *Graph) newPlan(i int, res *Results, exec func(context.Context, *rules.Action) error) *plan {
	return &plan{
		graph: g,
		index: i,
		res:   res,
		exec:  exec,
	}
}

func (p *plan) label() label.Label {
	return p.graph.rules[p.index].Name()
}

func (p *plan) TransitiveDependencies() []*rules.Rule {
	indices := p.graph.transitiveDependencies(p.index)
	rs := make([]*rules.Rule, 0, len(indices))
	for _, i := range indices {
		rs = append(rs, p.graph.rules[i])
	}
	return rs
}

func (p *plan) Outputs(l label.Label) []string {
	return p.res.Outputs(l)
}

func (p *plan) DeclareOutputs(paths ...string) {
	p.declared = append(p.declared, paths...)
	p.res.addOutputs(p.label(), paths...)
}

func (p *plan) InheritOutputs(paths ...string) {
	p.res.addOutputs(p.label(), paths...)
}

func (p *plan) AddAction(a *rules.Action) {
	p.res.addActions(p.label(), a)
}

func (p *plan) Exec(ctx context.Context, a *rules.Action) error {
	if p.exec == nil {
		return fmt.Errorf("%v: cannot run programs while sealing", p.label())
	}
	return p.exec(ctx, a)
}

func (p *plan) dependencyOutputs() []string {
	var outputs []string
	for _, i := range p.graph.transitiveDependencies(p.index) {
		outputs = append(outputs, p.res.Outputs(p.graph.rules[i].Name())...)
	}
	slices.Sort(outputs)
	return slices.Compact(outputs)
}
