// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package depgraph provides the dependency graph of a workspace's targets.
package depgraph

import (
	"fmt"
	"strings"
	"sync"

	"zb.256lights.llc/zap/internal/sets"
	"zb.256lights.llc/zap/label"
	"zb.256lights.llc/zap/rules"
)

// A Graph is a directed graph of rules,
// with an edge from each rule to each of its dependencies.
// Nodes are identified by their index in insertion order.
type Graph struct {
	rules []*rules.Rule
	index map[label.Label]int
	deps  [][]int

	mu     sync.Mutex
	sealed []bool
}

// New returns a graph of the given rules.
// Every dependency of every rule must be present in rs.
func New(rs []*rules.Rule) (*Graph, error) {
	g := &Graph{
		rules:  rs,
		index:  make(map[label.Label]int, len(rs)),
		deps:   make([][]int, len(rs)),
		sealed: make([]bool, len(rs)),
	}
	for i, r := range rs {
		if _, dup := g.index[r.Name()]; dup {
			return nil, fmt.Errorf("new graph: %v declared more than once", r.Name())
		}
		g.index[r.Name()] = i
	}
	for i, r := range rs {
		for _, dep := range r.Dependencies() {
			j, ok := g.index[dep]
			if !ok {
				return nil, &UnknownTargetError{Label: dep, Dependent: r.Name()}
			}
			g.deps[i] = append(g.deps[i], j)
		}
	}
	return g, nil
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.rules)
}

// Rule returns the rule at index i.
func (g *Graph) Rule(i int) *rules.Rule {
	return g.rules[i]
}

// Index returns the index of the rule with the given label.
func (g *Graph) Index(l label.Label) (int, bool) {
	i, ok := g.index[l]
	return i, ok
}

// Scoped returns the subgraph containing target and every rule it transitively depends on.
// If target is the wildcard label, then Scoped returns a copy of the whole graph.
// Node indices in the returned graph keep the relative order of g.
// Scoped returns a [*CycleError] if the subgraph contains a cycle.
func (g *Graph) Scoped(target label.Label) (*Graph, error) {
	reached := make([]bool, len(g.rules))
	if target.IsAll() {
		for i := range reached {
			reached[i] = true
		}
	} else {
		i, ok := g.index[target]
		if !ok {
			return nil, &UnknownTargetError{Label: target}
		}
		reached[i] = true
		queue := []int{i}
		for len(queue) > 0 {
			curr := queue[0]
			queue = queue[1:]
			for _, dep := range g.deps[curr] {
				if !reached[dep] {
					reached[dep] = true
					queue = append(queue, dep)
				}
			}
		}
	}

	var rs []*rules.Rule
	for i, r := range g.rules {
		if reached[i] {
			rs = append(rs, r)
		}
	}
	sub, err := New(rs)
	if err != nil {
		return nil, err
	}
	if cycle := sub.findCycle(); cycle != nil {
		return nil, &CycleError{Path: cycle}
	}
	return sub, nil
}

// findCycle returns the labels of a cycle in g
// (with the first label repeated at the end)
// or nil if g is acyclic.
func (g *Graph) findCycle() []label.Label {
	const (
		unvisited = iota
		visiting
		visited
	)
	type frame struct {
		node int
		next int
	}

	state := make([]int8, len(g.rules))
	for start := range g.rules {
		if state[start] != unvisited {
			continue
		}
		state[start] = visiting
		stack := []frame{{node: start}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(g.deps[top.node]) {
				state[top.node] = visited
				stack = stack[:len(stack)-1]
				continue
			}
			dep := g.deps[top.node][top.next]
			top.next++
			switch state[dep] {
			case unvisited:
				state[dep] = visiting
				stack = append(stack, frame{node: dep})
			case visiting:
				var path []label.Label
				inCycle := false
				for _, f := range stack {
					inCycle = inCycle || f.node == dep
					if inCycle {
						path = append(path, g.rules[f.node].Name())
					}
				}
				return append(path, g.rules[dep].Name())
			}
		}
	}
	return nil
}

// Order returns the node indices of g in topological order:
// every node appears after all of its dependencies.
// Among nodes whose dependencies have all been visited,
// the node inserted first comes first.
// Order panics if g contains a cycle.
// Graphs returned by [Graph.Scoped] never contain a cycle.
func (g *Graph) Order() []int {
	pending := make([]int, len(g.rules))
	dependents := make([][]int, len(g.rules))
	ready := new(sets.Sorted[int])
	for i, deps := range g.deps {
		pending[i] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], i)
		}
		if len(deps) == 0 {
			ready.Add(i)
		}
	}

	order := make([]int, 0, len(g.rules))
	for ready.Len() > 0 {
		curr := ready.PopMin()
		order = append(order, curr)
		for _, i := range dependents[curr] {
			pending[i]--
			if pending[i] == 0 {
				ready.Add(i)
			}
		}
	}
	if len(order) != len(g.rules) {
		panic("depgraph: Order called on graph with a cycle")
	}
	return order
}

// transitiveDependencies returns the indices of the nodes
// that node i depends on directly or indirectly,
// in topological order.
func (g *Graph) transitiveDependencies(i int) []int {
	seen := make([]bool, len(g.rules))
	var order []int
	var visit func(int)
	visit = func(curr int) {
		for _, dep := range g.deps[curr] {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
				order = append(order, dep)
			}
		}
	}
	visit(i)
	return order
}

// UnknownTargetError is returned when a label does not name a rule in the graph.
type UnknownTargetError struct {
	Label label.Label
	// Dependent is the rule that declared the dependency,
	// or the zero label if Label was requested directly.
	Dependent label.Label
}

func (e *UnknownTargetError) Error() string {
	if e.Dependent.IsZero() {
		return fmt.Sprintf("unknown target %v", e.Label)
	}
	return fmt.Sprintf("%v depends on unknown target %v", e.Dependent, e.Label)
}

// CycleError is returned by [Graph.Scoped] when the dependencies form a cycle.
type CycleError struct {
	// Path is the sequence of labels in the cycle.
	// The first and last elements are the same.
	Path []label.Label
}

func (e *CycleError) Error() string {
	sb := new(strings.Builder)
	sb.WriteString("dependency cycle: ")
	for i, l := range e.Path {
		if i > 0 {
			sb.WriteString(" -> ")
		}
		sb.WriteString(l.String())
	}
	return sb.String()
}
