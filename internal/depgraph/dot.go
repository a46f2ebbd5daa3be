// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package depgraph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteDot writes g to w in the GraphViz DOT language.
// Nodes are written in insertion order
// and edges point from a rule to its dependencies.
func (g *Graph) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("digraph {\n")
	for i, r := range g.rules {
		fmt.Fprintf(bw, "    %d [ label = %s ]\n", i, strconv.Quote(r.Name().String()))
	}
	for i, deps := range g.deps {
		for _, dep := range deps {
			fmt.Fprintf(bw, "    %d -> %d [ ]\n", i, dep)
		}
	}
	bw.WriteString("}\n")
	return bw.Flush()
}
