// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package runner

import (
	"fmt"
	"strings"

	"zb.256lights.llc/zap/label"
)

// OutputMismatchError is returned when a target's actions
// did not produce exactly the outputs it declared.
type OutputMismatchError struct {
	Label                label.Label
	ExpectedButMissing   []string
	UnexpectedButPresent []string
}

func (e *OutputMismatchError) Error() string {
	sb := new(strings.Builder)
	fmt.Fprintf(sb, "build %v: outputs do not match declared artifacts", e.Label)
	if len(e.ExpectedButMissing) > 0 {
		sb.WriteString("\nexpected but missing:")
		for _, p := range e.ExpectedButMissing {
			sb.WriteString("\n\t")
			sb.WriteString(p)
		}
	}
	if len(e.UnexpectedButPresent) > 0 {
		sb.WriteString("\nunexpected but present:")
		for _, p := range e.UnexpectedButPresent {
			sb.WriteString("\n\t")
			sb.WriteString(p)
		}
	}
	return sb.String()
}

// InvariantError is returned when the build reaches a state
// that a correct build never reaches.
type InvariantError struct {
	Label   label.Label
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("build %v: internal error: %s", e.Label, e.Message)
}
