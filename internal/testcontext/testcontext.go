// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package testcontext provides contexts for tests.
package testcontext

import (
	"context"
	"testing"

	"zombiezen.com/go/log/testlog"
)

// New returns a context that sends log messages to the test's log
// and is canceled just before the test's cleanup functions run.
func New(tb testing.TB) context.Context {
	return testlog.WithTB(tb.Context(), tb)
}
