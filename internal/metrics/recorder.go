// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package metrics records build statistics.
package metrics

import "time"

// Result categorizes the outcome of a single target.
type Result string

const (
	// Built indicates that the target's actions ran.
	Built Result = "built"
	// Cached indicates that the target was skipped because of a cache hit.
	Cached Result = "cached"
	// Failed indicates that building the target failed.
	Failed Result = "failed"
)

// Outcome categorizes the outcome of a whole build.
type Outcome string

const (
	Success  Outcome = "success"
	Failure  Outcome = "failure"
	Canceled Outcome = "canceled"
)

// Recorder receives build statistics.
// Implementations must be safe to call from multiple goroutines.
type Recorder interface {
	ObserveTargetDuration(kind string, d time.Duration)
	IncTargetResult(kind string, result Result)
	ObserveBuildDuration(d time.Duration)
	IncBuildOutcome(outcome Outcome)
}

// NoopRecorder is a [Recorder] that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveTargetDuration(string, time.Duration) {}
func (NoopRecorder) IncTargetResult(string, Result)              {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)          {}
func (NoopRecorder) IncBuildOutcome(Outcome)                     {}
