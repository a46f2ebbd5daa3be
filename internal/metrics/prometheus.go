// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "zap"

// PrometheusRecorder is a [Recorder] backed by Prometheus metrics.
type PrometheusRecorder struct {
	reg            *prom.Registry
	targetDuration *prom.HistogramVec
	targetResults  *prom.CounterVec
	buildDuration  prom.Histogram
	buildOutcomes  *prom.CounterVec
}

// NewPrometheusRecorder returns a new recorder
// whose metrics are registered in a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	pr := &PrometheusRecorder{
		reg: prom.NewRegistry(),
		targetDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "target_duration_seconds",
			Help:      "Time spent building individual targets, excluding cache hits.",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		targetResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "target_results_total",
			Help:      "Targets visited by result.",
		}, []string{"kind", "result"}),
		buildDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Total build duration.",
			Buckets:   prom.DefBuckets,
		}),
		buildOutcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "build_outcomes_total",
			Help:      "Builds by final outcome.",
		}, []string{"outcome"}),
	}
	pr.reg.MustRegister(pr.targetDuration, pr.targetResults, pr.buildDuration, pr.buildOutcomes)
	return pr
}

// Gatherer returns the registry that holds the recorder's metrics.
func (p *PrometheusRecorder) Gatherer() prom.Gatherer {
	return p.reg
}

// WriteTextfile writes the recorded metrics to path
// in the text format read by the node exporter's textfile collector.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	return prom.WriteToTextfile(path, p.reg)
}

func (p *PrometheusRecorder) ObserveTargetDuration(kind string, d time.Duration) {
	p.targetDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTargetResult(kind string, result Result) {
	p.targetResults.WithLabelValues(kind, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome Outcome) {
	p.buildOutcomes.WithLabelValues(string(outcome)).Inc()
}
