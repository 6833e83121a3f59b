// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instrumentation for model provisioning
// and generation.
//
// A nil *Metrics is valid and records nothing, so packages can take one as an
// optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for pocketllm.
type Metrics struct {
	// Provisioning
	ProvisionTotal    *prometheus.CounterVec
	ProvisionDuration prometheus.Histogram
	VerifyTotal       *prometheus.CounterVec
	DownloadBytes     prometheus.Counter
	ModelReady        prometheus.Gauge

	// Generation
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	GenerationsActive  prometheus.Gauge
	DeltasTotal        prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. A fresh registry is used when reg is
// nil so tests never collide on the default one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		ProvisionTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pocketllm_provision_total",
				Help: "Provisioning attempts by terminal outcome",
			},
			[]string{"outcome"},
		),
		ProvisionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pocketllm_provision_duration_seconds",
				Help:    "Wall time of provisioning attempts",
				Buckets: []float64{0.1, 1, 10, 60, 300, 900, 1800},
			},
		),
		VerifyTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pocketllm_verify_total",
				Help: "Artifact verifications by result",
			},
			[]string{"result"},
		),
		DownloadBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pocketllm_download_bytes_total",
				Help: "Bytes of model artifact downloaded",
			},
		),
		ModelReady: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pocketllm_model_ready",
				Help: "1 when a model handle is loaded",
			},
		),
		GenerationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pocketllm_generations_total",
				Help: "Completed generations by stop reason",
			},
			[]string{"reason"},
		),
		GenerationDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pocketllm_generation_duration_seconds",
				Help:    "Duration of streamed generations",
				Buckets: prometheus.DefBuckets,
			},
		),
		GenerationsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "pocketllm_generations_in_flight",
				Help: "Generations currently streaming",
			},
		),
		DeltasTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "pocketllm_deltas_total",
				Help: "Text deltas received from the runtime",
			},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// =============================================================================
// RECORDERS
// =============================================================================

// Provisioned records one finished provisioning attempt.
func (m *Metrics) Provisioned(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProvisionTotal.WithLabelValues(outcome).Inc()
	m.ProvisionDuration.Observe(took.Seconds())
	if outcome == "ready" {
		m.ModelReady.Set(1)
	} else {
		m.ModelReady.Set(0)
	}
}

// Verified records a verification result: valid, invalid or error.
func (m *Metrics) Verified(result string) {
	if m == nil {
		return
	}
	m.VerifyTotal.WithLabelValues(result).Inc()
}

// Downloaded adds n artifact bytes.
func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DownloadBytes.Add(float64(n))
}

// ModelUnloaded clears the ready gauge.
func (m *Metrics) ModelUnloaded() {
	if m == nil {
		return
	}
	m.ModelReady.Set(0)
}

// GenerationStarted marks a generation in flight and returns the function
// that finishes it.
func (m *Metrics) GenerationStarted() func(reason string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.GenerationsActive.Inc()
	return func(reason string) {
		m.GenerationsActive.Dec()
		m.GenerationsTotal.WithLabelValues(reason).Inc()
		m.GenerationDuration.Observe(time.Since(start).Seconds())
	}
}

// Delta counts one streamed delta.
func (m *Metrics) Delta() {
	if m == nil {
		return
	}
	m.DeltasTotal.Inc()
}
