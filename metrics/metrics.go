// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instruments for model calls, ingestion
// and query routing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veridoc"

var (
	// ModelCallsTotal counts model service calls by operation and outcome.
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Total number of model service calls",
		},
		[]string{"operation", "model", "status"},
	)

	// ModelCallDuration observes model call latency.
	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model service call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation", "model"},
	)

	// ChunksTotal counts processed chunks by tier and final status.
	ChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Total number of processed chunks",
		},
		[]string{"tier", "status"},
	)

	// ArbitrationsTotal counts RED verification outcomes.
	ArbitrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitrations_total",
			Help:      "Total number of RED chunk verification outcomes",
		},
		[]string{"outcome"},
	)

	// TasksTotal counts finished tasks by terminal status.
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of finished ingestion tasks",
		},
		[]string{"status"},
	)

	// TasksRunning tracks tasks currently executing.
	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of ingestion tasks currently running",
		},
	)

	// QueriesTotal counts routed queries by intent and retrieval mode.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of routed queries",
		},
		[]string{"intent", "mode"},
	)

	// QueryDuration observes retrieval latency per mode.
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry.
// It is safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ModelCallsTotal,
			ModelCallDuration,
			ChunksTotal,
			ArbitrationsTotal,
			TasksTotal,
			TasksRunning,
			QueriesTotal,
			QueryDuration,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveModelCall records one model call.
func ObserveModelCall(operation, model string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ModelCallsTotal.WithLabelValues(operation, model, status).Inc()
	ModelCallDuration.WithLabelValues(operation, model).Observe(time.Since(start).Seconds())
}
