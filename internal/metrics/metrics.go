// Copyright 2024 AI SA Assistant Project
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

// Package metrics exposes Prometheus collectors for the chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "package_chat"

// Fallback reasons
const (
	FallbackNoFilters  = "no_filters"
	FallbackNoResults  = "no_results"
	FallbackWebMissing = "web_not_found"
)

// Metrics holds the collectors registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	routes       *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	feedRequests *prometheus.CounterVec
	chatLatency  *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// New creates the collectors and registers them with process and Go runtime
// collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		routes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "routes_total",
			Help:      "Chat turns by selected route",
		}, []string{"route"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "search_fallbacks_total",
			Help:      "Package searches that fell back to web search or the homepage",
		}, []string{"reason"}),
		feedRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "requests_total",
			Help:      "Marketing feed lookups by info type and outcome",
		}, []string{"info", "outcome"}),
		chatLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat turn latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"route", "status"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"path", "code"}),
	}
}

// RecordRoute counts a chat turn handled by route
func (m *Metrics) RecordRoute(route string) {
	m.routes.WithLabelValues(route).Inc()
}

// RecordFallback counts a package search fallback
func (m *Metrics) RecordFallback(reason string) {
	m.fallbacks.WithLabelValues(reason).Inc()
}

// FeedRequest counts a marketing feed lookup
func (m *Metrics) FeedRequest(info, outcome string) {
	m.feedRequests.WithLabelValues(info, outcome).Inc()
}

// ObserveChat records the latency of a chat turn
func (m *Metrics) ObserveChat(route, status string, elapsed time.Duration) {
	m.chatLatency.WithLabelValues(route, status).Observe(elapsed.Seconds())
}

// RecordHTTP counts a served HTTP request
func (m *Metrics) RecordHTTP(path, code string) {
	m.httpRequests.WithLabelValues(path, code).Inc()
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
