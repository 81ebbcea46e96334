// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the manager's Prometheus collectors — the supplemented
// `/metrics` surface SPEC_FULL.md §12 adds alongside the spec's own
// /health and /ready endpoints.
type metrics struct {
	registry        *prometheus.Registry
	eventsIngested  *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec
	activeAgents    prometheus.Gauge
	bundleSyncTotal *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cybersentinel",
			Subsystem: "manager",
			Name:      "events_ingested_total",
			Help:      "Events successfully ingested, labeled by event_type.",
		}, []string{"event_type"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cybersentinel",
			Subsystem: "manager",
			Name:      "events_rejected_total",
			Help:      "Events rejected during ingestion, labeled by reason.",
		}, []string{"reason"}),
		activeAgents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cybersentinel",
			Subsystem: "manager",
			Name:      "active_agents",
			Help:      "Agents that have heartbeated within the liveness window.",
		}),
		bundleSyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cybersentinel",
			Subsystem: "manager",
			Name:      "bundle_sync_total",
			Help:      "Policy bundle sync requests, labeled by outcome (up_to_date|updated).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.eventsIngested, m.eventsRejected, m.activeAgents, m.bundleSyncTotal)
	return m
}

func (m *metrics) handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
