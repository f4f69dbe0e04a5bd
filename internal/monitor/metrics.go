// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentwatch_events_total",
			Help: "Total number of observed events by type and risk level.",
		},
		[]string{"type", "risk"},
	)

	alertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentwatch_alerts_total",
			Help: "Total number of events that triggered an alert.",
		},
	)

	sessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_session_active",
			Help: "Whether a monitoring session is currently active.",
		},
	)

	monitoredAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentwatch_monitored_agents",
			Help: "Number of agent processes in the active session.",
		},
	)

	metricsRegistry = prometheus.NewRegistry()
)

func init() {
	metricsRegistry.MustRegister(
		eventsTotal,
		alertsTotal,
		sessionActive,
		monitoredAgents,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

func recordEvent(typ, risk string, alert bool) {
	eventsTotal.With(prometheus.Labels{"type": typ, "risk": risk}).Inc()
	if alert {
		alertsTotal.Inc()
	}
}

func setSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
	} else {
		sessionActive.Set(0)
	}
}

func setMonitoredAgents(n int) {
	monitoredAgents.Set(float64(n))
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}
