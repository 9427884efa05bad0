// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "driverconn"

// Response outcomes.
const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// Metrics counts protocol traffic of one or more connections. Gauges move
// by deltas, so connections sharing a Metrics add up.
type Metrics struct {
	requests         *prometheus.CounterVec
	responses        *prometheus.CounterVec
	events           *prometheus.CounterVec
	listenerFailures prometheus.Counter
	dispatchFailures prometheus.Counter
	inflight         prometheus.Gauge
	objects          prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests sent to the driver.",
		}, []string{"method"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Responses received, by outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Events dispatched to listeners.",
		}, []string{"method"}),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "listener_failures_total",
			Help:      "Listeners that panicked.",
		}),
		dispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_failures_total",
			Help:      "Inbound messages rejected as protocol violations.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "inflight_calls",
			Help:      "Requests awaiting a response.",
		}),
		objects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "objects",
			Help:      "Live objects in the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.responses, m.events, m.listenerFailures, m.dispatchFailures, m.inflight, m.objects)
	}
	return m
}
