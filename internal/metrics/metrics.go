// Package metrics exposes Prometheus collectors for the relay.
//
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connections     prometheus.Gauge
	accepted        *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
	messages        *prometheus.CounterVec
	malformedFrames prometheus.Counter
	sendFailures    prometheus.Counter
	historyReplayed prometheus.Counter
	storeDropped    *prometheus.CounterVec
	storeFailed     *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Authenticated connections currently registered with the hub.",
		}),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Accepted connections by transport.",
		}, []string{"transport"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by result.",
		}, []string{"result"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_broadcast_total",
			Help:      "Messages broadcast by type.",
		}, []string{"type"}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_frames_total",
			Help:      "Frames discarded as malformed or oversized.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Writes to clients that failed and removed the client.",
		}),
		historyReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_messages_replayed_total",
			Help:      "History messages sent to newly joined clients.",
		}),
		storeDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_jobs_dropped_total",
			Help:      "Background store jobs dropped before running.",
		}, []string{"op"}),
		storeFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_jobs_failed_total",
			Help:      "Background store jobs that returned an error.",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.connections,
		m.accepted,
		m.authAttempts,
		m.messages,
		m.malformedFrames,
		m.sendFailures,
		m.historyReplayed,
		m.storeDropped,
		m.storeFailed,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordAccepted(transport string) {
	if m == nil {
		return
	}
	m.accepted.WithLabelValues(transport).Inc()
}

func (m *Metrics) ClientAdded() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ClientRemoved() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// RecordAuth counts an authentication attempt. result is "success" or
// a short failure label.
func (m *Metrics) RecordAuth(result string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBroadcast(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) RecordReplayed(n int) {
	if m == nil {
		return
	}
	m.historyReplayed.Add(float64(n))
}

// StoreDropped and StoreFailed satisfy store.Observer.
func (m *Metrics) StoreDropped(op string) {
	if m == nil {
		return
	}
	m.storeDropped.WithLabelValues(op).Inc()
}

func (m *Metrics) StoreFailed(op string) {
	if m == nil {
		return
	}
	m.storeFailed.WithLabelValues(op).Inc()
}
