// Package metrics exposes the hub's Prometheus instrumentation.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relayhub"

// Result label values.
const (
	MessageMerged       = "merged"
	MessageMalformed    = "malformed"
	MessageUnidentified = "unidentified"

	CommandAccepted   = "accepted"
	CommandOffline    = "offline"
	CommandSendFailed = "send_failed"

	ProbeSent   = "sent"
	ProbeFailed = "failed"
)

// Metrics holds every collector the hub updates.
type Metrics struct {
	registry *prometheus.Registry

	deviceMessages      *prometheus.CounterVec
	commands            *prometheus.CounterVec
	broadcasts          prometheus.Counter
	prunedDashboards    prometheus.Counter
	probes              *prometheus.CounterVec
	devicesConnected    prometheus.Gauge
	dashboardsConnected prometheus.Gauge
	httpRequests        *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deviceMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_messages_total",
				Help:      "Inbound device messages by result.",
			},
			[]string{"result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Routed commands by result and origin.",
			},
			[]string{"result", "origin"},
		),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_broadcasts_total",
			Help:      "Snapshot broadcasts sent to the dashboard set.",
		}),
		prunedDashboards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboards_pruned_total",
			Help:      "Dashboard channels removed after being found closed.",
		}),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liveness_probes_total",
				Help:      "Keepalive probes by result.",
			},
			[]string{"result"},
		),
		devicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Devices with a registered channel.",
		}),
		dashboardsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dashboards_connected",
			Help:      "Dashboards in the broadcast set.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deviceMessages,
		m.commands,
		m.broadcasts,
		m.prunedDashboards,
		m.probes,
		m.devicesConnected,
		m.dashboardsConnected,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// DeviceMessage counts one inbound device message.
func (m *Metrics) DeviceMessage(result string) {
	if m == nil {
		return
	}
	m.deviceMessages.WithLabelValues(result).Inc()
}

// Command counts one routing attempt. origin is "http" or "mqtt".
func (m *Metrics) Command(result, origin string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(result, origin).Inc()
}

// Broadcast counts one dashboard broadcast and the channels it pruned.
func (m *Metrics) Broadcast(pruned int) {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
	if pruned > 0 {
		m.prunedDashboards.Add(float64(pruned))
	}
}

// Probe counts one keepalive probe.
func (m *Metrics) Probe(result string) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result).Inc()
}

// SetDevicesConnected sets the connected-devices gauge.
func (m *Metrics) SetDevicesConnected(n int) {
	if m == nil {
		return
	}
	m.devicesConnected.Set(float64(n))
}

// SetDashboardsConnected sets the connected-dashboards gauge.
func (m *Metrics) SetDashboardsConnected(n int) {
	if m == nil {
		return
	}
	m.dashboardsConnected.Set(float64(n))
}

// HTTPRequest counts one completed HTTP request.
func (m *Metrics) HTTPRequest(route, method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
