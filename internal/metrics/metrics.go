package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "buildingops"

// Metrics holds the service collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	BridgeMessages       *prometheus.CounterVec
	AutomationExecutions *prometheus.CounterVec
	Sweeps               prometheus.Histogram
	MQTTConnected        prometheus.Gauge
	Observers            prometheus.Gauge
	Requests             *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		BridgeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_messages_total",
				Help:      "Inbound device messages by kind and result.",
			},
			[]string{"kind", "result"},
		),
		AutomationExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_executions_total",
				Help:      "Automation executions by trigger and result.",
			},
			[]string{"trigger", "result"},
		),
		Sweeps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled automation sweeps.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30},
		}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while the broker connection is up.",
		}),
		Observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_observers",
			Help:      "Connected websocket observers.",
		}),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
	}
	m.registry.MustRegister(
		m.BridgeMessages,
		m.AutomationExecutions,
		m.Sweeps,
		m.MQTTConnected,
		m.Observers,
		m.Requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) BridgeMessage(kind, result string) {
	m.BridgeMessages.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) AutomationExecution(trigger, result string) {
	m.AutomationExecutions.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) SweepDuration(d time.Duration) {
	m.Sweeps.Observe(d.Seconds())
}

func (m *Metrics) SetMQTTConnected(up bool) {
	if up {
		m.MQTTConnected.Set(1)
		return
	}
	m.MQTTConnected.Set(0)
}

func (m *Metrics) SetObservers(n int) {
	m.Observers.Set(float64(n))
}

func (m *Metrics) Request(route, method string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.Requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}
