// Package metrics exposes Prometheus collectors for broadcast delivery and
// bot command traffic, and serves them over HTTP.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatebot/internal/broadcast"
)

const namespace = "gatebot"

// Metrics owns a private registry. It implements broadcast.Observer.
type Metrics struct {
	registry *prometheus.Registry

	deliveriesTotal *prometheus.CounterVec
	floodWaits      prometheus.Histogram
	runsActive      prometheus.Gauge
	runsTotal       prometheus.Counter
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
}

var _ broadcast.Observer = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broadcast",
				Name:      "deliveries_total",
				Help:      "Broadcast delivery attempts by final outcome.",
			},
			[]string{"outcome"},
		),
		floodWaits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "flood_wait_seconds",
			Help:      "Retry-after durations requested by Telegram during broadcasts.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "runs_active",
			Help:      "Broadcast runs currently in progress.",
		}),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "runs_total",
			Help:      "Broadcast runs started.",
		}),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Handled bot commands and callbacks by name and result.",
			},
			[]string{"command", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Handler latency by command.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"command"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deliveriesTotal,
		m.floodWaits,
		m.runsActive,
		m.runsTotal,
		m.commandsTotal,
		m.commandDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOutcome(o broadcast.Outcome) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) ObserveFloodWait(d time.Duration) {
	if m == nil {
		return
	}
	m.floodWaits.Observe(max(d.Seconds(), 0))
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsTotal.Inc()
	m.runsActive.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}

// ObserveCommand records one handled command. err == nil counts as "ok".
func (m *Metrics) ObserveCommand(command string, took time.Duration, err error) {
	if m == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(command))
	if name == "" {
		name = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commandsTotal.WithLabelValues(name, result).Inc()
	m.commandDuration.WithLabelValues(name).Observe(took.Seconds())
}
