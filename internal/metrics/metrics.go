// Package metrics exports light engine activity to Prometheus. Each Metrics value
// owns its registry so several engines can run in one process (and in tests).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dynlight.ai/internal/lighting/engine"
)

// Labels stay bounded: actions, reasons and subject kinds are closed sets.
type Metrics struct {
	reg *prometheus.Registry

	anchorEvents *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	ticks        prometheus.Counter
	skippedTicks prometheus.Counter
	tickDuration prometheus.Histogram
	tracked      prometheus.Gauge
	anchors      prometheus.Gauge

	WSConnections prometheus.Gauge
	WSRejected    *prometheus.CounterVec
	IndexDropped  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		anchorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynlight_anchor_events_total",
			Help: "Light anchor mutations requested through the world gateway.",
		}, []string{"action", "reason", "kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynlight_reconcile_outcomes_total",
			Help: "Per-subject reconciliation outcomes.",
		}, []string{"outcome"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynlight_ticks_total",
			Help: "Completed light reconciliation cycles.",
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynlight_ticks_skipped_total",
			Help: "Tick calls that overlapped a running cycle.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dynlight_tick_duration_seconds",
			Help:    "Time spent in one light reconciliation cycle.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynlight_tracked_subjects",
			Help: "Subjects in the tracking map.",
		}),
		anchors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynlight_anchors",
			Help: "Live light anchors.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dynlight_ws_connections_active",
			Help: "Open websocket sessions.",
		}),
		WSRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dynlight_ws_rejected_total",
			Help: "Inbound websocket messages rejected.",
		}, []string{"reason"}), // "rate_limit", "schema", "decode"
		IndexDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dynlight_index_dropped_total",
			Help: "Anchor events dropped because the index writer fell behind.",
		}),
	}
	reg.MustRegister(
		m.anchorEvents, m.outcomes, m.ticks, m.skippedTicks, m.tickDuration,
		m.tracked, m.anchors, m.WSConnections, m.WSRejected, m.IndexDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) AnchorChanged(ev engine.Event) {
	m.anchorEvents.WithLabelValues(string(ev.Action), ev.Reason, ev.SubjectKind.String()).Inc()
}

func (m *Metrics) TickDone(rep engine.TickReport) {
	if rep.Skipped {
		m.skippedTicks.Inc()
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(rep.Duration.Seconds())
	m.tracked.Set(float64(rep.Tracked))
	m.anchors.Set(float64(rep.Anchors))

	add := func(o engine.Outcome, n int) {
		if n > 0 {
			m.outcomes.WithLabelValues(string(o)).Add(float64(n))
		}
	}
	add(engine.OutcomePlaced, rep.Placed)
	add(engine.OutcomeElided, rep.Elided)
	add(engine.OutcomeNoCandidate, rep.NoCandidate)
	add(engine.OutcomeStale, rep.Stale)
	add(engine.OutcomeInvalid, rep.Evicted)
}
