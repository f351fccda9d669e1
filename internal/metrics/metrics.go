// Package metrics exposes the matchmaker's Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

const namespace = "sector7"

// Metrics owns its registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	Waiting        prometheus.Gauge
	LiveMatches    prometheus.Gauge
	Matches        *prometheus.CounterVec // by outcome
	LedgerCalls    *prometheus.CounterVec // by op and result
	LedgerDuration *prometheus.HistogramVec
	RejectedMoves  prometheus.Counter
	Orphaned       prometheus.Counter
	Timeouts       *prometheus.CounterVec // by kind
	Unresolved     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_waiting",
			Help: "Players waiting for an opponent.",
		}),
		LiveMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "matches_live",
			Help: "Matches in the registry.",
		}),
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_finished_total",
			Help: "Matches that left the registry, by outcome.",
		}, []string{"outcome"}),
		LedgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_calls_total",
			Help: "Ledger operations, by operation and result.",
		}, []string{"op", "result"}),
		LedgerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "ledger_call_duration_seconds",
			Help:    "Ledger operation latency including retries and confirmation.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op"}),
		RejectedMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "moves_rejected_total",
			Help: "Moves rejected as invalid.",
		}),
		Orphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "matches_orphaned_total",
			Help: "Matches that lost a participant before settlement.",
		}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "timeouts_total",
			Help: "Expired waits, by kind.",
		}, []string{"kind"}),
		Unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "settlements_unresolved_total",
			Help: "Result commits journaled for operator action.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Waiting, m.LiveMatches, m.Matches, m.LedgerCalls, m.LedgerDuration,
		m.RejectedMoves, m.Orphaned, m.Timeouts, m.Unresolved,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ObserveLedger records one ledger operation that started at start.
func (m *Metrics) ObserveLedger(op string, start time.Time, err error) {
	m.LedgerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(apperrors.CodeOf(err)))
	}
	m.LedgerCalls.WithLabelValues(op, result).Inc()
}
