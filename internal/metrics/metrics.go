// Package metrics holds the prometheus collectors for the matching service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scribematch"

// Oracle outcomes.
const (
	OracleOK       = "ok"
	OracleError    = "error"
	OracleTimeout  = "timeout"
	OracleInvalid  = "invalid_reply"
	OracleDisabled = "disabled"
)

type Metrics struct {
	OracleRequests   *prometheus.CounterVec
	MatchRequests    *prometheus.CounterVec
	CandidatesScored prometheus.Histogram
	OracleLatency    prometheus.Histogram
	ProposalsExpired prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      "Scoring oracle calls by outcome.",
		}, []string{"outcome"}),
		MatchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Matching runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CandidatesScored: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_scored",
			Help:      "Eligible candidates scored per matching run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		OracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_latency_seconds",
			Help:      "Scoring oracle round-trip latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProposalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proposals_expired_total",
			Help:      "Proposals expired after the response SLA.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OracleRequests, m.MatchRequests, m.CandidatesScored, m.OracleLatency, m.ProposalsExpired)
	}
	return m
}

func (m *Metrics) ObserveOracle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OracleRequests.WithLabelValues(outcome).Inc()
	if outcome != OracleDisabled {
		m.OracleLatency.Observe(seconds)
	}
}

func (m *Metrics) ObserveMatch(mode, outcome string, candidates int) {
	if m == nil {
		return
	}
	m.MatchRequests.WithLabelValues(mode, outcome).Inc()
	m.CandidatesScored.Observe(float64(candidates))
}

func (m *Metrics) IncExpired(n int) {
	if m == nil {
		return
	}
	m.ProposalsExpired.Add(float64(n))
}
