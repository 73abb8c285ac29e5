// Package metrics exposes Prometheus collectors for the relay service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livecam"

// Metrics holds Prometheus counters and gauges for the relay service.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	registry       *prometheus.Registry
	rotationsTotal *prometheus.CounterVec
	crashesTotal   prometheus.Counter
	restartsTotal  *prometheus.CounterVec
	apiCallsTotal  *prometheus.CounterVec
	relayState     *prometheus.GaugeVec
	phase          *prometheus.GaugeVec
	sessionOrdinal prometheus.Gauge
	standby        prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		rotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Broadcast rotations by outcome",
		}, []string{"outcome"}),
		crashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_crashes_total",
			Help:      "Relay processes that exited unexpectedly",
		}),
		restartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_restarts_total",
			Help:      "Relay restarts after a crash by outcome",
		}, []string{"outcome"}),
		apiCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "platform_calls_total",
			Help:      "Broadcast platform calls by operation and outcome",
		}, []string{"op", "outcome"}),
		relayState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_state",
			Help:      "Current relay state (1 for the active state)",
		}, []string{"state"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current orchestrator phase (1 for the active phase)",
		}, []string{"phase"}),
		sessionOrdinal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_ordinal",
			Help:      "Number of broadcasts started since launch",
		}),
		standby: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "standby",
			Help:      "1 while waiting in standby after exhausted retries",
		}),
	}

	registry.MustRegister(
		m.rotationsTotal,
		m.crashesTotal,
		m.restartsTotal,
		m.apiCallsTotal,
		m.relayState,
		m.phase,
		m.sessionOrdinal,
		m.standby,
	)
	return m
}

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// ObserveRotation counts a finished rotation.
func (m *Metrics) ObserveRotation(err error) {
	if m == nil {
		return
	}
	m.rotationsTotal.WithLabelValues(outcome(err)).Inc()
}

// IncCrashes increments the relay crash counter.
func (m *Metrics) IncCrashes() {
	if m == nil {
		return
	}
	m.crashesTotal.Inc()
}

// ObserveRestart counts a crash restart attempt.
func (m *Metrics) ObserveRestart(err error) {
	if m == nil {
		return
	}
	m.restartsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveAPICall counts one platform call attempt.
func (m *Metrics) ObserveAPICall(op string, err error) {
	if m == nil {
		return
	}
	m.apiCallsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// SetRelayState marks state as the active relay state.
func (m *Metrics) SetRelayState(state string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.relayState, state, all)
}

// SetPhase marks phase as the active orchestrator phase.
func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	setOneHot(m.phase, phase, all)
}

// SetSessionOrdinal sets the session ordinal gauge.
func (m *Metrics) SetSessionOrdinal(n int) {
	if m == nil {
		return
	}
	m.sessionOrdinal.Set(float64(n))
}

// SetStandby sets the standby gauge.
func (m *Metrics) SetStandby(active bool) {
	if m == nil {
		return
	}
	if active {
		m.standby.Set(1)
		return
	}
	m.standby.Set(0)
}

func setOneHot(g *prometheus.GaugeVec, current string, all []string) {
	for _, v := range all {
		g.WithLabelValues(v).Set(0)
	}
	g.WithLabelValues(current).Set(1)
}

// Handler returns an http.Handler that serves the registry.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
