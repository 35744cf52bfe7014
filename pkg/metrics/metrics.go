// Package metrics exposes the worker's Prometheus instrumentation:
// tick duration, LLM call volume, and promotion outcomes. Carried as
// an ambient concern regardless of spec Non-goals, the same way the
// teacher wires prometheus into a long-running daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Autotune worker's metric collectors on their own
// prometheus.Registry rather than the global DefaultRegisterer, so
// tests can build a fresh one per case without collisions.
type Registry struct {
	reg *prometheus.Registry

	TickDuration    *prometheus.HistogramVec
	TickOutcomes    *prometheus.CounterVec
	LLMCallsTotal   *prometheus.CounterVec
	RateLimitEvents prometheus.Counter
	PromotionsTotal *prometheus.CounterVec
	ActivePhase     *prometheus.GaugeVec
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autotune",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one worker Tick call, by resulting phase.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		TickOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotune",
			Name:      "tick_outcomes_total",
			Help:      "Count of Tick outcomes by result (progressed, waited, errored).",
		}, []string{"outcome"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotune",
			Name:      "llm_calls_total",
			Help:      "Count of LLM generate calls, labelled by the loop phase that made them.",
		}, []string{"purpose"}),
		RateLimitEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autotune",
			Name:      "rate_limit_events_total",
			Help:      "Count of LLM calls refused because the per-tick call budget was exhausted.",
		}),
		PromotionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autotune",
			Name:      "promotions_total",
			Help:      "Count of promotion decisions by outcome (promoted, rejected).",
		}, []string{"outcome"}),
		ActivePhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autotune",
			Name:      "loop_phase",
			Help:      "1 for the loop's current phase, 0 for all others.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		r.TickDuration,
		r.TickOutcomes,
		r.LLMCallsTotal,
		r.RateLimitEvents,
		r.PromotionsTotal,
		r.ActivePhase,
	)
	return r
}

// Handler returns the http.Handler that serves this registry's metrics
// in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObservePhase zeroes every known phase gauge and sets only the
// current one to 1, so a dashboard's "current phase" panel never shows
// two phases active at once after a restart relabels the set.
func (r *Registry) ObservePhase(phases []string, current string) {
	for _, p := range phases {
		if p == current {
			r.ActivePhase.WithLabelValues(p).Set(1)
		} else {
			r.ActivePhase.WithLabelValues(p).Set(0)
		}
	}
}

// RecordPromotion records one promotion decision's outcome.
func (r *Registry) RecordPromotion(promoted bool) {
	if promoted {
		r.PromotionsTotal.WithLabelValues("promoted").Inc()
		return
	}
	r.PromotionsTotal.WithLabelValues("rejected").Inc()
}
