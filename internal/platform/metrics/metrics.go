// Package metrics exposes prometheus instruments for the generation
// pipeline and adapters that feed them from registry, executor, quota and
// event hooks.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/phrazzld/shotstudio/internal/domain"
	"github.com/phrazzld/shotstudio/internal/events"
	"github.com/phrazzld/shotstudio/internal/quota"
	"github.com/phrazzld/shotstudio/internal/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shotstudio"

// Metrics holds every instrument. Create one per registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	TasksSubmitted    *prometheus.CounterVec
	SlotTransitions   *prometheus.CounterVec
	SlotDuration      *prometheus.HistogramVec
	Reveals           *prometheus.CounterVec
	RevealLatency     *prometheus.HistogramVec
	TasksFinalized    *prometheus.CounterVec
	ImagesRefunded    *prometheus.CounterVec
	QuotaOperations   *prometheus.CounterVec
	RecoveryDecisions *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

// New registers the instruments on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		TasksSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tasks_submitted_total",
			Help:      "Generation tasks accepted, by task type.",
		}, []string{"task_type"}),

		SlotTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "slot_transitions_total",
			Help:      "Applied slot status steps, by target status.",
		}, []string{"status"}),

		SlotDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "slot_duration_seconds",
			Help:      "Time from submission to terminal status per slot.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 150, 180},
		}, []string{"task_type", "status"}),

		Reveals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "reveals_total",
			Help:      "Tasks that produced at least one image.",
		}, []string{"task_type"}),

		RevealLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "reveal_latency_seconds",
			Help:      "Time from run start to the first completed image.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 150},
		}, []string{"task_type"}),

		TasksFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "tasks_finalized_total",
			Help:      "Finalized tasks, by task type and terminal status.",
		}, []string{"task_type", "status"}),

		ImagesRefunded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "images_refunded_total",
			Help:      "Quota units returned for undelivered images.",
		}, []string{"task_type"}),

		QuotaOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "operations_total",
			Help:      "Quota protocol calls, by operation and outcome.",
		}, []string{"op", "outcome"}),

		RecoveryDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "decisions_total",
			Help:      "Recovery decisions, by resulting mode and source.",
		}, []string{"mode", "source"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Submissions rejected by the per-session rate limit.",
		}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSlot is a registry.SlotObserver.
func (m *Metrics) ObserveSlot(_ string, _ int, status domain.SlotStatus) {
	m.SlotTransitions.WithLabelValues(string(status)).Inc()
}

// SlotDone is an executor.SlotDoneFunc.
func (m *Metrics) SlotDone(taskType domain.TaskType, status domain.SlotStatus, elapsed time.Duration) {
	m.SlotDuration.WithLabelValues(string(taskType), string(status)).Observe(elapsed.Seconds())
}

// QuotaResult is a quota.Protocol result hook.
func (m *Metrics) QuotaResult(r quota.Result) {
	outcome := "ok"
	switch {
	case r.Err != nil:
		outcome = "error"
	case r.Skipped:
		outcome = "skipped"
	}
	m.QuotaOperations.WithLabelValues(string(r.Op), outcome).Inc()
}

// RecoveryDecision counts one recovery outcome.
func (m *Metrics) RecoveryDecision(d recovery.Decision) {
	source := "none"
	switch {
	case d.Rehydrated:
		source = "datastore"
	case d.Task != nil:
		source = "memory"
	}
	m.RecoveryDecisions.WithLabelValues(string(d.Mode), source).Inc()
}

// HandleEvent implements events.EventHandler.
func (m *Metrics) HandleEvent(_ context.Context, event *events.GenerationEvent) error {
	switch event.Type {
	case events.TypeSubmitted:
		var p events.SubmittedPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.TasksSubmitted.WithLabelValues(p.TaskType).Inc()
	case events.TypeRevealed:
		var p events.RevealedPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.Reveals.WithLabelValues(p.TaskType).Inc()
		m.RevealLatency.WithLabelValues(p.TaskType).Observe(float64(p.LatencyMs) / 1000)
	case events.TypeFinalized:
		var p events.FinalizedPayload
		if err := event.UnmarshalPayload(&p); err != nil {
			return err
		}
		m.TasksFinalized.WithLabelValues(p.TaskType, p.Status).Inc()
		if p.Refunded > 0 {
			m.ImagesRefunded.WithLabelValues(p.TaskType).Add(float64(p.Refunded))
		}
	}
	return nil
}

var _ events.EventHandler = (*Metrics)(nil)
