// Package metrics exposes the request handler's Prometheus counters:
// tasks by terminal state, narrations emitted, and artifact bytes
// streamed.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Handler holds the counters the Request Handler increments as it
// drives a request through the three-stage pipeline.
type Handler struct {
	TasksTotal       *prometheus.CounterVec
	NarrationsTotal  prometheus.Counter
	ArtifactBytes    prometheus.Counter
	DirectReplyTotal prometheus.Counter
}

// NewHandler registers and returns the handler's counters against reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// global default registry across parallel test packages.
func NewHandler(reg prometheus.Registerer) *Handler {
	h := &Handler{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "a2aengine",
			Name:      "tasks_total",
			Help:      "Tasks reaching a terminal state, labeled by final status.",
		}, []string{"status"}),
		NarrationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "a2aengine",
			Name:      "narrations_total",
			Help:      "Status narrations persisted by the Status Narrator.",
		}),
		ArtifactBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "a2aengine",
			Name:      "artifact_bytes_total",
			Help:      "Total bytes of finalized artifact content persisted.",
		}),
		DirectReplyTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "a2aengine",
			Name:      "direct_reply_total",
			Help:      "Stage 1 routing calls answered without creating a task.",
		}),
	}
	if reg != nil {
		reg.MustRegister(h.TasksTotal, h.NarrationsTotal, h.ArtifactBytes, h.DirectReplyTotal)
	}
	return h
}

// Noop returns a Handler whose counters are never registered against
// any registry, safe to use when the caller has no metrics backend.
func Noop() *Handler {
	return NewHandler(nil)
}
