// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sensing loop
	LoopTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_loop_tick_duration_seconds",
			Help:    "Duration of one sensing loop tick, including any capture session",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60},
		},
	)

	FramesCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_frames_total",
			Help: "Frames requested from the camera by outcome",
		},
		[]string{"outcome"}, // "ok", "failed"
	)

	FacesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_faces_classified_total",
			Help: "Detected faces by classification",
		},
		[]string{"class"}, // "known", "unknown", "duplicate"
	)

	DetectionEnabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_detection_enabled",
			Help: "1 when the sensing loop is processing frames",
		},
	)

	// Candidates
	CandidatesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_candidates_created_total",
			Help: "Unknown candidates admitted for capture",
		},
	)

	CandidatesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_candidates_finished_total",
			Help: "Candidates leaving the pipeline by outcome",
		},
		[]string{"outcome"}, // "promoted", "discarded", "too_few_images", "dropped", "rejected"
	)

	ReviewQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_review_queue_depth",
			Help: "Candidates waiting behind the one under review",
		},
	)

	LiveBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_live_unknown_buffer_size",
			Help: "Target embeddings of candidates still in flight",
		},
	)

	// Review channel
	NoticesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notices_total",
			Help: "Outbound review channel messages by kind and result",
		},
		[]string{"kind", "result"}, // kind: "known", "review", "reply"; result: "ok", "error"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_circuit_breaker_state",
			Help: "Outbound circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	ReviewRepliesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_review_replies_total",
			Help: "Inbound reviewer messages by interpretation",
		},
		[]string{"kind"},
	)

	// Enrollment
	EnrollmentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_enrollment_duration_seconds",
			Help:    "Time from trigger to confirmed embeddings",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
		[]string{"outcome"},
	)

	StoreReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_store_reloads_total",
			Help: "Embedding store reloads by result",
		},
		[]string{"result"},
	)
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
