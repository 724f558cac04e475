package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic
	FramesReceived  *prometheus.CounterVec
	FramesProcessed *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	Detections      *prometheus.CounterVec

	// Latency: inference per frame and detection-to-command for preemptions
	InferenceDuration prometheus.Histogram
	PreemptLatency    prometheus.Histogram

	// Preemption
	SignalChanges   *prometheus.CounterVec
	EmergencyActive *prometheus.GaugeVec

	// Traffic controller bus
	PublishFailures     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	SnapshotBuffer prometheus.Gauge
}

// New registers the collectors on reg. A nil reg gets a private registry
// so tests and tools can use Metrics without exposing it.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_frames_received_total",
			Help: "Frames received from cameras.",
		}, []string{"camera"}),

		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_frames_processed_total",
			Help: "Frames that went through inference.",
		}, []string{"camera"}),

		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_frames_dropped_total",
			Help: "Frames skipped because the processing queue was full.",
		}, []string{"camera"}),

		Detections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_detections_total",
			Help: "Emergency vehicle detections above the confidence threshold.",
		}, []string{"camera"}),

		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evdetect_inference_duration_seconds",
			Help:    "Time spent detecting on one frame.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		PreemptLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "evdetect_preemption_latency_seconds",
			Help:    "Time from frame arrival to the GREEN command being issued.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 3, 5, 10},
		}),

		SignalChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_signal_changes_total",
			Help: "Emergency protocol activations.",
		}, []string{"intersection"}),

		EmergencyActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evdetect_emergency_active",
			Help: "1 while an intersection holds GREEN for an emergency vehicle.",
		}, []string{"intersection"}),

		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "evdetect_signal_publish_failures_total",
			Help: "Signal commands that could not be delivered.",
		}, []string{"intersection"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evdetect_circuit_breaker_state",
			Help: "Signal bus breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		SnapshotBuffer: f.NewGauge(prometheus.GaugeOpts{
			Name: "evdetect_snapshot_buffer_size",
			Help: "Snapshots waiting to be flushed.",
		}),
	}
}
