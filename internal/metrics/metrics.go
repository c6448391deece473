// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Acquisition metrics
	FramesDecodedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_frames_decoded_total",
		Help: "Total number of meter frames decoded into readings",
	})
	FrameErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_frame_errors_total",
		Help: "Total number of meter frames dropped as malformed",
	})
	FrameResyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_frame_resyncs_total",
		Help: "Total number of unterminated frames discarded after exceeding the pending buffer",
	})
	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_decode_errors_total",
		Help: "Total number of register payloads that could not be fully decoded",
	})
	ReadingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "instrument_readings_total",
		Help: "Total number of readings by channel",
	}, []string{"channel"})

	// Scheduler metrics
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_poll_cycles_total",
		Help: "Total number of polling cycles run",
	})
	CycleErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instrument_poll_cycle_errors_total",
		Help: "Total number of polling cycles that failed and were retried",
	})
	CycleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "instrument_poll_cycle_duration_seconds",
		Help:    "Duration of polling cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "instrument_session_state",
		Help: "1 for the current scheduler state, 0 otherwise",
	}, []string{"state"})

	// Sink metrics
	SinkRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "instrument_sink_records_total",
		Help: "Total number of rows written per sink",
	}, []string{"sink"})
	SinkErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "instrument_sink_errors_total",
		Help: "Total number of rows a sink failed to write",
	}, []string{"sink"})
	SinkColumns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "instrument_sink_columns",
		Help: "Number of numeric columns in a relational sink table",
	}, []string{"table"})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all collectors with the default registry
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FramesDecodedTotal,
			FrameErrorsTotal,
			FrameResyncsTotal,
			DecodeErrorsTotal,
			ReadingsTotal,
			CyclesTotal,
			CycleErrorsTotal,
			CycleDurationSeconds,
			SessionState,
			SinkRecordsTotal,
			SinkErrorsTotal,
			SinkColumns,
		)
	})
}

// SetState marks state as the current scheduler state
func SetState(current string, all ...string) {
	for _, s := range all {
		SessionState.WithLabelValues(s).Set(0)
	}
	SessionState.WithLabelValues(current).Set(1)
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
