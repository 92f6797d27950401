// Package metrics holds the Prometheus instruments of the relay.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lukasbauer/confrelay/internal/audio"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	registry *prometheus.Registry

	// Playback pacing
	FramesPaced     *prometheus.CounterVec
	BufferUnderruns prometheus.Counter

	// Realtime sessions
	ActiveSessions prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	RealtimeEvents *prometheus.CounterVec
	BargeIns       prometheus.Counter

	// Transcription
	ChunksSubmitted       prometheus.Counter
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram
	TranscriptionResults  *prometheus.CounterVec

	// Media gateway
	MediaFramesIn  prometheus.Counter
	MediaFramesOut prometheus.Counter
}

// New creates all metrics and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		FramesPaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confrelay_playback_frames_total",
			Help: "Frames emitted by the playback pacer, by read status",
		}, []string{"status"}),
		BufferUnderruns: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_playback_underruns_total",
			Help: "Frames padded with silence because the playback buffer ran short",
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "confrelay_active_sessions",
			Help: "Current number of relay sessions",
		}),
		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confrelay_sessions_total",
			Help: "Relay sessions ended, by final realtime state",
		}, []string{"state"}),
		RealtimeEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confrelay_realtime_state_changes_total",
			Help: "Realtime session state transitions",
		}, []string{"state"}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_barge_ins_total",
			Help: "Playback flushes caused by caller speech",
		}),

		ChunksSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_transcription_chunks_total",
			Help: "Audio chunks submitted for transcription",
		}),
		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_transcription_requests_total",
			Help: "Streaming recognition calls completed",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_transcription_failures_total",
			Help: "Streaming recognition calls that failed",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "confrelay_transcription_duration_seconds",
			Help:    "Duration of streaming recognition calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "confrelay_transcription_results_total",
			Help: "Transcription results emitted, by finality",
		}, []string{"final"}),

		MediaFramesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_media_frames_in_total",
			Help: "Room audio frames received from the media gateway",
		}),
		MediaFramesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "confrelay_media_frames_out_total",
			Help: "Paced bot audio frames sent to the media gateway",
		}),
	}
}

// Registry returns the registry holding every instrument.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFrame implements audio.Observer.
func (m *Metrics) ObserveFrame(status audio.ReadStatus) {
	m.FramesPaced.WithLabelValues(status.String()).Inc()
	if status != audio.ReadFull {
		m.BufferUnderruns.Inc()
	}
}

// ObserveChunks implements stt.Observer.
func (m *Metrics) ObserveChunks(n int) {
	m.ChunksSubmitted.Add(float64(n))
}

// ObserveTranscription implements stt.Observer.
func (m *Metrics) ObserveTranscription(elapsed time.Duration, err error) {
	m.TranscriptionRequests.Inc()
	if err != nil {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(elapsed.Seconds())
}

// ObserveResult implements stt.Observer.
func (m *Metrics) ObserveResult(final bool) {
	if final {
		m.TranscriptionResults.WithLabelValues("true").Inc()
		return
	}
	m.TranscriptionResults.WithLabelValues("false").Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the gauge and records the final state.
func (m *Metrics) SessionEnded(state string) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
}

// RecordStateChange counts a realtime state transition.
func (m *Metrics) RecordStateChange(state string) {
	m.RealtimeEvents.WithLabelValues(state).Inc()
}

// RecordBargeIn counts a playback flush.
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}
