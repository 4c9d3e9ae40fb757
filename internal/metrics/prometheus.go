package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for outbound audio frames.
const (
	DropNotOpen   = "not_open"
	DropQueueFull = "queue_full"
	DropClosing   = "closing"
)

// Metrics holds the streaming client's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ChunksProduced     prometheus.Counter
	FramesSent         prometheus.Counter
	FramesDropped      *prometheus.CounterVec
	BytesSent          prometheus.Counter
	MessagesReceived   prometheus.Counter
	TranscriptsDecoded *prometheus.CounterVec
	MalformedMessages  prometheus.Counter
	ConnectDuration    prometheus.Histogram
	ConnectFailures    *prometheus.CounterVec
	ConnectionState    *prometheus.GaugeVec
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// the binary and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksProduced: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_audio_chunks_produced_total",
			Help: "Audio chunks emitted by the capture device",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_realtime_frames_sent_total",
			Help: "Binary audio frames written to the realtime connection",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_realtime_frames_dropped_total",
			Help: "Audio frames dropped instead of sent",
		}, []string{"reason"}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_realtime_bytes_sent_total",
			Help: "Audio payload bytes written to the realtime connection",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_realtime_messages_received_total",
			Help: "Inbound messages read from the realtime connection",
		}),
		TranscriptsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_transcripts_decoded_total",
			Help: "Transcript events decoded from inbound messages",
		}, []string{"kind"}),
		MalformedMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_transcripts_malformed_total",
			Help: "Inbound messages that were not transcript envelopes",
		}),
		ConnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictate_realtime_connect_duration_seconds",
			Help:    "Time from dial to open on the realtime connection",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 10), // 25ms to ~13s
		}),
		ConnectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_realtime_connect_failures_total",
			Help: "Failed realtime connection attempts",
		}, []string{"cause"}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dictate_realtime_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordChunkProduced() {
	if m == nil {
		return
	}
	m.ChunksProduced.Inc()
}

func (m *Metrics) RecordFrameSent(size int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(size))
}

func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordMessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

func (m *Metrics) RecordTranscript(kind string) {
	if m == nil {
		return
	}
	m.TranscriptsDecoded.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.MalformedMessages.Inc()
}

func (m *Metrics) RecordConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordConnectFailure(cause string) {
	if m == nil {
		return
	}
	m.ConnectFailures.WithLabelValues(cause).Inc()
}

// SetState marks state as current and clears prev.
func (m *Metrics) SetState(prev, state string) {
	if m == nil {
		return
	}
	if prev != "" && prev != state {
		m.ConnectionState.WithLabelValues(prev).Set(0)
	}
	m.ConnectionState.WithLabelValues(state).Set(1)
}
