// Package metrics exports parser activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gnssmux/internal/parser"
)

const namespace = "gnssmux"

type Metrics struct {
	reg prometheus.Registerer

	// MessagesTotal counts delivered messages by stream, protocol and identity.
	// Messages that failed their checksum are counted under id="invalid".
	MessagesTotal *prometheus.CounterVec
	// MessageBytes is the distribution of delivered message lengths
	MessageBytes *prometheus.HistogramVec
	// ChecksumErrorsTotal counts delivered messages whose checksum failed
	ChecksumErrorsTotal *prometheus.CounterVec
	// InvalidDataTotal counts abandoned messages
	InvalidDataTotal *prometheus.CounterVec
	// InvalidDataBytesTotal counts bytes of abandoned messages
	InvalidDataBytesTotal *prometheus.CounterVec
	// UnattributedBytesTotal counts bytes outside any message
	UnattributedBytesTotal *prometheus.CounterVec
}

// New registers the collectors with reg (prometheus.DefaultRegisterer if nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		MessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of framed messages delivered",
			},
			[]string{"stream", "protocol", "id"},
		),
		MessageBytes: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_bytes",
				Help:      "Length of delivered messages including framing",
				Buckets:   prometheus.ExponentialBuckets(8, 2, 10), // 8 .. 4096
			},
			[]string{"stream", "protocol"},
		),
		ChecksumErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checksum_errors_total",
				Help:      "Total number of delivered messages with a checksum or CRC mismatch",
			},
			[]string{"stream", "protocol"},
		),
		InvalidDataTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_data_total",
				Help:      "Total number of messages abandoned on a framing violation",
			},
			[]string{"stream"},
		),
		InvalidDataBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_data_bytes_total",
				Help:      "Total number of bytes in abandoned messages",
			},
			[]string{"stream"},
		),
		UnattributedBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unattributed_bytes_total",
				Help:      "Total number of bytes that did not start a known message",
			},
			[]string{"stream"},
		),
	}
}

// StreamStatus reports live connection state for one stream.
type StreamStatus func() (connected bool, bytesRead int64)

// RegisterStream exports connection state and bytes read for stream.
func (m *Metrics) RegisterStream(stream string, status StreamStatus) {
	labels := prometheus.Labels{"stream": stream}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "stream_connected",
		Help:        "Whether the stream source is connected (1) or not (0)",
		ConstLabels: labels,
	}, func() float64 {
		if ok, _ := status(); ok {
			return 1
		}
		return 0
	})
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "stream_read_bytes_total",
		Help:        "Total number of bytes read from the stream source",
		ConstLabels: labels,
	}, func() float64 {
		_, n := status()
		return float64(n)
	})
}

// Handler returns a parser.Handler that counts into m under stream.
func (m *Metrics) Handler(stream string) parser.Handler {
	l := prometheus.Labels{"stream": stream}
	return &handler{
		messages:     m.MessagesTotal.MustCurryWith(l),
		sizes:        m.MessageBytes.MustCurryWith(l),
		checksum:     m.ChecksumErrorsTotal.MustCurryWith(l),
		invalid:      m.InvalidDataTotal.With(l),
		invalidBytes: m.InvalidDataBytesTotal.With(l),
		unattributed: m.UnattributedBytesTotal.With(l),
	}
}

type handler struct {
	messages     *prometheus.CounterVec
	sizes        prometheus.ObserverVec
	checksum     *prometheus.CounterVec
	invalid      prometheus.Counter
	invalidBytes prometheus.Counter
	unattributed prometheus.Counter
}

// invalidID labels messages whose checksum failed. Their identity bytes are
// unverified and would otherwise grow the label set without bound.
const invalidID = "invalid"

func (h *handler) OnMessage(_ *parser.Parser, msg parser.Message) {
	proto := msg.Protocol.String()
	id := invalidID
	if msg.ChecksumOK {
		id = msg.Identity()
	}
	h.messages.WithLabelValues(proto, id).Inc()
	h.sizes.WithLabelValues(proto).Observe(float64(len(msg.Data)))
	if !msg.ChecksumOK {
		h.checksum.WithLabelValues(proto).Inc()
	}
}

func (h *handler) OnInvalidData(_ *parser.Parser, data []byte, _ int64) {
	h.invalid.Inc()
	h.invalidBytes.Add(float64(len(data)))
}

func (h *handler) OnUnattributed(*parser.Parser, byte, int64) {
	h.unattributed.Inc()
}
