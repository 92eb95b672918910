// Package metrics exposes Prometheus collectors for the market stream.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketstream"

// Metrics holds all collectors registered by the stream.
type Metrics struct {
	EventsObserved    *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	DecodeFailures    prometheus.Counter
	PollFailures      prometheus.Counter
	ChunkFailures     *prometheus.CounterVec
	Watermark         prometheus.Gauge
	LedgerSize        prometheus.Gauge
	FeedDrops         *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	ArchiveFailures   prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsObserved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "Newly observed events by type and discovery path",
		}, []string{"event_type", "source"}),
		DuplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_skipped_total",
			Help:      "Logs dropped because their event id was already observed",
		}, []string{"source"}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Logs that could not be decoded against the contract ABI",
		}),
		PollFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Poll ticks that failed to read the chain head",
		}),
		ChunkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Block range chunks whose log fetch failed",
		}, []string{"source"}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_checked_block",
			Help:      "Highest block fully processed by the live poller",
		}),
		LedgerSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_size",
			Help:      "Number of event ids in the deduplication ledger",
		}),
		FeedDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_drops_total",
			Help:      "Events not delivered to a slow feed subscriber",
		}, []string{"scope"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to sinks by outcome",
		}, []string{"sink", "outcome"}),
		ArchiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Event batches the archive sink failed to store",
		}),
	}
}

func (m *Metrics) ObserveEvent(eventType, source string) {
	if m == nil {
		return
	}
	m.EventsObserved.WithLabelValues(eventType, source).Inc()
}

func (m *Metrics) ObserveDuplicate(source string) {
	if m == nil {
		return
	}
	m.DuplicatesSkipped.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveDecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

func (m *Metrics) ObservePollFailure() {
	if m == nil {
		return
	}
	m.PollFailures.Inc()
}

func (m *Metrics) ObserveChunkFailure(source string) {
	if m == nil {
		return
	}
	m.ChunkFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) SetWatermark(block uint64) {
	if m == nil {
		return
	}
	m.Watermark.Set(float64(block))
}

func (m *Metrics) SetLedgerSize(size int) {
	if m == nil {
		return
	}
	m.LedgerSize.Set(float64(size))
}

func (m *Metrics) ObserveFeedDrop(scope string) {
	if m == nil {
		return
	}
	m.FeedDrops.WithLabelValues(scope).Inc()
}

func (m *Metrics) ObserveNotification(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.Notifications.WithLabelValues(sink, outcome).Inc()
}

// ObserveNotificationDrop counts a notification discarded because the sink queue was full.
func (m *Metrics) ObserveNotificationDrop(sink string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(sink, "dropped").Inc()
}

func (m *Metrics) ObserveArchiveFailure() {
	if m == nil {
		return
	}
	m.ArchiveFailures.Inc()
}
