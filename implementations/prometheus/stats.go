package prometheus

import (
	"sync/atomic"
	"time"

	"github.com/grafana/metricexport/types"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats turns the stats hub notifications into client_golang metrics.
type PrometheusStats struct {
	packedAt         atomic.Int64
	networkOut       atomic.Int64
	register         prometheus.Registerer
	stats            types.StatsHub
	packerRelease    types.NotificationRelease
	networkRelease   types.NotificationRelease
	collectorRelease types.NotificationRelease

	// Packer Stats
	PackerRecordsIn      prometheus.Counter
	PackerRecordsPacked  prometheus.Counter
	PackerRecordsDropped prometheus.Counter
	PackerBatches        prometheus.Counter
	PackerPayloadBytes   prometheus.Histogram
	NonFiniteDropped     prometheus.Counter
	UnregisteredDropped  prometheus.Counter

	// Network Stats
	NetworkRecordsSent               prometheus.Counter
	NetworkBatchesSent               prometheus.Counter
	NetworkFailures                  prometheus.Counter
	NetworkRetries                   prometheus.Counter
	NetworkRetries429                prometheus.Counter
	NetworkRetries5XX                prometheus.Counter
	NetworkSentDuration              prometheus.Histogram
	NetworkSentBytes                 prometheus.Counter
	NetworkNewestOutTimeStampSeconds prometheus.Gauge

	// Lag between the newest pack and the newest successful send.
	SendLagSeconds prometheus.Gauge

	// Collector Stats
	CollectorIdentities *prometheus.GaugeVec
	CollectorSamples    *prometheus.GaugeVec
	CollectDuration     prometheus.Histogram
}

func NewStats(namespace, subsystem string, registry prometheus.Registerer, sh types.StatsHub) *PrometheusStats {
	s := &PrometheusStats{
		stats:    sh,
		register: registry,
		PackerRecordsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packer_records_in_total",
			Help:      "Records handed to the packer.",
		}),
		PackerRecordsPacked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packer_records_packed_total",
		}),
		PackerRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packer_records_dropped_total",
			Help:      "Records larger than the payload budget.",
		}),
		PackerBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packer_batches_total",
		}),
		PackerPayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packer_payload_bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 8),
		}),
		NonFiniteDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "non_finite_dropped_total",
			Help:      "Measurements skipped because they were NaN or infinite.",
		}),
		UnregisteredDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "unregistered_dropped_total",
			Help:      "Series skipped because their custom metric definition could not be registered.",
		}),
		NetworkRecordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_sent",
		}),
		NetworkBatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_batches_sent",
		}),
		NetworkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_failed",
		}),
		NetworkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_retried",
		}),
		NetworkRetries429: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_retried_429",
		}),
		NetworkRetries5XX: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_retried_5xx",
		}),
		NetworkSentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                   namespace,
			Subsystem:                   subsystem,
			Name:                        "network_duration_seconds",
			NativeHistogramBucketFactor: 1.1,
		}),
		NetworkSentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_sent_bytes_total",
			Help:      "Bytes sent after compression.",
		}),
		NetworkNewestOutTimeStampSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "network_timestamp_seconds",
		}),
		SendLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_lag_seconds",
			Help:      "Seconds between the newest packed batch and the newest delivered batch.",
		}),
		CollectorIdentities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "collector_identities",
		}, []string{"collector"}),
		CollectorSamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "collector_samples",
		}, []string{"collector"}),
		CollectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                   namespace,
			Subsystem:                   subsystem,
			Name:                        "collect_duration_seconds",
			NativeHistogramBucketFactor: 1.1,
		}),
	}
	s.packerRelease = s.stats.RegisterPacker(s.UpdatePacker)
	s.networkRelease = s.stats.RegisterNetwork(s.UpdateNetwork)
	s.collectorRelease = s.stats.RegisterCollector(s.UpdateCollector)
	registry.MustRegister(s.collectors()...)
	return s
}

func (s *PrometheusStats) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		s.PackerRecordsIn,
		s.PackerRecordsPacked,
		s.PackerRecordsDropped,
		s.PackerBatches,
		s.PackerPayloadBytes,
		s.NonFiniteDropped,
		s.UnregisteredDropped,
		s.NetworkRecordsSent,
		s.NetworkBatchesSent,
		s.NetworkFailures,
		s.NetworkRetries,
		s.NetworkRetries429,
		s.NetworkRetries5XX,
		s.NetworkSentDuration,
		s.NetworkSentBytes,
		s.NetworkNewestOutTimeStampSeconds,
		s.SendLagSeconds,
		s.CollectorIdentities,
		s.CollectorSamples,
		s.CollectDuration,
	}
}

func (s *PrometheusStats) Unregister() {
	for _, g := range s.collectors() {
		s.register.Unregister(g)
	}
	s.packerRelease()
	s.networkRelease()
	s.collectorRelease()
}

func (s *PrometheusStats) UpdatePacker(stats types.PackerStats) {
	s.PackerRecordsIn.Add(float64(stats.RecordsIn))
	s.PackerRecordsPacked.Add(float64(stats.RecordsPacked))
	s.PackerRecordsDropped.Add(float64(stats.RecordsDropped))
	s.PackerBatches.Add(float64(stats.Batches))
	s.NonFiniteDropped.Add(float64(stats.NonFiniteDropped))
	s.UnregisteredDropped.Add(float64(stats.UnregisteredDropped))
	if stats.Batches > 0 {
		s.PackerPayloadBytes.Observe(float64(stats.PayloadBytes) / float64(stats.Batches))
		s.packedAt.Store(time.Now().Unix())
		s.updateLag()
	}
}

func (s *PrometheusStats) UpdateNetwork(stats types.NetworkStats) {
	s.NetworkRecordsSent.Add(float64(stats.TotalSent()))
	s.NetworkBatchesSent.Add(float64(stats.Batches.Sent))
	s.NetworkRetries.Add(float64(stats.TotalRetried()))
	s.NetworkFailures.Add(float64(stats.TotalFailed()))
	s.NetworkRetries429.Add(float64(stats.Total429()))
	s.NetworkRetries5XX.Add(float64(stats.Total5XX()))
	s.NetworkSentBytes.Add(float64(stats.BytesSent))
	if stats.SendDuration > 0 {
		s.NetworkSentDuration.Observe(stats.SendDuration.Seconds())
	}
	// The newest timestamp is not always sent.
	if stats.NewestTimestamp != 0 {
		s.networkOut.Store(stats.NewestTimestamp)
		s.updateLag()
		s.NetworkNewestOutTimeStampSeconds.Set(float64(stats.NewestTimestamp))
	}
}

func (s *PrometheusStats) UpdateCollector(stats types.CollectorStats) {
	s.CollectorIdentities.WithLabelValues(stats.Name).Set(float64(stats.Identities))
	s.CollectorSamples.WithLabelValues(stats.Name).Set(float64(stats.Samples))
	s.CollectDuration.Observe(stats.Duration.Seconds())
}

func (s *PrometheusStats) updateLag() {
	// We always want to ensure that we have real values, else there is a window where this can be
	// timestamp - 0 which gives a result in the years.
	packed, out := s.packedAt.Load(), s.networkOut.Load()
	if packed != 0 && out != 0 {
		lag := packed - out
		if lag < 0 {
			lag = 0
		}
		s.SendLagSeconds.Set(float64(lag))
	}
}
