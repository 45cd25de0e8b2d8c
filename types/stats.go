package types

import (
	"time"
)

// StatsHub allows types to register to receive stats and to also send stats to fanout to receivers.
type StatsHub interface {
	SendPackerStats(PackerStats)
	SendNetworkStats(NetworkStats)
	SendCollectorStats(CollectorStats)

	RegisterPacker(func(PackerStats)) NotificationRelease
	RegisterNetwork(func(NetworkStats)) NotificationRelease
	RegisterCollector(func(CollectorStats)) NotificationRelease
}

type NotificationRelease func()

// PackerStats describes a single pack call.
type PackerStats struct {
	Group          string
	RecordsIn      int
	RecordsPacked  int
	RecordsDropped int
	Batches        int
	PayloadBytes   int
	// NonFiniteDropped is filled in by the exporter, the packer never sees those values.
	NonFiniteDropped int
	// UnregisteredDropped counts records whose metric definition could not be registered, filled in by the exporter.
	UnregisteredDropped int
}

// CollectorStats describes a single collect call.
type CollectorStats struct {
	Name       string
	Identities int
	Families   int
	Samples    int
	Duration   time.Duration
}

type NetworkStats struct {
	Batches         CategoryStats
	Records         CategoryStats
	SendDuration    time.Duration
	BytesSent       int
	NewestTimestamp int64
}

func (ns NetworkStats) TotalSent() int {
	return ns.Records.Sent
}

func (ns NetworkStats) TotalRetried() int {
	return ns.Records.Retried
}

func (ns NetworkStats) TotalFailed() int {
	return ns.Records.Failed + ns.Records.NetworkFailed
}

func (ns NetworkStats) Total429() int {
	return ns.Records.Retried429
}

func (ns NetworkStats) Total5XX() int {
	return ns.Records.Retried5XX
}

type CategoryStats struct {
	Retried       int
	Retried429    int
	Retried5XX    int
	Sent          int
	Failed        int
	NetworkFailed int
}
