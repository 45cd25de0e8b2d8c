package metricexport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport/batch"
	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/naming"
	"github.com/grafana/metricexport/network"
	"github.com/grafana/metricexport/series"
	"github.com/grafana/metricexport/types"
	"go.uber.org/atomic"
)

// DefaultPayloadType is written into the header of every payload when Config.PayloadType is empty.
const DefaultPayloadType = "metrics"

// Config configures an Exporter.
type Config struct {
	Connection types.ConnectionConfig
	// PayloadType is the "type" field of every payload header.
	PayloadType string
	// Prefix is prepended to every timeseries id, series.DefaultPrefix when empty.
	Prefix string
	// Convention converts meter names and tag keys, naming.Dot when nil.
	Convention naming.Convention
	// Connections is the number of concurrent senders.
	Connections int
	// QueueCapacity bounds the number of batches waiting to be sent, zero is unbounded.
	QueueCapacity int
	// Types is the technology type list sent with custom metric definitions, series.DefaultTypes when empty.
	Types []string
	// Now is used to timestamp data points, time.Now when nil.
	Now func() time.Time
}

// Exporter renders meters into JSON series, packs them into byte budgeted payloads and hands those to the
// network senders.
type Exporter struct {
	writer   series.Writer
	framing  batch.SeriesFraming
	network  *network.Manager
	hub      types.StatsHub
	logger   log.Logger
	maxBytes atomic.Int64
	now      func() time.Time
}

func New(cfg Config, logger log.Logger, hub types.StatsHub) (*Exporter, error) {
	if hub == nil {
		return nil, errors.New("stats hub must be set")
	}
	logger = log.With(logger, "component", "exporter")
	mgr, err := network.NewManager(cfg.Connection, cfg.Connections, cfg.QueueCapacity, logger, hub)
	if err != nil {
		return nil, fmt.Errorf("creating network client: %w", err)
	}
	payloadType := cfg.PayloadType
	if payloadType == "" {
		payloadType = DefaultPayloadType
	}
	e := &Exporter{
		writer:  series.Writer{Convention: cfg.Convention, Prefix: cfg.Prefix, Types: cfg.Types},
		framing: batch.SeriesFraming{Type: payloadType},
		network: mgr,
		hub:     hub,
		logger:  logger,
		now:     cfg.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.maxBytes.Store(int64(maxBytes(cfg.Connection)))
	return e, nil
}

func maxBytes(cc types.ConnectionConfig) int {
	if cc.MaxBatchBytes > 0 {
		return cc.MaxBatchBytes
	}
	return batch.DefaultMaxBytes
}

func (e *Exporter) Start(ctx context.Context) {
	e.network.Start(ctx)
}

// Stop waits for every queued payload to be sent or given up on. An Export running during or after Stop
// returns an error wrapping types.ErrMailboxClosed for the batches it could not queue.
func (e *Exporter) Stop() {
	e.network.DrainStop()
}

// Export reads every meter once and queues the resulting payloads. Payloads are grouped by meter type and
// records within a group keep the order of meters. Non-finite measurements, series of metrics that could not be
// registered and records that can never fit a payload are skipped and reported through the stats hub.
func (e *Exporter) Export(ctx context.Context, meters []meter.Meter) error {
	groups, nonFinite := e.writer.Records(meters, e.now())
	limit := int(e.maxBytes.Load())
	if len(groups) == 0 && nonFinite > 0 {
		e.hub.SendPackerStats(types.PackerStats{NonFiniteDropped: nonFinite})
	}
	for i, g := range groups {
		records, unregistered := e.registered(ctx, g)
		batches, st := batch.PackWithStats(e.framing, g.Label, records, limit)
		st.UnregisteredDropped = unregistered
		if i == 0 {
			st.NonFiniteDropped = nonFinite
		}
		e.hub.SendPackerStats(st)
		if st.RecordsDropped > 0 {
			level.Warn(e.logger).Log("msg", "dropped records larger than the payload limit", "group", g.Label, "count", st.RecordsDropped, "limit", limit)
		}
		for _, b := range batches {
			if err := e.network.Enqueue(ctx, b); err != nil {
				return fmt.Errorf("enqueue batch for group %s: %w", g.Label, err)
			}
		}
	}
	level.Debug(e.logger).Log("msg", "export queued", "meters", len(meters), "groups", len(groups), "queue_len", e.network.QueueLen())
	return nil
}

// registered makes sure every metric of g is defined and returns the records of those that are. The second
// result is the number of records left out.
func (e *Exporter) registered(ctx context.Context, g series.Group) ([]types.Record, int) {
	var failed map[string]struct{}
	for _, def := range g.Definitions {
		if err := e.network.EnsureMetric(ctx, def); err != nil {
			level.Warn(e.logger).Log("msg", "failed to register custom metric, dropping its series", "id", def.ID, "err", err)
			if failed == nil {
				failed = make(map[string]struct{})
			}
			failed[def.ID] = struct{}{}
		}
	}
	if len(failed) == 0 {
		return g.Records, 0
	}
	out := make([]types.Record, 0, len(g.Records))
	for i, r := range g.Records {
		if _, ok := failed[g.IDs[i]]; ok {
			continue
		}
		out = append(out, r)
	}
	return out, len(g.Records) - len(out)
}

// UpdateConfig applies new connection settings, a changed MaxBatchBytes takes effect on the next Export.
func (e *Exporter) UpdateConfig(ctx context.Context, cc types.ConnectionConfig) (bool, error) {
	changed, err := e.network.UpdateConfig(ctx, cc)
	if err != nil {
		return false, err
	}
	if changed {
		e.maxBytes.Store(int64(maxBytes(cc)))
	}
	return changed, nil
}
