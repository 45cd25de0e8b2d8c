package prometheus

import (
	"context"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport"
	"github.com/grafana/metricexport/exposition"
	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/naming"
	"github.com/grafana/metricexport/stats"
	"github.com/prometheus/client_golang/prometheus"
)

var _ Endpoint = (*endpoint)(nil)

// Endpoint pushes meters to one ingest URL and keeps the same meters available for scraping.
//
// Start will start the senders.
//
// Stop will wait for queued payloads and unregister the endpoint metrics.
//
// Record exports the meters and stores them for the scrape handler.
//
// Handler serves the latest recorded values in the Prometheus exposition formats.
type Endpoint interface {
	Start(ctx context.Context)
	Stop()
	Record(ctx context.Context, meters []meter.Meter) error
	Handler() http.Handler
}

type endpoint struct {
	exporter *metricexport.Exporter
	registry *exposition.Registry
	stats    *PrometheusStats
	logger   log.Logger
}

// NewEndpoint wires an exporter and an exposition registry to a shared stats hub.
//
// Parameters:
// - name: identifier for the endpoint, this will add a label to the prometheus metrics named endpoint:<NAME>
// - cfg: exporter configuration, the scrape side uses the snake case convention regardless of cfg.Convention.
// - registerer: Prometheus registry to apply metrics to.
// - namespace: Namespace to use to add to the metric family names. IE `app` would make `app_export_network_sent`
// - logger: Logger for logging internal operations and errors.
func NewEndpoint(name string, cfg metricexport.Config, registerer prometheus.Registerer, namespace string, logger log.Logger) (Endpoint, error) {
	sh := stats.NewStats()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"endpoint": name}, registerer)
	ps := NewStats(namespace, "export", reg, sh)

	exp, err := metricexport.New(cfg, logger, sh)
	if err != nil {
		ps.Unregister()
		return nil, err
	}
	convention, err := naming.Cached(naming.Snake, 4096)
	if err != nil {
		ps.Unregister()
		return nil, err
	}
	return &endpoint{
		exporter: exp,
		registry: exposition.NewRegistry(convention, logger, sh.SendCollectorStats),
		stats:    ps,
		logger:   log.With(logger, "endpoint", name),
	}, nil
}

func (e *endpoint) Start(ctx context.Context) {
	e.exporter.Start(ctx)
}

func (e *endpoint) Stop() {
	e.exporter.Stop()
	e.stats.Unregister()
}

func (e *endpoint) Record(ctx context.Context, meters []meter.Meter) error {
	for _, m := range meters {
		e.registry.Record(m)
	}
	if err := e.exporter.Export(ctx, meters); err != nil {
		level.Error(e.logger).Log("msg", "failed to export meters", "err", err)
		return err
	}
	return nil
}

func (e *endpoint) Handler() http.Handler {
	return e.registry.Handler()
}
