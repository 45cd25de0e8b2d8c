// Package exposition keeps one collector per meter and renders their samples in the Prometheus exposition formats.
package exposition

import (
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport/collector"
	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/naming"
	"github.com/grafana/metricexport/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

var _ prometheus.Gatherer = (*Registry)(nil)

// Registry is safe for concurrent use. Record is expected from many goroutines and Gather from one scraper.
type Registry struct {
	mut        sync.RWMutex
	collectors map[string]*collector.Collector
	convention naming.Convention
	logger     log.Logger
	stats      func(types.CollectorStats)
}

// NewRegistry returns an empty registry. stats may be nil.
func NewRegistry(convention naming.Convention, logger log.Logger, stats func(types.CollectorStats)) *Registry {
	return &Registry{
		collectors: make(map[string]*collector.Collector),
		convention: convention,
		logger:     log.With(logger, "component", "exposition"),
		stats:      stats,
	}
}

// Collector returns the collector for a meter name, creating it on first use.
func (r *Registry) Collector(name, help string) *collector.Collector {
	r.mut.RLock()
	c, ok := r.collectors[name]
	r.mut.RUnlock()
	if ok {
		return c
	}

	r.mut.Lock()
	defer r.mut.Unlock()
	if c, ok = r.collectors[name]; ok {
		return c
	}
	opts := []collector.Option{collector.WithLogger(r.logger)}
	if r.stats != nil {
		opts = append(opts, collector.WithStats(r.stats))
	}
	c = collector.New(name, help, r.convention, opts...)
	r.collectors[name] = c
	return c
}

// Record reads the meter once and stores the finite measurements. It returns the number of non-finite
// measurements that were skipped, a meter with nothing finite leaves the registry untouched.
func (r *Registry) Record(m meter.Meter) int {
	obs, dropped := m.Observe()
	if len(obs) == 0 {
		return dropped
	}
	c := r.Collector(m.ID.Name, m.ID.Description)
	c.Add(m.ID.Tags, FamiliesFor(m.Type, obs, m.ID.Tags))
	return dropped
}

// Collect returns the flattened families of every collector, ordered by family name.
func (r *Registry) Collect() []types.Family {
	r.mut.RLock()
	cs := make([]*collector.Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		cs = append(cs, c)
	}
	r.mut.RUnlock()

	out := make([]types.Family, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Collect()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Gather implements prometheus.Gatherer. Samples are grouped into metric families by sample name since the
// text format takes the metric name from the family.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	byName := make(map[string]*dto.MetricFamily)
	for _, f := range r.Collect() {
		for _, s := range f.Samples {
			mf, ok := byName[s.Name]
			if !ok {
				mf = &dto.MetricFamily{
					Name: ptr(s.Name),
					Type: ptr(metricType(f.Kind)),
				}
				if f.Help != "" {
					mf.Help = ptr(f.Help)
				}
				byName[s.Name] = mf
			} else if mf.GetType() != metricType(f.Kind) {
				level.Warn(r.logger).Log("msg", "skipping sample with conflicting type", "name", s.Name, "kind", f.Kind.String())
				continue
			}
			mf.Metric = append(mf.Metric, toMetric(mf.GetType(), s))
		}
	}
	out := make([]*dto.MetricFamily, 0, len(byName))
	for _, mf := range byName {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GetName() < out[j].GetName()
	})
	return out, nil
}

// WriteText renders every family in the text exposition format.
func (r *Registry) WriteText(w io.Writer) error {
	mfs, err := r.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry with content negotiation.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r, promhttp.HandlerOpts{})
}

// metricType maps a family kind to the type of its samples. Summary and histogram families are flattened
// into _count, _sum and bucket samples, those are exposed untyped.
func metricType(k types.Kind) dto.MetricType {
	switch k {
	case types.Counter:
		return dto.MetricType_COUNTER
	case types.Gauge:
		return dto.MetricType_GAUGE
	default:
		return dto.MetricType_UNTYPED
	}
}

func toMetric(t dto.MetricType, s types.Sample) *dto.Metric {
	m := &dto.Metric{
		Label: make([]*dto.LabelPair, len(s.TagKeys)),
	}
	for i := range s.TagKeys {
		m.Label[i] = &dto.LabelPair{Name: ptr(s.TagKeys[i]), Value: ptr(s.TagValues[i])}
	}
	v := s.Value
	switch t {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: &v}
	case dto.MetricType_GAUGE:
		m.Gauge = &dto.Gauge{Value: &v}
	default:
		m.Untyped = &dto.Untyped{Value: &v}
	}
	return m
}

func ptr[T any](v T) *T {
	return &v
}
