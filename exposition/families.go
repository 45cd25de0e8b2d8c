package exposition

import (
	"strings"

	"github.com/grafana/metricexport/collector"
	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/types"
)

// StatisticTagKey is appended to the tag keys of meters without a known shape.
const StatisticTagKey = "statistic"

// FamiliesFor returns the producer that turns one read of a meter into sample families. obs must only hold finite
// values and tags must be the meter tags the collector converts into tag keys.
func FamiliesFor(t meter.Type, obs []meter.Observed, tags []types.Tag) collector.FamilyFunc {
	values := make([]string, len(tags))
	for i, tg := range tags {
		values[i] = tg.Value
	}
	return func(name string, keys []string) []types.Family {
		sample := func(sampleName string, v float64) types.Sample {
			return types.Sample{Name: sampleName, TagKeys: keys, TagValues: values, Value: v}
		}
		switch t {
		case meter.Counter:
			v, ok := meter.Lookup(obs, meter.Count)
			if !ok {
				return nil
			}
			return []types.Family{types.NewFamily(types.Counter, name, sample(counterName(name), v))}
		case meter.Gauge:
			v, ok := meter.Lookup(obs, meter.Value)
			if !ok {
				return nil
			}
			return []types.Family{types.NewFamily(types.Gauge, name, sample(name, v))}
		case meter.Timer, meter.DistributionSummary:
			return summaryFamilies(name, obs, sample)
		default:
			return untypedFamilies(name, keys, values, obs)
		}
	}
}

func summaryFamilies(name string, obs []meter.Observed, sample func(string, float64) types.Sample) []types.Family {
	var out []types.Family
	summary := types.NewFamily(types.Summary, name)
	if v, ok := meter.Lookup(obs, meter.Count); ok {
		summary.Samples = append(summary.Samples, sample(name+"_count", v))
	}
	total, ok := meter.Lookup(obs, meter.TotalTime)
	if !ok {
		total, ok = meter.Lookup(obs, meter.Total)
	}
	if ok {
		summary.Samples = append(summary.Samples, sample(name+"_sum", total))
	}
	if len(summary.Samples) > 0 {
		out = append(out, summary)
	}
	if v, ok := meter.Lookup(obs, meter.Max); ok {
		out = append(out, types.NewFamily(types.Gauge, name+"_max", sample(name+"_max", v)))
	}
	return out
}

func untypedFamilies(name string, keys, values []string, obs []meter.Observed) []types.Family {
	statKeys := make([]string, len(keys)+1)
	copy(statKeys, keys)
	statKeys[len(keys)] = StatisticTagKey

	f := types.NewFamily(types.Untyped, name)
	for _, o := range obs {
		statValues := make([]string, len(values)+1)
		copy(statValues, values)
		statValues[len(values)] = string(o.Statistic)
		f.Samples = append(f.Samples, types.Sample{
			Name:      name,
			TagKeys:   statKeys,
			TagValues: statValues,
			Value:     o.Value,
		})
	}
	if len(f.Samples) == 0 {
		return nil
	}
	return []types.Family{f}
}

func counterName(name string) string {
	if strings.HasSuffix(name, "_total") {
		return name
	}
	return name + "_total"
}
