package series

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/types"
	"github.com/stretchr/testify/require"
)

var now = time.UnixMilli(1700000000000)

func TestWriteGauge(t *testing.T) {
	w := Writer{}
	ss, dropped := w.WriteMeter(meter.NewGauge("my.gauge", meter.Constant(1), types.Tag{Key: "host", Value: "a"}), now)
	require.Zero(t, dropped)
	require.Len(t, ss, 1)
	require.Equal(t, `{"timeseriesId":"custom:my.gauge","dimensions":{"host":"a"},"dataPoints":[[1700000000000,1]]}`, ss[0].JSON())
	require.True(t, json.Valid([]byte(ss[0].JSON())))
}

func TestWriteGaugeDropsNaN(t *testing.T) {
	ss, dropped := Writer{}.WriteMeter(meter.NewGauge("my.gauge", meter.Constant(math.NaN())), now)
	require.Empty(t, ss)
	require.Equal(t, 1, dropped)
}

func TestWriteGaugeDropsInfinite(t *testing.T) {
	ss, _ := Writer{}.WriteMeter(meter.NewGauge("my.gauge", meter.Constant(math.Inf(1))), now)
	require.Empty(t, ss)
	ss, _ = Writer{}.WriteMeter(meter.NewGauge("my.gauge", meter.Constant(math.Inf(-1))), now)
	require.Empty(t, ss)
}

func TestWriteGaugeChangingFiniteToNaN(t *testing.T) {
	first := true
	g := meter.NewGauge("my.gauge", func() float64 {
		if first {
			first = false
			return 1
		}
		return math.NaN()
	})
	ss, _ := Writer{}.WriteMeter(g, now)
	require.Len(t, ss, 1)

	var parsed struct {
		DataPoints [][]float64 `json:"dataPoints"`
	}
	require.NoError(t, json.Unmarshal([]byte(ss[0].JSON()), &parsed))
	require.Equal(t, float64(1), parsed.DataPoints[0][1])

	ss, _ = Writer{}.WriteMeter(g, now)
	require.Empty(t, ss)
}

func TestCustomMeterMixedFiniteAndNonFinite(t *testing.T) {
	m := meter.Meter{
		ID:   meter.ID{Name: "my.meter"},
		Type: meter.Gauge,
		Measurements: []meter.Measurement{
			{Statistic: meter.Value, Value: meter.Constant(math.Inf(1))},
			{Statistic: meter.Value, Value: meter.Constant(math.Inf(-1))},
			{Statistic: meter.Value, Value: meter.Constant(math.NaN())},
			{Statistic: meter.Value, Value: meter.Constant(1)},
			{Statistic: meter.Value, Value: meter.Constant(2)},
		},
	}
	ss, dropped := Writer{}.WriteMeter(m, now)
	require.Len(t, ss, 2)
	require.Equal(t, 3, dropped)
	for _, s := range ss {
		require.True(t, meter.Finite(s.Value))
	}
}

func TestTimerIDsCarryStatistic(t *testing.T) {
	m := meter.NewTimer("my.timer", meter.Constant(2), meter.Constant(0.5), meter.Constant(0.4))
	ss, _ := Writer{Prefix: "p:"}.WriteMeter(m, now)
	require.Len(t, ss, 3)
	require.Equal(t, "p:my.timer.count", ss[0].ID)
	require.Equal(t, "p:my.timer.total_time", ss[1].ID)
	require.Equal(t, "p:my.timer.max", ss[2].ID)
}

func TestEscaping(t *testing.T) {
	s := Series{
		ID:         `custom:quote"d`,
		Dimensions: []types.Tag{{Key: "path", Value: `C:\tmp "x"`}},
		Timestamp:  now,
		Value:      -0.25,
	}
	require.True(t, json.Valid([]byte(s.JSON())))
	require.Equal(t, len(s.JSON()), s.Record().Size())
}

func TestRecordsGroupsByType(t *testing.T) {
	meters := []meter.Meter{
		meter.NewGauge("g1", meter.Constant(1)),
		meter.NewCounter("c1", meter.Constant(2)),
		meter.NewGauge("g2", meter.Constant(math.NaN())),
		meter.NewGauge("g3", meter.Constant(3)),
	}
	groups, dropped := Writer{}.Records(meters, now)
	require.Equal(t, 1, dropped)
	require.Len(t, groups, 2)
	require.Equal(t, "gauge", groups[0].Label)
	require.Len(t, groups[0].Records, 2)
	require.Equal(t, "counter", groups[1].Label)
	require.Len(t, groups[1].Records, 1)
}

func TestRecordsCarryDefinitions(t *testing.T) {
	g := meter.NewGauge("my.gauge", meter.Constant(1), types.Tag{Key: "host", Value: "a"})
	g.ID.Description = "queue depth"
	g.ID.BaseUnit = "Count"
	again := meter.NewGauge("my.gauge", meter.Constant(2), types.Tag{Key: "host", Value: "b"})
	tm := meter.NewTimer("my.timer", meter.Constant(1), meter.Constant(2), meter.Constant(3))

	groups, _ := Writer{Types: []string{"type"}}.Records([]meter.Meter{g, again, tm}, now)
	require.Len(t, groups, 2)
	require.Equal(t, []string{"custom:my.gauge", "custom:my.gauge"}, groups[0].IDs)
	require.Equal(t, []types.MetricDefinition{{
		ID:          "custom:my.gauge",
		DisplayName: "queue depth",
		Unit:        "Count",
		Dimensions:  []string{"host"},
		Types:       []string{"type"},
	}}, groups[0].Definitions)

	require.Len(t, groups[1].IDs, len(groups[1].Records))
	require.Len(t, groups[1].Definitions, 3)
	for _, def := range groups[1].Definitions {
		require.Equal(t, def.ID, def.DisplayName)
		require.Equal(t, []string{"type"}, def.Types)
		require.Empty(t, def.Dimensions)
	}
}
