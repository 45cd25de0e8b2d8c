// Package series renders meters as JSON time series records for the series ingest endpoint.
package series

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/metricexport/meter"
	"github.com/grafana/metricexport/naming"
	"github.com/grafana/metricexport/types"
)

// DefaultPrefix is prepended to every time series id.
const DefaultPrefix = "custom:"

// Series is one time series point. Its JSON form is
// {"timeseriesId":"custom:my.metric","dimensions":{"k":"v"},"dataPoints":[[1700000000000,1.23]]}
type Series struct {
	ID         string
	Dimensions []types.Tag
	Timestamp  time.Time
	Value      float64
}

// JSON renders the series. Dimensions keep their declared order.
func (s Series) JSON() string {
	var sb strings.Builder
	sb.WriteString(`{"timeseriesId":`)
	writeString(&sb, s.ID)
	sb.WriteString(`,"dimensions":{`)
	for i, d := range s.Dimensions {
		if i > 0 {
			sb.WriteByte(',')
		}
		writeString(&sb, d.Key)
		sb.WriteByte(':')
		writeString(&sb, d.Value)
	}
	sb.WriteString(`},"dataPoints":[[`)
	sb.WriteString(strconv.FormatInt(s.Timestamp.UnixMilli(), 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatFloat(s.Value, 'g', -1, 64))
	sb.WriteString(`]]}`)
	return sb.String()
}

func (s Series) Record() types.Record {
	return types.NewRecord(s.JSON())
}

func writeString(sb *strings.Builder, s string) {
	// Marshalling a string cannot fail.
	b, _ := json.Marshal(s)
	sb.Write(b)
}

// DefaultTypes is the technology type list of every metric definition when Writer.Types is empty.
var DefaultTypes = []string{"go"}

// Writer turns meters into series. A zero Writer uses the dot convention and DefaultPrefix.
type Writer struct {
	Convention naming.Convention
	Prefix     string
	// Types is reported in the metric definitions, DefaultTypes when empty.
	Types []string
}

func (w Writer) types() []string {
	if len(w.Types) == 0 {
		return DefaultTypes
	}
	return w.Types
}

func (w Writer) convention() naming.Convention {
	if w.Convention == nil {
		return naming.Dot
	}
	return w.Convention
}

func (w Writer) prefix() string {
	if w.Prefix == "" {
		return DefaultPrefix
	}
	return w.Prefix
}

// WriteMeter returns one series per finite measurement of m and the number of non-finite measurements skipped.
// Meters with more than one measurement get the statistic appended to the id, e.g. custom:my.timer.count.
func (w Writer) WriteMeter(m meter.Meter, now time.Time) ([]Series, int) {
	obs, dropped := m.Observe()
	if len(obs) == 0 {
		return nil, dropped
	}
	conv := w.convention()
	base := w.prefix() + conv.Name(m.ID.Name)
	dims := make([]types.Tag, len(m.ID.Tags))
	for i, t := range m.ID.Tags {
		dims[i] = types.Tag{Key: conv.TagKey(t.Key), Value: t.Value}
	}
	out := make([]Series, 0, len(obs))
	for _, o := range obs {
		id := base
		if len(m.Measurements) > 1 {
			id = base + "." + string(o.Statistic)
		}
		out = append(out, Series{
			ID:         id,
			Dimensions: dims,
			Timestamp:  now,
			Value:      o.Value,
		})
	}
	return out, dropped
}

// Records renders every series of every meter, grouped by the meter's group label in first seen order.
func (w Writer) Records(meters []meter.Meter, now time.Time) ([]Group, int) {
	positions := make(map[string]int)
	defined := make(map[string]struct{})
	groups := make([]Group, 0)
	dropped := 0
	for _, m := range meters {
		ss, d := w.WriteMeter(m, now)
		dropped += d
		if len(ss) == 0 {
			continue
		}
		label := GroupFor(m.Type)
		i, ok := positions[label]
		if !ok {
			i = len(groups)
			positions[label] = i
			groups = append(groups, Group{Label: label})
		}
		g := &groups[i]
		for _, s := range ss {
			g.Records = append(g.Records, s.Record())
			g.IDs = append(g.IDs, s.ID)
			if _, ok := defined[s.ID]; ok {
				continue
			}
			defined[s.ID] = struct{}{}
			g.Definitions = append(g.Definitions, w.Definition(m, s))
		}
	}
	return groups, dropped
}

// Definition describes the metric behind s, which must be one of the series WriteMeter returned for m.
func (w Writer) Definition(m meter.Meter, s Series) types.MetricDefinition {
	def := types.MetricDefinition{
		ID:          s.ID,
		DisplayName: m.ID.Description,
		Unit:        m.ID.BaseUnit,
		Types:       w.types(),
	}
	if def.DisplayName == "" {
		def.DisplayName = s.ID
	}
	for _, d := range s.Dimensions {
		def.Dimensions = append(def.Dimensions, d.Key)
	}
	return def
}

// Group is a set of records that share a payload group label. IDs is parallel to Records, Definitions holds
// one entry per distinct id across all groups, listed in the group where the id first appears.
type Group struct {
	Label       string
	Records     []types.Record
	IDs         []string
	Definitions []types.MetricDefinition
}

// GroupFor is the payload group label of a meter type.
func GroupFor(t meter.Type) string {
	return t.String()
}
