// Package meter is the minimal measurement model consumed by the renderers. It does not register or schedule
// anything, a Meter is a snapshot source handed to the exporter.
package meter

import (
	"math"

	"github.com/grafana/metricexport/types"
)

type Type uint8

const (
	Other Type = iota
	Counter
	Gauge
	Timer
	DistributionSummary
	LongTaskTimer
)

func (t Type) String() string {
	switch t {
	case Counter:
		return "counter"
	case Gauge:
		return "gauge"
	case Timer:
		return "timer"
	case DistributionSummary:
		return "distribution_summary"
	case LongTaskTimer:
		return "long_task_timer"
	default:
		return "other"
	}
}

type Statistic string

const (
	Value       = Statistic("value")
	Count       = Statistic("count")
	Total       = Statistic("total")
	TotalTime   = Statistic("total_time")
	Max         = Statistic("max")
	ActiveTasks = Statistic("active_tasks")
	Duration    = Statistic("duration")
	Unknown     = Statistic("unknown")
)

// ID identifies a meter. Tags keep the order they were declared in.
type ID struct {
	Name        string
	Tags        []types.Tag
	BaseUnit    string
	Description string
}

// Measurement reads the current value of one statistic. Value may be called at any time and from any goroutine.
type Measurement struct {
	Statistic Statistic
	Value     func() float64
}

// Observed is a measurement whose value has been read exactly once.
type Observed struct {
	Statistic Statistic
	Value     float64
}

type Meter struct {
	ID           ID
	Type         Type
	Measurements []Measurement
}

// Finite reports whether v can be exported, NaN and both infinities cannot.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Observe reads every measurement once and splits the results into finite values and a count of
// the dropped non-finite ones.
func (m Meter) Observe() ([]Observed, int) {
	out := make([]Observed, 0, len(m.Measurements))
	dropped := 0
	for _, ms := range m.Measurements {
		if ms.Value == nil {
			continue
		}
		v := ms.Value()
		if !Finite(v) {
			dropped++
			continue
		}
		out = append(out, Observed{Statistic: ms.Statistic, Value: v})
	}
	return out, dropped
}

// Lookup returns the first finite observation of the statistic.
func Lookup(obs []Observed, s Statistic) (float64, bool) {
	for _, o := range obs {
		if o.Statistic == s {
			return o.Value, true
		}
	}
	return 0, false
}

// NewGauge is a convenience for a single value meter.
func NewGauge(name string, f func() float64, tags ...types.Tag) Meter {
	return Meter{
		ID:           ID{Name: name, Tags: tags},
		Type:         Gauge,
		Measurements: []Measurement{{Statistic: Value, Value: f}},
	}
}

// NewCounter is a convenience for a single count meter.
func NewCounter(name string, f func() float64, tags ...types.Tag) Meter {
	return Meter{
		ID:           ID{Name: name, Tags: tags},
		Type:         Counter,
		Measurements: []Measurement{{Statistic: Count, Value: f}},
	}
}

// NewTimer builds a timer from the three statistics a timer snapshot carries, values are in seconds.
func NewTimer(name string, count, totalSeconds, maxSeconds func() float64, tags ...types.Tag) Meter {
	return Meter{
		ID:   ID{Name: name, Tags: tags, BaseUnit: "seconds"},
		Type: Timer,
		Measurements: []Measurement{
			{Statistic: Count, Value: count},
			{Statistic: TotalTime, Value: totalSeconds},
			{Statistic: Max, Value: maxSeconds},
		},
	}
}

// Constant returns a measurement func that always reads v.
func Constant(v float64) func() float64 {
	return func() float64 {
		return v
	}
}
