// Package batch packs rendered records into payloads that never exceed a byte ceiling.
package batch

import (
	"encoding/json"
	"strings"

	"github.com/grafana/metricexport/types"
)

// DefaultMaxBytes is the largest payload the series ingest endpoint accepts.
const DefaultMaxBytes = 15360

// separator joins records inside a payload.
const separator = ","

// Framing is the structural text around the joined records of a payload.
type Framing interface {
	Header(group string) string
	Footer() string
}

// SeriesFraming wraps records in the series envelope:
// {"type":"<type>","group":"<group>","series":[ ... ]}
// The group member is omitted when the group is empty.
type SeriesFraming struct {
	Type string
}

func (f SeriesFraming) Header(group string) string {
	var sb strings.Builder
	sb.WriteString(`{"type":`)
	sb.WriteString(quote(f.Type))
	if group != "" {
		sb.WriteString(`,"group":`)
		sb.WriteString(quote(group))
	}
	sb.WriteString(`,"series":[`)
	return sb.String()
}

func (f SeriesFraming) Footer() string {
	return "]}"
}

func quote(s string) string {
	// Marshalling a string cannot fail.
	b, _ := json.Marshal(s)
	return string(b)
}

// Pack splits records into as few payloads as possible where each payload is at most maxBytes long.
// See PackWithStats.
func Pack(f Framing, group string, records []types.Record, maxBytes int) []types.Batch {
	batches, _ := PackWithStats(f, group, records, maxBytes)
	return batches
}

// PackWithStats walks records in order and greedily fills payloads. Appending to a payload that already holds
// a record costs the record size plus one separator byte, the first record of a payload costs only its size.
// A payload that lands exactly on maxBytes is valid.
//
// A record that cannot fit in an otherwise empty payload is dropped and counted in the returned stats, it is
// never returned as an oversized payload and never reported as an error.
func PackWithStats(f Framing, group string, records []types.Record, maxBytes int) ([]types.Batch, types.PackerStats) {
	header := f.Header(group)
	footer := f.Footer()
	// limit is the budget left for records and separators.
	limit := maxBytes - len(header) - len(footer)

	stats := types.PackerStats{
		Group:     group,
		RecordsIn: len(records),
	}
	var batches []types.Batch
	start, count, running := 0, 0, 0
	pending := make([]types.Record, 0, len(records))

	flush := func() {
		if count == 0 {
			return
		}
		b := build(header, footer, group, pending[start:start+count], running)
		batches = append(batches, b)
		stats.Batches++
		stats.RecordsPacked += count
		stats.PayloadBytes += b.Size()
		start += count
		count, running = 0, 0
	}

	for _, r := range records {
		if r.Size() > limit {
			stats.RecordsDropped++
			continue
		}
		cost := r.Size()
		if count > 0 {
			cost += len(separator)
		}
		if running+cost > limit {
			flush()
			cost = r.Size()
		}
		pending = append(pending, r)
		count++
		running += cost
	}
	flush()
	return batches, stats
}

func build(header, footer, group string, records []types.Record, recordBytes int) types.Batch {
	var sb strings.Builder
	sb.Grow(len(header) + recordBytes + len(footer))
	sb.WriteString(header)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(separator)
		}
		sb.WriteString(r.Content())
	}
	sb.WriteString(footer)
	return types.Batch{
		Payload:     sb.String(),
		RecordCount: len(records),
		Group:       group,
	}
}
