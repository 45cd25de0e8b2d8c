package network

import (
	"net/http"
	"time"

	"github.com/grafana/metricexport/types"
)

// recordStats determines what values to send to the stats function. This allows for any
// number of metrics/signals libraries to be used.
func recordStats(b types.Batch, stats func(s types.NetworkStats), r sendResult, bytesSent int) {
	records := b.RecordCount
	switch {
	case r.networkError:
		stats(types.NetworkStats{
			Batches: types.CategoryStats{NetworkFailed: 1},
			Records: types.CategoryStats{NetworkFailed: records},
		})
	case r.successful:
		stats(types.NetworkStats{
			Batches:         types.CategoryStats{Sent: 1},
			Records:         types.CategoryStats{Sent: records},
			BytesSent:       bytesSent,
			NewestTimestamp: time.Now().Unix(),
		})
	case r.statusCode == http.StatusTooManyRequests:
		stats(types.NetworkStats{
			Batches: types.CategoryStats{Retried: 1, Retried429: 1},
			Records: types.CategoryStats{Retried: records, Retried429: records},
		})
	case r.statusCode/100 == 5:
		stats(types.NetworkStats{
			Batches: types.CategoryStats{Retried: 1, Retried5XX: 1},
			Records: types.CategoryStats{Retried: records, Retried5XX: records},
		})
	case r.statusCode/100 != 2:
		stats(types.NetworkStats{
			Batches: types.CategoryStats{Failed: 1},
			Records: types.CategoryStats{Failed: records},
		})
	}
}

// recordGiveUp counts a batch that was retried and then abandoned. Network errors are already counted as
// failures on every attempt, 5xx and 429 responses only as retries.
func recordGiveUp(b types.Batch, stats func(s types.NetworkStats), last sendResult) {
	if last.networkError {
		return
	}
	stats(types.NetworkStats{
		Batches: types.CategoryStats{Failed: 1},
		Records: types.CategoryStats{Failed: b.RecordCount},
	})
}
