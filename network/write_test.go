package network

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/golang/snappy"
	"github.com/grafana/metricexport/types"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const payload = `{"type":"gauge","series":[{"timeseriesId":"custom:a","dimensions":{},"dataPoints":[[1,1]]}]}`

type statsRecorder struct {
	mut   sync.Mutex
	stats []types.NetworkStats
}

func (s *statsRecorder) record(ns types.NetworkStats) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.stats = append(s.stats, ns)
}

func (s *statsRecorder) total() types.NetworkStats {
	s.mut.Lock()
	defer s.mut.Unlock()
	var out types.NetworkStats
	for _, ns := range s.stats {
		out.Records.Sent += ns.Records.Sent
		out.Records.Retried += ns.Records.Retried
		out.Records.Retried429 += ns.Records.Retried429
		out.Records.Retried5XX += ns.Records.Retried5XX
		out.Records.Failed += ns.Records.Failed
		out.Batches.Sent += ns.Batches.Sent
		out.Batches.Failed += ns.Batches.Failed
		out.BytesSent += ns.BytesSent
	}
	return out
}

func newTestClient(t *testing.T, url string, modify func(*types.ConnectionConfig)) (*Client, *statsRecorder) {
	cc := types.ConnectionConfig{
		URL:              url,
		Timeout:          5 * time.Second,
		RetryBackoff:     10 * time.Millisecond,
		MaxRetryAttempts: 3,
		UserAgent:        "metricexport-test",
	}
	if modify != nil {
		modify(&cc)
	}
	rec := &statsRecorder{}
	c, err := New(cc, log.NewNopLogger(), rec.record)
	require.NoError(t, err)
	return c, rec
}

func testBatch() types.Batch {
	return types.Batch{Payload: payload, RecordCount: 1, Group: "gauge"}
}

func TestSend(t *testing.T) {
	var got []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, func(cc *types.ConnectionConfig) {
		cc.APIToken = "secret"
		cc.Headers = map[string]string{"X-Tenant": "t1"}
	})
	require.NoError(t, c.Send(context.Background(), testBatch()))
	require.Equal(t, payload, string(got))
	require.Equal(t, "application/json; charset=utf-8", headers.Get("Content-Type"))
	require.Equal(t, "metricexport-test", headers.Get("User-Agent"))
	require.Equal(t, "Api-Token secret", headers.Get("Authorization"))
	require.Equal(t, "t1", headers.Get("X-Tenant"))
	require.Empty(t, headers.Get("Content-Encoding"))

	total := rec.total()
	require.Equal(t, 1, total.Records.Sent)
	require.Equal(t, 1, total.Batches.Sent)
	require.Equal(t, len(payload), total.BytesSent)
}

func TestSendCompressed(t *testing.T) {
	tests := []struct {
		name        string
		compression types.Compression
		decode      func([]byte) ([]byte, error)
	}{
		{
			name:        "snappy",
			compression: types.CompressionSnappy,
			decode: func(b []byte) ([]byte, error) {
				return snappy.Decode(nil, b)
			},
		},
		{
			name:        "gzip",
			compression: types.CompressionGzip,
			decode: func(b []byte) ([]byte, error) {
				r, err := gzip.NewReader(bytes.NewReader(b))
				if err != nil {
					return nil, err
				}
				return io.ReadAll(r)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			var encoding string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				encoding = r.Header.Get("Content-Encoding")
				got, _ = io.ReadAll(r.Body)
			}))
			defer srv.Close()

			c, _ := newTestClient(t, srv.URL, func(cc *types.ConnectionConfig) {
				cc.Compression = tt.compression
			})
			require.NoError(t, c.Send(context.Background(), testBatch()))
			require.Equal(t, string(tt.compression), encoding)
			decoded, err := tt.decode(got)
			require.NoError(t, err)
			require.Equal(t, payload, string(decoded))
		})
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		maxRetries uint
		wantErr    bool
		wantCalls  int32
		check      func(t *testing.T, total types.NetworkStats)
	}{
		{
			name:       "5xx then success",
			statuses:   []int{500, 503, 200},
			maxRetries: 3,
			wantCalls:  3,
			check: func(t *testing.T, total types.NetworkStats) {
				require.Equal(t, 2, total.Records.Retried5XX)
				require.Equal(t, 1, total.Records.Sent)
				require.Zero(t, total.TotalFailed())
			},
		},
		{
			name:       "429 then success",
			statuses:   []int{429, 200},
			maxRetries: 3,
			wantCalls:  2,
			check: func(t *testing.T, total types.NetworkStats) {
				require.Equal(t, 1, total.Records.Retried429)
				require.Equal(t, 1, total.Records.Retried)
			},
		},
		{
			name:       "4xx is dropped",
			statuses:   []int{400, 200},
			maxRetries: 3,
			wantErr:    true,
			wantCalls:  1,
			check: func(t *testing.T, total types.NetworkStats) {
				require.Equal(t, 1, total.Records.Failed)
				require.Zero(t, total.Records.Sent)
			},
		},
		{
			name:       "gives up after max attempts",
			statuses:   []int{500, 500, 500, 500, 500},
			maxRetries: 2,
			wantErr:    true,
			wantCalls:  3,
			check: func(t *testing.T, total types.NetworkStats) {
				require.Equal(t, 3, total.Records.Retried5XX)
				require.Equal(t, 1, total.TotalFailed())
				require.Equal(t, 1, total.Batches.Failed)
			},
		},
		{
			name:       "no retries configured",
			statuses:   []int{500, 200},
			maxRetries: 0,
			wantErr:    true,
			wantCalls:  1,
			check: func(t *testing.T, total types.NetworkStats) {
				require.Equal(t, 1, total.TotalFailed())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := atomic.NewInt32(0)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := calls.Inc() - 1
				status := http.StatusOK
				if int(i) < len(tt.statuses) {
					status = tt.statuses[i]
				}
				if i > 0 {
					require.NotEmpty(t, r.Header.Get("Retry-Attempt"))
				}
				if status == http.StatusTooManyRequests {
					w.Header().Set("Retry-After", "0")
				}
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c, rec := newTestClient(t, srv.URL, func(cc *types.ConnectionConfig) {
				cc.MaxRetryAttempts = tt.maxRetries
			})
			err := c.Send(context.Background(), testBatch())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantCalls, calls.Load())
			if tt.check != nil {
				tt.check(t, rec.total())
			}
		})
	}
}

func TestSendCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, rec := newTestClient(t, srv.URL, func(cc *types.ConnectionConfig) {
		cc.RetryBackoff = time.Minute
	})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, testBatch())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, rec.total().TotalFailed())
}

func TestStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL, nil)
	c.Stop()
	require.ErrorIs(t, c.Send(context.Background(), testBatch()), ErrStopped)
}

func TestUpdateConfig(t *testing.T) {
	first := atomic.NewInt32(0)
	second := atomic.NewInt32(0)
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { first.Inc() }))
	defer srv1.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { second.Inc() }))
	defer srv2.Close()

	c, _ := newTestClient(t, srv1.URL, nil)
	require.NoError(t, c.Send(context.Background(), testBatch()))

	_, cfg, _ := c.current()
	changed, err := c.UpdateConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.False(t, changed)

	cfg.URL = srv2.URL
	changed, err = c.UpdateConfig(context.Background(), cfg)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, c.Send(context.Background(), testBatch()))

	require.Equal(t, int32(1), first.Load())
	require.Equal(t, int32(1), second.Load())

	cfg.URL = ""
	_, err = c.UpdateConfig(context.Background(), cfg)
	require.Error(t, err)
}

func TestRetryAfterDuration(t *testing.T) {
	require.Equal(t, 5*time.Second, retryAfterDuration(time.Second, "5"))
	require.Equal(t, time.Second, retryAfterDuration(time.Second, "soon"))
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	d := retryAfterDuration(time.Second, future)
	require.True(t, d > 58*time.Minute && d <= time.Hour)
}
