package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/elastic/go-freelru"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/grafana/metricexport/types"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/common/config"
	"go.uber.org/atomic"
)

var _ types.NetworkClient = (*Client)(nil)

// ErrStopped is returned by Send once Stop has been called.
var ErrStopped = errors.New("network client is stopped")

// Client posts batches to a single endpoint. It is safe for concurrent use, UpdateConfig swaps the http client
// between sends.
type Client struct {
	mut        sync.RWMutex
	client     *http.Client
	cfg        types.ConnectionConfig
	log        log.Logger
	baseLog    log.Logger
	statsFunc  func(s types.NetworkStats)
	stopCalled atomic.Bool
	// created holds the ids of custom metrics registered against cfg.MetricDefinitionURL.
	created *freelru.SyncedLRU[string, struct{}]
}

// New validates the connection config and builds the http client. stats may be nil.
func New(cc types.ConnectionConfig, l log.Logger, stats func(s types.NetworkStats)) (*Client, error) {
	if stats == nil {
		stats = func(types.NetworkStats) {}
	}
	c := &Client{
		baseLog:   l,
		statsFunc: stats,
	}
	if err := c.apply(cc); err != nil {
		return nil, err
	}
	return c, nil
}

func newHTTPClient(cc types.ConnectionConfig) (*http.Client, error) {
	if cc.URL == "" {
		return nil, errors.New("url must be set")
	}
	cfg, err := cc.ToPrometheusConfig()
	if err != nil {
		return nil, err
	}
	return config.NewClientFromConfig(cfg, "metricexport")
}

func (c *Client) apply(cc types.ConnectionConfig) error {
	httpClient, err := newHTTPClient(cc)
	if err != nil {
		return err
	}
	c.mut.Lock()
	defer c.mut.Unlock()
	if c.created == nil || c.cfg.MetricDefinitionURL != cc.MetricDefinitionURL || c.cfg.MetricCacheSize != cc.MetricCacheSize {
		created, err := newCreatedSet(cc.MetricCacheSize)
		if err != nil {
			return err
		}
		c.created = created
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	c.client = httpClient
	c.cfg = cc
	c.log = log.With(c.baseLog, "name", "network", "url", cc.URL)
	return nil
}

// UpdateConfig rebuilds the http client if the config changed. It returns true when the new config was applied.
func (c *Client) UpdateConfig(_ context.Context, cc types.ConnectionConfig) (bool, error) {
	c.mut.RLock()
	same := c.cfg.Equals(cc)
	c.mut.RUnlock()
	if same {
		return false, nil
	}
	if err := c.apply(cc); err != nil {
		return false, err
	}
	return true, nil
}

// Stop makes pending retries give up, any in flight request finishes on its own.
func (c *Client) Stop() {
	c.stopCalled.Store(true)
}

func (c *Client) current() (*http.Client, types.ConnectionConfig, log.Logger) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.client, c.cfg, c.log
}

// Send is the core functionality for sending data to an endpoint. It will attempt retries as defined in
// MaxRetryAttempts. The error of the last attempt is returned when the batch is not delivered.
func (c *Client) Send(ctx context.Context, b types.Batch) error {
	if c.stopCalled.Load() {
		return ErrStopped
	}
	client, cfg, logger := c.current()
	body, err := encode(cfg.Compression, []byte(b.Payload))
	if err != nil {
		return err
	}
	attempts := 0
	for {
		start := time.Now()
		result := c.send(ctx, client, cfg, body, attempts)
		c.statsFunc(types.NetworkStats{
			SendDuration: time.Since(start),
		})
		recordStats(b, c.statsFunc, result, len(body))
		if result.err != nil {
			level.Error(logger).Log("msg", "error in sending metrics", "group", b.Group, "records", b.RecordCount, "err", result.err.Error())
		}
		if result.successful {
			return nil
		}
		if !result.recoverableError {
			return result.err
		}
		attempts++
		if attempts > int(cfg.MaxRetryAttempts) {
			level.Debug(logger).Log("msg", "max retry attempts reached", "attempts", attempts)
			recordGiveUp(b, c.statsFunc, result)
			return result.err
		}
		// This helps us short circuit the loop if we are stopping.
		if c.stopCalled.Load() {
			recordGiveUp(b, c.statsFunc, result)
			return ErrStopped
		}
		select {
		case <-ctx.Done():
			recordGiveUp(b, c.statsFunc, result)
			return ctx.Err()
		case <-time.After(result.retryAfter):
		}
	}
}

type sendResult struct {
	err              error
	successful       bool
	recoverableError bool
	retryAfter       time.Duration
	statusCode       int
	networkError     bool
}

func (c *Client) send(ctx context.Context, client *http.Client, cfg types.ConnectionConfig, buf []byte, retryCount int) sendResult {
	result := sendResult{}
	httpReq, err := http.NewRequest("POST", cfg.URL, bytes.NewReader(buf))
	if err != nil {
		result.err = err
		result.recoverableError = true
		result.networkError = true
		result.retryAfter = cfg.RetryBackoff
		return result
	}
	if enc := string(cfg.Compression); enc != "" {
		httpReq.Header.Set("Content-Encoding", enc)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	if cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", cfg.UserAgent)
	}
	if retryCount > 0 {
		httpReq.Header.Set("Retry-Attempt", strconv.Itoa(retryCount))
	}
	if cfg.Timeout > 0 {
		var cncl context.CancelFunc
		ctx, cncl = context.WithTimeout(ctx, cfg.Timeout)
		defer cncl()
	}
	resp, err := client.Do(httpReq.WithContext(ctx))
	// Network errors are recoverable.
	if err != nil {
		result.err = err
		result.networkError = true
		result.recoverableError = true
		result.retryAfter = cfg.RetryBackoff
		return result
	}
	result.statusCode = resp.StatusCode
	defer resp.Body.Close()
	// 500 errors are considered recoverable.
	if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
		result.err = fmt.Errorf("server responded with status code %d", resp.StatusCode)
		result.retryAfter = retryAfterDuration(cfg.RetryBackoff, resp.Header.Get("Retry-After"))
		result.recoverableError = true
		return result
	}
	// Status Codes that are not 500 or 200 are not recoverable and dropped.
	if resp.StatusCode/100 != 2 {
		scanner := bufio.NewScanner(io.LimitReader(resp.Body, 1_000))
		line := ""
		if scanner.Scan() {
			line = scanner.Text()
		}
		result.err = fmt.Errorf("server returned HTTP status %s: %s", resp.Status, line)
		return result
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	result.successful = true
	return result
}

func encode(c types.Compression, payload []byte) ([]byte, error) {
	switch c {
	case types.CompressionNone:
		return payload, nil
	case types.CompressionSnappy:
		return snappy.Encode(nil, payload), nil
	case types.CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}
}

func retryAfterDuration(defaultDuration time.Duration, t string) time.Duration {
	if parsedTime, err := time.Parse(http.TimeFormat, t); err == nil {
		return time.Until(parsedTime)
	}
	// The duration can be in seconds.
	d, err := strconv.Atoi(t)
	if err != nil {
		return defaultDuration
	}
	return time.Duration(d) * time.Second
}
