package network

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/elastic/go-freelru"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport/types"
	"github.com/grafana/metricexport/util"
)

const defaultMetricCacheSize = 10_000

func newCreatedSet(size uint32) (*freelru.SyncedLRU[string, struct{}], error) {
	if size == 0 {
		size = defaultMetricCacheSize
	}
	return freelru.NewSynced[string, struct{}](size, util.HashString32)
}

// MetricCreated reports whether id was registered successfully since the last definition URL change.
func (c *Client) MetricCreated(id string) bool {
	c.mut.RLock()
	created := c.created
	c.mut.RUnlock()
	return created.Contains(id)
}

// EnsureMetric PUTs the metric definition unless the id was already registered. The id is only remembered after
// a 2xx response, so a failed registration is tried again on the next export. It is a no-op when no
// MetricDefinitionURL is configured.
func (c *Client) EnsureMetric(ctx context.Context, def types.MetricDefinition) error {
	c.mut.RLock()
	client, cfg, logger, created := c.client, c.cfg, c.log, c.created
	c.mut.RUnlock()
	if cfg.MetricDefinitionURL == "" {
		return nil
	}
	if created.Contains(def.ID) {
		return nil
	}
	body, err := json.Marshal(def)
	if err != nil {
		return err
	}
	target, err := url.JoinPath(cfg.MetricDefinitionURL, def.ID)
	if err != nil {
		return fmt.Errorf("invalid metric definition url: %w", err)
	}
	if cfg.Timeout > 0 {
		var cncl context.CancelFunc
		ctx, cncl = context.WithTimeout(ctx, cfg.Timeout)
		defer cncl()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	if cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", cfg.UserAgent)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("registering metric %s: %w", def.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		scanner := bufio.NewScanner(io.LimitReader(resp.Body, 1_000))
		line := ""
		if scanner.Scan() {
			line = scanner.Text()
		}
		return fmt.Errorf("registering metric %s: server returned HTTP status %s: %s", def.ID, resp.Status, line)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	created.Add(def.ID, struct{}{})
	level.Debug(logger).Log("msg", "registered custom metric", "id", def.ID)
	return nil
}
