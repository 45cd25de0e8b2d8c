// Package naming maps dotted internal metric names and tag keys to identifiers that are valid for an export format.
package naming

import (
	"strings"

	"github.com/elastic/go-freelru"
	"github.com/grafana/metricexport/util"
	"github.com/prometheus/prometheus/util/strutil"
)

// Convention converts names. Implementations must be safe for concurrent use.
type Convention interface {
	Name(name string) string
	TagKey(key string) string
}

// Dot leaves names untouched, dotted names are valid for the series format.
var Dot Convention = dot{}

// Snake replaces dots and any other invalid characters with underscores, matching the text exposition rules.
var Snake Convention = snake{}

type dot struct{}

func (dot) Name(name string) string {
	return name
}

func (dot) TagKey(key string) string {
	return key
}

type snake struct{}

func (snake) Name(name string) string {
	return sanitize(name)
}

func (snake) TagKey(key string) string {
	return sanitize(key)
}

func sanitize(s string) string {
	if s == "" {
		return s
	}
	out := strutil.SanitizeLabelName(strings.ReplaceAll(s, ".", "_"))
	// Identifiers may not start with a digit.
	if out[0] >= '0' && out[0] <= '9' {
		out = "m_" + out
	}
	return out
}

type cached struct {
	inner Convention
	names *freelru.SyncedLRU[string, string]
	keys  *freelru.SyncedLRU[string, string]
}

// Cached memoizes a convention, names are converted on every export so the hit rate is high.
func Cached(c Convention, size uint32) (Convention, error) {
	names, err := freelru.NewSynced[string, string](size, util.HashString32)
	if err != nil {
		return nil, err
	}
	keys, err := freelru.NewSynced[string, string](size, util.HashString32)
	if err != nil {
		return nil, err
	}
	return &cached{
		inner: c,
		names: names,
		keys:  keys,
	}, nil
}

func (c *cached) Name(name string) string {
	if v, ok := c.names.Get(name); ok {
		return v
	}
	v := c.inner.Name(name)
	c.names.Add(name, v)
	return v
}

func (c *cached) TagKey(key string) string {
	if v, ok := c.keys.Get(key); ok {
		return v
	}
	v := c.inner.TagKey(key)
	c.keys.Add(key, v)
	return v
}
