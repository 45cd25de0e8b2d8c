// Package collector accumulates sample families for one meter and flattens them on demand.
package collector

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/metricexport/naming"
	"github.com/grafana/metricexport/types"
	"github.com/grafana/metricexport/util"
	"go.uber.org/atomic"
)

const defaultShards = 16

// FamilyFunc produces the families for the tag set passed to Add. conventionName is the collector's name
// after the naming convention was applied and tagKeys are the converted keys of the tags in caller order.
type FamilyFunc func(conventionName string, tagKeys []string) []types.Family

type Option func(*Collector)

// WithShards sets the number of lock stripes, values below one are ignored.
func WithShards(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.shardCount = n
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(c *Collector) {
		c.logger = l
	}
}

// WithStats registers a callback that receives a summary of every Collect call.
func WithStats(f func(types.CollectorStats)) Option {
	return func(c *Collector) {
		c.stats = f
	}
}

// Collector holds the latest sample for every (identity, tag values) pair written since it was created.
//
// Stored families are keyed by the sample identity, the sample name plus its tag keys in rendered order. Writing a
// sample whose identity and tag values match a stored one replaces it, anything else is kept next to it. A metric
// name can therefore own several stored families with different tag key shapes and all of them are returned by
// Collect.
//
// Add may be called from any number of goroutines. Identities are spread over lock stripes so writers of
// different identities rarely contend, and no operation ever holds more than one stripe.
type Collector struct {
	name           string
	help           string
	conventionName string
	convention     naming.Convention
	shardCount     int
	shards         []*shard
	seq            atomic.Uint64
	logger         log.Logger
	stats          func(types.CollectorStats)
}

type shard struct {
	mut     sync.Mutex
	entries map[string]*storedFamily
}

// storedFamily is the state for one identity.
type storedFamily struct {
	// seq orders identities by first write so Collect output is stable.
	seq      uint64
	identity types.Identity
	family   string
	kind     types.Kind
	help     string
	samples  []types.Sample
	// index maps types.ValuesKey of the tag values to the position in samples.
	index map[string]int
}

// New returns a collector for the meter name, the convention is applied once here and to every tag key in Add.
func New(name, help string, convention naming.Convention, opts ...Option) *Collector {
	c := &Collector{
		name:       name,
		help:       help,
		convention: convention,
		shardCount: defaultShards,
		logger:     log.NewNopLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.conventionName = convention.Name(name)
	c.shards = make([]*shard, c.shardCount)
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*storedFamily)}
	}
	return c
}

func (c *Collector) Name() string {
	return c.name
}

func (c *Collector) ConventionName() string {
	return c.conventionName
}

func (c *Collector) Help() string {
	return c.help
}

// Add stores every sample of the families fn produces. A sample whose tag key and tag value counts differ is a
// programming error and panics before anything from the call is stored.
func (c *Collector) Add(tags []types.Tag, fn FamilyFunc) {
	keys := make([]string, len(tags))
	for i, t := range tags {
		keys[i] = c.convention.TagKey(t.Key)
	}
	families := fn(c.conventionName, keys)
	for _, f := range families {
		for _, s := range f.Samples {
			if len(s.TagKeys) != len(s.TagValues) {
				panic(fmt.Sprintf("collector %s: sample %s has %d tag keys and %d tag values", c.conventionName, s.Name, len(s.TagKeys), len(s.TagValues)))
			}
		}
	}
	for _, f := range families {
		for _, s := range f.Samples {
			c.store(f, s)
		}
	}
}

func (c *Collector) store(f types.Family, s types.Sample) {
	id := s.Identity()
	key := id.Key()
	valuesKey := types.ValuesKey(s.TagValues)
	sh := c.shards[util.ShardFor(key, len(c.shards))]

	sh.mut.Lock()
	defer sh.mut.Unlock()

	sf, found := sh.entries[key]
	if !found {
		sf = &storedFamily{
			seq:      c.seq.Inc(),
			identity: types.Identity{Name: id.Name, TagKeys: slices.Clone(id.TagKeys)},
			index:    make(map[string]int),
		}
		sh.entries[key] = sf
		level.Debug(c.logger).Log("msg", "new sample identity", "name", id.Name, "tag_keys", strings.Join(id.TagKeys, ","))
	}
	sf.family = f.Name
	sf.kind = f.Kind
	sf.help = f.Help
	if i, ok := sf.index[valuesKey]; ok {
		sf.samples[i] = s
		return
	}
	sf.index[valuesKey] = len(sf.samples)
	sf.samples = append(sf.samples, s)
}

// Len returns the number of stored identities.
func (c *Collector) Len() int {
	total := 0
	for _, sh := range c.shards {
		sh.mut.Lock()
		total += len(sh.entries)
		sh.mut.Unlock()
	}
	return total
}

type snapshot struct {
	seq     uint64
	family  string
	kind    types.Kind
	help    string
	samples []types.Sample
}

// Collect returns one family per (family name, kind) holding the samples of every stored identity that belongs
// to it. Each stored family is copied under its stripe lock, so a concurrent Add to another identity may or may
// not be visible but no family is ever observed half written.
//
// The merge is a single pass over a flat slice of snapshots, its stack depth does not depend on how many times
// Add was called.
func (c *Collector) Collect() []types.Family {
	start := time.Now()
	snaps := make([]snapshot, 0, c.shardCount)
	for _, sh := range c.shards {
		sh.mut.Lock()
		for _, sf := range sh.entries {
			snaps = append(snaps, snapshot{
				seq:     sf.seq,
				family:  sf.family,
				kind:    sf.kind,
				help:    sf.help,
				samples: slices.Clone(sf.samples),
			})
		}
		sh.mut.Unlock()
	}
	slices.SortFunc(snaps, func(a, b snapshot) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	type familyKey struct {
		name string
		kind types.Kind
	}
	positions := make(map[familyKey]int)
	out := make([]types.Family, 0)
	sampleCount := 0
	for _, s := range snaps {
		k := familyKey{name: s.family, kind: s.kind}
		i, ok := positions[k]
		if !ok {
			help := s.help
			if help == "" {
				help = c.help
			}
			i = len(out)
			positions[k] = i
			out = append(out, types.Family{
				Kind: s.kind,
				Name: s.family,
				Help: help,
			})
		}
		out[i].Samples = append(out[i].Samples, s.samples...)
		sampleCount += len(s.samples)
	}

	if c.stats != nil {
		c.stats(types.CollectorStats{
			Name:       c.conventionName,
			Identities: len(snaps),
			Families:   len(out),
			Samples:    sampleCount,
			Duration:   time.Since(start),
		})
	}
	return out
}
