package stats

import (
	"sync"

	"github.com/grafana/metricexport/types"
)

var _ types.StatsHub = (*stats)(nil)

// stats is used to collect and distribute stats to interested party.
// It does this by keeping track of interested parties to each type.
// Whenever a interested party registers they are given a NotificationRelease
// that cleans up.
type stats struct {
	mut       sync.RWMutex
	packer    map[int]func(types.PackerStats)
	network   map[int]func(types.NetworkStats)
	collector map[int]func(types.CollectorStats)
	index     int
}

func NewStats() types.StatsHub {
	return &stats{
		packer:    make(map[int]func(types.PackerStats)),
		network:   make(map[int]func(types.NetworkStats)),
		collector: make(map[int]func(types.CollectorStats)),
	}
}

// register adds f to m under the next index, it must be called with mut held.
func register[T any](s *stats, m map[int]func(T), f func(T)) types.NotificationRelease {
	m[s.index] = f
	index := s.index
	s.index++

	return func() {
		s.mut.Lock()
		defer s.mut.Unlock()

		delete(m, index)
	}
}

func (s *stats) RegisterPacker(f func(types.PackerStats)) types.NotificationRelease {
	s.mut.Lock()
	defer s.mut.Unlock()

	return register(s, s.packer, f)
}

func (s *stats) RegisterNetwork(f func(types.NetworkStats)) types.NotificationRelease {
	s.mut.Lock()
	defer s.mut.Unlock()

	return register(s, s.network, f)
}

func (s *stats) RegisterCollector(f func(types.CollectorStats)) types.NotificationRelease {
	s.mut.Lock()
	defer s.mut.Unlock()

	return register(s, s.collector, f)
}

func (s *stats) SendPackerStats(st types.PackerStats) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	for _, v := range s.packer {
		v(st)
	}
}

func (s *stats) SendNetworkStats(st types.NetworkStats) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	for _, v := range s.network {
		v(st)
	}
}

func (s *stats) SendCollectorStats(st types.CollectorStats) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	for _, v := range s.collector {
		v(st)
	}
}
