package util

import (
	"testing"

	"github.com/grafana/metricexport/types"
	"github.com/stretchr/testify/require"
)

func TestShardForIsStable(t *testing.T) {
	key := types.Identity{Name: "my_counter", TagKeys: []string{"k1", "k2"}}.Key()
	first := ShardFor(key, 16)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, ShardFor(key, 16))
	}
	require.True(t, first >= 0 && first < 16)
}

func TestHashDistinguishesTagKeyOrder(t *testing.T) {
	a := types.Identity{Name: "my_counter", TagKeys: []string{"k1", "k2"}}.Key()
	b := types.Identity{Name: "my_counter", TagKeys: []string{"k2", "k1"}}.Key()
	require.NotEqual(t, a, b)
	require.NotEqual(t, HashString(a), HashString(b))
}
