package cfp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcm-go/cfpcodec/types/features"
)

// constantChannels builds a tensor where channel i is filled with values[i],
// so DefaultProxy descriptors coincide exactly for equal values.
func constantChannels(t *testing.T, values ...float32) *features.Tensor {
	t.Helper()
	shape := features.MakeShape(len(values), 2, 2)
	tensor := features.NewTensor(shape)
	for c, v := range values {
		plane := tensor.Channel(c)
		for i := range plane {
			plane[i] = v
		}
	}
	return tensor
}

func TestSearchClusters(t *testing.T) {
	// Channels 0 and 1 identical, 2 and 4 identical, 3 alone.
	tensor := constantChannels(t, 1, 1, 5, 9, 5)
	groups, err := SearchClusters(tensor, nil, 0)
	require.NoError(t, err)
	require.Equal(t, GroupIDs{0, 0, 1, -1, 1}, groups)

	// Deterministic given identical inputs.
	again, err := SearchClusters(tensor, nil, 0)
	require.NoError(t, err)
	require.Equal(t, groups, again)
}

func TestSearchClustersAllDistinct(t *testing.T) {
	tensor := constantChannels(t, 1, 2, 4, 8)
	groups, err := SearchClusters(tensor, nil, 0)
	require.NoError(t, err)
	require.Equal(t, GroupIDs{-1, -1, -1, -1}, groups)
}

func TestSearchClustersThreshold(t *testing.T) {
	// With a generous threshold everything collapses into one group keyed
	// by channel 0.
	tensor := constantChannels(t, 1, 1.1, 0.9, 1.05)
	groups, err := SearchClusters(tensor, nil, 1e6)
	require.NoError(t, err)
	require.Equal(t, GroupIDs{0, 0, 0, 0}, groups)
}

func TestSearchClustersTieBreak(t *testing.T) {
	// Channels 2 and 3 are equidistant from the centers opened by channels
	// 0 and 1; both must land in the cluster with the lower key.
	proxy := func(*features.Tensor) [][]float64 {
		return [][]float64{{0}, {2}, {1}, {1}}
	}
	tensor := constantChannels(t, 0, 2, 1, 1)
	groups, err := SearchClusters(tensor, proxy, 1)
	require.NoError(t, err)
	require.Equal(t, GroupIDs{0, -1, 0, 0}, groups)
}

func TestSearchClustersLimit(t *testing.T) {
	// 256 pairs of identical channels ask for 256 multi-member groups, one
	// more than the one-byte group-id encoding allows.
	values := make([]float32, 2*(MaxCollections+1))
	for i := range values {
		values[i] = float32(i / 2)
	}
	tensor := constantChannels(t, values...)
	_, err := SearchClusters(tensor, nil, 0)
	require.ErrorIs(t, err, ErrCodecLimit)

	// One pair fewer fits exactly.
	tensor = constantChannels(t, values[:2*MaxCollections]...)
	groups, err := SearchClusters(tensor, nil, 0)
	require.NoError(t, err)
	require.Equal(t, MaxCollections-1, groups[len(groups)-1])
}

func TestCollectionsPartition(t *testing.T) {
	groups := GroupIDs{0, -1, 0, 1, 1, -1}
	collections, err := groups.Collections()
	require.NoError(t, err)
	require.Equal(t, []Collection{
		{Key: 0, Channels: []int{0, 2}},
		{Key: 1, Channels: []int{1}},
		{Key: 3, Channels: []int{3, 4}},
		{Key: 5, Channels: []int{5}},
	}, collections)

	// Union of all collections covers every channel exactly once.
	seen := make(map[int]int)
	for _, collection := range collections {
		for _, ch := range collection.Channels {
			seen[ch]++
		}
	}
	require.Len(t, seen, len(groups))
	for ch, count := range seen {
		require.Equal(t, 1, count, "channel %d", ch)
	}
}

func TestCollectionsRejectsBadLabels(t *testing.T) {
	_, err := GroupIDs{0, -2}.Collections()
	require.ErrorIs(t, err, ErrFormat)
	_, err = GroupIDs{MaxCollections}.Collections()
	require.ErrorIs(t, err, ErrFormat)
}
