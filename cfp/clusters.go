package cfp

import (
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/vcm-go/cfpcodec/types/features"
)

// MaxCollections is the hard ceiling on multi-member channel groups per
// tensor: group ids are serialized +1-shifted in one byte, with 0 reserved
// for self-coded channels, leaving labels 0..254.
const MaxCollections = 255

// selfCoded marks a channel that forms its own singleton group and is coded
// in full.
const selfCoded = -1

// GroupIDs assigns one group label per channel: selfCoded (-1) for channels
// coded on their own, or a label in [0, MaxCollections) shared by every
// member of a multi-channel group. Labels are dense and assigned in
// ascending order of each group's minimum member channel.
type GroupIDs []int

// Collection is one channel group: the channels reconstructed from a single
// representative signal. Key is the minimum member channel index.
type Collection struct {
	Key      int
	Channels []int
}

// Collections inverts the group-id array into channel collections: self-coded
// channels become singletons and shared labels become one collection keyed by
// their minimum member index, returned in ascending key order. Together the
// collections always partition the channel index set.
func (g GroupIDs) Collections() ([]Collection, error) {
	byLabel := make(map[int][]int)
	var collections []Collection
	for ch, label := range g {
		switch {
		case label == selfCoded:
			collections = append(collections, Collection{Key: ch, Channels: []int{ch}})
		case label >= 0 && label < MaxCollections:
			byLabel[label] = append(byLabel[label], ch)
		default:
			return nil, errors.Wrapf(ErrFormat, "channel %d has group id %d, want -1 or 0..%d",
				ch, label, MaxCollections-1)
		}
	}
	for _, channels := range byLabel {
		// Channels were appended in ascending order, so Channels[0] is the key.
		collections = append(collections, Collection{Key: channels[0], Channels: channels})
	}
	slices.SortFunc(collections, func(a, b Collection) int { return a.Key - b.Key })
	return collections, nil
}

// ProxyFunc supplies one descriptor vector per channel, the similarity signal
// the clustering engine groups by. The real system obtains this from the
// vision model's deep-feature proxy; DefaultProxy is a self-contained
// fallback derived from the tensor itself.
type ProxyFunc func(t *features.Tensor) [][]float64

// DefaultProxy describes each channel by its mean, standard deviation and
// mean absolute energy.
func DefaultProxy(t *features.Tensor) [][]float64 {
	shape := t.Shape()
	descriptors := make([][]float64, shape.Channels)
	n := float64(shape.ChannelSize())
	for c := range descriptors {
		plane := t.Channel(c)
		var sum, sqSum, absSum float64
		for _, v := range plane {
			f := float64(v)
			sum += f
			sqSum += f * f
			absSum += math.Abs(f)
		}
		mean := sum / n
		variance := sqSum/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		descriptors[c] = []float64{mean, math.Sqrt(variance), absSum / n}
	}
	return descriptors
}

func sqDistance(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// SearchClusters partitions a tensor's channels into groups of similar
// channels and returns the per-channel group-id array.
//
// Channels are visited in ascending index order and joined to the nearest
// existing cluster whose center (the descriptor of the cluster's minimum
// member channel) lies within threshold, otherwise they open a new cluster.
// On distance ties the cluster with the lower key wins, keeping the result
// reproducible for identical inputs. Multi-member clusters are then labeled
// 0..n-1 in ascending key order; singletons stay self-coded.
//
// Returns ErrCodecLimit if more than MaxCollections multi-member groups would
// be needed, since their labels could not be serialized in one byte.
func SearchClusters(t *features.Tensor, proxy ProxyFunc, threshold float64) (GroupIDs, error) {
	if proxy == nil {
		proxy = DefaultProxy
	}
	descriptors := proxy(t)
	numChannels := t.Shape().Channels
	if len(descriptors) != numChannels {
		return nil, errors.Wrapf(ErrFormat, "proxy returned %d descriptors for %d channels",
			len(descriptors), numChannels)
	}

	// clusters[i] holds member channels; centers[i] is the descriptor of the
	// cluster's first (minimum) member. Clusters are created in ascending key
	// order, so iterating them in order with a strict < keeps the lower key
	// on ties.
	var clusters [][]int
	var centers [][]float64
	for ch := 0; ch < numChannels; ch++ {
		best := -1
		bestDist := math.Inf(1)
		for i, center := range centers {
			if d := sqDistance(descriptors[ch], center); d <= threshold && d < bestDist {
				best = i
				bestDist = d
			}
		}
		if best >= 0 {
			clusters[best] = append(clusters[best], ch)
		} else {
			clusters = append(clusters, []int{ch})
			centers = append(centers, descriptors[ch])
		}
	}

	groups := make(GroupIDs, numChannels)
	label := 0
	for _, members := range clusters {
		if len(members) == 1 {
			groups[members[0]] = selfCoded
			continue
		}
		if label >= MaxCollections {
			return nil, errors.Wrapf(ErrCodecLimit, "tensor needs more than %d channel groups", MaxCollections)
		}
		for _, ch := range members {
			groups[ch] = label
		}
		label++
	}
	return groups, nil
}
