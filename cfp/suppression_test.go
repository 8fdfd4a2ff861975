package cfp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcm-go/cfpcodec/types/features"
)

func TestPlanRepresentativesAndExpand(t *testing.T) {
	tensor := constantChannels(t, 10, 20, 10, 30)
	groups := GroupIDs{0, -1, 0, -1}
	plan, err := NewPlan(groups, tensor.Shape())
	require.NoError(t, err)
	require.Equal(t, features.MakeShape(3, 2, 2), plan.CodedShape())

	// Representatives are the collection-key channels in ascending key
	// order: 0 (group), 1 and 3 (self-coded).
	reps := plan.Representatives(tensor)
	require.Equal(t, tensor.Channel(0), reps.Channel(0))
	require.Equal(t, tensor.Channel(1), reps.Channel(1))
	require.Equal(t, tensor.Channel(3), reps.Channel(2))

	// Expand broadcasts each representative onto all its member channels;
	// for this tensor (channel 2 identical to its representative 0) the
	// round trip is exact.
	full, err := plan.Expand(reps)
	require.NoError(t, err)
	require.True(t, tensor.Equal(full))
}

func TestPlanExpandOverwritesMembers(t *testing.T) {
	// Channel 2 differs from its group representative; after the round
	// trip it carries the representative's plane.
	tensor := constantChannels(t, 10, 20, 11, 30)
	plan, err := NewPlan(GroupIDs{0, -1, 0, -1}, tensor.Shape())
	require.NoError(t, err)

	full, err := plan.Expand(plan.Representatives(tensor))
	require.NoError(t, err)
	require.Equal(t, tensor.Channel(0), full.Channel(2))
}

func TestPlanValidates(t *testing.T) {
	shape := features.MakeShape(4, 2, 2)
	_, err := NewPlan(GroupIDs{0, 0}, shape)
	require.ErrorIs(t, err, ErrFormat)

	plan, err := NewPlan(GroupIDs{-1, -1, -1, -1}, shape)
	require.NoError(t, err)
	_, err = plan.Expand(features.NewTensor(features.MakeShape(2, 2, 2)))
	require.ErrorIs(t, err, ErrFormat)

	require.Panics(t, func() {
		plan.Representatives(features.NewTensor(features.MakeShape(5, 2, 2)))
	})
}
