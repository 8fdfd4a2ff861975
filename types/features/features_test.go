package features

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	shape := MakeShape(4, 8, 8)
	require.True(t, shape.Ok())
	require.Equal(t, 4*8*8, shape.Size())
	require.Equal(t, 8*8, shape.ChannelSize())
	require.Equal(t, "(4, 8, 8)", shape.String())

	require.False(t, Shape{}.Ok())
	require.False(t, Shape{Channels: 4, Height: -1, Width: 8}.Ok())
	require.Panics(t, func() { MakeShape(0, 8, 8) })
}

func TestTensor(t *testing.T) {
	shape := MakeShape(2, 2, 3)
	tensor := NewTensor(shape)
	require.Equal(t, shape, tensor.Shape())
	require.Len(t, tensor.Flat(), shape.Size())

	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = float32(i)
	}
	tensor = FromFlatData(data, shape)
	require.Equal(t, float32(6), tensor.Channel(1)[0])
	require.Equal(t, float32(10), tensor.At(1, 1, 1))
	require.Panics(t, func() { tensor.Channel(2) })
	require.Panics(t, func() { FromFlatData(data[:5], shape) })

	clone := tensor.Clone()
	require.True(t, tensor.Equal(clone))
	clone.Flat()[0] = 100
	require.False(t, tensor.Equal(clone))
}

func TestMeanStd(t *testing.T) {
	tensor := FromFlatData([]float32{1, 1, 1, 1}, MakeShape(1, 2, 2))
	mean, std := tensor.MeanStd()
	require.Equal(t, 1.0, mean)
	require.Equal(t, 0.0, std)

	tensor = FromFlatData([]float32{-2, 2, -2, 2}, MakeShape(1, 2, 2))
	mean, std = tensor.MeanStd()
	require.Equal(t, 0.0, mean)
	require.Equal(t, 2.0, std)
}

func TestSetTags(t *testing.T) {
	set := Set{
		"p5": NewTensor(MakeShape(1, 2, 2)),
		"p2": NewTensor(MakeShape(1, 4, 4)),
		"p3": NewTensor(MakeShape(1, 3, 3)),
	}
	require.Equal(t, []string{"p2", "p3", "p5"}, set.Tags())
	require.Equal(t, MakeShape(1, 4, 4), set.Shapes()["p2"])
}

func TestClamp(t *testing.T) {
	require.Equal(t, float32(1), Clamp(float32(5), -1, 1))
	require.Equal(t, float32(-1), Clamp(float32(-5), -1, 1))
	require.Equal(t, float32(0.5), Clamp(float32(0.5), -1, 1))
	require.Equal(t, 3, Clamp(2, 3, 7))
}
