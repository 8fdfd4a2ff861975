package cfp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vcm-go/cfpcodec/types/features"
)

func testShapes() map[string]features.Shape {
	return map[string]features.Shape{
		"p2": features.MakeShape(256, 100, 168),
		"p3": features.MakeShape(256, 50, 84),
		"p4": features.MakeShape(256, 25, 42),
		"p5": features.MakeShape(256, 13, 21),
	}
}

func TestSPSRoundTrip(t *testing.T) {
	sps, err := NewSequenceParameterSet(30, 10, 4, 720, 1280, 800, 1344, testShapes())
	require.NoError(t, err)
	// Layers are ordered by ascending tag regardless of map iteration.
	require.Equal(t, []string{"p2", "p3", "p4", "p5"}, sps.Tags())

	var buf bytes.Buffer
	n, err := sps.Write(&buf)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)

	got, err := ReadSequenceParameterSet(&buf)
	require.NoError(t, err)
	require.Equal(t, sps, got)

	shape, ok := got.ShapeOf("p4")
	require.True(t, ok)
	require.Equal(t, features.MakeShape(256, 25, 42), shape)
	_, ok = got.ShapeOf("p9")
	require.False(t, ok)
}

func TestSPSWriteIsByteExact(t *testing.T) {
	sps, err := NewSequenceParameterSet(2, 7, 1, 10, 20, 12, 24,
		map[string]features.Shape{"f": features.MakeShape(3, 4, 5)})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = sps.Write(&buf)
	require.NoError(t, err)
	want := []byte{
		0, 0, 0, 2, // frame count
		0, 0, 0, 7, // qp
		0, 0, 0, 1, // qp density
		0, 0, 0, 10, 0, 0, 0, 20, // original dims
		0, 0, 0, 12, 0, 0, 0, 24, // padded dims
		1,           // layer count
		1, 'f',      // tag
		0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0, 5, // shape
	}
	require.Equal(t, want, buf.Bytes())
}

func TestSPSValidate(t *testing.T) {
	_, err := NewSequenceParameterSet(0, 10, 4, 720, 1280, 800, 1344, testShapes())
	require.ErrorIs(t, err, ErrFormat)

	_, err = NewSequenceParameterSet(30, 10, 4, 720, 1280, 800, 1344, nil)
	require.ErrorIs(t, err, ErrFormat)

	_, err = NewSequenceParameterSet(30, 10, 4, 0, 1280, 800, 1344, testShapes())
	require.ErrorIs(t, err, ErrFormat)

	sps := &SequenceParameterSet{
		FrameCount: 1, OrgHeight: 1, OrgWidth: 1, PadHeight: 1, PadWidth: 1,
		Layers: []LayerShape{{Tag: "p2", Shape: features.Shape{Channels: 4}}},
	}
	require.ErrorIs(t, sps.Validate(), ErrFormat)

	sps.Layers = []LayerShape{
		{Tag: "p3", Shape: features.MakeShape(1, 1, 1)},
		{Tag: "p2", Shape: features.MakeShape(1, 1, 1)},
	}
	require.ErrorIs(t, sps.Validate(), ErrFormat)
}

func TestSPSReadTruncated(t *testing.T) {
	sps, err := NewSequenceParameterSet(30, 10, 4, 720, 1280, 800, 1344, testShapes())
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = sps.Write(&buf)
	require.NoError(t, err)

	full := buf.Bytes()
	for _, cut := range []int{0, 3, 7, 28, len(full) - 1} {
		_, err = ReadSequenceParameterSet(bytes.NewReader(full[:cut]))
		require.ErrorIs(t, err, ErrStreamTruncated, "cut at %d bytes", cut)
	}
}
