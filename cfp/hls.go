package cfp

import (
	"io"
	"math"
	"slices"

	"github.com/pkg/errors"

	"github.com/vcm-go/cfpcodec/types/features"
)

// LayerShape pairs a layer tag with its declared tensor shape. The SPS stores
// layers in ascending tag order, which is also the codec's fixed per-tag
// coding order.
type LayerShape struct {
	Tag   string
	Shape features.Shape
}

// SequenceParameterSet (SPS) is the once-per-stream header. Every feature set
// in the stream must match the shapes declared here exactly.
type SequenceParameterSet struct {
	FrameCount uint32
	QP         uint32
	QPDensity  uint32

	// Original input image dimensions, used for bits-per-pixel reporting.
	OrgHeight, OrgWidth uint32
	// Padded input dimensions actually fed to the vision model.
	PadHeight, PadWidth uint32

	Layers []LayerShape
}

// NewSequenceParameterSet builds an SPS from the per-tag shapes, ordering the
// layers by ascending tag.
func NewSequenceParameterSet(frameCount int, qp, qpDensity uint32, orgH, orgW, padH, padW int,
	shapes map[string]features.Shape) (*SequenceParameterSet, error) {
	sps := &SequenceParameterSet{
		FrameCount: uint32(frameCount),
		QP:         qp,
		QPDensity:  qpDensity,
		OrgHeight:  uint32(orgH),
		OrgWidth:   uint32(orgW),
		PadHeight:  uint32(padH),
		PadWidth:   uint32(padW),
		Layers:     make([]LayerShape, 0, len(shapes)),
	}
	tags := make([]string, 0, len(shapes))
	for tag := range shapes {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	for _, tag := range tags {
		sps.Layers = append(sps.Layers, LayerShape{Tag: tag, Shape: shapes[tag]})
	}
	if err := sps.Validate(); err != nil {
		return nil, err
	}
	return sps, nil
}

// Validate checks the SPS invariants: at least one frame and one layer,
// positive dimensions, and fields that fit their serialized widths.
func (sps *SequenceParameterSet) Validate() error {
	if sps.FrameCount == 0 {
		return errors.Wrap(ErrFormat, "sps: frame count must be > 0")
	}
	if len(sps.Layers) == 0 {
		return errors.Wrap(ErrFormat, "sps: no layers declared")
	}
	if len(sps.Layers) > math.MaxUint8 {
		return errors.Wrapf(ErrFormat, "sps: %d layers, at most %d supported", len(sps.Layers), math.MaxUint8)
	}
	if sps.OrgHeight == 0 || sps.OrgWidth == 0 || sps.PadHeight == 0 || sps.PadWidth == 0 {
		return errors.Wrap(ErrFormat, "sps: input image dimensions must be > 0")
	}
	for i, layer := range sps.Layers {
		if layer.Tag == "" || len(layer.Tag) > math.MaxUint8 {
			return errors.Wrapf(ErrFormat, "sps: layer %d tag %q must be 1..%d bytes", i, layer.Tag, math.MaxUint8)
		}
		if i > 0 && sps.Layers[i-1].Tag >= layer.Tag {
			return errors.Wrapf(ErrFormat, "sps: layer tags not in ascending order at %q", layer.Tag)
		}
		if !layer.Shape.Ok() {
			return errors.Wrapf(ErrFormat, "sps: layer %q has invalid shape %s", layer.Tag, layer.Shape)
		}
	}
	return nil
}

// ShapeOf returns the declared shape for tag.
func (sps *SequenceParameterSet) ShapeOf(tag string) (features.Shape, bool) {
	for _, layer := range sps.Layers {
		if layer.Tag == tag {
			return layer.Shape, true
		}
	}
	return features.Shape{}, false
}

// Tags returns the layer tags in coding order.
func (sps *SequenceParameterSet) Tags() []string {
	tags := make([]string, len(sps.Layers))
	for i, layer := range sps.Layers {
		tags[i] = layer.Tag
	}
	return tags
}

// Write serializes the SPS and returns the number of bytes written. The SPS
// is the only declared (not computed) part of the bitstream, so its layout is
// fixed-order, fixed-width and must stay byte-exact across implementations.
func (sps *SequenceParameterSet) Write(w io.Writer) (int, error) {
	if err := sps.Validate(); err != nil {
		return 0, err
	}
	byteCnt := 0
	for _, v := range []uint32{
		sps.FrameCount, sps.QP, sps.QPDensity,
		sps.OrgHeight, sps.OrgWidth, sps.PadHeight, sps.PadWidth,
	} {
		n, err := writeU32(w, v)
		if err != nil {
			return byteCnt, err
		}
		byteCnt += n
	}
	n, err := writeU8(w, uint8(len(sps.Layers)))
	if err != nil {
		return byteCnt, err
	}
	byteCnt += n
	for _, layer := range sps.Layers {
		if n, err = writeU8(w, uint8(len(layer.Tag))); err != nil {
			return byteCnt, err
		}
		byteCnt += n
		if _, err = io.WriteString(w, layer.Tag); err != nil {
			return byteCnt, errors.Wrapf(err, "writing tag %q", layer.Tag)
		}
		byteCnt += len(layer.Tag)
		for _, dim := range []int{layer.Shape.Channels, layer.Shape.Height, layer.Shape.Width} {
			if n, err = writeU32(w, uint32(dim)); err != nil {
				return byteCnt, err
			}
			byteCnt += n
		}
	}
	return byteCnt, nil
}

// ReadSequenceParameterSet parses an SPS from the start of a bitstream.
func ReadSequenceParameterSet(r io.Reader) (*SequenceParameterSet, error) {
	sps := &SequenceParameterSet{}
	for _, dst := range []*uint32{
		&sps.FrameCount, &sps.QP, &sps.QPDensity,
		&sps.OrgHeight, &sps.OrgWidth, &sps.PadHeight, &sps.PadWidth,
	} {
		v, err := readU32(r)
		if err != nil {
			return nil, errors.WithMessage(err, "reading sps")
		}
		*dst = v
	}
	numLayers, err := readU8(r)
	if err != nil {
		return nil, errors.WithMessage(err, "reading sps layer count")
	}
	sps.Layers = make([]LayerShape, numLayers)
	for i := range sps.Layers {
		tagLen, err := readU8(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading sps layer %d", i)
		}
		tag := make([]byte, tagLen)
		if err = readFull(r, tag); err != nil {
			return nil, errors.WithMessagef(err, "reading sps layer %d tag", i)
		}
		sps.Layers[i].Tag = string(tag)
		var dims [3]uint32
		for d := range dims {
			if dims[d], err = readU32(r); err != nil {
				return nil, errors.WithMessagef(err, "reading sps layer %q shape", sps.Layers[i].Tag)
			}
		}
		sps.Layers[i].Shape = features.Shape{
			Channels: int(dims[0]), Height: int(dims[1]), Width: int(dims[2]),
		}
	}
	if err := sps.Validate(); err != nil {
		return nil, err
	}
	return sps, nil
}
