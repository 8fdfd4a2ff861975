package cfp

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/vcm-go/cfpcodec/types/features"
)

// Plan is the channel-suppression plan for one tensor: which channels are
// actually entropy-coded and how decoded representatives broadcast back onto
// the full channel set. A Plan is fully determined by the group-id array, so
// the decoder rebuilds the identical plan from the serialized ids alone.
type Plan struct {
	Groups      GroupIDs
	Collections []Collection
	fullShape   features.Shape
}

// NewPlan validates the group-id array against the tensor shape and derives
// the channel collections.
func NewPlan(groups GroupIDs, shape features.Shape) (*Plan, error) {
	if len(groups) != shape.Channels {
		return nil, errors.Wrapf(ErrFormat, "group-id array has %d entries for %d channels",
			len(groups), shape.Channels)
	}
	collections, err := groups.Collections()
	if err != nil {
		return nil, err
	}
	return &Plan{Groups: groups, Collections: collections, fullShape: shape}, nil
}

// CodedShape returns the shape of the representative tensor that is actually
// quantized and entropy-coded: one channel per collection.
func (p *Plan) CodedShape() features.Shape {
	return features.Shape{
		Channels: len(p.Collections),
		Height:   p.fullShape.Height,
		Width:    p.fullShape.Width,
	}
}

// Representatives extracts each collection's representative signal, the
// collection-key channel, in ascending key order. On the encode side this
// yields the channels to code; applied to a reconstruction buffer it recovers
// the representatives the inter coder predicts from (after Expand, the key
// channel carries exactly the collection's decoded representative).
func (p *Plan) Representatives(t *features.Tensor) *features.Tensor {
	if t.Shape() != p.fullShape {
		exceptions.Panicf("cfp: tensor shape %s does not match plan shape %s", t.Shape(), p.fullShape)
	}
	reps := features.NewTensor(p.CodedShape())
	for i, collection := range p.Collections {
		copy(reps.Channel(i), t.Channel(collection.Key))
	}
	return reps
}

// Expand broadcasts each decoded representative channel back onto all member
// channels of its collection, reconstructing the full tensor. It is the exact
// inverse of Representatives under the channel-group invariant (collections
// partition the channel set).
func (p *Plan) Expand(reps *features.Tensor) (*features.Tensor, error) {
	if reps.Shape() != p.CodedShape() {
		return nil, errors.Wrapf(ErrFormat, "representative tensor has shape %s, plan needs %s",
			reps.Shape(), p.CodedShape())
	}
	full := features.NewTensor(p.fullShape)
	for i, collection := range p.Collections {
		rep := reps.Channel(i)
		for _, ch := range collection.Channels {
			copy(full.Channel(ch), rep)
		}
	}
	return full, nil
}
