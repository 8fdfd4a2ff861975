package cfp

import (
	"io"

	"github.com/pkg/errors"

	"github.com/vcm-go/cfpcodec/entropy"
	"github.com/vcm-go/cfpcodec/types/features"
)

// Inter (PB) coding predicts a feature set from the previous reconstruction.
// Policy: per tag, the representative channels under the grouping carried
// from the last intra step are predicted by the same representatives of the
// buffered reconstruction, and only the quantized residual is entropy-coded.
// The prediction uses nothing but the decoder's own reconstruction buffer and
// the serialized grouping, so encode and decode replay it identically.

// encodeInter codes one feature set as a residual against buffer, the
// reconstruction of the immediately preceding feature set. groups is the
// grouping established by the last intra step.
func encodeInter(w io.Writer, sps *SequenceParameterSet, coder entropy.Coder,
	set, buffer features.Set, groups map[string]GroupIDs) (int, features.Set, error) {
	if buffer == nil || groups == nil {
		return 0, nil, errors.Wrap(ErrInvalidState, "inter coding without a primed reconstruction buffer")
	}
	byteCnt := 0
	recon := make(features.Set, len(sps.Layers))
	for _, layer := range sps.Layers {
		plan, err := NewPlan(groups[layer.Tag], layer.Shape)
		if err != nil {
			return byteCnt, nil, errors.WithMessagef(err, "inter coding %q", layer.Tag)
		}
		reps := plan.Representatives(set[layer.Tag])
		predicted := plan.Representatives(buffer[layer.Tag])

		residual := make([]float32, reps.Size())
		for i, v := range reps.Flat() {
			residual[i] = v - predicted.Flat()[i]
		}
		levels := entropy.Quantize(residual, sps.QP, sps.QPDensity)
		payload, err := coder.Encode(levels)
		if err != nil {
			return byteCnt, nil, errors.WithMessagef(err, "entropy coding %q residual", layer.Tag)
		}
		n, err := writeU32(w, uint32(len(payload)))
		if err != nil {
			return byteCnt, nil, err
		}
		byteCnt += n
		if _, err = w.Write(payload); err != nil {
			return byteCnt, nil, errors.Wrapf(err, "writing payload for %q", layer.Tag)
		}
		byteCnt += len(payload)

		full, err := reconstructInter(plan, levels, predicted, sps)
		if err != nil {
			return byteCnt, nil, err
		}
		recon[layer.Tag] = full
	}
	return byteCnt, recon, nil
}

// decodeInter reads the per-tag residual blocks and adds back the carried
// reconstruction. Valid only immediately after a successfully reconstructed
// feature set.
func decodeInter(r io.Reader, sps *SequenceParameterSet, coder entropy.Coder,
	buffer features.Set, groups map[string]GroupIDs) (features.Set, error) {
	if buffer == nil || groups == nil {
		return nil, errors.Wrap(ErrInvalidState, "inter decoding without a primed reconstruction buffer")
	}
	set := make(features.Set, len(sps.Layers))
	for _, layer := range sps.Layers {
		plan, err := NewPlan(groups[layer.Tag], layer.Shape)
		if err != nil {
			return nil, errors.WithMessagef(err, "inter decoding %q", layer.Tag)
		}
		levels, err := readFramedBlock(r, coder, plan.CodedShape().Size())
		if err != nil {
			return nil, errors.WithMessagef(err, "inter decoding %q", layer.Tag)
		}
		predicted := plan.Representatives(buffer[layer.Tag])
		full, err := reconstructInter(plan, levels, predicted, sps)
		if err != nil {
			return nil, err
		}
		set[layer.Tag] = full
	}
	return set, nil
}

// reconstructInter is the shared reconstruction path of inter encode and
// decode: dequantize the residual levels, add the predicted representatives,
// broadcast onto the full channel set.
func reconstructInter(plan *Plan, levels []int32, predicted *features.Tensor,
	sps *SequenceParameterSet) (*features.Tensor, error) {
	residual := entropy.Dequantize(levels, sps.QP, sps.QPDensity)
	reps := features.NewTensor(plan.CodedShape())
	for i := range residual {
		reps.Flat()[i] = predicted.Flat()[i] + residual[i]
	}
	return plan.Expand(reps)
}
