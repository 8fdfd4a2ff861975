package cfp

import (
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/vcm-go/cfpcodec/entropy"
	"github.com/vcm-go/cfpcodec/types/features"
)

// Per-tag sigma-clipping constants for the FPN layer tags produced by the
// supported detection/segmentation split points. Coarser pyramid levels carry
// sparser activations and tolerate a wider clip.
var defaultNbSigmas = map[string]float64{
	"p2": 1,
	"p3": 1,
	"p4": 3,
	"p5": 3,
}

// fallbackNbSigmas is used for tags without a configured constant.
const fallbackNbSigmas = 3

// sigmaClip clips samples symmetrically at nbSigmas standard deviations
// around the mean, bounding the quantizer's input range. This is lossy by
// design: together with the quantization step it is the codec's only source
// of reconstruction error.
func sigmaClip(t *features.Tensor, nbSigmas float64) []float32 {
	mean, std := t.MeanStd()
	minClip := mean - nbSigmas*std
	maxClip := mean + nbSigmas*std
	bound := math.Max(math.Abs(minClip), maxClip)
	lo, hi := float32(-bound), float32(bound)
	clipped := make([]float32, t.Size())
	for i, v := range t.Flat() {
		clipped[i] = features.Clamp(v, lo, hi)
	}
	return clipped
}

// encodeIntra codes one feature set without reference to prior frames. Per
// tag it writes the +1-shifted group-id array (one byte per channel), then
// the length-prefixed entropy-coded block of the quantized, sigma-clipped
// representative channels.
//
// The returned reconstruction is produced by dequantizing the just-encoded
// levels, so it is bit-identical to what the decoder computes and can seed
// the reconstruction buffer for a following inter step.
func encodeIntra(w io.Writer, sps *SequenceParameterSet, coder entropy.Coder,
	set features.Set, groups map[string]GroupIDs, nbSigmas map[string]float64) (int, features.Set, error) {
	byteCnt := 0
	recon := make(features.Set, len(sps.Layers))
	for _, layer := range sps.Layers {
		tensor := set[layer.Tag]
		plan, err := NewPlan(groups[layer.Tag], layer.Shape)
		if err != nil {
			return byteCnt, nil, errors.WithMessagef(err, "intra coding %q", layer.Tag)
		}

		shifted := make([]byte, len(plan.Groups))
		for i, label := range plan.Groups {
			shifted[i] = byte(label + 1)
		}
		if _, err = w.Write(shifted); err != nil {
			return byteCnt, nil, errors.Wrapf(err, "writing group ids for %q", layer.Tag)
		}
		byteCnt += len(shifted)

		reps := plan.Representatives(tensor)
		ns, ok := nbSigmas[layer.Tag]
		if !ok {
			ns = fallbackNbSigmas
		}
		levels := entropy.Quantize(sigmaClip(reps, ns), sps.QP, sps.QPDensity)
		payload, err := coder.Encode(levels)
		if err != nil {
			return byteCnt, nil, errors.WithMessagef(err, "entropy coding %q", layer.Tag)
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

		reconReps := entropy.DequantizeTensor(levels, plan.CodedShape(), sps.QP, sps.QPDensity)
		full, err := plan.Expand(reconReps)
		if err != nil {
			return byteCnt, nil, err
		}
		recon[layer.Tag] = full
	}
	return byteCnt, recon, nil
}

// decodeIntra reverses encodeIntra: per tag it reads the group-id array,
// rebuilds the channel collections from it, reads the framed entropy block,
// dequantizes one representative per collection and broadcasts it onto the
// collection's channels. It also returns the per-tag group ids, which stay
// current for any following inter-coded feature sets.
func decodeIntra(r io.Reader, sps *SequenceParameterSet, coder entropy.Coder) (features.Set, map[string]GroupIDs, error) {
	set := make(features.Set, len(sps.Layers))
	groups := make(map[string]GroupIDs, len(sps.Layers))
	for _, layer := range sps.Layers {
		shifted := make([]byte, layer.Shape.Channels)
		if err := readFull(r, shifted); err != nil {
			return nil, nil, errors.WithMessagef(err, "reading group ids for %q", layer.Tag)
		}
		g := make(GroupIDs, len(shifted))
		for i, b := range shifted {
			g[i] = int(b) - 1
		}
		plan, err := NewPlan(g, layer.Shape)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "intra decoding %q", layer.Tag)
		}

		levels, err := readFramedBlock(r, coder, plan.CodedShape().Size())
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "intra decoding %q", layer.Tag)
		}
		reps := entropy.DequantizeTensor(levels, plan.CodedShape(), sps.QP, sps.QPDensity)
		full, err := plan.Expand(reps)
		if err != nil {
			return nil, nil, err
		}
		set[layer.Tag] = full
		groups[layer.Tag] = g
	}
	return set, groups, nil
}

// readFramedBlock reads one length-prefixed entropy-coded block and decodes
// it into n quantization levels.
func readFramedBlock(r io.Reader, coder entropy.Coder, n int) ([]int32, error) {
	payloadLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, payloadLen)
	if err = readFull(r, payload); err != nil {
		return nil, err
	}
	levels, err := coder.Decode(payload, n)
	if err != nil {
		return nil, errors.WithMessage(err, "decoding entropy block")
	}
	return levels, nil
}
