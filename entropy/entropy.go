// Package entropy provides the quantization and entropy-coding service behind
// the cfp codec.
//
// The codec treats this package as a pure, deterministic transform:
// Quantize/Dequantize map float32 samples to integer levels and back under a
// qp/qpDensity step-size policy, and a Coder turns the integer levels into an
// opaque compressed block and back. The default Coder wraps zstd; the codec
// never looks inside the payload bytes.
package entropy

import (
	"math"

	"github.com/vcm-go/cfpcodec/types/features"
)

// Coder compresses quantized integer levels into an opaque byte block and
// restores them. Implementations must be deterministic and stateless per
// call: encoding the same levels twice yields identical bytes.
type Coder interface {
	// Encode compresses the given quantization levels.
	Encode(levels []int32) ([]byte, error)

	// Decode restores exactly n levels from a block produced by Encode.
	Decode(block []byte, n int) ([]int32, error)
}

// StepSize returns the quantizer step for the given qp and qpDensity.
//
// qpDensity sets how many qp values fall within one octave: the low qpDensity
// bits of qp select a fractional step within the octave selected by the
// remaining high bits.
//
//	step = (1 + (qp mod 2^d) / 2^d) * 2^(qp >> d)
func StepSize(qp, qpDensity uint32) float64 {
	frac := qp & ((1 << qpDensity) - 1)
	exp := qp >> qpDensity
	return (1 + float64(frac)/float64(uint64(1)<<qpDensity)) * math.Pow(2, float64(exp))
}

// Quantize maps samples to integer levels with uniform step StepSize(qp,
// qpDensity), rounding to nearest.
func Quantize(samples []float32, qp, qpDensity uint32) []int32 {
	step := StepSize(qp, qpDensity)
	levels := make([]int32, len(samples))
	for i, v := range samples {
		levels[i] = int32(math.RoundToEven(float64(v) / step))
	}
	return levels
}

// Dequantize is the exact inverse scaling of Quantize. It is the single
// reconstruction function shared by the encoder (to seed its reconstruction
// buffer) and the decoder, so both sides always agree bit-for-bit.
func Dequantize(levels []int32, qp, qpDensity uint32) []float32 {
	step := StepSize(qp, qpDensity)
	samples := make([]float32, len(levels))
	for i, q := range levels {
		samples[i] = float32(float64(q) * step)
	}
	return samples
}

// DequantizeTensor reconstructs a tensor of the given shape from levels.
func DequantizeTensor(levels []int32, shape features.Shape, qp, qpDensity uint32) *features.Tensor {
	return features.FromFlatData(Dequantize(levels, qp, qpDensity), shape)
}
