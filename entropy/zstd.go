package entropy

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ZstdCoder is the default Coder. Quantization levels are serialized as
// little-endian int32 and compressed as a single zstd frame. Encoder
// concurrency is pinned to 1 so the output bytes are reproducible for
// identical input.
type ZstdCoder struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCoder returns a ready-to-use ZstdCoder.
func NewZstdCoder() *ZstdCoder {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		panic(errors.Wrap(err, "entropy: creating zstd encoder"))
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic(errors.Wrap(err, "entropy: creating zstd decoder"))
	}
	return &ZstdCoder{enc: enc, dec: dec}
}

// Encode implements Coder.
func (c *ZstdCoder) Encode(levels []int32) ([]byte, error) {
	raw := make([]byte, 4*len(levels))
	for i, q := range levels {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(q))
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode implements Coder.
func (c *ZstdCoder) Decode(block []byte, n int) ([]int32, error) {
	raw, err := c.dec.DecodeAll(block, make([]byte, 0, 4*n))
	if err != nil {
		return nil, errors.Wrap(err, "entropy: zstd decode")
	}
	if len(raw) != 4*n {
		return nil, errors.Errorf("entropy: decoded %d bytes, want %d (%d levels)", len(raw), 4*n, n)
	}
	levels := make([]int32, n)
	for i := range levels {
		levels[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return levels, nil
}
