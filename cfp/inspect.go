package cfp

import (
	"bufio"
	"io"
	"os"

	"github.com/pkg/errors"
)

// FrameInfo summarizes one coded feature set for reporting: its mode and the
// bytes it occupies in the stream (mode byte included).
type FrameInfo struct {
	OrderCount int
	Mode       CodingMode
	Bytes      int
	// PayloadBytes holds the entropy-coded block size per layer, in SPS
	// layer order.
	PayloadBytes []int
}

// StreamInfo is the result of walking a bitstream without reconstructing any
// tensors.
type StreamInfo struct {
	SPS        *SequenceParameterSet
	HeaderSize int
	TotalSize  int
	Frames     []FrameInfo
}

// Inspect walks a bitstream using only its framing (lengths, never payload
// contents) and reports per-frame accounting. It fails with the same error
// taxonomy as Decode on malformed or truncated streams.
func Inspect(path string) (*StreamInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bitstream %q", path)
	}
	defer f.Close()

	cr := &countingReader{r: bufio.NewReader(f)}
	sps, err := ReadSequenceParameterSet(cr)
	if err != nil {
		return nil, err
	}
	info := &StreamInfo{SPS: sps, HeaderSize: cr.n}

	for orderCount := 0; orderCount < int(sps.FrameCount); orderCount++ {
		frameStart := cr.n
		modeByte, err := readU8(cr)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading mode of feature set %d", orderCount)
		}
		mode := CodingMode(modeByte)
		frame := FrameInfo{OrderCount: orderCount, Mode: mode}
		for _, layer := range sps.Layers {
			switch mode {
			case ModeIntra:
				if err = skip(cr, layer.Shape.Channels); err != nil {
					return nil, errors.WithMessagef(err, "skipping group ids of feature set %d %q", orderCount, layer.Tag)
				}
			case ModeInter:
				// no group-id array; grouping is carried from the last intra.
			default:
				return nil, errors.Wrapf(ErrFormat, "feature set %d has unknown coding mode %d", orderCount, modeByte)
			}
			payloadLen, err := readU32(cr)
			if err != nil {
				return nil, errors.WithMessagef(err, "reading payload length of feature set %d %q", orderCount, layer.Tag)
			}
			if err = skip(cr, int(payloadLen)); err != nil {
				return nil, errors.WithMessagef(err, "skipping payload of feature set %d %q", orderCount, layer.Tag)
			}
			frame.PayloadBytes = append(frame.PayloadBytes, int(payloadLen))
		}
		frame.Bytes = cr.n - frameStart
		info.Frames = append(info.Frames, frame)
	}
	info.TotalSize = cr.n
	return info, nil
}

type countingReader struct {
	r io.Reader
	n int
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += n
	return n, err
}

func skip(r io.Reader, n int) error {
	copied, err := io.CopyN(io.Discard, r, int64(n))
	if err == io.EOF || (err == nil && copied < int64(n)) {
		return errors.Wrapf(ErrStreamTruncated, "needed %d more bytes", int64(n)-copied)
	}
	return errors.Wrap(err, "skipping stream data")
}
