package cfp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Fixed-width stream helpers. All multi-byte fields in the bitstream are
// big-endian, and every short read surfaces as ErrStreamTruncated so decode
// failures are distinguishable from I/O errors on intact streams.

func writeU8(w io.Writer, v uint8) (int, error) {
	if _, err := w.Write([]byte{v}); err != nil {
		return 0, errors.Wrap(err, "writing byte")
	}
	return 1, nil
}

func writeU32(w io.Writer, v uint32) (int, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return 0, errors.Wrap(err, "writing uint32")
	}
	return 4, nil
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrStreamTruncated, "needed %d more bytes", len(buf))
	}
	return errors.Wrap(err, "reading stream")
}

func readU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
