// Package tensorfile reads and writes feature-tensor dump files, the exchange
// format between the vision-model side (which produces the tensors) and the
// cfpcodec command-line tools.
//
// The file stores a whole sequence: geometry, the per-tag shapes, then every
// feature set frame-major with tags in ascending order. Samples are stored
// little-endian as float32 or, to halve file sizes, float16; the codec itself
// always works on float32.
package tensorfile

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/vcm-go/cfpcodec/cfp"
	"github.com/vcm-go/cfpcodec/types/features"
)

var magic = [4]byte{'C', 'F', 'P', 'T'}

const version = 1

func dtypeByte(dtype dtypes.DType) (byte, error) {
	switch dtype {
	case dtypes.Float32:
		return 0, nil
	case dtypes.Float16:
		return 1, nil
	}
	return 0, errors.Errorf("tensorfile: unsupported dtype %s, use Float32 or Float16", dtype)
}

func byteDType(b byte) (dtypes.DType, error) {
	switch b {
	case 0:
		return dtypes.Float32, nil
	case 1:
		return dtypes.Float16, nil
	}
	return dtypes.InvalidDType, errors.Errorf("tensorfile: unknown dtype byte %d", b)
}

// Write stores seq at path with the given storage dtype.
func Write(path string, seq *cfp.Sequence, dtype dtypes.DType) error {
	dtByte, err := dtypeByte(dtype)
	if err != nil {
		return err
	}
	if err = seq.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating tensor file %q", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if _, err = w.Write(magic[:]); err != nil {
		return errors.Wrap(err, "writing magic")
	}
	if err = w.WriteByte(version); err != nil {
		return errors.Wrap(err, "writing version")
	}
	if err = w.WriteByte(dtByte); err != nil {
		return errors.Wrap(err, "writing dtype")
	}
	header := []uint32{
		uint32(len(seq.Sets)),
		uint32(seq.OrgHeight), uint32(seq.OrgWidth),
		uint32(seq.PadHeight), uint32(seq.PadWidth),
	}
	for _, v := range header {
		if err = binary.Write(w, binary.BigEndian, v); err != nil {
			return errors.Wrap(err, "writing header")
		}
	}

	tags := seq.Sets[0].Tags()
	if err = w.WriteByte(byte(len(tags))); err != nil {
		return errors.Wrap(err, "writing tag count")
	}
	for _, tag := range tags {
		shape := seq.Sets[0][tag].Shape()
		if err = w.WriteByte(byte(len(tag))); err != nil {
			return errors.Wrap(err, "writing tag length")
		}
		if _, err = io.WriteString(w, tag); err != nil {
			return errors.Wrapf(err, "writing tag %q", tag)
		}
		for _, dim := range []uint32{uint32(shape.Channels), uint32(shape.Height), uint32(shape.Width)} {
			if err = binary.Write(w, binary.BigEndian, dim); err != nil {
				return errors.Wrapf(err, "writing shape of %q", tag)
			}
		}
	}

	for _, set := range seq.Sets {
		for _, tag := range tags {
			if err = writeSamples(w, set[tag].Flat(), dtype); err != nil {
				return errors.Wrapf(err, "writing samples of %q", tag)
			}
		}
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "flushing %q", path)
	}
	return nil
}

func writeSamples(w io.Writer, samples []float32, dtype dtypes.DType) error {
	var buf []byte
	if dtype == dtypes.Float16 {
		buf = make([]byte, 2*len(samples))
		for i, v := range samples {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
		}
	} else {
		buf = make([]byte, 4*len(samples))
		for i, v := range samples {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
	}
	_, err := w.Write(buf)
	return err
}

// Read loads a sequence from path. Float16 samples are widened to float32.
func Read(path string) (*cfp.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening tensor file %q", path)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var gotMagic [4]byte
	if _, err = io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if gotMagic != magic {
		return nil, errors.Errorf("tensorfile: %q is not a feature tensor file", path)
	}
	ver, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	if ver != version {
		return nil, errors.Errorf("tensorfile: unsupported version %d", ver)
	}
	dtByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading dtype")
	}
	dtype, err := byteDType(dtByte)
	if err != nil {
		return nil, err
	}

	var header [5]uint32
	for i := range header {
		if err = binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, errors.Wrap(err, "reading header")
		}
	}
	seq := &cfp.Sequence{
		OrgHeight: int(header[1]), OrgWidth: int(header[2]),
		PadHeight: int(header[3]), PadWidth: int(header[4]),
	}
	numFrames := int(header[0])

	tagCount, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "reading tag count")
	}
	tags := make([]string, tagCount)
	shapes := make(map[string]features.Shape, tagCount)
	for i := range tags {
		tagLen, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(err, "reading tag length")
		}
		tag := make([]byte, tagLen)
		if _, err = io.ReadFull(r, tag); err != nil {
			return nil, errors.Wrap(err, "reading tag")
		}
		tags[i] = string(tag)
		var dims [3]uint32
		for d := range dims {
			if err = binary.Read(r, binary.BigEndian, &dims[d]); err != nil {
				return nil, errors.Wrapf(err, "reading shape of %q", tags[i])
			}
		}
		shapes[tags[i]] = features.Shape{Channels: int(dims[0]), Height: int(dims[1]), Width: int(dims[2])}
		if !shapes[tags[i]].Ok() {
			return nil, errors.Errorf("tensorfile: tag %q has invalid shape %s", tags[i], shapes[tags[i]])
		}
	}

	seq.Sets = make([]features.Set, numFrames)
	for frame := range seq.Sets {
		set := make(features.Set, len(tags))
		for _, tag := range tags {
			samples, err := readSamples(r, shapes[tag].Size(), dtype)
			if err != nil {
				return nil, errors.Wrapf(err, "reading frame %d tag %q", frame, tag)
			}
			set[tag] = features.FromFlatData(samples, shapes[tag])
		}
		seq.Sets[frame] = set
	}
	return seq, nil
}

func readSamples(r io.Reader, n int, dtype dtypes.DType) ([]float32, error) {
	samples := make([]float32, n)
	if dtype == dtypes.Float16 {
		buf := make([]byte, 2*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		for i := range samples {
			samples[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
		}
		return samples, nil
	}
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return samples, nil
}
