// Package cfp implements the CfP feature-tensor compression codec: it takes
// the per-layer feature tensors produced by a split-inference vision model,
// groups redundant channels, quantizes and entropy-codes the surviving
// representatives into a compact bitstream, and reconstructs the tensors on
// decode.
//
// The codec is an offline batch tool, strictly sequential: feature sets are
// coded in increasing order because inter (PB) coding predicts each set from
// the reconstruction of the immediately preceding one. All failures are
// fatal for the running call and propagate to the caller.
package cfp

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/vcm-go/cfpcodec/entropy"
	"github.com/vcm-go/cfpcodec/types/features"
)

// CodingMode selects how one feature set is coded.
type CodingMode uint8

const (
	// ModeIntra codes a feature set standalone.
	ModeIntra CodingMode = 0
	// ModeInter predicts a feature set from the previous reconstruction.
	ModeInter CodingMode = 1
)

func (m CodingMode) String() string {
	switch m {
	case ModeIntra:
		return "INTRA"
	case ModeInter:
		return "PB"
	}
	return "INVALID"
}

// Options configures a Codec. The zero value is not usable; fill in at least
// QP and QPDensity and call New.
type Options struct {
	// QP and QPDensity drive the quantizer step size, see entropy.StepSize.
	QP        uint32
	QPDensity uint32

	// IntraPeriod selects intra coding for every IntraPeriod-th feature set
	// (zero-based order count); -1 forces every feature set to intra.
	// Encoder and decoder must use the same value or the stream
	// desynchronizes destructively.
	IntraPeriod int

	// ClusterThreshold is the squared descriptor distance below which two
	// channels join the same coding group.
	ClusterThreshold float64

	// NbSigmas holds per-tag sigma-clipping constants; tags absent here
	// clip at 3 sigmas. Nil selects the built-in FPN defaults.
	NbSigmas map[string]float64

	// BitstreamDir is where encode writes its .bin files, created on
	// demand. Empty means the current directory.
	BitstreamDir string

	// Proxy supplies per-channel descriptors for clustering; nil selects
	// DefaultProxy.
	Proxy ProxyFunc

	// Coder is the entropy-coding service; nil selects entropy.NewZstdCoder.
	Coder entropy.Coder
}

// Codec drives the per-feature-set encode/decode loop. Create with New. A
// Codec is not safe for concurrent use; each Encode or Decode call runs to
// completion or fails fatally.
type Codec struct {
	opts  Options
	coder entropy.Coder
}

// New returns a Codec for the given options. It panics on option values that
// are programming errors (IntraPeriod 0 or < -1).
func New(opts Options) *Codec {
	if opts.IntraPeriod == 0 || opts.IntraPeriod < -1 {
		exceptions.Panicf("cfp.New: IntraPeriod must be > 0 or -1, got %d", opts.IntraPeriod)
	}
	if opts.NbSigmas == nil {
		opts.NbSigmas = defaultNbSigmas
	}
	coder := opts.Coder
	if coder == nil {
		coder = entropy.NewZstdCoder()
	}
	return &Codec{opts: opts, coder: coder}
}

// modeFor implements the transition rule of the coding state machine: the
// first feature set and every IntraPeriod-th one thereafter is intra, the
// rest are PB. IntraPeriod -1 forces intra everywhere.
func (c *Codec) modeFor(orderCount int) CodingMode {
	if c.opts.IntraPeriod == -1 || orderCount%c.opts.IntraPeriod == 0 {
		return ModeIntra
	}
	return ModeInter
}

// Sequence is the encoder's input: one feature set per frame plus the input
// image geometry recorded in the SPS.
type Sequence struct {
	Sets []features.Set

	// Original input image dimensions (before padding), used for the
	// bits-per-pixel figure.
	OrgHeight, OrgWidth int
	// Padded dimensions fed to the vision model.
	PadHeight, PadWidth int
}

// Validate checks that the sequence is non-empty and every feature set
// carries the same tags and shapes as the first.
func (s *Sequence) Validate() error {
	if len(s.Sets) == 0 {
		return errors.Wrap(ErrFormat, "sequence has no feature sets")
	}
	shapes := s.Sets[0].Shapes()
	if len(shapes) == 0 {
		return errors.Wrap(ErrFormat, "feature sets have no layers")
	}
	for i, set := range s.Sets {
		if len(set) != len(shapes) {
			return errors.Wrapf(ErrFormat, "feature set %d has %d layers, want %d", i, len(set), len(shapes))
		}
		for tag, tensor := range set {
			want, ok := shapes[tag]
			if !ok {
				return errors.Wrapf(ErrFormat, "feature set %d has undeclared tag %q", i, tag)
			}
			if tensor.Shape() != want {
				return errors.Wrapf(ErrFormat, "feature set %d tag %q has shape %s, sequence declares %s",
					i, tag, tensor.Shape(), want)
			}
		}
	}
	return nil
}

// EncodeResult reports one completed encode.
type EncodeResult struct {
	TotalBytes    int
	BitstreamPath string
	// BPP is total coded bits divided by frames times original image pixels.
	BPP float64
}

// Encode compresses the sequence into BitstreamDir/<filePrefix>.bin. An
// empty filePrefix gets a generated name. The bitstream file is closed on
// all exit paths; on error the partial file is unusable for decode.
func (c *Codec) Encode(seq *Sequence, filePrefix string) (result *EncodeResult, err error) {
	if err = seq.Validate(); err != nil {
		return nil, err
	}
	if filePrefix == "" {
		filePrefix = uuid.NewString()
	}
	dir := c.opts.BitstreamDir
	if dir == "" {
		dir = "."
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating bitstream dir %q", dir)
	}
	path := filepath.Join(dir, filePrefix+".bin")
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating bitstream %q", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing bitstream %q", path)
			result = nil
		}
	}()

	klog.V(1).Infof("Encoding %d feature sets to %s (qp=%d, qp_density=%d, intra_period=%d)",
		len(seq.Sets), path, c.opts.QP, c.opts.QPDensity, c.opts.IntraPeriod)

	w := bufio.NewWriter(f)
	sps, err := NewSequenceParameterSet(len(seq.Sets), c.opts.QP, c.opts.QPDensity,
		seq.OrgHeight, seq.OrgWidth, seq.PadHeight, seq.PadWidth, seq.Sets[0].Shapes())
	if err != nil {
		return nil, err
	}
	byteCnt, err := sps.Write(w)
	if err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(len(seq.Sets),
		progressbar.OptionSetDescription("encoding"),
		progressbar.OptionSetVisibility(klog.V(1).Enabled()),
		progressbar.OptionClearOnFinish())

	// Current grouping and reconstruction buffer: recomputed at every intra
	// step, carried across the following inter steps, replaced each frame.
	var groups map[string]GroupIDs
	var buffer features.Set
	for orderCount, set := range seq.Sets {
		mode := c.modeFor(orderCount)

		// Clustering runs before anything is written, so a cluster-count
		// overflow aborts without a partial payload for this feature set.
		if mode == ModeIntra {
			groups = make(map[string]GroupIDs, len(sps.Layers))
			for _, layer := range sps.Layers {
				g, err := SearchClusters(set[layer.Tag], c.opts.Proxy, c.opts.ClusterThreshold)
				if err != nil {
					return nil, errors.WithMessagef(err, "clustering feature set %d tag %q", orderCount, layer.Tag)
				}
				groups[layer.Tag] = g
			}
		}

		n, err := writeU8(w, uint8(mode))
		if err != nil {
			return nil, err
		}
		byteCnt += n

		var recon features.Set
		switch mode {
		case ModeIntra:
			n, recon, err = encodeIntra(w, sps, c.coder, set, groups, c.opts.NbSigmas)
		case ModeInter:
			n, recon, err = encodeInter(w, sps, c.coder, set, buffer, groups)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "encoding feature set %d (%s)", orderCount, mode)
		}
		byteCnt += n
		buffer = recon
		_ = bar.Add(1)
	}
	if err = w.Flush(); err != nil {
		return nil, errors.Wrapf(err, "flushing bitstream %q", path)
	}

	bpp := float64(byteCnt*8) / float64(len(seq.Sets)*seq.OrgHeight*seq.OrgWidth)
	klog.Infof("Encoded %d feature sets: %s, %.4f bpp", len(seq.Sets), humanize.Bytes(uint64(byteCnt)), bpp)
	return &EncodeResult{TotalBytes: byteCnt, BitstreamPath: path, BPP: bpp}, nil
}

// DecodeResult carries the parsed header and the reconstructed feature sets.
type DecodeResult struct {
	SPS  *SequenceParameterSet
	Sets []features.Set
}

// Decode reconstructs all feature sets from a bitstream file. The mode of
// each feature set is replayed from the stream; the channel grouping of the
// last intra step stays current for the inter steps that follow it.
func (c *Codec) Decode(path string) (result *DecodeResult, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bitstream %q", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "closing bitstream %q", path)
			result = nil
		}
	}()
	return c.decodeStream(bufio.NewReader(f))
}

func (c *Codec) decodeStream(r io.Reader) (*DecodeResult, error) {
	sps, err := ReadSequenceParameterSet(r)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Decoding %d feature sets, %d layers", sps.FrameCount, len(sps.Layers))

	sets := make([]features.Set, 0, sps.FrameCount)
	var groups map[string]GroupIDs
	var buffer features.Set
	for orderCount := 0; orderCount < int(sps.FrameCount); orderCount++ {
		modeByte, err := readU8(r)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading mode of feature set %d", orderCount)
		}
		var set features.Set
		switch CodingMode(modeByte) {
		case ModeIntra:
			set, groups, err = decodeIntra(r, sps, c.coder)
		case ModeInter:
			set, err = decodeInter(r, sps, c.coder, buffer, groups)
		default:
			return nil, errors.Wrapf(ErrFormat, "feature set %d has unknown coding mode %d", orderCount, modeByte)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding feature set %d", orderCount)
		}
		buffer = set
		sets = append(sets, set)
	}
	return &DecodeResult{SPS: sps, Sets: sets}, nil
}
