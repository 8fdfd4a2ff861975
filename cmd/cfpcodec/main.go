// cfpcodec encodes feature-tensor dump files into CfP bitstreams and decodes
// them back.
//
//	Encode: cfpcodec -encode features.cfpt -qp 10 -bitstream_dir out/
//	Decode: cfpcodec -decode out/features.bin -output recon.cfpt
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/vcm-go/cfpcodec/cfp"
	"github.com/vcm-go/cfpcodec/internal/tensorfile"
)

var (
	flagEncode = flag.String("encode", "", "Feature tensor file to encode.")
	flagDecode = flag.String("decode", "", "Bitstream file to decode.")
	flagOutput = flag.String("output", "", "Output path: the reconstructed tensor file when decoding. "+
		"Defaults to the input name with a .cfpt extension.")

	flagQP        = flag.Uint("qp", 10, "Quantization parameter.")
	flagQPDensity = flag.Uint("qp_density", 4, "Quantization density: number of qp steps per octave, as a power of two.")
	flagIntraPeriod = flag.Int("intra_period", -1, "Code every n-th feature set as intra; -1 codes everything intra. "+
		"Decode must use the same value the stream was encoded with.")
	flagThreshold = flag.Float64("cluster_threshold", 0, "Squared descriptor distance below which channels share a coding group. "+
		"0 groups only identical descriptors.")
	flagBitstreamDir = flag.String("bitstream_dir", ".", "Directory receiving encoded bitstreams.")
	flagFloat16      = flag.Bool("float16", false, "Store decoded tensors as float16.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	switch {
	case *flagEncode != "" && *flagDecode != "":
		klog.Exit("-encode and -decode are mutually exclusive")
	case *flagEncode != "":
		encode(*flagEncode)
	case *flagDecode != "":
		decode(*flagDecode)
	default:
		flag.Usage()
		os.Exit(1)
	}
}

func newCodec() *cfp.Codec {
	return cfp.New(cfp.Options{
		QP:               uint32(*flagQP),
		QPDensity:        uint32(*flagQPDensity),
		IntraPeriod:      *flagIntraPeriod,
		ClusterThreshold: *flagThreshold,
		BitstreamDir:     *flagBitstreamDir,
	})
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func encode(path string) {
	seq := must.M1(tensorfile.Read(path))
	result := must.M1(newCodec().Encode(seq, stem(path)))
	fmt.Printf("%s: %d bytes, %.4f bpp\n", result.BitstreamPath, result.TotalBytes, result.BPP)
}

func decode(path string) {
	result := must.M1(newCodec().Decode(path))
	out := *flagOutput
	if out == "" {
		out = stem(path) + ".cfpt"
	}
	seq := &cfp.Sequence{
		Sets:      result.Sets,
		OrgHeight: int(result.SPS.OrgHeight), OrgWidth: int(result.SPS.OrgWidth),
		PadHeight: int(result.SPS.PadHeight), PadWidth: int(result.SPS.PadWidth),
	}
	dtype := dtypes.Float32
	if *flagFloat16 {
		dtype = dtypes.Float16
	}
	must.M(tensorfile.Write(out, seq, dtype))
	fmt.Printf("%s: %d feature sets, %d layers\n", out, len(result.Sets), len(result.SPS.Layers))
}
