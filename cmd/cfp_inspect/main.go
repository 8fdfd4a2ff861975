// cfp_inspect prints the structure of a CfP bitstream: the sequence header
// and a per-feature-set accounting of modes and payload sizes. It only walks
// the framing, no tensors are reconstructed.
//
//	cfp_inspect [-frames] stream.bin
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/vcm-go/cfpcodec/cfp"
)

var flagFrames = flag.Bool("frames", false, "Also list every coded feature set.")

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				return oddRowStyle
			}
			return evenRowStyle
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one bitstream file. See 'cfp_inspect -help'.")
		os.Exit(1)
	}
	info := must.M1(cfp.Inspect(args[0]))
	report(info)
}

func report(info *cfp.StreamInfo) {
	sps := info.SPS
	table := newPlainTable()
	table.Row("feature sets", humanize.Comma(int64(sps.FrameCount)))
	table.Row("qp / qp_density", fmt.Sprintf("%d / %d", sps.QP, sps.QPDensity))
	table.Row("original input", fmt.Sprintf("%d×%d", sps.OrgWidth, sps.OrgHeight))
	table.Row("padded input", fmt.Sprintf("%d×%d", sps.PadWidth, sps.PadHeight))
	for _, layer := range sps.Layers {
		table.Row("layer "+layer.Tag, layer.Shape.String())
	}
	table.Row("header", humanize.Bytes(uint64(info.HeaderSize)))
	table.Row("total", humanize.Bytes(uint64(info.TotalSize)))
	fmt.Println(table.Render())

	var intra, inter int
	for _, frame := range info.Frames {
		if frame.Mode == cfp.ModeIntra {
			intra++
		} else {
			inter++
		}
	}
	fmt.Printf("%d INTRA, %d PB\n", intra, inter)

	if !*flagFrames {
		return
	}
	frames := newPlainTable()
	headers := []string{"#", "mode", "bytes"}
	for _, layer := range sps.Layers {
		headers = append(headers, layer.Tag)
	}
	frames.Headers(headers...)
	for _, frame := range info.Frames {
		row := []string{
			humanize.Comma(int64(frame.OrderCount)),
			frame.Mode.String(),
			humanize.Comma(int64(frame.Bytes)),
		}
		for _, payload := range frame.PayloadBytes {
			row = append(row, humanize.Comma(int64(payload)))
		}
		frames.Row(row...)
	}
	fmt.Println(frames.Render())
}
