// Package features defines the in-memory representation of the intermediate
// feature tensors exchanged between a split-inference vision model and the
// cfp codec.
//
// A Tensor holds one named layer's output (channels × height × width) for one
// sequence position, stored as a flat float32 slice in channel-major order.
// A Set groups the tensors of every layer tag for that position. Tensors are
// created by the vision-model side and treated as immutable by the codec.
package features

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
)

// Shape describes the dimensions of one layer's feature tensor.
type Shape struct {
	Channels, Height, Width int
}

// MakeShape returns a Shape with the given dimensions. It panics if any
// dimension is <= 0; use Shape literals plus Ok for values that may be
// invalid (e.g. parsed from a stream).
func MakeShape(channels, height, width int) Shape {
	s := Shape{Channels: channels, Height: height, Width: width}
	if !s.Ok() {
		exceptions.Panicf("features.MakeShape(%d, %d, %d): dimensions must be > 0", channels, height, width)
	}
	return s
}

// Ok returns whether all dimensions are positive.
func (s Shape) Ok() bool {
	return s.Channels > 0 && s.Height > 0 && s.Width > 0
}

// Size returns the total number of elements.
func (s Shape) Size() int { return s.Channels * s.Height * s.Width }

// ChannelSize returns the number of elements in one channel plane.
func (s Shape) ChannelSize() int { return s.Height * s.Width }

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d)", s.Channels, s.Height, s.Width)
}

// Tensor is one layer's feature map for one sequence position.
//
// The flat data is laid out channel-major: element (c, y, x) lives at
// c*Height*Width + y*Width + x.
type Tensor struct {
	shape Shape
	flat  []float32
}

// NewTensor returns a zero-initialized tensor of the given shape.
func NewTensor(shape Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("features.NewTensor(%s): invalid shape", shape)
	}
	return &Tensor{shape: shape, flat: make([]float32, shape.Size())}
}

// FromFlatData wraps data (without copying) as a tensor of the given shape.
// It panics if len(data) does not match shape.Size().
func FromFlatData(data []float32, shape Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("features.FromFlatData(%s): invalid shape", shape)
	}
	if len(data) != shape.Size() {
		exceptions.Panicf("features.FromFlatData(%s): got %d elements, shape needs %d",
			shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// Shape of the tensor.
func (t *Tensor) Shape() Shape { return t.shape }

// DType of the tensor's elements. The codec operates on float32 only;
// narrower storage types are converted at the I/O boundary.
func (t *Tensor) DType() dtypes.DType { return dtypes.Float32 }

// Size returns the number of elements, a shortcut to Shape().Size().
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat data. Callers must not mutate it once the
// tensor has been handed to the codec.
func (t *Tensor) Flat() []float32 { return t.flat }

// Channel returns the flat view of one channel plane.
func (t *Tensor) Channel(c int) []float32 {
	if c < 0 || c >= t.shape.Channels {
		exceptions.Panicf("features.Tensor.Channel(%d): tensor has %d channels", c, t.shape.Channels)
	}
	n := t.shape.ChannelSize()
	return t.flat[c*n : (c+1)*n]
}

// At returns element (c, y, x).
func (t *Tensor) At(c, y, x int) float32 {
	return t.flat[c*t.shape.ChannelSize()+y*t.shape.Width+x]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape, flat: slices.Clone(t.flat)}
}

// Equal reports whether o has the same shape and bit-identical contents.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.shape == o.shape && slices.Equal(t.flat, o.flat)
}

// MeanStd returns the mean and (population) standard deviation of the
// tensor's elements, accumulated in float64.
func (t *Tensor) MeanStd() (mean, std float64) {
	n := float64(len(t.flat))
	var sum float64
	for _, v := range t.flat {
		sum += float64(v)
	}
	mean = sum / n
	var sqSum float64
	for _, v := range t.flat {
		d := float64(v) - mean
		sqSum += d * d
	}
	std = math.Sqrt(sqSum / n)
	return
}

// Set maps layer tags to their tensors for one sequence position.
type Set map[string]*Tensor

// Tags returns the layer tags in ascending order, the codec's fixed coding
// order.
func (s Set) Tags() []string {
	tags := make([]string, 0, len(s))
	for tag := range s {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Shapes returns the per-tag shapes.
func (s Set) Shapes() map[string]Shape {
	shapes := make(map[string]Shape, len(s))
	for tag, t := range s {
		shapes[tag] = t.Shape()
	}
	return shapes
}

// Clamp limits v to the range [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
