package cnn

import (
	"fmt"
	"math"

	"mltrack/internal/errors"
	"mltrack/internal/tensor"

	"gonum.org/v1/gonum/mat"
)

// Shape is height, width, channels
type Shape [3]int

func (s Shape) size() int { return s[0] * s[1] * s[2] }

type layer interface {
	outputShape() Shape
	forward(x *tensor.Tensor) *tensor.Tensor
}

// outSize follows the TensorFlow rules: "valid" keeps only full windows,
// "same" covers ceil(in/stride) positions and splits padding with the
// extra row or column at the end
func outSize(in, k, stride int, same bool) (out, padBefore int) {
	if same {
		out = (in + stride - 1) / stride
		pad := max((out-1)*stride+k-in, 0)
		return out, pad / 2
	}
	if in < k {
		return 0, 0
	}
	return (in-k)/stride + 1, 0
}

type conv2D struct {
	in, out         Shape
	kh, kw, sh, sw  int
	padTop, padLeft int
	kernel          *mat.Dense // (kh*kw*in channels) x filters
	bias            []float64
	activation      Activation
}

func newConv2D(in Shape, s LayerSpec) (*conv2D, error) {
	kh, kw, err := pair(s.KernelSize, 0, "kernel_size")
	if err != nil {
		return nil, err
	}
	sh, sw, err := pair(s.Strides, 1, "strides")
	if err != nil {
		return nil, err
	}
	same, err := padding(s.Padding)
	if err != nil {
		return nil, err
	}
	if s.Filters <= 0 {
		return nil, errors.InvalidInput("conv2d needs filters")
	}
	rows := kh * kw * in[2]
	if len(s.Weights) != rows*s.Filters {
		return nil, errors.InvalidInput(fmt.Sprintf("conv2d kernel needs %d weights, got %d", rows*s.Filters, len(s.Weights)))
	}
	if err := checkBias(s.Bias, s.Filters); err != nil {
		return nil, err
	}

	oh, padTop := outSize(in[0], kh, sh, same)
	ow, padLeft := outSize(in[1], kw, sw, same)
	if oh <= 0 || ow <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("conv2d kernel %dx%d does not fit input %v", kh, kw, in))
	}
	return &conv2D{
		in: in, out: Shape{oh, ow, s.Filters},
		kh: kh, kw: kw, sh: sh, sw: sw,
		padTop: padTop, padLeft: padLeft,
		kernel:     mat.NewDense(rows, s.Filters, s.Weights),
		bias:       s.Bias,
		activation: s.Activation,
	}, nil
}

func (l *conv2D) outputShape() Shape { return l.out }

// forward lays every receptive field out as one row (im2col) so the whole
// convolution is a single matrix product, whose rows are already in
// height-width-channel order
func (l *conv2D) forward(x *tensor.Tensor) *tensor.Tensor {
	oh, ow, filters := l.out[0], l.out[1], l.out[2]
	cin := l.in[2]
	cols := mat.NewDense(oh*ow, l.kh*l.kw*cin, nil)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := cols.RawRowView(oy*ow + ox)
			k := 0
			for ky := 0; ky < l.kh; ky++ {
				iy := oy*l.sh + ky - l.padTop
				for kx := 0; kx < l.kw; kx++ {
					ix := ox*l.sw + kx - l.padLeft
					if iy >= 0 && iy < l.in[0] && ix >= 0 && ix < l.in[1] {
						start := (iy*l.in[1] + ix) * cin
						copy(row[k:k+cin], x.Data[start:start+cin])
					}
					k += cin
				}
			}
		}
	}

	out := mat.NewDense(oh*ow, filters, nil)
	out.Mul(cols, l.kernel)
	data := out.RawMatrix().Data
	addBias(data, l.bias)
	l.activation.apply(data, filters)
	return &tensor.Tensor{H: oh, W: ow, C: filters, Data: data}
}

type maxPool2D struct {
	in, out         Shape
	ph, pw, sh, sw  int
	padTop, padLeft int
}

func newMaxPool2D(in Shape, s LayerSpec) (*maxPool2D, error) {
	ph, pw, err := pair(s.PoolSize, 2, "pool_size")
	if err != nil {
		return nil, err
	}
	sh, sw := ph, pw
	if len(s.Strides) > 0 {
		if sh, sw, err = pair(s.Strides, 0, "strides"); err != nil {
			return nil, err
		}
	}
	same, err := padding(s.Padding)
	if err != nil {
		return nil, err
	}
	oh, padTop := outSize(in[0], ph, sh, same)
	ow, padLeft := outSize(in[1], pw, sw, same)
	if oh <= 0 || ow <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("pool %dx%d does not fit input %v", ph, pw, in))
	}
	return &maxPool2D{in: in, out: Shape{oh, ow, in[2]}, ph: ph, pw: pw, sh: sh, sw: sw, padTop: padTop, padLeft: padLeft}, nil
}

func (l *maxPool2D) outputShape() Shape { return l.out }

func (l *maxPool2D) forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(l.out[0], l.out[1], l.out[2])
	for oy := 0; oy < l.out[0]; oy++ {
		for ox := 0; ox < l.out[1]; ox++ {
			for c := 0; c < l.out[2]; c++ {
				best := math.Inf(-1)
				for ky := 0; ky < l.ph; ky++ {
					iy := oy*l.sh + ky - l.padTop
					if iy < 0 || iy >= l.in[0] {
						continue
					}
					for kx := 0; kx < l.pw; kx++ {
						ix := ox*l.sw + kx - l.padLeft
						if ix < 0 || ix >= l.in[1] {
							continue
						}
						best = math.Max(best, x.At(iy, ix, c))
					}
				}
				out.Set(oy, ox, c, best)
			}
		}
	}
	return out
}

type globalAveragePool struct {
	in Shape
}

func (l *globalAveragePool) outputShape() Shape { return Shape{1, 1, l.in[2]} }

func (l *globalAveragePool) forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(1, 1, l.in[2])
	n := float64(l.in[0] * l.in[1])
	for i, v := range x.Data {
		out.Data[i%l.in[2]] += v / n
	}
	return out
}

type flatten struct {
	in Shape
}

func (l *flatten) outputShape() Shape { return Shape{1, 1, l.in.size()} }

func (l *flatten) forward(x *tensor.Tensor) *tensor.Tensor {
	return &tensor.Tensor{H: 1, W: 1, C: len(x.Data), Data: x.Data}
}

// dense applies the same weights at every spatial position, so after a
// flatten it is an ordinary fully connected layer
type dense struct {
	in, out    Shape
	weights    *mat.Dense // in channels x units
	bias       []float64
	activation Activation
}

func newDense(in Shape, s LayerSpec) (*dense, error) {
	if s.Units <= 0 {
		return nil, errors.InvalidInput("dense needs units")
	}
	if len(s.Weights) != in[2]*s.Units {
		return nil, errors.InvalidInput(fmt.Sprintf("dense needs %d weights, got %d", in[2]*s.Units, len(s.Weights)))
	}
	if err := checkBias(s.Bias, s.Units); err != nil {
		return nil, err
	}
	return &dense{
		in:         in,
		out:        Shape{in[0], in[1], s.Units},
		weights:    mat.NewDense(in[2], s.Units, s.Weights),
		bias:       s.Bias,
		activation: s.Activation,
	}, nil
}

func (l *dense) outputShape() Shape { return l.out }

func (l *dense) forward(x *tensor.Tensor) *tensor.Tensor {
	in := mat.NewDense(l.in[0]*l.in[1], l.in[2], x.Data)
	out := mat.NewDense(l.in[0]*l.in[1], l.out[2], nil)
	out.Mul(in, l.weights)
	data := out.RawMatrix().Data
	addBias(data, l.bias)
	l.activation.apply(data, l.out[2])
	return &tensor.Tensor{H: l.out[0], W: l.out[1], C: l.out[2], Data: data}
}

// identity covers layers that only act during training, such as dropout
type identity struct {
	shape Shape
}

func (l *identity) outputShape() Shape                      { return l.shape }
func (l *identity) forward(x *tensor.Tensor) *tensor.Tensor { return x }

func pair(v []int, def int, name string) (int, int, error) {
	switch len(v) {
	case 0:
		if def > 0 {
			return def, def, nil
		}
	case 1:
		if v[0] > 0 {
			return v[0], v[0], nil
		}
	case 2:
		if v[0] > 0 && v[1] > 0 {
			return v[0], v[1], nil
		}
	}
	return 0, 0, errors.InvalidInput(fmt.Sprintf("invalid %s %v", name, v))
}

func padding(p string) (same bool, err error) {
	switch p {
	case "", "valid":
		return false, nil
	case "same":
		return true, nil
	}
	return false, errors.InvalidInput(fmt.Sprintf("unknown padding %q", p))
}

func checkBias(b []float64, n int) error {
	if b != nil && len(b) != n {
		return errors.InvalidInput(fmt.Sprintf("bias needs %d values, got %d", n, len(b)))
	}
	return nil
}

func addBias(data, bias []float64) {
	if len(bias) == 0 {
		return
	}
	for i := range data {
		data[i] += bias[i%len(bias)]
	}
}
