package cnn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"mltrack/internal/errors"
	"mltrack/internal/tensor"

	"golang.org/x/sync/errgroup"
)

// LayerSpec is the serialised form of one layer. Kernels are flattened in
// [kernel height][kernel width][input channels][filters] order and dense
// weights in [inputs][units] order.
type LayerSpec struct {
	Type       string     `json:"type"`
	Filters    int        `json:"filters,omitempty"`
	KernelSize []int      `json:"kernel_size,omitempty"`
	Strides    []int      `json:"strides,omitempty"`
	Padding    string     `json:"padding,omitempty"`
	PoolSize   []int      `json:"pool_size,omitempty"`
	Units      int        `json:"units,omitempty"`
	Rate       float64    `json:"rate,omitempty"`
	Activation Activation `json:"activation,omitempty"`
	Weights    []float64  `json:"weights,omitempty"`
	Bias       []float64  `json:"bias,omitempty"`
}

// Model is a sequential stack of layers run in inference mode
type Model struct {
	Name       string      `json:"name"`
	InputShape Shape       `json:"input_shape"`
	Layers     []LayerSpec `json:"layers"`

	compiled []layer
}

// NewModel builds a model and checks that every layer fits its input
func NewModel(name string, input Shape, specs ...LayerSpec) (*Model, error) {
	m := &Model{Name: name, InputShape: input, Layers: specs}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) compile() error {
	if m.InputShape[0] <= 0 || m.InputShape[1] <= 0 || m.InputShape[2] <= 0 {
		return errors.InvalidInput(fmt.Sprintf("invalid input shape %v", m.InputShape))
	}
	if len(m.Layers) == 0 {
		return errors.InvalidInput("model has no layers")
	}

	shape := m.InputShape
	m.compiled = m.compiled[:0]
	for i, spec := range m.Layers {
		if err := spec.Activation.check(); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		l, err := buildLayer(shape, spec)
		if err != nil {
			return errors.Wrapf(err, "layer %d (%s)", i, spec.Type)
		}
		m.compiled = append(m.compiled, l)
		shape = l.outputShape()
	}
	return nil
}

func buildLayer(in Shape, s LayerSpec) (layer, error) {
	switch strings.ToLower(s.Type) {
	case "conv2d":
		return newConv2D(in, s)
	case "maxpool2d", "maxpooling2d":
		return newMaxPool2D(in, s)
	case "globalaveragepooling2d":
		return &globalAveragePool{in: in}, nil
	case "flatten":
		return &flatten{in: in}, nil
	case "dense":
		return newDense(in, s)
	case "dropout":
		if s.Rate < 0 || s.Rate >= 1 {
			return nil, errors.InvalidInput(fmt.Sprintf("dropout rate %v out of range", s.Rate))
		}
		return &identity{shape: in}, nil
	}
	return nil, errors.InvalidInput(fmt.Sprintf("unknown layer type %q", s.Type))
}

func (m *Model) checkCompiled() error {
	if len(m.compiled) == 0 {
		return errors.InvalidState("model is not compiled; build it with NewModel or LoadModel")
	}
	return nil
}

// OutputShape is the shape of the last layer's output
func (m *Model) OutputShape() (Shape, error) {
	if err := m.checkCompiled(); err != nil {
		return Shape{}, err
	}
	return m.compiled[len(m.compiled)-1].outputShape(), nil
}

// Forward runs one image through every layer
func (m *Model) Forward(x *tensor.Tensor) ([]float64, error) {
	if err := m.checkCompiled(); err != nil {
		return nil, err
	}
	if Shape(x.Shape()) != m.InputShape {
		return nil, errors.InvalidInput(fmt.Sprintf("input shape %v does not match model input %v", x.Shape(), m.InputShape))
	}
	if x.Len() != m.InputShape.size() {
		return nil, errors.InvalidInput(fmt.Sprintf("input holds %d values, shape %v needs %d", x.Len(), m.InputShape, m.InputShape.size()))
	}
	for _, l := range m.compiled {
		x = l.forward(x)
	}
	return x.Data, nil
}

// Predict runs a batch in parallel and returns one output row per image
func (m *Model) Predict(ctx context.Context, images []*tensor.Tensor) ([][]float64, error) {
	out := make([][]float64, len(images))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, img := range images {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			y, err := m.Forward(img)
			if err != nil {
				return errors.Wrapf(err, "image %d", i)
			}
			out[i] = y
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Flavor names the model format when the network is logged as a run model
func (m *Model) Flavor() string {
	return "go_cnn"
}

// FileName is the payload name inside a logged model directory
func (m *Model) FileName() string {
	return "model.json"
}

// Save writes the model as JSON
func (m *Model) Save(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// SaveFile writes the model to path
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads a model written by Save and validates its layer shapes
func Load(r io.Reader) (*Model, error) {
	var m Model
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrap(err, "failed to decode model"))
	}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadModel reads a model file
func LoadModel(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("model file " + path)
		}
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	return Load(f)
}
