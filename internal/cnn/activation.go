package cnn

import (
	"fmt"
	"math"

	"mltrack/internal/errors"

	"gonum.org/v1/gonum/floats"
)

// Activation is applied to a layer's output along the channel axis
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Sigmoid Activation = "sigmoid"
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
)

func (a Activation) check() error {
	switch a {
	case "", Linear, ReLU, Sigmoid, Tanh, Softmax:
		return nil
	}
	return errors.InvalidInput(fmt.Sprintf("unknown activation %q", a))
}

// apply transforms data in place; channels is the length of the last axis
func (a Activation) apply(data []float64, channels int) {
	switch a {
	case ReLU:
		for i, v := range data {
			if v < 0 {
				data[i] = 0
			}
		}
	case Sigmoid:
		for i, v := range data {
			data[i] = 1 / (1 + math.Exp(-v))
		}
	case Tanh:
		for i, v := range data {
			data[i] = math.Tanh(v)
		}
	case Softmax:
		for start := 0; start < len(data); start += channels {
			softmax(data[start : start+channels])
		}
	}
}

func softmax(v []float64) {
	m := floats.Max(v)
	floats.AddConst(-m, v)
	for i, x := range v {
		v[i] = math.Exp(x)
	}
	floats.Scale(1/floats.Sum(v), v)
}
