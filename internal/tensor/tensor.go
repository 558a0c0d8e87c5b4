// Package tensor holds the dense height x width x channels arrays passed
// between the image loader and the CNN.
package tensor

// Tensor is a channels-last 3-D array stored row-major
type Tensor struct {
	H, W, C int
	Data    []float64
}

// New allocates a zeroed tensor
func New(h, w, c int) *Tensor {
	return &Tensor{H: h, W: w, C: c, Data: make([]float64, h*w*c)}
}

func (t *Tensor) index(y, x, ch int) int {
	return (y*t.W+x)*t.C + ch
}

// At returns the value at row y, column x, channel ch
func (t *Tensor) At(y, x, ch int) float64 {
	return t.Data[t.index(y, x, ch)]
}

// Set stores v at row y, column x, channel ch
func (t *Tensor) Set(y, x, ch int, v float64) {
	t.Data[t.index(y, x, ch)] = v
}

// Shape returns [H, W, C]
func (t *Tensor) Shape() [3]int {
	return [3]int{t.H, t.W, t.C}
}

// Len is the number of values
func (t *Tensor) Len() int {
	return len(t.Data)
}
