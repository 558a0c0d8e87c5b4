package imagegen

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"runtime"

	"mltrack/internal/errors"
	"mltrack/internal/tensor"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"
)

// Batch is one slice of decoded images with their labels
type Batch struct {
	Images []*tensor.Tensor
	// Labels are one-hot rows over all classes
	Labels  [][]float64
	Classes []int
}

// Iterator yields batches over the files a flow selected
type Iterator struct {
	filenames    []string
	classes      []int
	order        []int
	classIndices map[string]int
	classNames   []string
	rescale      float64
	opts         FlowOptions
	scaler       draw.Scaler
}

// Samples is the number of images
func (it *Iterator) Samples() int {
	return len(it.filenames)
}

// Len is the number of batches; the last one may be short
func (it *Iterator) Len() int {
	return (len(it.filenames) + it.opts.BatchSize - 1) / it.opts.BatchSize
}

// NumClasses counts the class directories, including empty ones
func (it *Iterator) NumClasses() int {
	return len(it.classNames)
}

// ClassIndices maps class directory names to labels
func (it *Iterator) ClassIndices() map[string]int {
	out := make(map[string]int, len(it.classIndices))
	for k, v := range it.classIndices {
		out[k] = v
	}
	return out
}

// Classes returns the label of each file in directory order
func (it *Iterator) Classes() []int {
	return append([]int(nil), it.classes...)
}

// Filenames returns the selected files in directory order
func (it *Iterator) Filenames() []string {
	return append([]string(nil), it.filenames...)
}

// Batch decodes batch i
func (it *Iterator) Batch(ctx context.Context, i int) (*Batch, error) {
	if i < 0 || i >= it.Len() {
		return nil, errors.InvalidParameter(fmt.Sprintf("batch %d out of range [0, %d)", i, it.Len()))
	}
	start := i * it.opts.BatchSize
	end := min(start+it.opts.BatchSize, len(it.order))
	idx := it.order[start:end]

	b := &Batch{
		Images:  make([]*tensor.Tensor, len(idx)),
		Labels:  make([][]float64, len(idx)),
		Classes: make([]int, len(idx)),
	}

	workers := it.opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, sample := range idx {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := it.load(it.filenames[sample])
			if err != nil {
				return err
			}
			b.Images[k] = img
			return nil
		})
		label := it.classes[sample]
		b.Classes[k] = label
		b.Labels[k] = make([]float64, len(it.classNames))
		b.Labels[k][label] = 1
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}

// load decodes one file, resizes it to the target size and converts it to
// scaled RGB
func (it *Iterator) load(path string) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, errors.Wrapf(err, "failed to decode %s", path))
	}

	opaque := dropAlpha(src)
	h, w := it.opts.TargetSize[0], it.opts.TargetSize[1]
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	it.scaler.Scale(dst, dst.Bounds(), opaque, opaque.Bounds(), draw.Src, nil)

	scale := it.rescale
	if scale == 0 {
		scale = 1
	}
	out := tensor.New(h, w, 3)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				out.Set(y, x, c, float64(row[x*4+c])*scale)
			}
		}
	}
	return out, nil
}

// dropAlpha returns src as a fully opaque image keeping the straight RGB
// values, so translucent pixels are not darkened by premultiplication.
func dropAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(b)
	if n, ok := src.(*image.NRGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			copy(out.Pix[out.PixOffset(b.Min.X, y):out.PixOffset(b.Max.X, y)], n.Pix[n.PixOffset(b.Min.X, y):n.PixOffset(b.Max.X, y)])
		}
	} else {
		draw.Draw(out, b, src, b.Min, draw.Src)
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
