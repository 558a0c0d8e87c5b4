package imagegen

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var classColors = map[string]color.RGBA{
	"adenocarcinoma": {R: 255, A: 255},
	"normal":         {B: 255, A: 255},
}

// writeTree creates n solid-colour 8x8 PNGs per class
func writeTree(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	for name, c := range classColors {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < n; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 8, 8))
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					img.Set(x, y, c)
				}
			}
			f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	}
	return root
}

func validationOptions() FlowOptions {
	return FlowOptions{
		Subset:        SubsetValidation,
		TargetSize:    [2]int{4, 4},
		BatchSize:     4,
		Interpolation: Bilinear,
	}
}

func TestValidationSubset(t *testing.T) {
	root := writeTree(t, 10)
	gen := Generator{Rescale: 1.0 / 255, ValidationSplit: 0.30}

	it, err := gen.FlowFromDirectory(root, validationOptions())
	require.NoError(t, err)

	assert.Equal(t, 6, it.Samples())
	assert.Equal(t, 2, it.Len())
	assert.Equal(t, map[string]int{"adenocarcinoma": 0, "normal": 1}, it.ClassIndices())
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, it.Classes())
	assert.Equal(t, "a.png", filepath.Base(it.Filenames()[0]))
	assert.Equal(t, "c.png", filepath.Base(it.Filenames()[2]))

	first, err := it.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, first.Images, 4)
	assert.Equal(t, [3]int{4, 4, 3}, first.Images[0].Shape())
	assert.InDelta(t, 1.0, first.Images[0].At(2, 2, 0), 0.01)
	assert.InDelta(t, 0.0, first.Images[0].At(2, 2, 2), 0.01)
	assert.Equal(t, []float64{1, 0}, first.Labels[0])
	assert.Equal(t, []float64{0, 1}, first.Labels[3])

	last, err := it.Batch(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, last.Images, 2)
	assert.InDelta(t, 1.0, last.Images[1].At(0, 0, 2), 0.01)

	_, err = it.Batch(context.Background(), 2)
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))
}

func TestTrainingSubsetIsComplement(t *testing.T) {
	root := writeTree(t, 10)
	gen := Generator{ValidationSplit: 0.30}
	opts := validationOptions()
	opts.Subset = SubsetTraining

	it, err := gen.FlowFromDirectory(root, opts)
	require.NoError(t, err)
	assert.Equal(t, 14, it.Samples())
	assert.Equal(t, "d.png", filepath.Base(it.Filenames()[0]))

	batch, err := it.Batch(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, 255.0, batch.Images[0].At(0, 0, 0), 1)
}

func TestShuffleIsSeeded(t *testing.T) {
	root := writeTree(t, 10)
	gen := Generator{}
	opts := DefaultFlowOptions()
	opts.TargetSize = [2]int{2, 2}
	opts.BatchSize = 20
	opts.Seed = 11

	classesOf := func() []int {
		it, err := gen.FlowFromDirectory(root, opts)
		require.NoError(t, err)
		b, err := it.Batch(context.Background(), 0)
		require.NoError(t, err)
		return b.Classes
	}
	a, b := classesOf(), classesOf()
	assert.Equal(t, a, b)

	sorted := append([]int(nil), a...)
	sort.Ints(sorted)
	assert.Equal(t, 10, sort.SearchInts(sorted, 1))
}

func TestTranslucentPixelsKeepColour(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "x")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 40, A: 128})
		}
	}
	img.SetNRGBA(3, 3, color.NRGBA{B: 200, A: 0})
	f, err := os.Create(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	opts := validationOptions()
	opts.Subset = SubsetAll
	opts.Interpolation = Nearest
	it, err := Generator{}.FlowFromDirectory(root, opts)
	require.NoError(t, err)

	batch, err := it.Batch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batch.Images, 1)
	px := batch.Images[0]
	assert.Equal(t, 255.0, px.At(0, 0, 0))
	assert.Equal(t, 40.0, px.At(0, 0, 1))
	assert.Equal(t, 0.0, px.At(0, 0, 2))
	assert.Equal(t, 200.0, px.At(3, 3, 2))
}

func TestCorruptImage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x", "broken.png"), []byte("nope"), 0o644))

	opts := validationOptions()
	opts.Subset = SubsetAll
	it, err := Generator{}.FlowFromDirectory(root, opts)
	require.NoError(t, err)
	_, err = it.Batch(context.Background(), 0)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestFlowErrors(t *testing.T) {
	root := writeTree(t, 2)

	_, err := Generator{}.FlowFromDirectory(filepath.Join(root, "missing"), validationOptions())
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	opts := validationOptions()
	opts.Subset = SubsetAll
	_, err = Generator{}.FlowFromDirectory(filepath.Join(root, "missing"), opts)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	opts.Interpolation = "lanczos"
	_, err = Generator{}.FlowFromDirectory(root, opts)
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	_, err = Generator{ValidationSplit: 1.5}.FlowFromDirectory(root, validationOptions())
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	empty := t.TempDir()
	opts = validationOptions()
	opts.Subset = SubsetAll
	_, err = Generator{}.FlowFromDirectory(empty, opts)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}
