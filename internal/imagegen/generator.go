package imagegen

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mltrack/internal"
	"mltrack/internal/errors"

	"golang.org/x/image/draw"
)

// Subset selects which side of the validation split a flow reads
type Subset string

const (
	SubsetAll        Subset = ""
	SubsetTraining   Subset = "training"
	SubsetValidation Subset = "validation"
)

// Interpolation names the resampling used when resizing to the target size
type Interpolation string

const (
	Nearest  Interpolation = "nearest"
	Bilinear Interpolation = "bilinear"
	Bicubic  Interpolation = "bicubic"
)

func (i Interpolation) scaler() (draw.Scaler, error) {
	switch i {
	case Nearest:
		return draw.NearestNeighbor, nil
	case Bilinear, "":
		return draw.BiLinear, nil
	case Bicubic:
		return draw.CatmullRom, nil
	default:
		return nil, errors.InvalidParameter(fmt.Sprintf("unknown interpolation %q", i))
	}
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

// Generator turns a class-per-directory image tree into batches
type Generator struct {
	// Rescale multiplies every pixel value; zero leaves bytes unscaled
	Rescale float64
	// ValidationSplit is the fraction of each class held out as validation
	ValidationSplit float64
}

// FlowOptions controls one pass over a directory
type FlowOptions struct {
	Subset        Subset
	TargetSize    [2]int // height, width
	BatchSize     int
	Shuffle       bool
	Seed          int64
	Interpolation Interpolation
	// Workers bounds concurrent decodes per batch; 0 uses GOMAXPROCS
	Workers int
}

// DefaultFlowOptions are 256x256 bilinear batches of 32, shuffled
func DefaultFlowOptions() FlowOptions {
	return FlowOptions{TargetSize: [2]int{256, 256}, BatchSize: 32, Shuffle: true, Interpolation: Bilinear}
}

func (g Generator) validate(opts FlowOptions) error {
	if g.ValidationSplit < 0 || g.ValidationSplit >= 1 {
		return errors.InvalidParameter(fmt.Sprintf("validation split must be in [0, 1), got %v", g.ValidationSplit))
	}
	switch opts.Subset {
	case SubsetAll:
	case SubsetTraining, SubsetValidation:
		if g.ValidationSplit == 0 {
			return errors.InvalidParameter(fmt.Sprintf("subset %q needs a validation split", opts.Subset))
		}
	default:
		return errors.InvalidParameter(fmt.Sprintf("unknown subset %q", opts.Subset))
	}
	if opts.TargetSize[0] <= 0 || opts.TargetSize[1] <= 0 {
		return errors.InvalidParameter(fmt.Sprintf("invalid target size %v", opts.TargetSize))
	}
	if opts.BatchSize <= 0 {
		return errors.InvalidParameter("batch size must be positive")
	}
	return nil
}

// splitRange returns the slice of n sorted files a subset covers
func (g Generator) splitRange(subset Subset, n int) (int, int) {
	cut := int(g.ValidationSplit * float64(n))
	switch subset {
	case SubsetValidation:
		return 0, cut
	case SubsetTraining:
		return cut, n
	default:
		return 0, n
	}
}

// FlowFromDirectory lists dir/<class>/<image> files. Classes are the sorted
// subdirectory names; within a class, files are sorted by path and the
// validation subset takes the leading share.
func (g Generator) FlowFromDirectory(dir string, opts FlowOptions) (*Iterator, error) {
	logger := internal.DefaultLogger.With("imagegen")
	if err := g.validate(opts); err != nil {
		return nil, err
	}
	scaler, err := opts.Interpolation.scaler()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("image directory " + dir)
		}
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var classNames []string
	for _, e := range entries {
		if e.IsDir() {
			classNames = append(classNames, e.Name())
		}
	}
	sort.Strings(classNames)
	if len(classNames) == 0 {
		return nil, errors.InvalidInput("no class directories in " + dir)
	}

	it := &Iterator{
		classIndices: make(map[string]int, len(classNames)),
		classNames:   classNames,
		rescale:      g.Rescale,
		opts:         opts,
		scaler:       scaler,
	}
	for label, name := range classNames {
		it.classIndices[name] = label
		files, err := listImages(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		lo, hi := g.splitRange(opts.Subset, len(files))
		for _, f := range files[lo:hi] {
			it.filenames = append(it.filenames, f)
			it.classes = append(it.classes, label)
		}
	}

	it.order = make([]int, len(it.filenames))
	for i := range it.order {
		it.order[i] = i
	}
	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(it.order), func(i, j int) { it.order[i], it.order[j] = it.order[j], it.order[i] })
	}

	logger.Info("Found %d images belonging to %d classes.", len(it.filenames), len(classNames))
	return it, nil
}

// listImages walks a class directory, including nested folders
func listImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", root)
	}
	sort.Strings(files)
	return files, nil
}
