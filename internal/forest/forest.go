package forest

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"mltrack/internal/errors"

	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of CART trees with random feature
// subsets at each split
type RandomForest struct {
	Params    Params          `json:"params"`
	Classes   []int           `json:"classes"`
	NFeatures int             `json:"n_features"`
	Trees     []*DecisionTree `json:"trees"`
}

// NewRandomForest creates an unfitted forest. Defaults: 100 trees,
// unlimited depth, sqrt(p) features per split, bootstrap sampling.
func NewRandomForest(opts ...Option) *RandomForest {
	p := defaultTreeParams()
	p.NEstimators = 100
	p.MaxFeatures = MaxFeaturesSqrt
	p.Bootstrap = true
	for _, o := range opts {
		o(&p)
	}
	return &RandomForest{Params: p}
}

// treeSeeds draws one seed per tree from RandomState up front, so each
// tree's randomness does not depend on goroutine scheduling
func (rf *RandomForest) treeSeeds() []int64 {
	rng := rand.New(rand.NewSource(rf.Params.RandomState))
	seeds := make([]int64, rf.Params.NEstimators)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}
	return seeds
}

// Fit trains every tree in parallel
func (rf *RandomForest) Fit(ctx context.Context, X [][]float64, y []int) error {
	p, err := validateXY(X, y)
	if err != nil {
		return err
	}
	if rf.Params.NEstimators < 1 {
		return errors.InvalidParameter("n_estimators must be at least 1")
	}
	if err := rf.Params.validate(); err != nil {
		return err
	}

	classes, encoded := encodeLabels(y)
	n := len(X)
	seeds := rf.treeSeeds()
	trees := make([]*DecisionTree, rf.Params.NEstimators)

	workers := rf.Params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[i]))

			// Bootstrap with index slices rather than copies of X.
			sample := make([]int, n)
			for j := range sample {
				if rf.Params.Bootstrap {
					sample[j] = rng.Intn(n)
				} else {
					sample[j] = j
				}
			}

			treeParams := rf.Params
			treeParams.RandomState = rng.Int63()
			tree := &DecisionTree{Params: treeParams, Classes: classes}
			tree.grow(X, encoded, sample, p, len(classes))
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Classes = classes
	rf.NFeatures = p
	rf.Trees = trees
	return nil
}

func (rf *RandomForest) checkPredict(X [][]float64) error {
	if len(rf.Trees) == 0 {
		return errors.InvalidState("random forest is not fitted")
	}
	for i, row := range X {
		if len(row) != rf.NFeatures {
			return errors.InvalidInput(fmt.Sprintf("row %d has %d features, the model expects %d", i, len(row), rf.NFeatures))
		}
	}
	return nil
}

// PredictProba averages the class probabilities of all trees
func (rf *RandomForest) PredictProba(X [][]float64) ([][]float64, error) {
	if err := rf.checkPredict(X); err != nil {
		return nil, err
	}
	k := len(rf.Classes)
	out := make([][]float64, len(X))
	for i, x := range X {
		acc := make([]float64, k)
		for _, tree := range rf.Trees {
			for c, v := range tree.leaf(x).Value {
				acc[c] += v
			}
		}
		for c := range acc {
			acc[c] /= float64(len(rf.Trees))
		}
		out[i] = acc
	}
	return out, nil
}

// Predict returns the class with the highest mean probability; ties go to
// the smallest label
func (rf *RandomForest) Predict(X [][]float64) ([]int, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(X))
	for i, p := range proba {
		out[i] = rf.Classes[argmax(p)]
	}
	return out, nil
}

// FeatureImportances averages the normalised importances of the trees
func (rf *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, rf.NFeatures)
	if len(rf.Trees) == 0 {
		return out
	}
	for _, tree := range rf.Trees {
		for j, v := range tree.FeatureImportances() {
			out[j] += v
		}
	}
	return normalise(out)
}
