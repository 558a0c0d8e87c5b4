package forest

import (
	"testing"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionTreeSingleSplit(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}}
	y := []int{0, 0, 1, 1}

	tree := NewDecisionTree()
	require.NoError(t, tree.Fit(X, y))

	assert.Equal(t, 1, tree.Depth())
	assert.Len(t, tree.Nodes, 3)
	assert.Equal(t, 0, tree.Nodes[0].Feature)
	assert.InDelta(t, 1.5, tree.Nodes[0].Threshold, 1e-12)
	assert.InDelta(t, 0.5, tree.Nodes[0].Impurity, 1e-12)

	pred, err := tree.Predict([][]float64{{-1}, {1.5}, {1.6}, {10}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, pred)
	assert.Equal(t, []float64{1}, tree.FeatureImportances())
}

func TestDecisionTreeKeepsOriginalLabels(t *testing.T) {
	X := [][]float64{{0, 5}, {0, 6}, {1, 5}, {1, 6}}
	y := []int{7, 7, 3, 3}

	tree := NewDecisionTree()
	require.NoError(t, tree.Fit(X, y))
	assert.Equal(t, []int{3, 7}, tree.Classes)

	pred, err := tree.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred)

	imp := tree.FeatureImportances()
	assert.InDelta(t, 1.0, imp[0], 1e-12)
	assert.InDelta(t, 0.0, imp[1], 1e-12)
}

func TestDecisionTreeMaxDepth(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	y := []int{0, 1, 0, 1, 0, 1}

	tree := NewDecisionTree(WithMaxDepth(1))
	require.NoError(t, tree.Fit(X, y))
	assert.LessOrEqual(t, tree.Depth(), 1)

	proba, err := tree.PredictProba([][]float64{{2.5}})
	require.NoError(t, err)
	sum := 0.0
	for _, p := range proba[0] {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
}

func TestDecisionTreeEntropy(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}}
	y := []int{0, 0, 1, 1}

	tree := NewDecisionTree(WithCriterion(Entropy))
	require.NoError(t, tree.Fit(X, y))
	assert.InDelta(t, 1.0, tree.Nodes[0].Impurity, 1e-12)
}

func TestDecisionTreePureLeaf(t *testing.T) {
	tree := NewDecisionTree()
	require.NoError(t, tree.Fit([][]float64{{1}, {2}}, []int{4, 4}))
	assert.Len(t, tree.Nodes, 1)
	assert.Equal(t, 0, tree.Depth())
	assert.Equal(t, []float64{0}, tree.FeatureImportances())
}

func TestDecisionTreeErrors(t *testing.T) {
	tree := NewDecisionTree()

	_, err := tree.Predict([][]float64{{1}})
	assert.Equal(t, errors.CodeInvalidState, errors.GetCode(err))

	err = tree.Fit(nil, nil)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	err = tree.Fit([][]float64{{1}, {2}}, []int{0})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	err = tree.Fit([][]float64{{1, 2}, {2}}, []int{0, 1})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	err = NewDecisionTree(WithMinSamplesSplit(1)).Fit([][]float64{{1}, {2}}, []int{0, 1})
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	err = NewDecisionTree(WithCriterion("log_loss")).Fit([][]float64{{1}, {2}}, []int{0, 1})
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))

	require.NoError(t, tree.Fit([][]float64{{1, 2}, {2, 3}}, []int{0, 1}))
	_, err = tree.Predict([][]float64{{1}})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestFeaturesPerSplit(t *testing.T) {
	assert.Equal(t, 4, Params{MaxFeatures: MaxFeaturesAll}.featuresPerSplit(4))
	assert.Equal(t, 2, Params{MaxFeatures: MaxFeaturesSqrt}.featuresPerSplit(4))
	assert.Equal(t, 1, Params{MaxFeatures: MaxFeaturesSqrt}.featuresPerSplit(2))
	assert.Equal(t, 3, Params{MaxFeatures: 3}.featuresPerSplit(4))
	assert.Equal(t, 4, Params{MaxFeatures: 9}.featuresPerSplit(4))
}
