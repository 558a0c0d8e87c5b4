package split

import (
	"sort"
	"testing"

	"mltrack/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCount(t *testing.T) {
	n, err := TestCount(150, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	n, err = TestCount(10, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = TestCount(10, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = TestCount(10, 1.5)
	assert.Equal(t, errors.CodeInvalidParameterValue, errors.GetCode(err))
	_, err = TestCount(10, 0)
	assert.Error(t, err)
}

func TestTrainTestSplitPartitions(t *testing.T) {
	train, test, err := TrainTestSplit(150, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, train, 120)
	assert.Len(t, test, 30)

	all := append(append([]int(nil), train...), test...)
	sort.Ints(all)
	for i, v := range all {
		assert.Equal(t, i, v)
	}
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	train1, test1, err := TrainTestSplit(50, 0.3, 7)
	require.NoError(t, err)
	train2, test2, err := TrainTestSplit(50, 0.3, 7)
	require.NoError(t, err)
	assert.Equal(t, train1, train2)
	assert.Equal(t, test1, test2)

	_, test3, err := TrainTestSplit(50, 0.3, 8)
	require.NoError(t, err)
	assert.NotEqual(t, test1, test3)
}

func TestTrainTestSplitRejectsEmptySide(t *testing.T) {
	_, _, err := TrainTestSplit(3, 3, 1)
	assert.Error(t, err)
	_, _, err = TrainTestSplit(1, 0.5, 1)
	assert.Error(t, err)
}
