// Package split partitions samples into train and test sets
package split

import (
	"fmt"
	"math"
	"math/rand"

	"mltrack/internal/errors"
)

// TestCount resolves testSize against n samples: a fraction in (0, 1) is
// rounded up, a whole number >= 1 is an absolute count
func TestCount(n int, testSize float64) (int, error) {
	switch {
	case testSize > 0 && testSize < 1:
		return int(math.Ceil(testSize * float64(n))), nil
	case testSize >= 1 && testSize == math.Trunc(testSize):
		return int(testSize), nil
	default:
		return 0, errors.InvalidParameter(fmt.Sprintf("test size %v must be a fraction in (0, 1) or a positive whole number", testSize))
	}
}

// TrainTestSplit shuffles 0..n-1 with seed and returns the test indices
// from the front of the permutation and the train indices after them
func TrainTestSplit(n int, testSize float64, seed int64) (train, test []int, err error) {
	nTest, err := TestCount(n, testSize)
	if err != nil {
		return nil, nil, err
	}
	nTrain := n - nTest
	if nTest <= 0 || nTrain <= 0 {
		return nil, nil, errors.InvalidParameter(fmt.Sprintf(
			"with n_samples=%d and test_size=%v the resulting train set would have %d samples", n, testSize, nTrain))
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}
