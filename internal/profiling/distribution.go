package profiling

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// skewness is the adjusted Fisher-Pearson sample skewness
func skewness(data []float64, mean, stdDev float64) float64 {
	n := float64(len(data))
	if n < 3 || stdDev == 0 {
		return 0
	}
	var sum float64
	for _, x := range data {
		d := (x - mean) / stdDev
		sum += d * d * d
	}
	return sum / n * math.Sqrt(n*(n-1)) / (n - 2)
}

// excessKurtosis is the bias-corrected sample excess kurtosis
func excessKurtosis(data []float64, mean, stdDev float64) float64 {
	n := float64(len(data))
	if n < 4 || stdDev == 0 {
		return 0
	}
	var sum float64
	for _, x := range data {
		d := (x - mean) / stdDev
		sum += d * d * d * d
	}
	g2 := sum/n - 3
	return (n - 1) / ((n - 2) * (n - 3)) * ((n+1)*g2 + 6)
}

// jarqueBera tests normality from skewness and excess kurtosis. The
// statistic is chi-squared with two degrees of freedom under the null.
func jarqueBera(n int, skew, exKurt float64) (statistic, pValue float64) {
	if n < 3 {
		return 0, 1
	}
	statistic = float64(n) / 6 * (skew*skew + exKurt*exKurt/4)
	pValue = 1 - distuv.ChiSquared{K: 2}.CDF(statistic)
	return statistic, pValue
}

// countOutliers applies the 1.5 IQR fences
func countOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lower, upper := q25-1.5*iqr, q75+1.5*iqr
	count := 0
	for _, x := range data {
		if x < lower || x > upper {
			count++
		}
	}
	return count
}
