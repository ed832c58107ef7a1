// Package stats holds the population statistics shared by the calculators:
// mean, standard deviation, standard scores and Pearson correlation.
package stats

import "math"

// MeanStd returns the mean and population standard deviation (N denominator).
// Both are zero for an empty slice.
func MeanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(len(xs)))
	return mean, std
}

// ZScore returns the standard score of x against the population xs.
// The caller includes x in xs. ok is false when xs is empty or has zero spread.
func ZScore(x float64, xs []float64) (z float64, ok bool) {
	mean, std := MeanStd(xs)
	if len(xs) == 0 || std == 0 || math.IsNaN(std) {
		return 0, false
	}
	return (x - mean) / std, true
}

// LastZScore is ZScore of the final element of xs.
func LastZScore(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	return ZScore(xs[len(xs)-1], xs)
}

// ZScores returns the standard score of every element. It returns nil when
// the population has zero spread.
func ZScores(xs []float64) []float64 {
	mean, std := MeanStd(xs)
	if len(xs) == 0 || std == 0 {
		return nil
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mean) / std
	}
	return out
}

// flatVariance is the spread, relative to a series' sum of squares, below
// which the series counts as constant.
const flatVariance = 1e-20

// Pearson returns the sample correlation coefficient of two equal-length
// series. ok is false for fewer than two pairs, mismatched lengths, or a
// series without variance beyond rounding noise.
func Pearson(x, y []float64) (r float64, ok bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, false
	}
	mx, _ := MeanStd(x)
	my, _ := MeanStd(y)

	var sxy, sxx, syy, qx, qy float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		dy := y[i] - my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
		qx += x[i] * x[i]
		qy += y[i] * y[i]
	}
	if sxx <= flatVariance*qx || syy <= flatVariance*qy {
		return 0, false
	}
	r = sxy / math.Sqrt(sxx*syy)
	// clamp rounding drift
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, true
}

// TailAlign trims the longer of two series so both keep only their most
// recent min(len(x), len(y)) values.
func TailAlign(x, y []float64) ([]float64, []float64) {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	return x[len(x)-n:], y[len(y)-n:]
}
