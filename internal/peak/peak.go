// Package peak smooths sampled curves and locates prominent peaks and dips.
package peak

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Truncate is the Gaussian kernel half-width in standard deviations.
const Truncate = 4.0

// GaussianSmooth convolves series with a normalised Gaussian kernel of the
// given sigma. Samples beyond either end are mirrored about the edge
// (d c b a | a b c d | d c b a). sigma <= 0 returns a copy.
func GaussianSmooth(series []float64, sigma float64) []float64 {
	out := make([]float64, len(series))
	if sigma <= 0 || len(series) == 0 {
		copy(out, series)
		return out
	}

	radius := int(Truncate*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)

	n := len(series)
	for i := range out {
		var acc float64
		for k, w := range kernel {
			acc += w * series[reflect(i+k-radius, n)]
		}
		out[i] = acc
	}
	return out
}

// reflect maps an out-of-range index into [0, n) by half-sample mirroring.
func reflect(i, n int) int {
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i - 1
	}
	return i
}

// Peak is a local maximum with its topographic prominence.
type Peak struct {
	Index      int
	Prominence float64
	LeftBase   int
	RightBase  int
}

// FindPeaks returns the local maxima of series whose prominence is at least
// minProminence, in index order. A flat-topped maximum is reported at the
// middle of its plateau (rounded down). The end samples are never peaks.
func FindPeaks(series []float64, minProminence float64) []Peak {
	var peaks []Peak
	for _, idx := range localMaxima(series) {
		p := prominence(series, idx)
		if p.Prominence >= minProminence {
			peaks = append(peaks, p)
		}
	}
	return peaks
}

func localMaxima(x []float64) []int {
	var mids []int
	last := len(x) - 1
	for i := 1; i < last; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			mids = append(mids, (i+ahead-1)/2)
			i = ahead
		}
	}
	return mids
}

// prominence measures how far the peak rises above the higher of the two
// lowest points reached before the curve climbs above the peak on each side.
func prominence(x []float64, idx int) Peak {
	top := x[idx]

	leftMin, leftBase := top, idx
	for i := idx; i >= 0 && x[i] <= top; i-- {
		if x[i] < leftMin {
			leftMin, leftBase = x[i], i
		}
	}

	rightMin, rightBase := top, idx
	for i := idx; i < len(x) && x[i] <= top; i++ {
		if x[i] < rightMin {
			rightMin, rightBase = x[i], i
		}
	}

	return Peak{
		Index:      idx,
		Prominence: top - math.Max(leftMin, rightMin),
		LeftBase:   leftBase,
		RightBase:  rightBase,
	}
}

// Options configures FindDip.
type Options struct {
	Sigma      float64 // Gaussian smoothing width in samples
	Prominence float64 // minimum dip depth
}

// DefaultOptions are the measurement loop settings.
var DefaultOptions = Options{Sigma: 2, Prominence: 0.05}

// Result is the outcome of FindDip.
type Result struct {
	// Index of the selected dip; 0 when none qualified.
	Index int
	// Prominence of the selected dip.
	Prominence float64
	// Smoothed is the smoothed input series.
	Smoothed []float64
	// Dips lists every qualifying dip in index order.
	Dips []Peak
}

// FindDip smooths series and returns the first qualifying dip, that is a
// peak of the negated smoothed curve. When no dip qualifies the result
// carries Index 0 and ok is false.
func FindDip(series []float64, opts Options) (res Result, ok bool) {
	smoothed := GaussianSmooth(series, opts.Sigma)
	neg := make([]float64, len(smoothed))
	floats.ScaleTo(neg, -1, smoothed)

	dips := FindPeaks(neg, opts.Prominence)
	res = Result{Smoothed: smoothed, Dips: dips}
	if len(dips) == 0 {
		return res, false
	}
	res.Index = dips[0].Index
	res.Prominence = dips[0].Prominence
	return res, true
}
