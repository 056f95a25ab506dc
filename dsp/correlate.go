package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// coarseEnergyPeak returns the approximate start of the high-energy
// synchronization burst: the argmax of a centered moving average of the
// sample magnitudes, pulled back by half the averaging window. div divides
// the buffer length to size the window.
func coarseEnergyPeak(samples []complex128, div int) int {
	if len(samples) == 0 {
		return 0
	}
	if div < 1 {
		div = 1
	}
	win := len(samples) / div
	if win < 1 {
		win = 1
	}
	env := make([]float64, len(samples))
	for i, v := range samples {
		env[i] = cmplx.Abs(v)
	}
	smoothed := uniformFilter1D(env, win)
	approx := floats.MaxIdx(smoothed) - win/2
	if approx < 0 {
		approx = 0
	}
	return approx
}

// Correlator pinpoints the synchronization sequence by complex
// cross-correlation against the upsampled reference.
type Correlator struct {
	MinConfidence float64 // minimum normalized peak in [0, 1]
}

// Locate searches a neighborhood of approx (±2 reference lengths) for the
// reference sequence and returns the sample index where it starts, together
// with the normalized correlation at the peak. The correlation runs in the
// frequency domain against the conjugated reference spectrum.
func (c Correlator) Locate(samples, ref []complex128, approx int) (int, float64, error) {
	n, l := len(samples), len(ref)
	if l == 0 || n < l {
		return 0, 0, &SynchronizationError{Confidence: 0, Threshold: c.MinConfidence}
	}

	lo := approx - 2*l
	if lo < 0 {
		lo = 0
	}
	hi := approx + 2*l
	if hi > n {
		hi = n
	}
	if hi-lo < l {
		// The neighborhood is degenerate; fall back to the whole buffer.
		lo, hi = 0, n
	}
	region := samples[lo:hi]

	r := crossCorrelate(region, ref)
	bestLag, bestMag := 0, -1.0
	for k, v := range r {
		mag := cmplx.Abs(v)
		if mag > bestMag {
			bestLag, bestMag = k, mag
		}
	}

	conf := normalizedPeak(region, ref, bestLag, bestMag)
	if conf < c.MinConfidence {
		return 0, conf, &SynchronizationError{Confidence: conf, Threshold: c.MinConfidence}
	}
	return lo + bestLag, conf, nil
}

// crossCorrelate returns r[k] = Σ_m region[k+m]·conj(ref[m]) for every lag
// k that keeps the reference fully inside the region.
func crossCorrelate(region, ref []complex128) []complex128 {
	size := nextPow2(len(region))
	fft := fourier.NewCmplxFFT(size)

	a := make([]complex128, size)
	copy(a, region)
	b := make([]complex128, size)
	copy(b, ref)

	ac := fft.Coefficients(nil, a)
	bc := fft.Coefficients(nil, b)
	for i := range ac {
		ac[i] *= cmplx.Conj(bc[i])
	}

	out := fft.Sequence(nil, ac)
	scale := complex(1/float64(size), 0)
	lags := len(region) - len(ref) + 1
	r := make([]complex128, lags)
	for k := range r {
		r[k] = out[k] * scale
	}
	return r
}

// normalizedPeak rescales a raw correlation magnitude by the energies of
// the reference and of the region window it was matched against, yielding a
// confidence in [0, 1].
func normalizedPeak(region, ref []complex128, lag int, mag float64) float64 {
	var refEnergy float64
	for _, v := range ref {
		refEnergy += real(v)*real(v) + imag(v)*imag(v)
	}
	var winEnergy float64
	for _, v := range region[lag : lag+len(ref)] {
		winEnergy += real(v)*real(v) + imag(v)*imag(v)
	}
	norm := math.Sqrt(refEnergy * winEnergy)
	if norm == 0 {
		return 0
	}
	return mag / norm
}
