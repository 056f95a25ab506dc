package dsp

import (
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// resampleChunk bounds how many output samples are produced per spline fit
// when reinterpolating whole captures, keeping memory flat on buffers with
// tens of millions of samples.
const resampleChunk = 1 << 18

// chunkMargin is how many source samples beyond a chunk take part in its
// fit, so chunk-local splines agree with a whole-buffer fit away from the
// buffer ends.
const chunkMargin = 4

// predictor is the part of the gonum interpolators the samplers need.
type predictor interface {
	Predict(x float64) float64
}

type constPredictor float64

func (c constPredictor) Predict(float64) float64 { return float64(c) }

// sampler evaluates a complex sequence at fractional sample positions by
// spline interpolation of the real and imaginary parts. Positions outside
// the sequence clamp to its ends.
type sampler struct {
	re, im predictor
	last   float64
}

func newSampler(samples []complex128) *sampler {
	n := len(samples)
	xs := make([]float64, n)
	re := make([]float64, n)
	im := make([]float64, n)
	for i, v := range samples {
		xs[i] = float64(i)
		re[i] = real(v)
		im[i] = imag(v)
	}
	return &sampler{
		re:   fitPredictor(xs, re),
		im:   fitPredictor(xs, im),
		last: float64(n - 1),
	}
}

// fitPredictor fits an Akima spline, falling back to piecewise-linear and
// constant predictors when the input is too short for the fit. Both splines
// reproduce the input exactly at integer positions.
func fitPredictor(xs, ys []float64) predictor {
	if len(xs) >= 5 {
		var spline interp.AkimaSpline
		if err := spline.Fit(xs, ys); err == nil {
			return &spline
		}
	}
	if len(xs) >= 2 {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err == nil {
			return &pl
		}
	}
	if len(ys) == 1 {
		return constPredictor(ys[0])
	}
	return constPredictor(0)
}

func (s *sampler) at(pos float64) complex128 {
	if pos < 0 {
		pos = 0
	} else if pos > s.last {
		pos = s.last
	}
	return complex(s.re.Predict(pos), s.im.Predict(pos))
}

// Resample reinterpolates the whole buffer so that output sample k carries
// the input value at position k/ratio. A capture acquired with a clock
// running ratio times too fast is corrected by Resample(x, ratio): the
// output is on the nominal sample grid, so a clock estimate repeated on it
// comes out at one. Fitting happens in chunks to bound memory.
func Resample(samples []complex128, ratio float64) []complex128 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	if ratio == 1 {
		out := make([]complex128, n)
		copy(out, samples)
		return out
	}
	outLen := int(math.Floor(float64(n-1)*ratio)) + 1
	out := make([]complex128, outLen)

	for chunk := 0; chunk < outLen; chunk += resampleChunk {
		end := chunk + resampleChunk
		if end > outLen {
			end = outLen
		}
		srcLo := int(math.Floor(float64(chunk)/ratio)) - chunkMargin
		if srcLo < 0 {
			srcLo = 0
		}
		srcHi := int(math.Ceil(float64(end-1)/ratio)) + chunkMargin + 1
		if srcHi > n {
			srcHi = n
		}
		s := newSampler(samples[srcLo:srcHi])
		for k := chunk; k < end; k++ {
			out[k] = s.at(float64(k)/ratio - float64(srcLo))
		}
	}
	return out
}

// Downsample picks values at positions start, start+step, start+2·step, …
// up to the end of the buffer, interpolating at fractional positions. When
// both start and step are integral this is exact decimation. A non-negative
// max caps the number of output samples.
func Downsample(samples []complex128, start, step float64, max int) []complex128 {
	n := len(samples)
	if n == 0 || step <= 0 || start > float64(n-1) || start < 0 {
		return nil
	}
	count := int(math.Floor((float64(n-1)-start)/step)) + 1
	if max >= 0 && count > max {
		count = max
	}
	if count <= 0 {
		return nil
	}

	out := make([]complex128, count)
	if isIntegral(start) && isIntegral(step) {
		s0, st := int(start), int(step)
		for k := range out {
			out[k] = samples[s0+k*st]
		}
		return out
	}
	s := newSampler(samples)
	for k := range out {
		out[k] = s.at(start + float64(k)*step)
	}
	return out
}

// downsampleFloat is Downsample for real-valued sequences, used for the
// pilot phase-error trace.
func downsampleFloat(vals []float64, start, step float64, max int) []float64 {
	n := len(vals)
	if n == 0 || step <= 0 || start > float64(n-1) || start < 0 {
		return nil
	}
	count := int(math.Floor((float64(n-1)-start)/step)) + 1
	if max >= 0 && count > max {
		count = max
	}
	if count <= 0 {
		return nil
	}

	out := make([]float64, count)
	if isIntegral(start) && isIntegral(step) {
		s0, st := int(start), int(step)
		for k := range out {
			out[k] = vals[s0+k*st]
		}
		return out
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	p := fitPredictor(xs, vals)
	for k := range out {
		pos := start + float64(k)*step
		if pos > float64(n-1) {
			pos = float64(n - 1)
		}
		out[k] = p.Predict(pos)
	}
	return out
}

// BestSamplingPhase returns the integer sampling phase in [0, ceil(step))
// whose decimated stream has the largest variance. The modulated symbols
// dominate the variance exactly at the symbol centers, so the winning phase
// is the matched-filter sampling instant. Ties keep the lowest phase.
func BestSamplingPhase(samples []complex128, step float64) int {
	phases := int(math.Ceil(step))
	if phases < 1 || len(samples) == 0 {
		return 0
	}

	var s *sampler
	if !isIntegral(step) {
		s = newSampler(samples)
	}

	best, bestVar := 0, math.Inf(-1)
	for phase := 0; phase < phases; phase++ {
		var seq []complex128
		if s == nil {
			seq = Downsample(samples, float64(phase), step, -1)
		} else {
			seq = downsampleWith(s, len(samples), float64(phase), step)
		}
		v := complexVariance(seq)
		if v > bestVar {
			best, bestVar = phase, v
		}
	}
	return best
}

func downsampleWith(s *sampler, n int, start, step float64) []complex128 {
	if start > float64(n-1) {
		return nil
	}
	count := int(math.Floor((float64(n-1)-start)/step)) + 1
	out := make([]complex128, count)
	for k := range out {
		out[k] = s.at(start + float64(k)*step)
	}
	return out
}

// complexVariance sums the sample variances of the real and imaginary
// parts.
func complexVariance(seq []complex128) float64 {
	if len(seq) < 2 {
		return math.NaN()
	}
	re := make([]float64, len(seq))
	im := make([]float64, len(seq))
	for i, v := range seq {
		re[i] = real(v)
		im[i] = imag(v)
	}
	return stat.Variance(re, nil) + stat.Variance(im, nil)
}

func isIntegral(x float64) bool { return x == math.Trunc(x) }
