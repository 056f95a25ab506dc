package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// LowpassFIR designs a Hamming windowed-sinc lowpass filter. cutoff is the
// full passband width in Hz: the single-sided passband edge sits at
// cutoff/2. Taps are normalized to unit DC gain.
func LowpassFIR(taps int, cutoff, rate float64) []float64 {
	if taps < 1 {
		return nil
	}
	nu := cutoff / (2 * rate) // passband edge in cycles per sample
	center := float64(taps-1) / 2
	h := make([]float64, taps)
	for k := range h {
		m := float64(k) - center
		h[k] = 2 * nu * sinc(2*nu*m) * hamming(k, taps)
	}
	floats.Scale(1/floats.Sum(h), h)
	return h
}

// BandpassFIR designs a complex bandpass filter centered at center Hz by
// modulating a lowpass prototype of width cutoff.
func BandpassFIR(taps int, center, cutoff, rate float64) []complex128 {
	lp := LowpassFIR(taps, cutoff, rate)
	h := make([]complex128, len(lp))
	w := 2 * math.Pi * center / rate
	for k := range h {
		s, c := math.Sincos(w * float64(k))
		h[k] = complex(lp[k]*c, lp[k]*s)
	}
	return h
}

// RootRaisedCosine designs the matched filter for symbols shaped with a
// root-raised-cosine pulse, sampled at sps samples per symbol. Taps span
// ten symbol periods and are normalized to unit energy.
func RootRaisedCosine(sps, rollOff float64) []float64 {
	taps := int(10*sps+2) - 1
	if taps < 1 {
		return nil
	}
	center := float64(taps-1) / 2
	beta := rollOff
	h := make([]float64, taps)
	for k := range h {
		t := (float64(k) - center) / sps // in symbol periods
		h[k] = rrcAt(t, beta)
	}
	floats.Scale(1/math.Sqrt(floats.Dot(h, h)), h)
	return h
}

// rrcAt evaluates the root-raised-cosine impulse response at t symbol
// periods, handling the removable singularities at t=0 and |t|=1/(4β).
func rrcAt(t, beta float64) float64 {
	const eps = 1e-10
	if math.Abs(t) < eps {
		return 1 + beta*(4/math.Pi-1)
	}
	if beta > 0 && math.Abs(math.Abs(t)-1/(4*beta)) < eps {
		return beta / math.Sqrt2 * ((1+2/math.Pi)*math.Sin(math.Pi/(4*beta)) +
			(1-2/math.Pi)*math.Cos(math.Pi/(4*beta)))
	}
	num := math.Sin(math.Pi*t*(1-beta)) + 4*beta*t*math.Cos(math.Pi*t*(1+beta))
	den := math.Pi * t * (1 - (4*beta*t)*(4*beta*t))
	return num / den
}

// MixExp multiplies samples by exp(i·2π·freq·n/rate), shifting the spectrum
// up by freq (pass a negative freq to shift down). A new slice is returned.
func MixExp(samples []complex128, freq, rate float64) []complex128 {
	out := make([]complex128, len(samples))
	w := 2 * math.Pi * freq / rate
	for n, v := range samples {
		s, c := math.Sincos(w * float64(n))
		out[n] = v * complex(c, s)
	}
	return out
}

// ConvolveSame convolves samples with the given taps and returns the
// centered portion with the same length as the input.
func ConvolveSame(samples, taps []complex128) []complex128 {
	n, m := len(samples), len(taps)
	if n == 0 || m == 0 {
		return nil
	}
	full := fftConvolve(samples, taps)
	start := (m - 1) / 2
	out := make([]complex128, n)
	copy(out, full[start:start+n])
	return out
}

// ConvolveSameReal is ConvolveSame for real-valued taps.
func ConvolveSameReal(samples []complex128, taps []float64) []complex128 {
	h := make([]complex128, len(taps))
	for k, v := range taps {
		h[k] = complex(v, 0)
	}
	return ConvolveSame(samples, h)
}

// fftConvolve computes the full linear convolution of x and h through a
// zero-padded power-of-two FFT.
func fftConvolve(x, h []complex128) []complex128 {
	outLen := len(x) + len(h) - 1
	size := nextPow2(outLen)
	fft := fourier.NewCmplxFFT(size)

	xp := make([]complex128, size)
	copy(xp, x)
	hp := make([]complex128, size)
	copy(hp, h)

	xc := fft.Coefficients(nil, xp)
	hc := fft.Coefficients(nil, hp)
	for i := range xc {
		xc[i] *= hc[i]
	}

	out := fft.Sequence(nil, xc)
	scale := complex(1/float64(size), 0)
	for i := range out {
		out[i] *= scale
	}
	return out[:outLen]
}

// uniformFilter1D applies a centered moving average of the given size,
// shrinking the window at the edges. Sizes below 2 return a copy.
func uniformFilter1D(x []float64, size int) []float64 {
	out := make([]float64, len(x))
	if size < 2 || len(x) == 0 {
		copy(out, x)
		return out
	}
	prefix := make([]float64, len(x)+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}
	half := size / 2
	for i := range out {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + (size - half)
		if hi > len(x) {
			hi = len(x)
		}
		out[i] = (prefix[hi] - prefix[lo]) / float64(hi-lo)
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func hamming(k, n int) float64 {
	if n == 1 {
		return 1
	}
	return 0.54 - 0.46*math.Cos(2*math.Pi*float64(k)/float64(n-1))
}

func nextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
