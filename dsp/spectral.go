package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

// minSpectralWindow is the smallest analysis window the estimator accepts
// after truncation to a power of two.
const minSpectralWindow = 16

// Band is a frequency interval in Hz, inclusive on both ends.
type Band struct {
	Low  float64
	High float64
}

func (b Band) contains(f float64) bool { return f >= b.Low && f <= b.High }

// Tone is one detected spectral line.
type Tone struct {
	Frequency float64 // refined frequency in Hz
	SNR       float64 // peak power over the noise floor in dB
}

// Estimator locates reference tones in complex baseband captures. A tone is
// accepted when its FFT peak clears the candidate-band noise floor by
// MinSNR decibels; the peak frequency is refined by parabolic interpolation
// across the neighboring bins.
type Estimator struct {
	MinSNR float64
}

// Strongest returns the strongest tone inside band, ignoring the exclusion
// zones. The analysis window is the leading power-of-two prefix of samples.
func (e Estimator) Strongest(samples []complex128, rate float64, band Band, excl []Band) (Tone, error) {
	sp, err := newSpectrum(samples, rate, band, e.MinSNR)
	if err != nil {
		return Tone{}, err
	}
	return e.strongest(sp, band, excl)
}

// StrongestPair returns the two strongest tones in the positive spectrum,
// ascending in frequency. The second search masks a guard interval around
// the first hit so both tones are distinct lines.
func (e Estimator) StrongestPair(samples []complex128, rate float64, guard float64, excl []Band) ([2]Tone, error) {
	band := Band{Low: 0, High: rate / 2}
	sp, err := newSpectrum(samples, rate, band, e.MinSNR)
	if err != nil {
		return [2]Tone{}, err
	}
	first, err := e.strongest(sp, band, excl)
	if err != nil {
		return [2]Tone{}, err
	}
	masked := append(append([]Band(nil), excl...), Band{
		Low:  first.Frequency - guard,
		High: first.Frequency + guard,
	})
	second, err := e.strongest(sp, band, masked)
	if err != nil {
		return [2]Tone{}, err
	}
	if second.Frequency < first.Frequency {
		first, second = second, first
	}
	return [2]Tone{first, second}, nil
}

// Near returns the strongest tone within span Hz of center.
func (e Estimator) Near(samples []complex128, rate float64, center, span float64, excl []Band) (Tone, error) {
	return e.Strongest(samples, rate, Band{Low: center - span, High: center + span}, excl)
}

// spectrum holds one windowed power spectrum so that several searches can
// share a single transform.
type spectrum struct {
	power []float64
	rate  float64
	n     int
}

func newSpectrum(samples []complex128, rate float64, band Band, minSNR float64) (*spectrum, error) {
	n := 1
	for n*2 <= len(samples) {
		n *= 2
	}
	if len(samples) < minSpectralWindow {
		return nil, &ToneNotFoundError{Low: band.Low, High: band.High, MinSNR: minSNR}
	}

	buf := make([]complex128, n)
	copy(buf, samples[:n])
	window.HannComplex(buf)

	fft := fourier.NewCmplxFFT(n)
	coeff := fft.Coefficients(nil, buf)
	power := make([]float64, n)
	for i, c := range coeff {
		power[i] = real(c)*real(c) + imag(c)*imag(c)
	}
	return &spectrum{power: power, rate: rate, n: n}, nil
}

// binFreq maps coefficient index i to its center frequency in Hz, negative
// for the upper half of the transform.
func (sp *spectrum) binFreq(i int) float64 {
	if i >= (sp.n+1)/2 {
		i -= sp.n
	}
	return float64(i) / float64(sp.n) * sp.rate
}

func (e Estimator) strongest(sp *spectrum, band Band, excl []Band) (Tone, error) {
	var (
		candidates []float64
		peak       = -1.0
		peakBin    = -1
	)
	for i, p := range sp.power {
		if i == 0 {
			continue // DC is never a reference tone
		}
		f := sp.binFreq(i)
		if !band.contains(f) || excluded(f, excl) {
			continue
		}
		candidates = append(candidates, p)
		if p > peak {
			peak, peakBin = p, i
		}
	}
	if peakBin < 0 || peak <= 0 {
		return Tone{}, &ToneNotFoundError{Low: band.Low, High: band.High, Peak: peak, MinSNR: e.MinSNR}
	}

	sort.Float64s(candidates)
	floor := stat.Quantile(0.5, stat.Empirical, candidates, nil)

	snr := math.Inf(1)
	if floor > 0 {
		snr = 10 * math.Log10(peak/floor)
	}
	if snr < e.MinSNR {
		return Tone{}, &ToneNotFoundError{Low: band.Low, High: band.High, Peak: peak, Floor: floor, MinSNR: e.MinSNR}
	}

	return Tone{Frequency: sp.refine(peakBin), SNR: snr}, nil
}

// refine interpolates the true peak position from the power of the peak bin
// and its two neighbors, fitting a parabola through the three points.
func (sp *spectrum) refine(bin int) float64 {
	alpha := sp.power[(bin-1+sp.n)%sp.n]
	beta := sp.power[bin]
	gamma := sp.power[(bin+1)%sp.n]

	den := alpha - 2*beta + gamma
	delta := 0.0
	if den != 0 {
		delta = 0.5 * (alpha - gamma) / den
	}
	if delta > 0.5 {
		delta = 0.5
	} else if delta < -0.5 {
		delta = -0.5
	}
	return sp.binFreq(bin) + delta*sp.rate/float64(sp.n)
}

func excluded(f float64, excl []Band) bool {
	for _, zone := range excl {
		if zone.contains(f) {
			return true
		}
	}
	return false
}
