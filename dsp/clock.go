package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"
)

// ClockEstimate is the outcome of the clock and carrier recovery stage.
type ClockEstimate struct {
	// Ratio is measured over nominal pilot spacing. The capture was
	// effectively sampled at ADCRate/Ratio; resampling by Ratio puts it
	// back on the nominal grid.
	Ratio float64

	// Beat is the residual frequency offset of the first pilot after
	// clock correction, in Hz.
	Beat float64

	// Pilots holds the measured pilot frequencies on the corrected
	// buffer.
	Pilots [2]float64

	// Fallback is set when pilots were not detectable and the nominal
	// frequencies were used unmodified.
	Fallback bool
}

// estimateClockRatio maps a measured pilot pair and the nominal frequencies
// to the clock mismatch ratio.
func estimateClockRatio(measured [2]Tone, nominal []float64) float64 {
	return (measured[1].Frequency - measured[0].Frequency) / (nominal[1] - nominal[0])
}

// recoverClock runs the global clock and carrier stage: estimate the clock
// mismatch from the pilot pair, correct the buffer onto the nominal sample
// grid, and measure the beat frequency of the first pilot. On success the
// run's buffer, coarse position and clock estimate are updated.
func (r *run) recoverClock() error {
	cfg := &r.p.cfg.Bob.DSP
	nominal := r.p.cfg.Frame.Pilots.Frequencies

	window := r.window(r.approx+2*len(r.p.zcRef), cfg.ClockEstimationSamples)
	pair, err := r.p.estimator.StrongestPair(window, r.rate, cfg.PilotSearchSpan, r.exclusions())
	if err != nil {
		return r.clockFallback(err)
	}

	ratio := estimateClockRatio(pair, nominal)
	if cfg.MaxClockMismatch > 0 && math.Abs(1-ratio) > cfg.MaxClockMismatch {
		r.log.Warn("clock mismatch over limit, keeping nominal rate",
			"ratio", ratio, "limit", cfg.MaxClockMismatch)
		metrics.recordClockReject()
		ratio = 1
	}

	if ratio != 1 {
		r.buf = Resample(r.buf, ratio)
		r.approx = int(float64(r.approx) * ratio)
		window = r.window(r.approx+2*len(r.p.zcRef), cfg.ClockEstimationSamples)
		pair, err = r.p.estimator.StrongestPair(window, r.rate, cfg.PilotSearchSpan, r.exclusions())
		if err != nil {
			return r.clockFallback(err)
		}
	}

	r.clock = ClockEstimate{
		Ratio:  ratio,
		Beat:   pair[0].Frequency - nominal[0],
		Pilots: [2]float64{pair[0].Frequency, pair[1].Frequency},
	}
	r.log.Debug("clock recovered",
		"ratio", ratio, "beat", r.clock.Beat,
		"pilots", fmt.Sprintf("%.6g/%.6g", pair[0].Frequency, pair[1].Frequency))
	metrics.recordClock(ratio, r.clock.Beat)
	return nil
}

// clockFallback downgrades an undetectable pilot pair to the nominal
// frequencies when the configuration allows it.
func (r *run) clockFallback(err error) error {
	if !r.p.cfg.Bob.DSP.AbortClockRecovery || !errors.Is(err, ErrToneNotFound) {
		return fmt.Errorf("clock recovery: %w", err)
	}
	nominal := r.p.cfg.Frame.Pilots.Frequencies
	r.clock = ClockEstimate{Ratio: 1, Beat: 0, Fallback: true}
	r.clock.Pilots[0] = nominal[0]
	if len(nominal) > 1 {
		r.clock.Pilots[1] = nominal[1]
	}
	r.log.Warn("clock recovery aborted, using nominal frequencies", "err", err)
	metrics.recordToneFallback()
	return nil
}

// subframeBeat measures the beat frequency on one subframe window by
// locating the first pilot near its expected position. When the pilot is
// not detectable and fallbacks are allowed, the global beat is reused.
func (r *run) subframeBeat(window []complex128) (float64, error) {
	cfg := &r.p.cfg.Bob.DSP
	nominal := r.p.cfg.Frame.Pilots.Frequencies[0]

	tone, err := r.p.estimator.Near(window, r.rate, nominal+r.clock.Beat, cfg.PilotSearchSpan, r.exclusions())
	if err != nil {
		if cfg.AbortClockRecovery && errors.Is(err, ErrToneNotFound) {
			metrics.recordToneFallback()
			return r.clock.Beat, nil
		}
		return 0, err
	}
	return tone.Frequency - nominal, nil
}

// onePilotClockRatio estimates the clock mismatch ratio from the phase
// drift of a single pilot: the tone is isolated with a bandpass filter, its
// phase error against the nominal frequency is unwrapped, and the residual
// frequency falls out of a linear fit of that error over time.
func onePilotClockRatio(samples []complex128, pilotFreq, rate float64, firSize int, cutoff float64) float64 {
	tone := ConvolveSame(samples, BandpassFIR(firSize, pilotFreq, cutoff, rate))

	w := 2 * math.Pi * pilotFreq / rate
	phase := make([]float64, len(tone))
	for n, v := range tone {
		phase[n] = cmplx.Phase(v) - w*float64(n)
	}
	unwrapped := unwrapPhase(phase)

	xs := make([]float64, len(unwrapped))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, unwrapped, nil, false)

	deltaF := slope * rate / (2 * math.Pi)
	return (pilotFreq + deltaF) / pilotFreq
}

// unwrapPhase removes 2π discontinuities from a phase sequence.
func unwrapPhase(phase []float64) []float64 {
	out := make([]float64, len(phase))
	if len(phase) == 0 {
		return out
	}
	out[0] = phase[0]
	for i := 1; i < len(phase); i++ {
		d := phase[i] - phase[i-1]
		d -= 2 * math.Pi * math.Round(d/(2*math.Pi))
		out[i] = out[i-1] + d
	}
	return out
}
