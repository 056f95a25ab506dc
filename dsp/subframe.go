package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// SubframeResult carries the demodulated symbols of one subframe together
// with the measurements a consumer needs for auditing and replay.
type SubframeResult struct {
	Index   int
	Symbols []complex128

	// Beat is the pilot beat frequency this subframe was corrected with.
	Beat float64

	// Pilot is the filtered pilot trace at the buffer rate, kept for
	// inspection of the phase-correction input. Nil for variants that do
	// not track the pilot.
	Pilot []complex128

	// Phase is the sampling phase chosen by the variance search.
	Phase int

	// Uncorrected holds the symbols before relative phase correction.
	// Nil for variants that do not correct phase.
	Uncorrected []complex128
}

// demodOptions selects the per-subframe work a capability variant needs.
type demodOptions struct {
	trackBeat    bool // re-measure the pilot beat inside the subframe
	correctPhase bool // pilot-based relative phase correction
}

// demodulateSubframe recovers the symbols of one planned window. It is a
// pure function of the run's corrected buffer and the window, so subframes
// can be demodulated concurrently in any order.
func (r *run) demodulateSubframe(win SubframeWindow, opts demodOptions) (SubframeResult, error) {
	cfg := &r.p.cfg.Bob.DSP
	quantum := &r.p.cfg.Frame.Quantum
	sps := r.p.cfg.SPS()

	// Read past the nominal window end so the sampling instant of the
	// last symbol stays coverable at every phase.
	end := win.End + int(math.Ceil(sps)) + 1
	if end > len(r.buf) {
		end = len(r.buf)
	}
	if win.Start < 0 || win.Start >= end {
		return SubframeResult{}, fmt.Errorf("subframe %d: window [%d, %d) outside buffer", win.Index, win.Start, win.End)
	}
	data := r.buf[win.Start:end]

	res := SubframeResult{Index: win.Index, Beat: r.clock.Beat}
	if opts.trackBeat {
		beat, err := r.subframeBeat(data)
		if err != nil {
			return SubframeResult{}, fmt.Errorf("subframe %d: %w", win.Index, err)
		}
		res.Beat = beat
	}

	if opts.correctPhase {
		pilotFreq := r.p.cfg.Frame.Pilots.Frequencies[0] + res.Beat
		res.Pilot = ConvolveSame(data, BandpassFIR(cfg.FIRSize, pilotFreq, cfg.ToneCutoff, r.rate))
	}

	baseband := MixExp(data, -(quantum.FrequencyShift + res.Beat), r.rate)
	filtered := ConvolveSameReal(baseband, r.p.rrc)
	scale := complex(1/math.Sqrt(sps), 0)
	for i := range filtered {
		filtered[i] *= scale
	}

	res.Phase = BestSamplingPhase(filtered, sps)
	symbols := Downsample(filtered, float64(res.Phase), sps, win.Symbols)
	if len(symbols) < win.Symbols {
		return SubframeResult{}, fmt.Errorf("subframe %d: window yields %d of %d symbols", win.Index, len(symbols), win.Symbols)
	}

	if opts.correctPhase {
		res.Uncorrected = append([]complex128(nil), symbols...)
		applyPhaseCorrection(symbols, res.Pilot,
			r.p.cfg.Frame.Pilots.Frequencies[0]+res.Beat, r.rate,
			float64(res.Phase), sps, cfg.PhaseFilterSize)
	}

	if cfg.Equalizer.Enabled {
		eq := NewCMAEqualizer(cfg.Equalizer.Length, cfg.Equalizer.Step,
			cfg.Equalizer.TargetRadius, cfg.Equalizer.ErrorThreshold)
		eq.Train(symbols)
		symbols = eq.Apply(symbols)
	}

	res.Symbols = symbols
	metrics.recordSubframe(res.Beat)
	return res, nil
}

// applyPhaseCorrection removes the pilot phase error from the symbols in
// place. The error is the unwrapped difference between the filtered pilot
// phase and the phase of an ideal tone at pilotFreq, optionally smoothed,
// then decimated on the same sampling grid as the symbols.
func applyPhaseCorrection(symbols, pilot []complex128, pilotFreq, rate, phase, sps float64, filterSize int) {
	w := 2 * math.Pi * pilotFreq / rate
	phaseErr := make([]float64, len(pilot))
	for n, v := range pilot {
		phaseErr[n] = cmplx.Phase(v) - w*float64(n)
	}
	phaseErr = unwrapPhase(phaseErr)
	if filterSize > 1 {
		phaseErr = uniformFilter1D(phaseErr, filterSize)
	}

	corr := downsampleFloat(phaseErr, phase, sps, len(symbols))
	for k := range corr {
		s, c := math.Sincos(-corr[k])
		symbols[k] *= complex(c, s)
	}
}
